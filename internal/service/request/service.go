package request

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatrelay-backend/internal/domain"
	apperrors "chatrelay-backend/pkg/errors"
	"chatrelay-backend/pkg/logger"
	"chatrelay-backend/pkg/metrics"
)

// Repository stores conversation requests
type Repository interface {
	Create(ctx context.Context, req *domain.ConversationRequest) error
	GetByID(ctx context.Context, requestID uuid.UUID) (*domain.ConversationRequest, error)
	FindPending(ctx context.Context, requesterID, receiverID uuid.UUID, convType domain.ConversationType, groupName string) (*domain.ConversationRequest, error)
	Resolve(ctx context.Context, requestID uuid.UUID, status domain.RequestStatus, respondedAt time.Time) error
	DeletePending(ctx context.Context, requestID uuid.UUID) error
	ListIncomingPending(ctx context.Context, userID uuid.UUID) ([]*domain.ConversationRequest, error)
	ListOutgoingPending(ctx context.Context, userID uuid.UUID) ([]*domain.ConversationRequest, error)
}

type UserRepository interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}

// Friendships gates who may invite whom
type Friendships interface {
	AreFriends(ctx context.Context, a, b uuid.UUID) (bool, error)
	HasBlocked(ctx context.Context, a, b uuid.UUID) (bool, error)
}

// Conversations materializes accepted requests
type Conversations interface {
	GetOrCreatePrivateConversation(ctx context.Context, a, b uuid.UUID) (*domain.Conversation, error)
	CreateGroupConversation(ctx context.Context, name string, creatorID uuid.UUID, memberIDs []uuid.UUID) (*domain.Conversation, error)
	GetGroupsByName(ctx context.Context, memberID uuid.UUID, name string) ([]*domain.Conversation, error)
	JoinGroup(ctx context.Context, conversationID, userID uuid.UUID) (*domain.ConversationParticipant, error)
	GetConversation(ctx context.Context, conversationID, userID uuid.UUID) (*domain.Conversation, error)
}

// EventPusher delivers push events to live connections. The realtime hub implements it.
type EventPusher interface {
	PushToUser(ctx context.Context, userID uuid.UUID, payload domain.EventPayload)
	// AttachToConversation subscribes every live connection of the users to the conversation
	AttachToConversation(ctx context.Context, conversationID uuid.UUID, userIDs ...uuid.UUID)
}

// Locker serializes a named critical section across instances
type Locker interface {
	Lock(ctx context.Context, name string) (func(), error)
}

type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, message string, notificationType domain.NotificationType)
}

// Dependencies wires the collaborators of the service. Pusher and Notifier may be nil.
type Dependencies struct {
	Requests      Repository
	Users         UserRepository
	Friendships   Friendships
	Conversations Conversations
	Locker        Locker
	Pusher        EventPusher
	Notifier      Notifier
}

// Service runs the conversation request state machine:
// pending -> accepted | declined, or deleted on cancel.
type Service struct {
	requestRepo   Repository
	userRepo      UserRepository
	friendships   Friendships
	conversations Conversations
	locker        Locker
	pusher        EventPusher
	notifier      Notifier
	now           func() time.Time
}

func NewService(deps Dependencies) *Service {
	return &Service{
		requestRepo:   deps.Requests,
		userRepo:      deps.Users,
		friendships:   deps.Friendships,
		conversations: deps.Conversations,
		locker:        deps.Locker,
		pusher:        deps.Pusher,
		notifier:      deps.Notifier,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetPusher attaches the realtime hub once it exists
func (s *Service) SetPusher(pusher EventPusher) {
	s.pusher = pusher
}

func (s *Service) lookupUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, apperrors.UserNotFoundError()
		}
		return nil, apperrors.DatabaseError(err)
	}
	return user, nil
}

// SendConversationRequest creates a pending invitation and pushes it to the
// receiver's live connections
func (s *Service) SendConversationRequest(ctx context.Context, requesterID uuid.UUID, input *domain.ConversationRequestCreate) (*domain.ConversationRequest, error) {
	input.Normalize()
	if !input.Type.Valid() {
		return nil, apperrors.ValidationError("Unknown conversation type")
	}
	if input.ReceiverID == requesterID {
		return nil, apperrors.ValidationError("Cannot invite yourself")
	}
	if input.Type == domain.ConversationGroup && (input.GroupName == nil || *input.GroupName == "") {
		return nil, apperrors.MissingFieldError("group_name")
	}

	requester, err := s.lookupUser(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	receiver, err := s.lookupUser(ctx, input.ReceiverID)
	if err != nil {
		return nil, err
	}
	if err := s.checkReceiverAccepts(ctx, requesterID, receiver, input.Type); err != nil {
		return nil, err
	}

	req := &domain.ConversationRequest{
		RequestID:         uuid.New(),
		RequesterID:       requesterID,
		ReceiverID:        input.ReceiverID,
		Type:              input.Type,
		GroupName:         input.GroupName,
		AdditionalUserIDs: dedupe(input.AdditionalUserIDs, requesterID, input.ReceiverID),
		Status:            domain.RequestPending,
		Message:           input.Message,
		RequestedAt:       s.now(),
	}
	if err := s.requestRepo.Create(ctx, req); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			metrics.ConversationRequestTransitionsTotal.WithLabelValues("duplicate").Inc()
			return nil, apperrors.DuplicateRequestError()
		}
		return nil, apperrors.DatabaseError(err)
	}
	metrics.ConversationRequestTransitionsTotal.WithLabelValues("sent").Inc()

	if s.notifier != nil {
		text := fmt.Sprintf("%s wants to chat with you.", requester.Name())
		if req.Type == domain.ConversationGroup {
			text = fmt.Sprintf("%s invited you to join %q.", requester.Name(), req.GroupNameValue())
		}
		s.notifier.Notify(ctx, req.ReceiverID, text, domain.NotificationRequestReceived)
	}
	s.push(ctx, req.ReceiverID, domain.ConversationRequestPayload{
		Request:       req,
		RequesterName: requester.Name(),
	})
	return req, nil
}

// checkReceiverAccepts applies blocks and the receiver's privacy gates
func (s *Service) checkReceiverAccepts(ctx context.Context, requesterID uuid.UUID, receiver *domain.User, convType domain.ConversationType) error {
	for _, pair := range [][2]uuid.UUID{{requesterID, receiver.UserID}, {receiver.UserID, requesterID}} {
		blocked, err := s.friendships.HasBlocked(ctx, pair[0], pair[1])
		if err != nil {
			return err
		}
		if blocked {
			return apperrors.ForbiddenError("Conversation requests are not possible between these users")
		}
	}

	var gate bool
	switch convType {
	case domain.ConversationPrivate:
		gate = receiver.Settings.AllowOnlyFriendsChat
	case domain.ConversationGroup:
		gate = !receiver.Settings.AllowBeingAddedToGroup
	}
	if !gate {
		return nil
	}

	friends, err := s.friendships.AreFriends(ctx, requesterID, receiver.UserID)
	if err != nil {
		return err
	}
	if !friends {
		if convType == domain.ConversationPrivate {
			return apperrors.ForbiddenError("User only chats with friends")
		}
		return apperrors.ForbiddenError("User does not allow being added to groups")
	}
	return nil
}

// dedupe drops duplicates and the two parties of the request itself
func dedupe(ids []uuid.UUID, exclude ...uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids)+len(exclude))
	for _, id := range exclude {
		seen[id] = true
	}
	var out []uuid.UUID
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// loadPending fetches a request and checks the actor and status
func (s *Service) loadPending(ctx context.Context, requestID, actingUserID uuid.UUID, receiverOnly bool) (*domain.ConversationRequest, error) {
	req, err := s.requestRepo.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, apperrors.NotFoundError("Request")
		}
		return nil, apperrors.DatabaseError(err)
	}

	if receiverOnly && req.ReceiverID != actingUserID {
		return nil, apperrors.ForbiddenError("You can only respond to requests sent to you")
	}
	if !receiverOnly && req.RequesterID != actingUserID {
		return nil, apperrors.ForbiddenError("You can only cancel requests you sent")
	}
	if req.Status != domain.RequestPending {
		return nil, apperrors.ConflictError("Request is no longer pending")
	}
	return req, nil
}

func (s *Service) resolve(ctx context.Context, req *domain.ConversationRequest, status domain.RequestStatus) error {
	respondedAt := s.now()
	if err := s.requestRepo.Resolve(ctx, req.RequestID, status, respondedAt); err != nil {
		if errors.Is(err, domain.ErrStaleState) {
			return apperrors.ConflictError("Request is no longer pending")
		}
		return apperrors.DatabaseError(err)
	}
	req.Status = status
	req.RespondedAt = &respondedAt
	metrics.ConversationRequestTransitionsTotal.WithLabelValues(string(status)).Inc()
	return nil
}

// AcceptRequest materializes the request's conversation and then marks the
// request accepted, so a failed materialization leaves it pending for a retry.
// Private requests reuse an existing private conversation. Group requests join
// the requester's best matching group of that name, or start a new group with
// just the two parties.
func (s *Service) AcceptRequest(ctx context.Context, requestID, actingUserID uuid.UUID) (*domain.RequestResolution, error) {
	req, err := s.loadPending(ctx, requestID, actingUserID, true)
	if err != nil {
		return nil, err
	}

	var conversation *domain.Conversation
	if req.Type == domain.ConversationPrivate {
		conversation, err = s.acceptPrivate(ctx, req)
	} else {
		conversation, err = s.acceptGroup(ctx, req)
	}
	if err != nil {
		logger.Warn("Request could not be accepted",
			zap.String("request_id", req.RequestID.String()),
			zap.Error(err))
		return nil, err
	}

	if s.pusher != nil {
		s.pusher.AttachToConversation(ctx, conversation.ConversationID, req.RequesterID, req.ReceiverID)
	}
	s.pushResponse(ctx, req, conversation, true)
	return &domain.RequestResolution{Request: req, Conversation: conversation}, nil
}

func (s *Service) acceptPrivate(ctx context.Context, req *domain.ConversationRequest) (*domain.Conversation, error) {
	conversation, err := s.conversations.GetOrCreatePrivateConversation(ctx, req.RequesterID, req.ReceiverID)
	if err != nil {
		return nil, err
	}
	if err := s.resolve(ctx, req, domain.RequestAccepted); err != nil {
		return nil, err
	}
	return conversation, nil
}

// acceptGroup runs under a lock on (requester, group name) so concurrent
// acceptances of one invite batch converge on one group. The request is
// resolved inside the lock once the group exists.
func (s *Service) acceptGroup(ctx context.Context, req *domain.ConversationRequest) (*domain.Conversation, error) {
	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, fmt.Sprintf("group-formation:%s:%s", req.RequesterID, req.GroupNameValue()))
		if err != nil {
			return nil, apperrors.ServiceUnavailableError("Could not reserve the group, try again")
		}
		defer unlock()
	}

	conversation, err := s.materializeGroup(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.resolve(ctx, req, domain.RequestAccepted); err != nil {
		return nil, err
	}
	return conversation, nil
}

func (s *Service) materializeGroup(ctx context.Context, req *domain.ConversationRequest) (*domain.Conversation, error) {
	name := req.GroupNameValue()
	candidates, err := s.conversations.GetGroupsByName(ctx, req.RequesterID, name)
	if err != nil {
		return nil, err
	}

	match := MatchGroup(req, candidates)
	if match == nil {
		metrics.GroupMatchTotal.WithLabelValues("created").Inc()
		return s.conversations.CreateGroupConversation(ctx, name, req.RequesterID, []uuid.UUID{req.ReceiverID})
	}

	if match.HasParticipant(req.ReceiverID) {
		metrics.GroupMatchTotal.WithLabelValues("matched").Inc()
		return match, nil
	}
	if _, err := s.conversations.JoinGroup(ctx, match.ConversationID, req.ReceiverID); err != nil && !apperrors.HasCode(err, apperrors.ErrCodeConflict) {
		return nil, err
	}
	metrics.GroupMatchTotal.WithLabelValues("joined").Inc()
	return s.conversations.GetConversation(ctx, match.ConversationID, req.ReceiverID)
}

// DeclineRequest marks the request declined; the row is kept
func (s *Service) DeclineRequest(ctx context.Context, requestID, actingUserID uuid.UUID) (*domain.RequestResolution, error) {
	req, err := s.loadPending(ctx, requestID, actingUserID, true)
	if err != nil {
		return nil, err
	}
	if err := s.resolve(ctx, req, domain.RequestDeclined); err != nil {
		return nil, err
	}

	s.pushResponse(ctx, req, nil, false)
	return &domain.RequestResolution{Request: req}, nil
}

// CancelRequest deletes a pending request; only its requester may do so
func (s *Service) CancelRequest(ctx context.Context, requestID, actingUserID uuid.UUID) error {
	req, err := s.loadPending(ctx, requestID, actingUserID, false)
	if err != nil {
		return err
	}

	if err := s.requestRepo.DeletePending(ctx, req.RequestID); err != nil {
		if errors.Is(err, domain.ErrStaleState) {
			return apperrors.ConflictError("Request is no longer pending")
		}
		return apperrors.DatabaseError(err)
	}
	metrics.ConversationRequestTransitionsTotal.WithLabelValues("cancelled").Inc()
	return nil
}

// RespondToRequest routes a realtime accept/decline decision
func (s *Service) RespondToRequest(ctx context.Context, requestID, actingUserID uuid.UUID, accepted bool) (*domain.RequestResolution, error) {
	if accepted {
		return s.AcceptRequest(ctx, requestID, actingUserID)
	}
	return s.DeclineRequest(ctx, requestID, actingUserID)
}

// GetRequestByID returns a request visible to one of its parties
func (s *Service) GetRequestByID(ctx context.Context, requestID, userID uuid.UUID) (*domain.ConversationRequest, error) {
	req, err := s.requestRepo.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, apperrors.NotFoundError("Request")
		}
		return nil, apperrors.DatabaseError(err)
	}
	if req.RequesterID != userID && req.ReceiverID != userID {
		return nil, apperrors.ForbiddenError("You are not a party to this request")
	}
	return req, nil
}

// HasPendingRequest reports whether a matching pending request exists
func (s *Service) HasPendingRequest(ctx context.Context, requesterID, receiverID uuid.UUID, convType domain.ConversationType, groupName string) (bool, error) {
	_, err := s.requestRepo.FindPending(ctx, requesterID, receiverID, convType, groupName)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return false, apperrors.DatabaseError(err)
}

// GetPendingRequests lists requests waiting on userID
func (s *Service) GetPendingRequests(ctx context.Context, userID uuid.UUID) ([]*domain.ConversationRequest, error) {
	requests, err := s.requestRepo.ListIncomingPending(ctx, userID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if requests == nil {
		requests = []*domain.ConversationRequest{}
	}
	return requests, nil
}

// GetSentRequests lists userID's own requests still pending
func (s *Service) GetSentRequests(ctx context.Context, userID uuid.UUID) ([]*domain.ConversationRequest, error) {
	requests, err := s.requestRepo.ListOutgoingPending(ctx, userID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if requests == nil {
		requests = []*domain.ConversationRequest{}
	}
	return requests, nil
}

func (s *Service) push(ctx context.Context, userID uuid.UUID, payload domain.EventPayload) {
	if s.pusher == nil {
		return
	}
	s.pusher.PushToUser(ctx, userID, payload)
}

// pushResponse tells the requester how the receiver decided
func (s *Service) pushResponse(ctx context.Context, req *domain.ConversationRequest, conversation *domain.Conversation, accepted bool) {
	responderName := ""
	if responder, err := s.userRepo.GetByID(ctx, req.ReceiverID); err == nil {
		responderName = responder.Name()
	}

	payload := domain.RequestResponsePayload{
		RequestID:     req.RequestID,
		Type:          req.Type,
		GroupName:     req.GroupName,
		ResponderID:   req.ReceiverID,
		ResponderName: responderName,
		Accepted:      accepted,
	}
	if conversation != nil {
		id := conversation.ConversationID
		payload.ConversationID = &id
	}
	s.push(ctx, req.RequesterID, payload)
}
