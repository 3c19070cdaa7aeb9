package friendship

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

// maxEdgeAttempts bounds re-reads after losing a race on the same pair
const maxEdgeAttempts = 3

// Repository is the friendship graph storage
type Repository interface {
	GetBetween(ctx context.Context, a, b uuid.UUID) (*domain.Friendship, error)
	GetByID(ctx context.Context, friendshipID uuid.UUID) (*domain.Friendship, error)
	Create(ctx context.Context, f *domain.Friendship) error
	UpdateEdge(ctx context.Context, f *domain.Friendship, fromStatus domain.FriendshipStatus) error
	DeleteWithStatus(ctx context.Context, friendshipID uuid.UUID, status domain.FriendshipStatus) error
	DeleteDeclinedFor(ctx context.Context, userID uuid.UUID) (int64, error)
	ListFriends(ctx context.Context, userID uuid.UUID) ([]*domain.User, error)
	ListBlocked(ctx context.Context, blockerID uuid.UUID) ([]*domain.User, error)
	ListIncomingPending(ctx context.Context, userID uuid.UUID) ([]*domain.Friendship, error)
}

// UserRepository resolves user accounts
type UserRepository interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	GetByIDs(ctx context.Context, userIDs []uuid.UUID) ([]*domain.User, error)
}

// Notifier is the fire-and-forget notification sink
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, message string, notificationType domain.NotificationType)
}

// Service computes relationship state between pairs of users
type Service struct {
	friendshipRepo Repository
	userRepo       UserRepository
	notifier       Notifier
}

// NewService creates a new friendship service
func NewService(friendshipRepo Repository, userRepo UserRepository, notifier Notifier) *Service {
	return &Service{
		friendshipRepo: friendshipRepo,
		userRepo:       userRepo,
		notifier:       notifier,
	}
}

// edge returns the edge between a and b, nil when there is none
func (s *Service) edge(ctx context.Context, a, b uuid.UUID) (*domain.Friendship, error) {
	f, err := s.friendshipRepo.GetBetween(ctx, a, b)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, apperrors.DatabaseError(err)
	}
	return f, nil
}

// AreFriends reports whether a and b have an accepted edge
func (s *Service) AreFriends(ctx context.Context, a, b uuid.UUID) (bool, error) {
	f, err := s.edge(ctx, a, b)
	if err != nil {
		return false, err
	}
	return f != nil && f.Status == domain.FriendshipAccepted, nil
}

// HasBlocked reports whether a blocked b
func (s *Service) HasBlocked(ctx context.Context, a, b uuid.UUID) (bool, error) {
	f, err := s.edge(ctx, a, b)
	if err != nil {
		return false, err
	}
	return f != nil && f.Status == domain.FriendshipBlocked && f.RequesterID == a, nil
}

// HasBeenBlockedBy reports whether b blocked a
func (s *Service) HasBeenBlockedBy(ctx context.Context, a, b uuid.UUID) (bool, error) {
	return s.HasBlocked(ctx, b, a)
}

// HasRequested reports whether a pending or declined edge exists between a and b
func (s *Service) HasRequested(ctx context.Context, a, b uuid.UUID) (bool, error) {
	f, err := s.edge(ctx, a, b)
	if err != nil {
		return false, err
	}
	return f != nil && (f.Status == domain.FriendshipPending || f.Status == domain.FriendshipDeclined), nil
}

func outcomeForEdge(f *domain.Friendship) domain.FriendRequestOutcome {
	switch f.Status {
	case domain.FriendshipAccepted:
		return domain.FriendRequestAlreadyFriends
	case domain.FriendshipBlocked:
		return domain.FriendRequestBlocked
	case domain.FriendshipDeclined:
		return domain.FriendRequestDeclined
	default:
		return domain.FriendRequestAlreadySent
	}
}

// SendFriendRequest creates a pending edge from sender to receiver unless the
// receiver refuses requests or any edge already exists
func (s *Service) SendFriendRequest(ctx context.Context, senderID, receiverID uuid.UUID) (domain.FriendRequestOutcome, error) {
	if senderID == receiverID {
		return "", apperrors.ValidationError("Cannot send a friend request to yourself")
	}

	outcome, err := s.sendFriendRequest(ctx, senderID, receiverID)
	if err != nil {
		return "", err
	}
	metrics.FriendshipOutcomesTotal.WithLabelValues("request", string(outcome)).Inc()
	return outcome, nil
}

func (s *Service) sendFriendRequest(ctx context.Context, senderID, receiverID uuid.UUID) (domain.FriendRequestOutcome, error) {
	receiver, err := s.userRepo.GetByID(ctx, receiverID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", apperrors.UserNotFoundError()
		}
		return "", apperrors.DatabaseError(err)
	}
	if !receiver.Settings.AllowRequest {
		return domain.FriendRequestRequestsDisabled, nil
	}

	existing, err := s.edge(ctx, senderID, receiverID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return outcomeForEdge(existing), nil
	}

	f := &domain.Friendship{
		FriendshipID: uuid.New(),
		RequesterID:  senderID,
		AddresseeID:  receiverID,
		Status:       domain.FriendshipPending,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.friendshipRepo.Create(ctx, f); err != nil {
		if !errors.Is(err, domain.ErrDuplicate) {
			return "", apperrors.DatabaseError(err)
		}
		// A concurrent writer created the pair's edge first
		raced, err := s.edge(ctx, senderID, receiverID)
		if err != nil {
			return "", err
		}
		if raced == nil {
			return domain.FriendRequestAlreadySent, nil
		}
		return outcomeForEdge(raced), nil
	}

	s.notify(ctx, receiverID, senderID, "%s sent you a friend request", domain.NotificationFriendshipReceived)
	return domain.FriendRequestOk, nil
}

// loadForResponse loads a pending edge the acting user may resolve
func (s *Service) loadForResponse(ctx context.Context, friendshipID, actingUserID uuid.UUID, receiverOnly bool) (*domain.Friendship, error) {
	f, err := s.friendshipRepo.GetByID(ctx, friendshipID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, apperrors.NotFoundError("Friend request")
		}
		return nil, apperrors.DatabaseError(err)
	}

	if receiverOnly && f.AddresseeID != actingUserID {
		return nil, apperrors.ForbiddenError("Only the receiver can respond to this friend request")
	}
	if !receiverOnly && f.RequesterID != actingUserID {
		return nil, apperrors.ForbiddenError("Only the sender can cancel this friend request")
	}
	if f.Status != domain.FriendshipPending {
		return nil, apperrors.ConflictError("Friend request is no longer pending")
	}
	return f, nil
}

func (s *Service) transition(ctx context.Context, friendshipID, actingUserID uuid.UUID, to domain.FriendshipStatus) (*domain.Friendship, error) {
	f, err := s.loadForResponse(ctx, friendshipID, actingUserID, true)
	if err != nil {
		return nil, err
	}

	f.Status = to
	if err := s.friendshipRepo.UpdateEdge(ctx, f, domain.FriendshipPending); err != nil {
		if errors.Is(err, domain.ErrStaleState) {
			return nil, apperrors.ConflictError("Friend request is no longer pending")
		}
		return nil, apperrors.DatabaseError(err)
	}
	return f, nil
}

// AcceptRequest turns a pending edge into a friendship
func (s *Service) AcceptRequest(ctx context.Context, friendshipID, actingUserID uuid.UUID) (*domain.Friendship, error) {
	f, err := s.transition(ctx, friendshipID, actingUserID, domain.FriendshipAccepted)
	if err != nil {
		return nil, err
	}
	metrics.FriendshipOutcomesTotal.WithLabelValues("accept", "ok").Inc()
	s.notify(ctx, f.RequesterID, actingUserID, "%s accepted your friend request", domain.NotificationFriendshipAccepted)
	return f, nil
}

// DeclineRequest marks a pending edge declined; the edge is kept
func (s *Service) DeclineRequest(ctx context.Context, friendshipID, actingUserID uuid.UUID) (*domain.Friendship, error) {
	f, err := s.transition(ctx, friendshipID, actingUserID, domain.FriendshipDeclined)
	if err != nil {
		return nil, err
	}
	metrics.FriendshipOutcomesTotal.WithLabelValues("decline", "ok").Inc()
	s.notify(ctx, f.RequesterID, actingUserID, "%s declined your friend request", domain.NotificationFriendshipDenied)
	return f, nil
}

// CancelRequest deletes a pending edge; only its sender may do so
func (s *Service) CancelRequest(ctx context.Context, friendshipID, actingUserID uuid.UUID) error {
	f, err := s.loadForResponse(ctx, friendshipID, actingUserID, false)
	if err != nil {
		return err
	}

	if err := s.friendshipRepo.DeleteWithStatus(ctx, f.FriendshipID, domain.FriendshipPending); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return apperrors.ConflictError("Friend request is no longer pending")
		}
		return apperrors.DatabaseError(err)
	}
	metrics.FriendshipOutcomesTotal.WithLabelValues("cancel", "ok").Inc()
	return nil
}

// BlockUser records that blocker blocked blocked. A pending or declined edge is
// rewritten in place with blocker as requester.
func (s *Service) BlockUser(ctx context.Context, blockerID, blockedID uuid.UUID) (domain.BlockOutcome, error) {
	if blockerID == blockedID {
		return "", apperrors.ValidationError("Cannot block yourself")
	}
	if _, err := s.userRepo.GetByID(ctx, blockedID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", apperrors.UserNotFoundError()
		}
		return "", apperrors.DatabaseError(err)
	}

	for attempt := 0; attempt < maxEdgeAttempts; attempt++ {
		existing, err := s.edge(ctx, blockerID, blockedID)
		if err != nil {
			return "", err
		}

		if existing == nil {
			err = s.friendshipRepo.Create(ctx, &domain.Friendship{
				FriendshipID: uuid.New(),
				RequesterID:  blockerID,
				AddresseeID:  blockedID,
				Status:       domain.FriendshipBlocked,
				CreatedAt:    time.Now().UTC(),
			})
			if errors.Is(err, domain.ErrDuplicate) {
				continue
			}
			if err != nil {
				return "", apperrors.DatabaseError(err)
			}
			return s.blocked(domain.BlockOk), nil
		}

		switch existing.Status {
		case domain.FriendshipAccepted:
			return s.blocked(domain.BlockAlreadyFriends), nil
		case domain.FriendshipBlocked:
			return s.blocked(domain.BlockAlreadyBlocked), nil
		}

		from := existing.Status
		existing.RequesterID = blockerID
		existing.AddresseeID = blockedID
		existing.Status = domain.FriendshipBlocked
		err = s.friendshipRepo.UpdateEdge(ctx, existing, from)
		if errors.Is(err, domain.ErrStaleState) {
			continue
		}
		if err != nil {
			return "", apperrors.DatabaseError(err)
		}
		return s.blocked(domain.BlockOk), nil
	}

	return "", apperrors.ConflictError("Relationship changed concurrently, try again")
}

func (s *Service) blocked(outcome domain.BlockOutcome) domain.BlockOutcome {
	metrics.FriendshipOutcomesTotal.WithLabelValues("block", string(outcome)).Inc()
	return outcome
}

// UnblockUser removes a block placed by blocker. NotFound when there is none.
func (s *Service) UnblockUser(ctx context.Context, blockerID, blockedID uuid.UUID) error {
	f, err := s.edge(ctx, blockerID, blockedID)
	if err != nil {
		return err
	}
	if f == nil || f.Status != domain.FriendshipBlocked || f.RequesterID != blockerID {
		return apperrors.NotFoundError("Block")
	}

	if err := s.friendshipRepo.DeleteWithStatus(ctx, f.FriendshipID, domain.FriendshipBlocked); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return apperrors.NotFoundError("Block")
		}
		return apperrors.DatabaseError(err)
	}
	metrics.FriendshipOutcomesTotal.WithLabelValues("unblock", "ok").Inc()
	return nil
}

// UnfriendUser deletes an accepted edge. NotFound when a and b are not friends.
func (s *Service) UnfriendUser(ctx context.Context, a, b uuid.UUID) error {
	f, err := s.edge(ctx, a, b)
	if err != nil {
		return err
	}
	if f == nil || f.Status != domain.FriendshipAccepted {
		return apperrors.NotFoundError("Friendship")
	}

	if err := s.friendshipRepo.DeleteWithStatus(ctx, f.FriendshipID, domain.FriendshipAccepted); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return apperrors.NotFoundError("Friendship")
		}
		return apperrors.DatabaseError(err)
	}
	metrics.FriendshipOutcomesTotal.WithLabelValues("unfriend", "ok").Inc()
	return nil
}

// DeleteDeclined purges every declined edge touching userID
func (s *Service) DeleteDeclined(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := s.friendshipRepo.DeleteDeclinedFor(ctx, userID)
	if err != nil {
		return 0, apperrors.DatabaseError(err)
	}
	return n, nil
}

// GetFriends lists accepted friends of userID
func (s *Service) GetFriends(ctx context.Context, userID uuid.UUID) ([]*domain.UserResponse, error) {
	users, err := s.friendshipRepo.ListFriends(ctx, userID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return domain.UsersToResponses(users), nil
}

// GetBlocked lists users that userID blocked
func (s *Service) GetBlocked(ctx context.Context, userID uuid.UUID) ([]*domain.UserResponse, error) {
	users, err := s.friendshipRepo.ListBlocked(ctx, userID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return domain.UsersToResponses(users), nil
}

// GetPending lists incoming pending requests with their senders resolved
func (s *Service) GetPending(ctx context.Context, userID uuid.UUID) ([]*domain.FriendshipResponse, error) {
	edges, err := s.friendshipRepo.ListIncomingPending(ctx, userID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if len(edges) == 0 {
		return []*domain.FriendshipResponse{}, nil
	}

	ids := make([]uuid.UUID, 0, len(edges))
	for _, f := range edges {
		ids = append(ids, f.RequesterID)
	}
	users, err := s.userRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	byID := make(map[uuid.UUID]*domain.User, len(users))
	for _, u := range users {
		byID[u.UserID] = u
	}

	responses := make([]*domain.FriendshipResponse, 0, len(edges))
	for _, f := range edges {
		u, ok := byID[f.RequesterID]
		if !ok {
			continue
		}
		responses = append(responses, &domain.FriendshipResponse{
			FriendshipID: f.FriendshipID,
			Status:       f.Status,
			User:         u.ToResponse(),
			CreatedAt:    f.CreatedAt,
		})
	}
	return responses, nil
}

// notify sends format (with the actor's name) to recipient, best effort
func (s *Service) notify(ctx context.Context, recipientID, actorID uuid.UUID, format string, notificationType domain.NotificationType) {
	if s.notifier == nil {
		return
	}
	actor, err := s.userRepo.GetByID(ctx, actorID)
	if err != nil {
		logger.Warn("Skipping notification, actor lookup failed",
			zap.String("user_id", actorID.String()),
			zap.Error(err))
		return
	}
	s.notifier.Notify(ctx, recipientID, fmt.Sprintf(format, actor.Name()), notificationType)
}
