package conversation

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatrelay-backend/internal/domain"
	apperrors "chatrelay-backend/pkg/errors"
	"chatrelay-backend/pkg/logger"
	"chatrelay-backend/pkg/sanitize"
)

// Repository stores conversations and participants
type Repository interface {
	Create(ctx context.Context, conversation *domain.Conversation) error
	GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error)
	GetPrivateBetween(ctx context.Context, a, b uuid.UUID) (*domain.Conversation, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*domain.Conversation, error)
	ListGroupsByName(ctx context.Context, memberID uuid.UUID, name string) ([]*domain.Conversation, error)
	ListConversationIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	AddParticipant(ctx context.Context, p *domain.ConversationParticipant) error
	RemoveParticipant(ctx context.Context, conversationID, userID uuid.UUID) error
	UpdateRole(ctx context.Context, conversationID, userID uuid.UUID, role domain.ParticipantRole) error
	UpdateInfo(ctx context.Context, conversationID uuid.UUID, name, pictureURL *string) error
	TouchActivity(ctx context.Context, conversationID uuid.UUID, at time.Time) error
	Delete(ctx context.Context, conversationID uuid.UUID) error
}

// MessageRepository is the append-only message log
type MessageRepository interface {
	Save(ctx context.Context, message *domain.Message) error
	GetLatest(ctx context.Context, conversationID uuid.UUID, floor time.Time, limit int) ([]*domain.Message, error)
	CountUnread(ctx context.Context, conversationID, readerID uuid.UUID, since time.Time) (int, error)
	MarkRead(ctx context.Context, conversationID, readerID uuid.UUID, since time.Time) (int, error)
	DeleteConversation(ctx context.Context, conversationID uuid.UUID, floor time.Time) error
}

type UserRepository interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	GetByIDs(ctx context.Context, userIDs []uuid.UUID) ([]*domain.User, error)
}

// Friendships answers relationship questions for membership gates and views
type Friendships interface {
	AreFriends(ctx context.Context, a, b uuid.UUID) (bool, error)
	GetFriends(ctx context.Context, userID uuid.UUID) ([]*domain.UserResponse, error)
}

// PendingRequests lists incoming conversation requests for the dashboard
type PendingRequests interface {
	ListIncomingPending(ctx context.Context, userID uuid.UUID) ([]*domain.ConversationRequest, error)
}

// Responder produces the AI participant's reply
type Responder interface {
	GetReply(ctx context.Context, text string) (string, error)
}

// PictureStore keeps group pictures and returns their URL
type PictureStore interface {
	UploadGroupPicture(ctx context.Context, conversationID uuid.UUID, upload *PictureUpload) (string, error)
	RemoveGroupPicture(ctx context.Context, pictureURL string) error
}

// Locker serializes a named critical section across instances
type Locker interface {
	Lock(ctx context.Context, name string) (func(), error)
}

// PictureUpload is a group picture handed over by the HTTP layer
type PictureUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Reader      io.Reader
}

// Dependencies wires the collaborators of the service. Responder and Pictures may be nil.
type Dependencies struct {
	Conversations Repository
	Messages      MessageRepository
	Users         UserRepository
	Friendships   Friendships
	Requests      PendingRequests
	Responder     Responder
	Pictures      PictureStore
	Locker        Locker
}

// Service owns conversation lifecycle, membership and messaging
type Service struct {
	conversationRepo Repository
	messageRepo      MessageRepository
	userRepo         UserRepository
	friendships      Friendships
	requests         PendingRequests
	responder        Responder
	pictures         PictureStore
	locker           Locker

	// aiUserID is the system account that auto-replies; uuid.Nil disables replies
	aiUserID uuid.UUID
	now      func() time.Time
}

// NewService creates a conversation service. aiUserID is resolved once at startup.
func NewService(deps Dependencies, aiUserID uuid.UUID) *Service {
	return &Service{
		conversationRepo: deps.Conversations,
		messageRepo:      deps.Messages,
		userRepo:         deps.Users,
		friendships:      deps.Friendships,
		requests:         deps.Requests,
		responder:        deps.Responder,
		pictures:         deps.Pictures,
		locker:           deps.Locker,
		aiUserID:         aiUserID,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// AIUserID returns the system participant, uuid.Nil when none is configured
func (s *Service) AIUserID() uuid.UUID {
	return s.aiUserID
}

func repoError(err error, resource string) error {
	if errors.Is(err, domain.ErrNotFound) {
		return apperrors.NotFoundError(resource)
	}
	return apperrors.DatabaseError(err)
}

func (s *Service) newConversation(convType domain.ConversationType, name *string, creatorID uuid.UUID, memberIDs []uuid.UUID) *domain.Conversation {
	now := s.now()
	conversation := &domain.Conversation{
		ConversationID: uuid.New(),
		Type:           convType,
		Name:           name,
		CreatedAt:      now,
		Participants: []*domain.ConversationParticipant{
			{UserID: creatorID, Role: domain.RoleCreator, JoinedAt: now},
		},
	}
	for _, id := range memberIDs {
		conversation.Participants = append(conversation.Participants, &domain.ConversationParticipant{
			UserID:   id,
			Role:     domain.RoleMember,
			JoinedAt: now,
		})
	}
	for _, p := range conversation.Participants {
		p.ConversationID = conversation.ConversationID
	}
	return conversation
}

// CreatePrivateConversation creates a two-party conversation, a as creator.
// It does not check for an existing one; use GetPrivateConversation first.
func (s *Service) CreatePrivateConversation(ctx context.Context, a, b uuid.UUID) (*domain.Conversation, error) {
	if a == b {
		return nil, apperrors.ValidationError("A private conversation needs two different users")
	}

	conversation := s.newConversation(domain.ConversationPrivate, nil, a, []uuid.UUID{b})
	if err := s.conversationRepo.Create(ctx, conversation); err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return conversation, nil
}

// GetPrivateConversation returns the private conversation between a and b
func (s *Service) GetPrivateConversation(ctx context.Context, a, b uuid.UUID) (*domain.Conversation, error) {
	conversation, err := s.conversationRepo.GetPrivateBetween(ctx, a, b)
	if err != nil {
		return nil, repoError(err, "Conversation")
	}
	return conversation, nil
}

// GetOrCreatePrivateConversation reuses the private conversation between a and b if any.
// The lookup and create run under a lock on the unordered pair, so a and b
// racing each other still end up with one conversation.
func (s *Service) GetOrCreatePrivateConversation(ctx context.Context, a, b uuid.UUID) (*domain.Conversation, error) {
	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, privatePairLock(a, b))
		if err != nil {
			return nil, apperrors.ServiceUnavailableError("Could not reserve the conversation, try again")
		}
		defer unlock()
	}

	conversation, err := s.conversationRepo.GetPrivateBetween(ctx, a, b)
	if err == nil {
		return conversation, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, apperrors.DatabaseError(err)
	}
	return s.CreatePrivateConversation(ctx, a, b)
}

func privatePairLock(a, b uuid.UUID) string {
	x, y := a.String(), b.String()
	if y < x {
		x, y = y, x
	}
	return "private-conversation:" + x + ":" + y
}

// CreateGroupConversation creates a named group; the creator is always included
func (s *Service) CreateGroupConversation(ctx context.Context, name string, creatorID uuid.UUID, memberIDs []uuid.UUID) (*domain.Conversation, error) {
	name = sanitize.Name(name)
	if name == "" {
		return nil, apperrors.MissingFieldError("name")
	}

	seen := map[uuid.UUID]bool{creatorID: true}
	members := make([]uuid.UUID, 0, len(memberIDs))
	for _, id := range memberIDs {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		members = append(members, id)
	}

	conversation := s.newConversation(domain.ConversationGroup, &name, creatorID, members)
	if err := s.conversationRepo.Create(ctx, conversation); err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return conversation, nil
}

// GetConversation returns a conversation the user belongs to
func (s *Service) GetConversation(ctx context.Context, conversationID, userID uuid.UUID) (*domain.Conversation, error) {
	conversation, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, repoError(err, "Conversation")
	}
	if !conversation.HasParticipant(userID) {
		return nil, apperrors.ForbiddenError("You are not a participant of this conversation")
	}
	return conversation, nil
}

// GetUserConversations lists the user's conversations, most recently active first
func (s *Service) GetUserConversations(ctx context.Context, userID uuid.UUID) ([]*domain.Conversation, error) {
	conversations, err := s.conversationRepo.ListForUser(ctx, userID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if conversations == nil {
		conversations = []*domain.Conversation{}
	}
	return conversations, nil
}

// GetUserConversationIDs lists ids only; the hub subscribes a new connection to each
func (s *Service) GetUserConversationIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	ids, err := s.conversationRepo.ListConversationIDs(ctx, userID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return ids, nil
}

// GetGroupsByName lists memberID's groups named name, used for invite matching
func (s *Service) GetGroupsByName(ctx context.Context, memberID uuid.UUID, name string) ([]*domain.Conversation, error) {
	groups, err := s.conversationRepo.ListGroupsByName(ctx, memberID, name)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return groups, nil
}

// IsUserInConversation reports membership; a missing conversation is NotFound
func (s *Service) IsUserInConversation(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	conversation, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return false, repoError(err, "Conversation")
	}
	return conversation.HasParticipant(userID), nil
}

// IsAdminOrCreator reports whether userID may manage the conversation
func (s *Service) IsAdminOrCreator(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	conversation, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return false, repoError(err, "Conversation")
	}
	p, ok := conversation.Participant(userID)
	return ok && p.Role.CanManage(), nil
}

// loadGroup fetches a group and the acting user's membership
func (s *Service) loadGroup(ctx context.Context, conversationID, actorID uuid.UUID) (*domain.Conversation, *domain.ConversationParticipant, error) {
	conversation, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, nil, repoError(err, "Conversation")
	}
	if conversation.Type != domain.ConversationGroup {
		return nil, nil, apperrors.ConflictError("Only group conversations have managed membership")
	}
	actor, ok := conversation.Participant(actorID)
	if !ok {
		return nil, nil, apperrors.ForbiddenError("You are not a participant of this conversation")
	}
	return conversation, actor, nil
}

// AddParticipant adds userID as a member. Admin or Creator only. A user who
// disabled being added to groups can only be added by a friend.
func (s *Service) AddParticipant(ctx context.Context, conversationID, actorID, userID uuid.UUID) (*domain.ConversationParticipant, error) {
	conversation, actor, err := s.loadGroup(ctx, conversationID, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.Role.CanManage() {
		return nil, apperrors.ForbiddenError("Only admins can add participants")
	}
	if conversation.HasParticipant(userID) {
		return nil, apperrors.ConflictError("User is already a participant")
	}

	target, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, apperrors.UserNotFoundError()
		}
		return nil, apperrors.DatabaseError(err)
	}
	if !target.Settings.AllowBeingAddedToGroup {
		friends, err := s.friendships.AreFriends(ctx, actorID, userID)
		if err != nil {
			return nil, err
		}
		if !friends {
			return nil, apperrors.ForbiddenError("User does not allow being added to groups")
		}
	}

	return s.JoinGroup(ctx, conversationID, userID)
}

// JoinGroup inserts userID as a member without role checks. It backs accepted
// group invitations, where the invitee's consent is the authorization.
func (s *Service) JoinGroup(ctx context.Context, conversationID, userID uuid.UUID) (*domain.ConversationParticipant, error) {
	p := &domain.ConversationParticipant{
		ConversationID: conversationID,
		UserID:         userID,
		Role:           domain.RoleMember,
		JoinedAt:       s.now(),
	}
	if err := s.conversationRepo.AddParticipant(ctx, p); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return nil, apperrors.ConflictError("User is already a participant")
		}
		return nil, apperrors.DatabaseError(err)
	}
	return p, nil
}

// RemoveParticipant removes a non-creator participant. Admin or Creator only.
func (s *Service) RemoveParticipant(ctx context.Context, conversationID, actorID, userID uuid.UUID) error {
	conversation, actor, err := s.loadGroup(ctx, conversationID, actorID)
	if err != nil {
		return err
	}
	if !actor.Role.CanManage() {
		return apperrors.ForbiddenError("Only admins can remove participants")
	}

	target, ok := conversation.Participant(userID)
	if !ok {
		return apperrors.ConflictError("User is not a participant")
	}
	if target.Role == domain.RoleCreator {
		return apperrors.ConflictError("The creator cannot be removed")
	}
	return s.removeMember(ctx, conversationID, userID)
}

func (s *Service) removeMember(ctx context.Context, conversationID, userID uuid.UUID) error {
	if err := s.conversationRepo.RemoveParticipant(ctx, conversationID, userID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return apperrors.ConflictError("User is not a participant")
		}
		return apperrors.DatabaseError(err)
	}
	return nil
}

// AssignAdmin promotes a member to admin. Creator only.
func (s *Service) AssignAdmin(ctx context.Context, conversationID, actorID, userID uuid.UUID) error {
	conversation, actor, err := s.loadGroup(ctx, conversationID, actorID)
	if err != nil {
		return err
	}
	if actor.Role != domain.RoleCreator {
		return apperrors.ForbiddenError("Only the creator can assign admins")
	}

	target, ok := conversation.Participant(userID)
	if !ok {
		return apperrors.NotFoundError("Participant")
	}
	switch target.Role {
	case domain.RoleCreator:
		return apperrors.ConflictError("The creator role cannot be changed")
	case domain.RoleAdmin:
		return apperrors.ConflictError("User is already an admin")
	}

	if err := s.conversationRepo.UpdateRole(ctx, conversationID, userID, domain.RoleAdmin); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return apperrors.ConflictError("User is not a participant")
		}
		return apperrors.DatabaseError(err)
	}
	return nil
}

// UpdateGroupInfo renames the group and/or replaces its picture. Admin or Creator only.
func (s *Service) UpdateGroupInfo(ctx context.Context, conversationID, actorID uuid.UUID, name *string, picture *PictureUpload) (*domain.Conversation, error) {
	current, actor, err := s.loadGroup(ctx, conversationID, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.Role.CanManage() {
		return nil, apperrors.ForbiddenError("Only admins can edit group info")
	}

	if name != nil {
		trimmed := sanitize.Name(*name)
		if trimmed == "" {
			return nil, apperrors.ValidationError("Group name cannot be empty")
		}
		name = &trimmed
	}
	if name == nil && picture == nil {
		return nil, apperrors.ValidationError("Nothing to update")
	}

	var pictureURL *string
	if picture != nil {
		if s.pictures == nil {
			return nil, apperrors.ServiceUnavailableError("Picture storage is not configured")
		}
		url, err := s.pictures.UploadGroupPicture(ctx, conversationID, picture)
		if err != nil {
			return nil, err
		}
		pictureURL = &url
	}

	if err := s.conversationRepo.UpdateInfo(ctx, conversationID, name, pictureURL); err != nil {
		return nil, repoError(err, "Conversation")
	}
	if pictureURL != nil {
		s.removePicture(ctx, current)
	}

	updated, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, repoError(err, "Conversation")
	}
	return updated, nil
}

// LeaveGroup removes the caller. The creator cannot leave: no ownership transfer exists.
func (s *Service) LeaveGroup(ctx context.Context, conversationID, userID uuid.UUID) error {
	_, actor, err := s.loadGroup(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if actor.Role == domain.RoleCreator {
		return apperrors.ConflictError("The creator cannot leave the group")
	}
	return s.removeMember(ctx, conversationID, userID)
}

// DeleteConversation removes a conversation and its messages. Groups can only be
// deleted by their creator, private conversations by either participant.
func (s *Service) DeleteConversation(ctx context.Context, conversationID, actorID uuid.UUID) error {
	conversation, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return repoError(err, "Conversation")
	}
	actor, ok := conversation.Participant(actorID)
	if !ok {
		return apperrors.ForbiddenError("You are not a participant of this conversation")
	}
	if conversation.Type == domain.ConversationGroup && actor.Role != domain.RoleCreator {
		return apperrors.ForbiddenError("Only the creator can delete the group")
	}

	if err := s.conversationRepo.Delete(ctx, conversationID); err != nil {
		return repoError(err, "Conversation")
	}
	s.purgeMessages(ctx, conversation)
	s.removePicture(ctx, conversation)
	return nil
}

// removePicture drops a group's stored picture; failures only leave an orphan object
func (s *Service) removePicture(ctx context.Context, conversation *domain.Conversation) {
	if s.pictures == nil || conversation.PictureURL == nil {
		return
	}
	if err := s.pictures.RemoveGroupPicture(ctx, *conversation.PictureURL); err != nil {
		logger.Warn("Failed to remove group picture",
			zap.String("conversation_id", conversation.ConversationID.String()),
			zap.Error(err))
	}
}

// EnsureAiConversation returns the user's private conversation with the AI
// account, creating it on first call only
func (s *Service) EnsureAiConversation(ctx context.Context, userID uuid.UUID) (*domain.Conversation, error) {
	if s.aiUserID == uuid.Nil {
		return nil, apperrors.ServiceUnavailableError("AI assistant is not configured")
	}
	if userID == s.aiUserID {
		return nil, apperrors.ValidationError("The AI account cannot chat with itself")
	}
	return s.GetOrCreatePrivateConversation(ctx, userID, s.aiUserID)
}
