package conversation

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatrelay-backend/internal/domain"
	apperrors "chatrelay-backend/pkg/errors"
	"chatrelay-backend/pkg/logger"
	"chatrelay-backend/pkg/metrics"
	"chatrelay-backend/pkg/pagination"
	"chatrelay-backend/pkg/sanitize"
)

// MaxMessageLength is the longest message body accepted, in runes
const MaxMessageLength = 4000

// SendMessage persists a message from senderID and, when the conversation has
// the AI participant and the sender is someone else, the AI's reply. Messages
// are returned in creation order. A failing responder only drops the reply.
func (s *Service) SendMessage(ctx context.Context, conversationID, senderID uuid.UUID, content string) ([]*domain.Message, error) {
	content = sanitize.Text(content)
	if content == "" {
		return nil, apperrors.ValidationError("Message content cannot be empty")
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return nil, apperrors.ValidationError("Message is too long")
	}

	conversation, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, repoError(err, "Conversation")
	}
	if !conversation.HasParticipant(senderID) {
		return nil, apperrors.ForbiddenError("You are not a participant of this conversation")
	}

	names := s.participantNames(ctx, senderID, s.aiUserID)

	message, err := s.persist(ctx, conversationID, senderID, names[senderID], content, false)
	if err != nil {
		return nil, err
	}
	messages := []*domain.Message{message}

	if s.wantsAIReply(conversation, senderID) {
		if reply := s.aiReply(ctx, conversationID, content, names[s.aiUserID]); reply != nil {
			messages = append(messages, reply)
		}
	}

	s.touch(ctx, conversationID, messages[len(messages)-1].SentAt)
	return messages, nil
}

func (s *Service) wantsAIReply(conversation *domain.Conversation, senderID uuid.UUID) bool {
	return s.responder != nil &&
		s.aiUserID != uuid.Nil &&
		senderID != s.aiUserID &&
		conversation.HasParticipant(s.aiUserID)
}

func (s *Service) aiReply(ctx context.Context, conversationID uuid.UUID, prompt, aiName string) *domain.Message {
	start := time.Now()
	text, err := s.responder.GetReply(ctx, prompt)
	metrics.AIReplyDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.AIRepliesTotal.WithLabelValues("failure").Inc()
		logger.Warn("AI reply skipped",
			zap.String("conversation_id", conversationID.String()),
			zap.Error(err))
		return nil
	}
	if strings.TrimSpace(text) == "" {
		metrics.AIRepliesTotal.WithLabelValues("empty").Inc()
		return nil
	}

	reply, err := s.persist(ctx, conversationID, s.aiUserID, aiName, text, true)
	if err != nil {
		metrics.AIRepliesTotal.WithLabelValues("failure").Inc()
		logger.Warn("AI reply could not be stored",
			zap.String("conversation_id", conversationID.String()),
			zap.Error(err))
		return nil
	}
	metrics.AIRepliesTotal.WithLabelValues("success").Inc()
	return reply
}

func (s *Service) persist(ctx context.Context, conversationID, senderID uuid.UUID, senderName, content string, isAI bool) (*domain.Message, error) {
	author := "user"
	if isAI {
		author = "ai"
	}

	message := &domain.Message{
		MessageID:      uuid.New(),
		ConversationID: conversationID,
		SenderID:       senderID,
		SenderName:     senderName,
		Content:        content,
		IsAI:           isAI,
		SentAt:         s.now(),
	}
	if err := s.messageRepo.Save(ctx, message); err != nil {
		metrics.MessagesPersistedTotal.WithLabelValues(author, "error").Inc()
		return nil, apperrors.DatabaseError(err)
	}
	metrics.MessagesPersistedTotal.WithLabelValues(author, "success").Inc()
	return message, nil
}

// touch moves the conversation up in recent lists, best effort
func (s *Service) touch(ctx context.Context, conversationID uuid.UUID, at time.Time) {
	if err := s.conversationRepo.TouchActivity(ctx, conversationID, at); err != nil {
		logger.Warn("Failed to record conversation activity",
			zap.String("conversation_id", conversationID.String()),
			zap.Error(err))
	}
}

// participantNames resolves display names, skipping unknown or nil ids
func (s *Service) participantNames(ctx context.Context, ids ...uuid.UUID) map[uuid.UUID]string {
	names := make(map[uuid.UUID]string, len(ids))
	lookup := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id != uuid.Nil {
			lookup = append(lookup, id)
		}
	}

	users, err := s.userRepo.GetByIDs(ctx, lookup)
	if err != nil {
		logger.Warn("Failed to resolve sender names", zap.Error(err))
		return names
	}
	for _, u := range users {
		names[u.UserID] = u.Name()
	}
	return names
}

// GetMessages returns up to limit of the newest messages in chronological
// order. Clients call it after reconnecting to catch up on missed pushes.
func (s *Service) GetMessages(ctx context.Context, conversationID, userID uuid.UUID, limit int) ([]*domain.Message, error) {
	conversation, err := s.GetConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = pagination.DefaultLimit
	}
	limit = pagination.ClampLimit(limit)

	messages, err := s.messageRepo.GetLatest(ctx, conversationID, conversation.CreatedAt, limit)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	names := s.participantNames(ctx, conversation.ParticipantIDs()...)
	ordered := make([]*domain.Message, len(messages))
	for i, m := range messages {
		m.SenderName = names[m.SenderID]
		ordered[len(messages)-1-i] = m
	}
	return ordered, nil
}

// MarkConversationRead flags every message from other participants as read
func (s *Service) MarkConversationRead(ctx context.Context, conversationID, userID uuid.UUID) (int, error) {
	conversation, err := s.GetConversation(ctx, conversationID, userID)
	if err != nil {
		return 0, err
	}

	n, err := s.messageRepo.MarkRead(ctx, conversationID, userID, conversation.CreatedAt)
	if err != nil {
		return 0, apperrors.DatabaseError(err)
	}
	return n, nil
}

// GetParticipantIDs lists the members of a conversation
func (s *Service) GetParticipantIDs(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	conversation, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, repoError(err, "Conversation")
	}
	return conversation.ParticipantIDs(), nil
}

func (s *Service) purgeMessages(ctx context.Context, conversation *domain.Conversation) {
	if err := s.messageRepo.DeleteConversation(ctx, conversation.ConversationID, conversation.CreatedAt); err != nil {
		logger.Warn("Conversation deleted but its messages remain",
			zap.String("conversation_id", conversation.ConversationID.String()),
			zap.Error(err))
	}
}
