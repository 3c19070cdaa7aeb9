package conversation

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatrelay-backend/internal/domain"
	apperrors "chatrelay-backend/pkg/errors"
	"chatrelay-backend/pkg/logger"
)

const (
	previewLength    = 80
	recentUnreadSpan = 7 * 24 * time.Hour
)

// GetDashboardStats aggregates unread counts over the last day and week along
// with friend and request counters
func (s *Service) GetDashboardStats(ctx context.Context, userID uuid.UUID) (*domain.DashboardStats, error) {
	conversations, err := s.conversationRepo.ListForUser(ctx, userID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	now := s.now()
	dayAgo := now.Add(-24 * time.Hour)
	weekAgo := now.Add(-recentUnreadSpan)

	stats := &domain.DashboardStats{TotalConversations: len(conversations)}
	for _, c := range conversations {
		if c.LastActivity().Before(weekAgo) {
			continue
		}
		week, err := s.messageRepo.CountUnread(ctx, c.ConversationID, userID, weekAgo)
		if err != nil {
			return nil, apperrors.DatabaseError(err)
		}
		stats.UnreadLast7d += week
		if week == 0 || c.LastActivity().Before(dayAgo) {
			continue
		}
		day, err := s.messageRepo.CountUnread(ctx, c.ConversationID, userID, dayAgo)
		if err != nil {
			return nil, apperrors.DatabaseError(err)
		}
		stats.UnreadLast24h += day
	}

	friends, err := s.friendships.GetFriends(ctx, userID)
	if err != nil {
		return nil, err
	}
	stats.TotalFriends = len(friends)
	for _, f := range friends {
		if f.IsOnline {
			stats.OnlineFriends++
		}
	}

	if s.requests != nil {
		pending, err := s.requests.ListIncomingPending(ctx, userID)
		if err != nil {
			return nil, apperrors.DatabaseError(err)
		}
		stats.PendingRequests = len(pending)
	}
	return stats, nil
}

// GetRecentConversations returns the user's most recently active conversations
// with a preview of the last message
func (s *Service) GetRecentConversations(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.ConversationSummary, error) {
	conversations, err := s.conversationRepo.ListForUser(ctx, userID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if limit > 0 && len(conversations) > limit {
		conversations = conversations[:limit]
	}

	users, err := s.usersOf(ctx, conversations)
	if err != nil {
		return nil, err
	}

	now := s.now()
	summaries := make([]*domain.ConversationSummary, 0, len(conversations))
	for _, c := range conversations {
		summary := &domain.ConversationSummary{
			ConversationID:  c.ConversationID,
			Type:            c.Type,
			Title:           title(c, userID, users),
			PictureURL:      c.PictureURL,
			Participants:    make([]*domain.UserResponse, 0, len(c.Participants)),
			LastActivity:    c.LastActivity(),
			LastActivityAgo: humanize.RelTime(c.LastActivity(), now, "ago", "from now"),
		}
		for _, p := range c.Participants {
			if u, ok := users[p.UserID]; ok {
				summary.Participants = append(summary.Participants, u.ToResponse())
			}
		}

		if c.LastMessageAt != nil {
			latest, err := s.messageRepo.GetLatest(ctx, c.ConversationID, *c.LastMessageAt, 1)
			if err != nil {
				logger.Warn("Failed to load last message",
					zap.String("conversation_id", c.ConversationID.String()),
					zap.Error(err))
			} else if len(latest) > 0 {
				summary.LastMessage = preview(latest[0])
			}

			summary.UnreadCount, err = s.messageRepo.CountUnread(ctx, c.ConversationID, userID, now.Add(-recentUnreadSpan))
			if err != nil {
				return nil, apperrors.DatabaseError(err)
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (s *Service) usersOf(ctx context.Context, conversations []*domain.Conversation) (map[uuid.UUID]*domain.User, error) {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, c := range conversations {
		for _, p := range c.Participants {
			if !seen[p.UserID] {
				seen[p.UserID] = true
				ids = append(ids, p.UserID)
			}
		}
	}

	byID := make(map[uuid.UUID]*domain.User, len(ids))
	if len(ids) == 0 {
		return byID, nil
	}
	users, err := s.userRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	for _, u := range users {
		byID[u.UserID] = u
	}
	return byID, nil
}

// title is the group name, or the other party's name for private conversations
func title(c *domain.Conversation, viewerID uuid.UUID, users map[uuid.UUID]*domain.User) string {
	if c.Type == domain.ConversationGroup {
		return c.DisplayName()
	}
	for _, p := range c.Participants {
		if p.UserID == viewerID {
			continue
		}
		if u, ok := users[p.UserID]; ok {
			return u.Name()
		}
	}
	return c.DisplayName()
}

func preview(m *domain.Message) *domain.MessagePreview {
	content := m.Content
	if utf8.RuneCountInString(content) > previewLength {
		runes := []rune(content)
		content = string(runes[:previewLength]) + "..."
	}
	return &domain.MessagePreview{
		SenderID: m.SenderID,
		Content:  content,
		IsAI:     m.IsAI,
		SentAt:   m.SentAt,
	}
}
