package request

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatrelay-backend/internal/domain"
	apperrors "chatrelay-backend/pkg/errors"
	"chatrelay-backend/pkg/logger"
	"chatrelay-backend/pkg/sanitize"
)

// InviteToGroup creates a named group for creatorID. Friends are enrolled
// directly; everyone else gets a group request naming the other invitees, so
// their acceptance lands in this group. Invitees that already have a pending
// request, or whose settings refuse it, are reported as skipped.
func (s *Service) InviteToGroup(ctx context.Context, creatorID uuid.UUID, groupName string, userIDs []uuid.UUID) (*domain.GroupInviteResult, error) {
	groupName = sanitize.Name(groupName)
	if groupName == "" {
		return nil, apperrors.MissingFieldError("group_name")
	}
	invitees := dedupe(userIDs, creatorID)
	if len(invitees) == 0 {
		return nil, apperrors.ValidationError("At least one other user must be invited")
	}

	result := &domain.GroupInviteResult{
		Joined:    []uuid.UUID{},
		Requested: []*domain.ConversationRequest{},
		Skipped:   []uuid.UUID{},
	}

	var outsiders []uuid.UUID
	for _, id := range invitees {
		friends, err := s.friendships.AreFriends(ctx, creatorID, id)
		if err != nil {
			return nil, err
		}
		if friends {
			result.Joined = append(result.Joined, id)
		} else {
			outsiders = append(outsiders, id)
		}
	}

	conversation, err := s.conversations.CreateGroupConversation(ctx, groupName, creatorID, result.Joined)
	if err != nil {
		return nil, err
	}
	result.Conversation = conversation
	if s.pusher != nil {
		s.pusher.AttachToConversation(ctx, conversation.ConversationID, conversation.ParticipantIDs()...)
	}

	for _, id := range outsiders {
		name := groupName
		req, err := s.SendConversationRequest(ctx, creatorID, &domain.ConversationRequestCreate{
			ReceiverID:        id,
			Type:              domain.ConversationGroup,
			GroupName:         &name,
			AdditionalUserIDs: invitees,
		})
		if err != nil {
			if !apperrors.IsAppError(err) || apperrors.GetAppError(err).StatusCode >= 500 {
				return nil, err
			}
			logger.Debug("Group invite skipped",
				zap.String("receiver_id", id.String()),
				zap.Error(err))
			result.Skipped = append(result.Skipped, id)
			continue
		}
		result.Requested = append(result.Requested, req)
	}

	return result, nil
}
