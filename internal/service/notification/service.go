package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatrelay-backend/internal/domain"
	"chatrelay-backend/pkg/logger"
	"chatrelay-backend/pkg/metrics"
	"chatrelay-backend/pkg/pagination"
)

// Repository is the storage the notification service needs
type Repository interface {
	Create(ctx context.Context, n *domain.Notification) error
	GetByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.Notification, error)
	CountUnseen(ctx context.Context, userID uuid.UUID) (int, error)
	MarkAllSeen(ctx context.Context, userID uuid.UUID) error
	DeleteSeen(ctx context.Context, userID uuid.UUID) (int64, error)
}

// Service is the notification sink. Producers call Notify, which never fails them.
type Service struct {
	notificationRepo Repository
}

// NewService creates a new notification service
func NewService(notificationRepo Repository) *Service {
	return &Service{
		notificationRepo: notificationRepo,
	}
}

// Send persists a notification for userID
func (s *Service) Send(ctx context.Context, userID uuid.UUID, message string, notificationType domain.NotificationType) (*domain.Notification, error) {
	n := &domain.Notification{
		NotificationID: uuid.New(),
		UserID:         userID,
		Message:        message,
		Type:           notificationType,
		SentAt:         time.Now().UTC(),
	}

	if err := s.notificationRepo.Create(ctx, n); err != nil {
		metrics.NotificationsTotal.WithLabelValues(string(notificationType), "error").Inc()
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}

	metrics.NotificationsTotal.WithLabelValues(string(notificationType), "success").Inc()
	return n, nil
}

// Notify is the fire-and-forget form of Send; failures are only logged
func (s *Service) Notify(ctx context.Context, userID uuid.UUID, message string, notificationType domain.NotificationType) {
	if _, err := s.Send(ctx, userID, message, notificationType); err != nil {
		logger.Warn("Notification dropped",
			zap.String("user_id", userID.String()),
			zap.String("type", string(notificationType)),
			zap.Error(err))
	}
}

// GetNotifications retrieves the newest notifications for a user
func (s *Service) GetNotifications(ctx context.Context, userID uuid.UUID, limit int) (*domain.NotificationListResponse, error) {
	if limit <= 0 {
		limit = pagination.DefaultLimit
	}
	limit = pagination.ClampLimit(limit)

	notifications, err := s.notificationRepo.GetByUserID(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get notifications: %w", err)
	}
	if notifications == nil {
		notifications = []*domain.Notification{}
	}

	unseen, err := s.notificationRepo.CountUnseen(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count unseen notifications: %w", err)
	}

	return &domain.NotificationListResponse{
		Notifications: notifications,
		UnseenCount:   unseen,
	}, nil
}

// MarkAllSeen marks every notification of the user as seen
func (s *Service) MarkAllSeen(ctx context.Context, userID uuid.UUID) error {
	if err := s.notificationRepo.MarkAllSeen(ctx, userID); err != nil {
		return fmt.Errorf("failed to mark notifications as seen: %w", err)
	}
	return nil
}

// RemoveSeen deletes the seen notifications and returns how many were removed
func (s *Service) RemoveSeen(ctx context.Context, userID uuid.UUID) (int64, error) {
	removed, err := s.notificationRepo.DeleteSeen(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to remove seen notifications: %w", err)
	}
	return removed, nil
}
