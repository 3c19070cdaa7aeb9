package cockroach

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatrelay-backend/internal/domain"
)

// NotificationRepository handles notification data operations
type NotificationRepository struct {
	db *pgxpool.Pool
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create creates a new notification
func (r *NotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	query := `
		INSERT INTO notifications (notification_id, user_id, message, type, seen, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.Exec(ctx, query, n.NotificationID, n.UserID, n.Message, n.Type, n.Seen, n.SentAt)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// GetByUserID retrieves notifications for a user, newest first
func (r *NotificationRepository) GetByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.Notification, error) {
	query := `
		SELECT notification_id, user_id, message, type, seen, sent_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY sent_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*domain.Notification
	for rows.Next() {
		n := &domain.Notification{}
		if err := rows.Scan(&n.NotificationID, &n.UserID, &n.Message, &n.Type, &n.Seen, &n.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// CountUnseen returns the number of unseen notifications for a user
func (r *NotificationRepository) CountUnseen(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND seen = false`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unseen notifications: %w", err)
	}
	return count, nil
}

// MarkAllSeen marks every notification of the user as seen
func (r *NotificationRepository) MarkAllSeen(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`UPDATE notifications SET seen = true WHERE user_id = $1 AND seen = false`, userID)
	if err != nil {
		return fmt.Errorf("failed to mark notifications as seen: %w", err)
	}
	return nil
}

// DeleteSeen removes the user's seen notifications
func (r *NotificationRepository) DeleteSeen(ctx context.Context, userID uuid.UUID) (int64, error) {
	result, err := r.db.Exec(ctx,
		`DELETE FROM notifications WHERE user_id = $1 AND seen = true`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete seen notifications: %w", err)
	}
	return result.RowsAffected(), nil
}
