package domain

import (
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotificationMessage            NotificationType = "message"
	NotificationFriendshipAccepted NotificationType = "friendship_accepted"
	NotificationFriendshipDenied   NotificationType = "friendship_denied"
	NotificationFriendshipReceived NotificationType = "friendship_received"
	NotificationRequestReceived    NotificationType = "request_received"
)

// Notification is an informational entry for one recipient
// Maps to CockroachDB notifications table
type Notification struct {
	NotificationID uuid.UUID        `json:"notification_id" db:"notification_id"`
	UserID         uuid.UUID        `json:"user_id" db:"user_id"`
	Message        string           `json:"message" db:"message"`
	Type           NotificationType `json:"type" db:"type"`
	Seen           bool             `json:"seen" db:"seen"`
	SentAt         time.Time        `json:"sent_at" db:"sent_at"`
}

// NotificationListResponse is the notification list with its unseen counter
type NotificationListResponse struct {
	Notifications []*Notification `json:"notifications"`
	UnseenCount   int             `json:"unseen_count"`
}
