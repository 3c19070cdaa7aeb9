package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message is an immutable entry of a conversation's log
// Maps to Cassandra messages table, partitioned by (conversation_id, bucket)
type Message struct {
	MessageID      uuid.UUID `json:"message_id" cql:"message_id"`
	ConversationID uuid.UUID `json:"conversation_id" cql:"conversation_id"`
	Bucket         int       `json:"-" cql:"bucket"`
	SenderID       uuid.UUID `json:"sender_id" cql:"sender_id"`
	SenderName     string    `json:"sender_name,omitempty" cql:"-"`
	Content        string    `json:"content" cql:"content"`
	IsAI           bool      `json:"is_ai" cql:"is_ai"`
	IsRead         bool      `json:"is_read" cql:"is_read"`
	SentAt         time.Time `json:"sent_at" cql:"sent_at"`
}

// SendMessageInput is the client payload for sending
type SendMessageInput struct {
	ConversationID uuid.UUID `json:"conversation_id" binding:"required"`
	Content        string    `json:"content" binding:"required"`
}

// CalculateBucket returns the yyyymm partition bucket for t (UTC)
func CalculateBucket(t time.Time) int {
	t = t.UTC()
	return t.Year()*100 + int(t.Month())
}

// BucketsBetween returns the buckets from 'to' back to 'from', newest first
func BucketsBetween(from, to time.Time) []int {
	from, to = from.UTC(), to.UTC()
	if to.Before(from) {
		return nil
	}
	var buckets []int
	cur := time.Date(to.Year(), to.Month(), 1, 0, 0, 0, 0, time.UTC)
	floor := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cur.Before(floor) {
		buckets = append(buckets, CalculateBucket(cur))
		cur = cur.AddDate(0, -1, 0)
	}
	return buckets
}
