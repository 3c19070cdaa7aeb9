package cassandra

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"chatrelay-backend/internal/database"
	"chatrelay-backend/internal/domain"
)

// MessageRepository handles message storage in Cassandra.
// Partitions are (conversation_id, bucket) with rows clustered by sent_at DESC,
// so one month of one conversation is a single partition.
type MessageRepository struct {
	db *database.CassandraDB
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(db *database.CassandraDB) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `conversation_id, bucket, message_id, sender_id, content, is_ai, is_read, sent_at`

// messageRow holds gocql-native ids until they are converted
type messageRow struct {
	conversationID gocql.UUID
	messageID      gocql.UUID
	senderID       gocql.UUID
	msg            domain.Message
}

func (row *messageRow) dest() []interface{} {
	return []interface{}{
		&row.conversationID,
		&row.msg.Bucket,
		&row.messageID,
		&row.senderID,
		&row.msg.Content,
		&row.msg.IsAI,
		&row.msg.IsRead,
		&row.msg.SentAt,
	}
}

func (row *messageRow) message() *domain.Message {
	m := row.msg
	m.ConversationID = uuid.UUID(row.conversationID)
	m.MessageID = uuid.UUID(row.messageID)
	m.SenderID = uuid.UUID(row.senderID)
	return &m
}

// Save inserts a new message
func (r *MessageRepository) Save(ctx context.Context, message *domain.Message) error {
	if message.MessageID == uuid.Nil {
		message.MessageID = uuid.New()
	}
	if message.SentAt.IsZero() {
		message.SentAt = time.Now().UTC()
	}
	message.Bucket = domain.CalculateBucket(message.SentAt)

	query := `INSERT INTO messages (` + messageColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	err := r.db.ExecWithContext(ctx, "save_message", query,
		gocql.UUID(message.ConversationID),
		message.Bucket,
		gocql.UUID(message.MessageID),
		gocql.UUID(message.SenderID),
		message.Content,
		message.IsAI,
		message.IsRead,
		message.SentAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// GetByConversation reads one bucket newest first, resuming from pageState
func (r *MessageRepository) GetByConversation(
	ctx context.Context,
	conversationID uuid.UUID,
	bucket int,
	limit int,
	pageState []byte,
) ([]*domain.Message, []byte, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = ? AND bucket = ?
	`

	start := time.Now()
	iter := r.db.QueryWithContext(ctx, query, gocql.UUID(conversationID), bucket).
		PageSize(limit).
		PageState(pageState).
		Iter()

	var messages []*domain.Message
	row := &messageRow{}
	for len(messages) < limit && iter.Scan(row.dest()...) {
		messages = append(messages, row.message())
	}
	nextPageState := iter.PageState()

	err := iter.Close()
	database.ObserveCassandra("get_messages", start, err)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	return messages, nextPageState, nil
}

// GetLatest walks buckets from now back to floor and returns up to limit
// messages, newest first
func (r *MessageRepository) GetLatest(ctx context.Context, conversationID uuid.UUID, floor time.Time, limit int) ([]*domain.Message, error) {
	var all []*domain.Message

	for _, bucket := range domain.BucketsBetween(floor, time.Now()) {
		var pageState []byte
		for {
			messages, next, err := r.GetByConversation(ctx, conversationID, bucket, limit-len(all), pageState)
			if err != nil {
				return nil, err
			}
			all = append(all, messages...)
			if len(all) >= limit || len(next) == 0 {
				break
			}
			pageState = next
		}
		if len(all) >= limit {
			break
		}
	}

	return all, nil
}

// scanUnread visits every unread message since 'since' not written by readerID
func (r *MessageRepository) scanUnread(ctx context.Context, conversationID, readerID uuid.UUID, since time.Time, visit func(*domain.Message) error) error {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = ? AND bucket = ? AND sent_at >= ?
	`

	for _, bucket := range domain.BucketsBetween(since, time.Now()) {
		start := time.Now()
		iter := r.db.QueryWithContext(ctx, query, gocql.UUID(conversationID), bucket, since).Iter()

		row := &messageRow{}
		var visitErr error
		for iter.Scan(row.dest()...) {
			m := row.message()
			if m.IsRead || m.SenderID == readerID {
				continue
			}
			if visitErr = visit(m); visitErr != nil {
				break
			}
		}

		err := iter.Close()
		database.ObserveCassandra("scan_unread", start, err)
		if err != nil {
			return fmt.Errorf("failed to scan unread messages: %w", err)
		}
		if visitErr != nil {
			return visitErr
		}
	}
	return nil
}

// CountUnread counts messages since 'since' that readerID has not read
func (r *MessageRepository) CountUnread(ctx context.Context, conversationID, readerID uuid.UUID, since time.Time) (int, error) {
	count := 0
	err := r.scanUnread(ctx, conversationID, readerID, since, func(*domain.Message) error {
		count++
		return nil
	})
	return count, err
}

// MarkRead flags every unread message since 'since' not written by readerID
func (r *MessageRepository) MarkRead(ctx context.Context, conversationID, readerID uuid.UUID, since time.Time) (int, error) {
	query := `
		UPDATE messages SET is_read = true
		WHERE conversation_id = ? AND bucket = ? AND sent_at = ? AND message_id = ?
	`

	var pending []*domain.Message
	err := r.scanUnread(ctx, conversationID, readerID, since, func(m *domain.Message) error {
		pending = append(pending, m)
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, m := range pending {
		err := r.db.ExecWithContext(ctx, "mark_read", query,
			gocql.UUID(m.ConversationID), m.Bucket, m.SentAt, gocql.UUID(m.MessageID))
		if err != nil {
			return 0, fmt.Errorf("failed to mark message as read: %w", err)
		}
	}
	return len(pending), nil
}

// DeleteConversation removes every bucket of a conversation between floor and now
func (r *MessageRepository) DeleteConversation(ctx context.Context, conversationID uuid.UUID, floor time.Time) error {
	query := `DELETE FROM messages WHERE conversation_id = ? AND bucket = ?`

	for _, bucket := range domain.BucketsBetween(floor, time.Now()) {
		if err := r.db.ExecWithContext(ctx, "delete_messages", query, gocql.UUID(conversationID), bucket); err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
	}
	return nil
}
