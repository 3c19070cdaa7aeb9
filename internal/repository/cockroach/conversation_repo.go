package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatrelay-backend/internal/database"
	"chatrelay-backend/internal/domain"
)

// ConversationRepository handles conversations and their participants.
// conversation_participants has a partial unique index on (conversation_id)
// WHERE role = 'creator', so a second creator row cannot exist.
type ConversationRepository struct {
	pool *pgxpool.Pool
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

const conversationColumns = `c.conversation_id, c.type, c.name, c.picture_url, c.created_at, c.last_message_at`

func scanConversation(row pgx.Row) (*domain.Conversation, error) {
	c := &domain.Conversation{}
	err := row.Scan(&c.ConversationID, &c.Type, &c.Name, &c.PictureURL, &c.CreatedAt, &c.LastMessageAt)
	return c, err
}

// Create inserts the conversation and its initial participants atomically
func (r *ConversationRepository) Create(ctx context.Context, conversation *domain.Conversation) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO conversations (conversation_id, type, name, picture_url, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, conversation.ConversationID, conversation.Type, conversation.Name, conversation.PictureURL, conversation.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to create conversation: %w", err)
		}

		batch := &pgx.Batch{}
		for _, p := range conversation.Participants {
			batch.Queue(`
				INSERT INTO conversation_participants (conversation_id, user_id, role, joined_at)
				VALUES ($1, $2, $3, $4)
			`, conversation.ConversationID, p.UserID, p.Role, p.JoinedAt)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to add participants: %w", err)
		}
		return nil
	})
}

// GetByID retrieves a conversation with its participants
func (r *ConversationRepository) GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations c WHERE c.conversation_id = $1`

	conversation, err := scanConversation(r.pool.QueryRow(ctx, query, conversationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	if err := r.attachParticipants(ctx, []*domain.Conversation{conversation}); err != nil {
		return nil, err
	}
	return conversation, nil
}

// GetPrivateBetween finds the private conversation whose participants are a and b
func (r *ConversationRepository) GetPrivateBetween(ctx context.Context, a, b uuid.UUID) (*domain.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations c
		INNER JOIN conversation_participants pa ON pa.conversation_id = c.conversation_id AND pa.user_id = $1
		INNER JOIN conversation_participants pb ON pb.conversation_id = c.conversation_id AND pb.user_id = $2
		WHERE c.type = 'private'
		ORDER BY c.created_at, c.conversation_id
		LIMIT 1
	`

	conversation, err := scanConversation(r.pool.QueryRow(ctx, query, a, b))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get private conversation: %w", err)
	}

	if err := r.attachParticipants(ctx, []*domain.Conversation{conversation}); err != nil {
		return nil, err
	}
	return conversation, nil
}

// ListForUser returns every conversation userID belongs to, most recently active first
func (r *ConversationRepository) ListForUser(ctx context.Context, userID uuid.UUID) ([]*domain.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations c
		INNER JOIN conversation_participants cp ON cp.conversation_id = c.conversation_id
		WHERE cp.user_id = $1
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC, c.conversation_id
	`
	return r.queryWithParticipants(ctx, query, userID)
}

// ListGroupsByName returns the groups named name that memberID belongs to
func (r *ConversationRepository) ListGroupsByName(ctx context.Context, memberID uuid.UUID, name string) ([]*domain.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations c
		INNER JOIN conversation_participants cp ON cp.conversation_id = c.conversation_id
		WHERE cp.user_id = $1 AND c.type = 'group' AND c.name = $2
		ORDER BY c.created_at, c.conversation_id
	`
	return r.queryWithParticipants(ctx, query, memberID, name)
}

// ListConversationIDs returns the ids of the conversations userID belongs to
func (r *ConversationRepository) ListConversationIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT conversation_id FROM conversation_participants WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation ids: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (r *ConversationRepository) queryWithParticipants(ctx context.Context, query string, args ...any) ([]*domain.Conversation, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*domain.Conversation
	for rows.Next() {
		conversation, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, conversation)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.attachParticipants(ctx, conversations); err != nil {
		return nil, err
	}
	return conversations, nil
}

// attachParticipants loads participants for all conversations in one query
func (r *ConversationRepository) attachParticipants(ctx context.Context, conversations []*domain.Conversation) error {
	if len(conversations) == 0 {
		return nil
	}

	byID := make(map[uuid.UUID]*domain.Conversation, len(conversations))
	ids := make([]uuid.UUID, 0, len(conversations))
	for _, c := range conversations {
		byID[c.ConversationID] = c
		ids = append(ids, c.ConversationID)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT conversation_id, user_id, role, joined_at
		FROM conversation_participants
		WHERE conversation_id = ANY($1)
		ORDER BY joined_at, user_id
	`, ids)
	if err != nil {
		return fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p := &domain.ConversationParticipant{}
		if err := rows.Scan(&p.ConversationID, &p.UserID, &p.Role, &p.JoinedAt); err != nil {
			return fmt.Errorf("failed to scan participant: %w", err)
		}
		if c, ok := byID[p.ConversationID]; ok {
			c.Participants = append(c.Participants, p)
		}
	}
	return rows.Err()
}

// GetParticipant returns the membership row of userID
func (r *ConversationRepository) GetParticipant(ctx context.Context, conversationID, userID uuid.UUID) (*domain.ConversationParticipant, error) {
	p := &domain.ConversationParticipant{}
	err := r.pool.QueryRow(ctx, `
		SELECT conversation_id, user_id, role, joined_at
		FROM conversation_participants
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID).Scan(&p.ConversationID, &p.UserID, &p.Role, &p.JoinedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return p, nil
}

// AddParticipant inserts a membership row; ErrDuplicate if already present
func (r *ConversationRepository) AddParticipant(ctx context.Context, p *domain.ConversationParticipant) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO conversation_participants (conversation_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4)
	`, p.ConversationID, p.UserID, p.Role, p.JoinedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("failed to add participant: %w", err)
	}
	return nil
}

// RemoveParticipant deletes a non-creator membership row
func (r *ConversationRepository) RemoveParticipant(ctx context.Context, conversationID, userID uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM conversation_participants
		WHERE conversation_id = $1 AND user_id = $2 AND role <> 'creator'
	`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove participant: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateRole changes the role of a non-creator participant
func (r *ConversationRepository) UpdateRole(ctx context.Context, conversationID, userID uuid.UUID, role domain.ParticipantRole) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE conversation_participants SET role = $3
		WHERE conversation_id = $1 AND user_id = $2 AND role <> 'creator'
	`, conversationID, userID, role)
	if err != nil {
		return fmt.Errorf("failed to update participant role: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateInfo sets name and/or picture; nil arguments keep the current value
func (r *ConversationRepository) UpdateInfo(ctx context.Context, conversationID uuid.UUID, name, pictureURL *string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE conversations
		SET name = COALESCE($2, name), picture_url = COALESCE($3, picture_url)
		WHERE conversation_id = $1
	`, conversationID, name, pictureURL)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// TouchActivity records the time of the latest message
func (r *ConversationRepository) TouchActivity(ctx context.Context, conversationID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE conversations SET last_message_at = $2
		WHERE conversation_id = $1 AND (last_message_at IS NULL OR last_message_at < $2)
	`, conversationID, at)
	if err != nil {
		return fmt.Errorf("failed to update conversation activity: %w", err)
	}
	return nil
}

// Delete removes the conversation and its participants
func (r *ConversationRepository) Delete(ctx context.Context, conversationID uuid.UUID) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM conversation_participants WHERE conversation_id = $1`, conversationID); err != nil {
			return fmt.Errorf("failed to delete participants: %w", err)
		}
		result, err := tx.Exec(ctx, `DELETE FROM conversations WHERE conversation_id = $1`, conversationID)
		if err != nil {
			return fmt.Errorf("failed to delete conversation: %w", err)
		}
		if result.RowsAffected() == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}
