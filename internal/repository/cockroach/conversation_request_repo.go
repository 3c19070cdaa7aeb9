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

// ConversationRequestRepository stores conversation invitations.
// A partial unique index rejects a second pending row for the same tuple:
//
//	(requester_id, receiver_id, type, COALESCE(group_name, ''))
//	WHERE status = 'pending'
type ConversationRequestRepository struct {
	pool *pgxpool.Pool
}

func NewConversationRequestRepository(pool *pgxpool.Pool) *ConversationRequestRepository {
	return &ConversationRequestRepository{pool: pool}
}

const requestColumns = `request_id, requester_id, receiver_id, type, group_name, additional_user_ids,
	status, message, requested_at, responded_at`

func scanRequest(row pgx.Row) (*domain.ConversationRequest, error) {
	req := &domain.ConversationRequest{}
	err := row.Scan(
		&req.RequestID,
		&req.RequesterID,
		&req.ReceiverID,
		&req.Type,
		&req.GroupName,
		&req.AdditionalUserIDs,
		&req.Status,
		&req.Message,
		&req.RequestedAt,
		&req.RespondedAt,
	)
	return req, err
}

func collectRequests(rows pgx.Rows) ([]*domain.ConversationRequest, error) {
	defer rows.Close()

	var requests []*domain.ConversationRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation request: %w", err)
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

// Create inserts a pending request; ErrDuplicate if an identical one is pending
func (r *ConversationRequestRepository) Create(ctx context.Context, req *domain.ConversationRequest) error {
	query := `
		INSERT INTO conversation_requests (
			request_id, requester_id, receiver_id, type, group_name, additional_user_ids,
			status, message, requested_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.pool.Exec(ctx, query,
		req.RequestID,
		req.RequesterID,
		req.ReceiverID,
		req.Type,
		req.GroupName,
		req.AdditionalUserIDs,
		req.Status,
		req.Message,
		req.RequestedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("failed to create conversation request: %w", err)
	}
	return nil
}

func (r *ConversationRequestRepository) GetByID(ctx context.Context, requestID uuid.UUID) (*domain.ConversationRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM conversation_requests WHERE request_id = $1`

	req, err := scanRequest(r.pool.QueryRow(ctx, query, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation request: %w", err)
	}
	return req, nil
}

// FindPending returns the pending request matching the tuple, ErrNotFound if none
func (r *ConversationRequestRepository) FindPending(ctx context.Context, requesterID, receiverID uuid.UUID, convType domain.ConversationType, groupName string) (*domain.ConversationRequest, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM conversation_requests
		WHERE requester_id = $1 AND receiver_id = $2 AND type = $3
		  AND COALESCE(group_name, '') = $4 AND status = 'pending'
		LIMIT 1
	`

	req, err := scanRequest(r.pool.QueryRow(ctx, query, requesterID, receiverID, convType, groupName))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find pending request: %w", err)
	}
	return req, nil
}

// Resolve moves a pending request to status. ErrStaleState if it is no longer pending.
func (r *ConversationRequestRepository) Resolve(ctx context.Context, requestID uuid.UUID, status domain.RequestStatus, respondedAt time.Time) error {
	query := `
		UPDATE conversation_requests
		SET status = $2, responded_at = $3
		WHERE request_id = $1 AND status = 'pending'
	`

	result, err := r.pool.Exec(ctx, query, requestID, status, respondedAt)
	if err != nil {
		return fmt.Errorf("failed to resolve conversation request: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrStaleState
	}
	return nil
}

// DeletePending removes a request that is still pending
func (r *ConversationRequestRepository) DeletePending(ctx context.Context, requestID uuid.UUID) error {
	result, err := r.pool.Exec(ctx,
		`DELETE FROM conversation_requests WHERE request_id = $1 AND status = 'pending'`, requestID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation request: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrStaleState
	}
	return nil
}

// ListIncomingPending returns pending requests addressed to userID, newest first
func (r *ConversationRequestRepository) ListIncomingPending(ctx context.Context, userID uuid.UUID) ([]*domain.ConversationRequest, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM conversation_requests
		WHERE receiver_id = $1 AND status = 'pending'
		ORDER BY requested_at DESC
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list incoming requests: %w", err)
	}
	return collectRequests(rows)
}

// ListOutgoingPending returns pending requests sent by userID, newest first
func (r *ConversationRequestRepository) ListOutgoingPending(ctx context.Context, userID uuid.UUID) ([]*domain.ConversationRequest, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM conversation_requests
		WHERE requester_id = $1 AND status = 'pending'
		ORDER BY requested_at DESC
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sent requests: %w", err)
	}
	return collectRequests(rows)
}
