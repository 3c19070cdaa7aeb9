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

// FriendshipRepository stores the friendship graph. The table carries a unique
// index on (least(requester_id, addressee_id), greatest(requester_id, addressee_id))
// so a pair can never hold two edges.
type FriendshipRepository struct {
	pool *pgxpool.Pool
}

func NewFriendshipRepository(pool *pgxpool.Pool) *FriendshipRepository {
	return &FriendshipRepository{pool: pool}
}

const friendshipColumns = `friendship_id, requester_id, addressee_id, status, created_at, updated_at`

func scanFriendship(row pgx.Row) (*domain.Friendship, error) {
	f := &domain.Friendship{}
	err := row.Scan(&f.FriendshipID, &f.RequesterID, &f.AddresseeID, &f.Status, &f.CreatedAt, &f.UpdatedAt)
	return f, err
}

// GetBetween returns the edge between a and b regardless of direction
func (r *FriendshipRepository) GetBetween(ctx context.Context, a, b uuid.UUID) (*domain.Friendship, error) {
	query := `
		SELECT ` + friendshipColumns + `
		FROM friendships
		WHERE (requester_id = $1 AND addressee_id = $2)
		   OR (requester_id = $2 AND addressee_id = $1)
		LIMIT 1
	`

	f, err := scanFriendship(r.pool.QueryRow(ctx, query, a, b))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get friendship: %w", err)
	}
	return f, nil
}

func (r *FriendshipRepository) GetByID(ctx context.Context, friendshipID uuid.UUID) (*domain.Friendship, error) {
	query := `SELECT ` + friendshipColumns + ` FROM friendships WHERE friendship_id = $1`

	f, err := scanFriendship(r.pool.QueryRow(ctx, query, friendshipID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get friendship: %w", err)
	}
	return f, nil
}

// Create inserts a new edge. A concurrent insert for the same pair yields ErrDuplicate.
func (r *FriendshipRepository) Create(ctx context.Context, f *domain.Friendship) error {
	query := `
		INSERT INTO friendships (friendship_id, requester_id, addressee_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`

	_, err := r.pool.Exec(ctx, query, f.FriendshipID, f.RequesterID, f.AddresseeID, f.Status, f.CreatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("failed to create friendship: %w", err)
	}
	f.UpdatedAt = f.CreatedAt
	return nil
}

// UpdateEdge rewrites direction and status of an edge, provided it still has
// fromStatus. Returns ErrStaleState when another writer got there first.
func (r *FriendshipRepository) UpdateEdge(ctx context.Context, f *domain.Friendship, fromStatus domain.FriendshipStatus) error {
	query := `
		UPDATE friendships
		SET requester_id = $2, addressee_id = $3, status = $4, updated_at = $5
		WHERE friendship_id = $1 AND status = $6
	`

	now := time.Now().UTC()
	result, err := r.pool.Exec(ctx, query, f.FriendshipID, f.RequesterID, f.AddresseeID, f.Status, now, fromStatus)
	if err != nil {
		return fmt.Errorf("failed to update friendship: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrStaleState
	}
	f.UpdatedAt = now
	return nil
}

// DeleteWithStatus removes an edge only while it has the given status
func (r *FriendshipRepository) DeleteWithStatus(ctx context.Context, friendshipID uuid.UUID, status domain.FriendshipStatus) error {
	query := `DELETE FROM friendships WHERE friendship_id = $1 AND status = $2`

	result, err := r.pool.Exec(ctx, query, friendshipID, status)
	if err != nil {
		return fmt.Errorf("failed to delete friendship: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteDeclinedFor purges every declined edge touching userID
func (r *FriendshipRepository) DeleteDeclinedFor(ctx context.Context, userID uuid.UUID) (int64, error) {
	query := `
		DELETE FROM friendships
		WHERE status = 'declined' AND (requester_id = $1 OR addressee_id = $1)
	`

	result, err := r.pool.Exec(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete declined friendships: %w", err)
	}
	return result.RowsAffected(), nil
}

// ListFriends returns the accepted friends of userID
func (r *FriendshipRepository) ListFriends(ctx context.Context, userID uuid.UUID) ([]*domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM friendships f
		INNER JOIN users u
		   ON u.user_id = CASE WHEN f.requester_id = $1 THEN f.addressee_id ELSE f.requester_id END
		WHERE f.status = 'accepted' AND (f.requester_id = $1 OR f.addressee_id = $1)
		ORDER BY u.display_name, u.user_id
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list friends: %w", err)
	}
	return scanUsers(rows)
}

// ListBlocked returns the users blockerID has blocked
func (r *FriendshipRepository) ListBlocked(ctx context.Context, blockerID uuid.UUID) ([]*domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM friendships f
		INNER JOIN users u ON u.user_id = f.addressee_id
		WHERE f.status = 'blocked' AND f.requester_id = $1
		ORDER BY f.updated_at DESC
	`

	rows, err := r.pool.Query(ctx, query, blockerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocked users: %w", err)
	}
	return scanUsers(rows)
}

// ListIncomingPending returns pending edges addressed to userID, newest first
func (r *FriendshipRepository) ListIncomingPending(ctx context.Context, userID uuid.UUID) ([]*domain.Friendship, error) {
	query := `
		SELECT ` + friendshipColumns + `
		FROM friendships
		WHERE addressee_id = $1 AND status = 'pending'
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending friendships: %w", err)
	}
	defer rows.Close()

	var edges []*domain.Friendship
	for rows.Next() {
		f, err := scanFriendship(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan friendship: %w", err)
		}
		edges = append(edges, f)
	}
	return edges, rows.Err()
}
