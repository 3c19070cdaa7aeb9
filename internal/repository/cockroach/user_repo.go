package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatrelay-backend/internal/domain"
)

const userColumns = `
	u.user_id, u.email, u.username, u.display_name, u.avatar_url, u.is_online, u.last_seen,
	u.is_system, u.allow_request, u.allow_being_added_to_group, u.allow_only_friends_chat, u.created_at`

// UserRepository reads accounts and writes presence and privacy settings.
// Account creation belongs to the identity service.
type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func scanUser(row pgx.Row) (*domain.User, error) {
	user := &domain.User{}
	err := row.Scan(
		&user.UserID,
		&user.Email,
		&user.Username,
		&user.DisplayName,
		&user.AvatarURL,
		&user.IsOnline,
		&user.LastSeen,
		&user.IsSystem,
		&user.Settings.AllowRequest,
		&user.Settings.AllowBeingAddedToGroup,
		&user.Settings.AllowOnlyFriendsChat,
		&user.CreatedAt,
	)
	return user, err
}

func scanUsers(rows pgx.Rows) ([]*domain.User, error) {
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users u WHERE u.user_id = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetByIDs retrieves the users that exist among ids, in display name order
func (r *UserRepository) GetByIDs(ctx context.Context, userIDs []uuid.UUID) ([]*domain.User, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + userColumns + ` FROM users u WHERE u.user_id = ANY($1) ORDER BY u.display_name, u.user_id`

	rows, err := r.pool.Query(ctx, query, userIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}
	return scanUsers(rows)
}

// GetSystemUser returns the account flagged as the AI participant. When email is
// set it disambiguates between several system accounts.
func (r *UserRepository) GetSystemUser(ctx context.Context, email string) (*domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users u
		WHERE u.is_system = true AND ($1 = '' OR u.email = $1)
		ORDER BY u.created_at
		LIMIT 1
	`

	user, err := scanUser(r.pool.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get system user: %w", err)
	}
	return user, nil
}

// SetPresence updates the online flag and last-seen timestamp
func (r *UserRepository) SetPresence(ctx context.Context, userID uuid.UUID, online bool, lastSeen time.Time) error {
	query := `UPDATE users SET is_online = $2, last_seen = $3 WHERE user_id = $1`

	result, err := r.pool.Exec(ctx, query, userID, online, lastSeen)
	if err != nil {
		return fmt.Errorf("failed to update presence: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateConfiguration replaces the privacy gates of a user
func (r *UserRepository) UpdateConfiguration(ctx context.Context, userID uuid.UUID, cfg domain.UserConfiguration) error {
	query := `
		UPDATE users
		SET allow_request = $2, allow_being_added_to_group = $3, allow_only_friends_chat = $4
		WHERE user_id = $1
	`

	result, err := r.pool.Exec(ctx, query, userID, cfg.AllowRequest, cfg.AllowBeingAddedToGroup, cfg.AllowOnlyFriendsChat)
	if err != nil {
		return fmt.Errorf("failed to update user configuration: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
