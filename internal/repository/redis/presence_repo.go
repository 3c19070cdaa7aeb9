package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chatrelay-backend/internal/database"
)

// presenceTTL bounds how long a connection counter survives a crashed instance
const presenceTTL = 5 * time.Minute

// PresenceRepository counts live connections per user across hub instances.
// A user is online while their counter is positive.
type PresenceRepository struct {
	client *database.RedisClient
}

// NewPresenceRepository creates a new PresenceRepository
func NewPresenceRepository(client *database.RedisClient) *PresenceRepository {
	return &PresenceRepository{client: client}
}

func presenceKey(userID uuid.UUID) string {
	return fmt.Sprintf("presence:conn:%s", userID)
}

// Connect registers one more connection and returns the new count
func (r *PresenceRepository) Connect(ctx context.Context, userID uuid.UUID) (int64, error) {
	key := presenceKey(userID)

	count, err := r.client.SafeIncr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count connection: %w", err)
	}
	if err := r.client.SafeExpire(ctx, key, presenceTTL).Err(); err != nil {
		return 0, fmt.Errorf("failed to set presence ttl: %w", err)
	}
	if err := r.client.SafeSAdd(ctx, "presence:online", userID.String()).Err(); err != nil {
		return 0, fmt.Errorf("failed to add to online set: %w", err)
	}
	return count, nil
}

// Disconnect drops one connection and returns the remaining count
func (r *PresenceRepository) Disconnect(ctx context.Context, userID uuid.UUID) (int64, error) {
	key := presenceKey(userID)

	count, err := r.client.SafeDecr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to release connection: %w", err)
	}
	if count > 0 {
		return count, nil
	}

	if err := r.client.SafeDel(ctx, key).Err(); err != nil {
		return 0, fmt.Errorf("failed to delete presence: %w", err)
	}
	if err := r.client.SafeSRem(ctx, "presence:online", userID.String()).Err(); err != nil {
		return 0, fmt.Errorf("failed to remove from online set: %w", err)
	}
	return 0, nil
}

// Refresh keeps the counter alive (heartbeat)
func (r *PresenceRepository) Refresh(ctx context.Context, userID uuid.UUID) error {
	if err := r.client.SafeExpire(ctx, presenceKey(userID), presenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to refresh presence: %w", err)
	}
	return nil
}

// AreOnline reports presence for each id, in order
func (r *PresenceRepository) AreOnline(ctx context.Context, userIDs []uuid.UUID) ([]bool, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	members := make([]interface{}, len(userIDs))
	for i, id := range userIDs {
		members[i] = id.String()
	}

	online, err := r.client.SafeSMIsMember(ctx, "presence:online", members...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check presence: %w", err)
	}
	return online, nil
}
