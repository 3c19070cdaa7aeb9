package redis

import (
	"context"
	"fmt"
	"time"

	"chatrelay-backend/internal/database"
)

// RateLimitRepository counts requests per identifier in fixed windows
type RateLimitRepository struct {
	client *database.RedisClient
}

func NewRateLimitRepository(client *database.RedisClient) *RateLimitRepository {
	return &RateLimitRepository{client: client}
}

// Hit counts one request for identifier in the current window and returns the
// running count. Errors wrap database.ErrRedisDegraded while Redis is down.
func (r *RateLimitRepository) Hit(ctx context.Context, identifier string, window time.Duration) (int64, error) {
	key := "ratelimit:" + identifier

	count, err := r.client.SafeIncr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count request: %w", err)
	}
	if count == 1 {
		if err := r.client.SafeExpire(ctx, key, window).Err(); err != nil {
			return 0, fmt.Errorf("failed to start rate window: %w", err)
		}
	}
	return count, nil
}
