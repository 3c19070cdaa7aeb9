package redis

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"chatrelay-backend/internal/database"
	"chatrelay-backend/pkg/logger"
)

const fanoutPrefix = "hub:"

// FanoutRepository relays hub frames between instances over Redis Pub/Sub.
// Each broadcast group has its own channel; every instance listens on all of them.
type FanoutRepository struct {
	client *database.RedisClient
}

func NewFanoutRepository(client *database.RedisClient) *FanoutRepository {
	return &FanoutRepository{client: client}
}

// Publish sends an encoded frame to every instance
func (r *FanoutRepository) Publish(ctx context.Context, group string, frame []byte) error {
	if err := r.client.SafePublish(ctx, fanoutPrefix+group, frame).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", group, err)
	}
	return nil
}

// Subscribe calls handle for every frame until ctx is done or the subscription
// breaks. It returns database.ErrRedisDegraded when Redis is unavailable.
func (r *FanoutRepository) Subscribe(ctx context.Context, handle func(group string, frame []byte)) error {
	pubsub := r.client.SafePSubscribe(ctx, fanoutPrefix+"*")
	if pubsub == nil {
		return database.ErrRedisDegraded
	}
	defer pubsub.Close()

	// wait for the subscription to be confirmed
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	logger.Info("Hub fan-out subscribed", zap.String("pattern", fanoutPrefix+"*"))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription closed")
			}
			handle(strings.TrimPrefix(msg.Channel, fanoutPrefix), []byte(msg.Payload))
		}
	}
}
