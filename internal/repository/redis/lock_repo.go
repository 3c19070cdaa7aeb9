package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"chatrelay-backend/internal/database"
	"chatrelay-backend/pkg/logger"
	"chatrelay-backend/pkg/metrics"
)

const (
	lockTTL       = 15 * time.Second
	lockRetryWait = 50 * time.Millisecond
)

// releaseScript deletes the key only if it still holds our token
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockRepository serializes critical sections across hub instances with a
// SETNX lock. While Redis is degraded it falls back to an in-process keyed
// mutex, which still serializes callers within this instance.
type LockRepository struct {
	client *database.RedisClient
	local  *keyedMutex
}

// NewLockRepository creates a new LockRepository
func NewLockRepository(client *database.RedisClient) *LockRepository {
	return &LockRepository{client: client, local: newKeyedMutex()}
}

// Lock blocks until name is held or ctx is done. The returned func releases it.
func (r *LockRepository) Lock(ctx context.Context, name string) (func(), error) {
	key := "lock:" + name
	token := uuid.NewString()

	for {
		ok, err := r.client.SafeSetNX(ctx, key, token, lockTTL).Result()
		if err != nil {
			if errors.Is(err, database.ErrRedisDegraded) || r.client.IsDegraded() {
				metrics.RedisFallbackTotal.WithLabelValues("lock").Inc()
				return r.local.Lock(ctx, name)
			}
			return nil, fmt.Errorf("failed to acquire lock %s: %w", name, err)
		}
		if ok {
			return func() { r.release(key, token) }, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to acquire lock %s: %w", name, ctx.Err())
		case <-time.After(lockRetryWait):
		}
	}
}

func (r *LockRepository) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := r.client.SafeEval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
		logger.Warn("Failed to release lock, it will expire",
			zap.String("key", key),
			zap.Error(err))
	}
}

// keyedMutex hands out one mutex per key, dropped once nobody holds or waits on it
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *keyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{ch: make(chan struct{}, 1)}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		k.unref(key, entry)
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.ch
			k.unref(key, entry)
		})
	}, nil
}

func (k *keyedMutex) unref(key string, entry *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(k.locks, key)
	}
}
