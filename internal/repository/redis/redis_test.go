package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay-backend/internal/database"
)

func degradedClient(t *testing.T) *database.RedisClient {
	t.Helper()
	client := database.NewRedisClientFrom(goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1"}))
	client.SetDegraded(true)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPresenceRepository_DegradedReturnsError(t *testing.T) {
	repo := NewPresenceRepository(degradedClient(t))
	ctx := context.Background()

	_, err := repo.Connect(ctx, uuid.New())
	assert.ErrorIs(t, err, database.ErrRedisDegraded)

	_, err = repo.Disconnect(ctx, uuid.New())
	assert.ErrorIs(t, err, database.ErrRedisDegraded)

	online, err := repo.AreOnline(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, online)
}

func TestLockRepository_FallsBackToLocalMutex(t *testing.T) {
	repo := NewLockRepository(degradedClient(t))
	ctx := context.Background()

	unlock, err := repo.Lock(ctx, "group:a")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		second, err := repo.Lock(ctx, "group:a")
		if err == nil {
			close(acquired)
			second()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first was held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired")
	}
}

func TestLockRepository_DistinctKeysDoNotBlock(t *testing.T) {
	repo := NewLockRepository(degradedClient(t))
	ctx := context.Background()

	unlockA, err := repo.Lock(ctx, "a")
	require.NoError(t, err)
	defer unlockA()

	unlockB, err := repo.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}

func TestLockRepository_ContextCancelled(t *testing.T) {
	repo := NewLockRepository(degradedClient(t))

	unlock, err := repo.Lock(context.Background(), "busy")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = repo.Lock(ctx, "busy")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKeyedMutex_SerializesCounter(t *testing.T) {
	km := newKeyedMutex()
	ctx := context.Background()

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := km.Lock(ctx, "k")
			if err != nil {
				return
			}
			counter++
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Empty(t, km.locks)
}

func TestRateLimitRepository_DegradedReturnsError(t *testing.T) {
	repo := NewRateLimitRepository(degradedClient(t))

	count, err := repo.Hit(context.Background(), "ip:10.0.0.1", time.Minute)
	assert.ErrorIs(t, err, database.ErrRedisDegraded)
	assert.Zero(t, count)
}
