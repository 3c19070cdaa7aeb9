package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"chatrelay-backend/internal/database"
	"chatrelay-backend/pkg/logger"
	"chatrelay-backend/pkg/metrics"
	"chatrelay-backend/pkg/response"
)

// WindowCounter counts requests per identifier in a fixed window
type WindowCounter interface {
	Hit(ctx context.Context, identifier string, window time.Duration) (int64, error)
}

// RateLimiter applies a shared fixed-window limit through Redis. While Redis is
// degraded each instance falls back to a local token bucket with the same rate.
type RateLimiter struct {
	counter  WindowCounter
	requests int
	window   time.Duration

	mu    sync.Mutex
	local map[string]*rate.Limiter
}

func NewRateLimiter(counter WindowCounter, requests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		counter:  counter,
		requests: requests,
		window:   window,
		local:    make(map[string]*rate.Limiter),
	}
}

// Middleware limits per authenticated user, or per client IP before auth
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := "ip:" + c.ClientIP()
		if userID, ok := UserID(c); ok {
			identifier = "user:" + userID.String()
		}

		allowed, remaining, backend := rl.allow(c.Request.Context(), identifier)
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			metrics.HTTPRateLimitedTotal.WithLabelValues(backend).Inc()
			response.Error(c, http.StatusTooManyRequests, "RATE_LIMITED",
				fmt.Sprintf("Rate limit of %d requests per %s exceeded", rl.requests, rl.window))
			c.Abort()
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) allow(ctx context.Context, identifier string) (bool, int, string) {
	count, err := rl.counter.Hit(ctx, identifier, rl.window)
	if err == nil {
		remaining := rl.requests - int(count)
		if remaining < 0 {
			remaining = 0
		}
		return int(count) <= rl.requests, remaining, "redis"
	}

	if !errors.Is(err, database.ErrRedisDegraded) {
		logger.Warn("Rate limit check failed, using local limiter",
			zap.String("identifier", identifier),
			zap.Error(err))
	}
	metrics.RedisFallbackTotal.WithLabelValues("rate_limit").Inc()

	limiter := rl.localLimiter(identifier)
	allowed := limiter.Allow()
	return allowed, int(limiter.Tokens()), "local"
}

func (rl *RateLimiter) localLimiter(identifier string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, ok := rl.local[identifier]
	if !ok {
		every := rl.window / time.Duration(rl.requests)
		limiter = rate.NewLimiter(rate.Every(every), rl.requests)
		rl.local[identifier] = limiter
	}
	return limiter
}
