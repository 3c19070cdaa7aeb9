package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"chatrelay-backend/pkg/logger"
	"chatrelay-backend/pkg/metrics"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState string

const (
	CircuitBreakerClosed   CircuitBreakerState = "closed"
	CircuitBreakerHalfOpen CircuitBreakerState = "half_open"
	CircuitBreakerOpen     CircuitBreakerState = "open"
)

// ErrCircuitOpen is returned without calling the operation while the breaker is open
var ErrCircuitOpen = errors.New("circuit breaker open")

// Settings tunes a breaker
type Settings struct {
	// FailureThreshold consecutive failures open the circuit
	FailureThreshold int
	// Cooldown after which an open circuit lets a probe through
	Cooldown time.Duration
	// MaxAttempts per Execute call; 1 disables retries
	MaxAttempts int
	// Backoff grows linearly per attempt, capped at MaxBackoff
	Backoff    time.Duration
	MaxBackoff time.Duration
	// Timeout bounds the whole Execute call including retries
	Timeout time.Duration
}

// DefaultSettings mirror what the storage client used historically
func DefaultSettings() Settings {
	return Settings{
		FailureThreshold: 3,
		Cooldown:         10 * time.Second,
		MaxAttempts:      3,
		Backoff:          100 * time.Millisecond,
		MaxBackoff:       5 * time.Second,
		Timeout:          10 * time.Second,
	}
}

// CircuitBreaker guards calls to one external collaborator
type CircuitBreaker struct {
	name     string
	settings Settings
	now      func() time.Time

	mu                  sync.Mutex
	state               CircuitBreakerState
	consecutiveFailures int
	openedAt            time.Time
}

func NewCircuitBreaker(name string, settings Settings) *CircuitBreaker {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = 3
	}
	if settings.MaxAttempts <= 0 {
		settings.MaxAttempts = 1
	}
	cb := &CircuitBreaker{
		name:     name,
		settings: settings,
		now:      time.Now,
		state:    CircuitBreakerClosed,
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	return cb
}

// Execute runs fn under the breaker. fn receives a context bounded by Settings.Timeout.
func (cb *CircuitBreaker) Execute(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	if cb.settings.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cb.settings.Timeout)
		defer cancel()
	}

	var lastErr error
	for attempt := 1; attempt <= cb.settings.MaxAttempts; attempt++ {
		if !cb.allow() {
			metrics.CircuitBreakerRequestsTotal.WithLabelValues(cb.name, "rejected").Inc()
			logger.Warn("Circuit breaker open, request rejected",
				zap.String("breaker", cb.name),
				zap.String("operation", operation))
			return fmt.Errorf("%s %s: %w", cb.name, operation, ErrCircuitOpen)
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			cb.onSuccess()
			metrics.CircuitBreakerRequestsTotal.WithLabelValues(cb.name, "success").Inc()
			return nil
		}

		cb.onFailure()
		metrics.CircuitBreakerRequestsTotal.WithLabelValues(cb.name, "failure").Inc()
		logger.Warn("Guarded operation failed",
			zap.String("breaker", cb.name),
			zap.String("operation", operation),
			zap.String("error_type", classifyError(lastErr)),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))

		if attempt == cb.settings.MaxAttempts {
			break
		}

		backoff := time.Duration(attempt) * cb.settings.Backoff
		if cb.settings.MaxBackoff > 0 && backoff > cb.settings.MaxBackoff {
			backoff = cb.settings.MaxBackoff
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s %s: %w", cb.name, operation, ctx.Err())
		case <-time.After(backoff):
		}
	}

	if cb.settings.MaxAttempts == 1 {
		return lastErr
	}
	return fmt.Errorf("%s %s failed after %d attempts: %w", cb.name, operation, cb.settings.MaxAttempts, lastErr)
}

// State returns the current state, moving open to half-open once the cooldown elapsed
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refreshLocked()
	return cb.state
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refreshLocked()
	return cb.state != CircuitBreakerOpen
}

func (cb *CircuitBreaker) refreshLocked() {
	if cb.state == CircuitBreakerOpen && cb.now().Sub(cb.openedAt) >= cb.settings.Cooldown {
		cb.setStateLocked(CircuitBreakerHalfOpen)
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFailures = 0
	if cb.state != CircuitBreakerClosed {
		cb.setStateLocked(CircuitBreakerClosed)
		logger.Info("Circuit breaker closed", zap.String("breaker", cb.name))
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFailures++
	// a failed probe reopens immediately
	if cb.state == CircuitBreakerHalfOpen || cb.consecutiveFailures >= cb.settings.FailureThreshold {
		if cb.state != CircuitBreakerOpen {
			logger.Error("Circuit breaker opened",
				zap.String("breaker", cb.name),
				zap.Int("consecutive_failures", cb.consecutiveFailures))
		}
		cb.openedAt = cb.now()
		cb.setStateLocked(CircuitBreakerOpen)
	}
}

func (cb *CircuitBreaker) setStateLocked(state CircuitBreakerState) {
	cb.state = state
	var value float64
	switch state {
	case CircuitBreakerHalfOpen:
		value = 1
	case CircuitBreakerOpen:
		value = 2
	}
	metrics.CircuitBreakerState.WithLabelValues(cb.name).Set(value)
}

// classifyError buckets errors for log fields
func classifyError(err error) string {
	if err == nil {
		return "none"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "network unreachable"):
		return "network"
	case strings.Contains(errMsg, "no such host") || strings.Contains(errMsg, "dns"):
		return "dns"
	case strings.Contains(errMsg, "not found"):
		return "not_found"
	case strings.Contains(errMsg, "permission denied") || strings.Contains(errMsg, "access denied"):
		return "permission"
	default:
		return "unknown"
	}
}
