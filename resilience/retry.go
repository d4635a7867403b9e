package resilience

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	JitterEnabled bool

	// Retryable decides whether an error is worth another attempt.
	// When nil every error retries.
	Retryable func(error) bool
}

// DefaultRetryConfig provides sensible defaults
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		JitterEnabled: true,
	}
}

// Backoff returns the delay before attempt k (1-based):
// min(initial * 2^(k-1), max).
func (c *RetryConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := c.InitialDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

// Retry executes fn up to MaxAttempts times with exponential backoff.
// Non-retryable errors return immediately; when every attempt fails the
// last error is returned verbatim so callers keep the original taxonomy.
func Retry(ctx context.Context, config *RetryConfig, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if config.Retryable != nil && !config.Retryable(err) {
			return err
		}

		if attempt == config.MaxAttempts {
			break
		}

		delay := config.Backoff(attempt)

		// Jitter spreads synchronized retries across clients
		// (thundering herd mitigation).
		if config.JitterEnabled {
			delay += time.Duration(rand.Int63n(int64(delay)/4 + 1))
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}

// RetryAttempts is like Retry but also reports how many attempts ran, which
// callers surface in result metadata.
func RetryAttempts(ctx context.Context, config *RetryConfig, fn func() error) (int, error) {
	attempts := 0
	err := Retry(ctx, config, func() error {
		attempts++
		return fn()
	})
	return attempts, err
}

// RetryWithCircuitBreaker combines retry logic with circuit breaker
// protection. The breaker sees every attempt; once it opens, remaining
// attempts fail fast without touching the endpoint.
func RetryWithCircuitBreaker(ctx context.Context, config *RetryConfig, cb *CircuitBreaker, fn func() error) error {
	return Retry(ctx, config, func() error {
		return cb.Execute(ctx, fn)
	})
}
