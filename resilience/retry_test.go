package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/promptlift/promptlift/core"
)

func fastRetryConfig(maxAttempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}
}

func TestRetrySucceedsAfterTransientErrors(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(3), func() error {
		calls++
		if calls < 3 {
			return connectErr()
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryNonRetryableStopsImmediately(t *testing.T) {
	config := fastRetryConfig(5)
	config.Retryable = core.IsRetryable

	calls := 0
	badInput := fmt.Errorf("text is empty: %w", core.ErrEmptyText)
	err := Retry(context.Background(), config, func() error {
		calls++
		return badInput
	})

	if calls != 1 {
		t.Errorf("calls = %d, want 1 (non-retryable)", calls)
	}
	if !errors.Is(err, core.ErrEmptyText) {
		t.Errorf("expected the original error, got %v", err)
	}
}

func TestRetryReturnsLastErrorVerbatim(t *testing.T) {
	sentinel := fmt.Errorf("upstream 503: %w", core.ErrServiceUnavailable)

	err := Retry(context.Background(), fastRetryConfig(3), func() error {
		return sentinel
	})

	// Callers match on the taxonomy, so the last error must come back
	// unwrapped rather than buried under a retries-exceeded wrapper.
	if err != sentinel {
		t.Errorf("expected last error verbatim, got %v", err)
	}
}

func TestBackoffFormula(t *testing.T) {
	config := &RetryConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1600 * time.Millisecond},
		{6, 3200 * time.Millisecond},
		{7, 5 * time.Second},
		{8, 5 * time.Second},
	}

	for _, tt := range tests {
		if got := config.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	config := &RetryConfig{
		MaxAttempts:  10,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
	}

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Retry(ctx, config, func() error {
		calls++
		return connectErr()
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (canceled during backoff)", calls)
	}
}

func TestRetryAttemptsCount(t *testing.T) {
	attempts, err := RetryAttempts(context.Background(), fastRetryConfig(4), func() error {
		return connectErr()
	})

	if err == nil {
		t.Error("expected error after exhausting attempts")
	}
	if attempts != 4 {
		t.Errorf("attempts = %d, want 4", attempts)
	}

	attempts, err = RetryAttempts(context.Background(), fastRetryConfig(4), func() error {
		return nil
	})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryWithCircuitBreakerFailsFast(t *testing.T) {
	cb, _ := NewCircuitBreaker(testConfig(2, time.Minute))

	config := fastRetryConfig(5)
	config.Retryable = func(err error) bool {
		return !core.IsCircuitOpen(err)
	}

	calls := 0
	err := RetryWithCircuitBreaker(context.Background(), config, cb, func() error {
		calls++
		return connectErr()
	})

	// Two attempts trip the breaker; the third is rejected without
	// touching the endpoint and stops the retry loop.
	if calls != 2 {
		t.Errorf("transport calls = %d, want 2", calls)
	}
	if !errors.Is(err, core.ErrCircuitBreakerOpen) {
		t.Errorf("expected ErrCircuitBreakerOpen, got %v", err)
	}
}
