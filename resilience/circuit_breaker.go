package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/promptlift/promptlift/core"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed allows all requests through
	StateClosed CircuitState = iota
	// StateOpen blocks all requests
	StateOpen
	// StateHalfOpen allows a single trial request
	StateHalfOpen
)

// String returns the string representation of the state
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MetricsCollector interface for circuit breaker metrics
type MetricsCollector interface {
	RecordSuccess(name string)
	RecordFailure(name string, errorType string)
	RecordStateChange(name string, from, to string)
	RecordRejection(name string)
}

// noopMetrics is a no-op metrics implementation
type noopMetrics struct{}

func (n *noopMetrics) RecordSuccess(name string)                      {}
func (n *noopMetrics) RecordFailure(name string, errorType string)    {}
func (n *noopMetrics) RecordStateChange(name string, from, to string) {}
func (n *noopMetrics) RecordRejection(name string)                    {}

// ErrorClassifier determines which errors count toward the failure threshold
type ErrorClassifier func(error) bool

// DefaultErrorClassifier counts infrastructure errors only. Caller mistakes
// and context cancellation never open the circuit.
func DefaultErrorClassifier(err error) bool {
	if err == nil {
		return false
	}

	// Validation errors - DON'T count (caller's fault)
	if core.IsValidation(err) {
		return false
	}

	// Already short-circuited - DON'T count (no call was made)
	if core.IsCircuitOpen(err) {
		return false
	}

	// Context cancellation - DON'T count (client gave up)
	if errors.Is(err, context.Canceled) || errors.Is(err, core.ErrContextCanceled) {
		return false
	}

	// All other errors count as failures (network, timeout, upstream errors)
	return true
}

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// Name identifies the circuit breaker
	Name string

	// FailureThreshold is the number of consecutive counted failures that
	// opens the circuit
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before the next
	// arriving call is allowed a half-open trial
	RecoveryTimeout time.Duration

	// ErrorClassifier determines which errors count as failures
	ErrorClassifier ErrorClassifier

	// Logger for circuit breaker events
	Logger core.Logger

	// Metrics collector for monitoring
	Metrics MetricsCollector
}

// DefaultConfig returns a production-ready default configuration
func DefaultConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:             "default",
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
		ErrorClassifier:  DefaultErrorClassifier,
		Logger:           &core.NoOpLogger{},
		Metrics:          &noopMetrics{},
	}
}

// Validate validates the circuit breaker configuration
func (c *CircuitBreakerConfig) Validate() error {
	if c == nil {
		return errors.New("configuration cannot be nil")
	}
	if c.Name == "" {
		return errors.New("circuit breaker name is required")
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure threshold must be at least 1, got %d", c.FailureThreshold)
	}
	if c.RecoveryTimeout <= 0 {
		return fmt.Errorf("recovery timeout must be positive, got %v", c.RecoveryTimeout)
	}
	return nil
}

// CircuitBreaker guards a single remote endpoint.
//
// State machine: Closed counts consecutive classified failures and opens at
// FailureThreshold, recording openedUntil = now + RecoveryTimeout. Open
// rejects every call without touching the endpoint. The transition
// Open -> HalfOpen happens lazily when a call arrives after openedUntil; the
// half-open state admits exactly one trial call. Trial success closes the
// circuit and zeroes the failure count; trial failure reopens it with a
// fresh openedUntil. A success in Closed also zeroes the failure count.
//
// State reads are lock-free; the mutex guards transitions only.
type CircuitBreaker struct {
	config *CircuitBreakerConfig

	// State management (atomics for the hot read path)
	state       atomic.Value // CircuitState
	openedUntil atomic.Value // time.Time; meaningful while state is Open
	failures    atomic.Int32

	// Half-open trial slot. True while the single trial is in flight.
	trialInFlight atomic.Bool

	// Transitions only
	mu sync.Mutex

	// Monitoring counters
	totalExecutions    atomic.Uint64
	rejectedExecutions atomic.Uint64
}

// NewCircuitBreaker creates a circuit breaker for one endpoint
func NewCircuitBreaker(config *CircuitBreakerConfig) (*CircuitBreaker, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid circuit breaker config: %w", err)
	}

	if config.ErrorClassifier == nil {
		config.ErrorClassifier = DefaultErrorClassifier
	}
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &noopMetrics{}
	}

	cb := &CircuitBreaker{config: config}
	cb.state.Store(StateClosed)
	cb.openedUntil.Store(time.Time{})

	config.Logger.Info("Circuit breaker created", map[string]interface{}{
		"operation":           "circuit_breaker_created",
		"name":                config.Name,
		"failure_threshold":   config.FailureThreshold,
		"recovery_timeout_ms": config.RecoveryTimeout.Milliseconds(),
	})

	return cb, nil
}

// Execute runs fn with circuit breaker protection. When the circuit is open
// it fails fast with core.ErrCircuitBreakerOpen before any work happens.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	trial, allowed := cb.startExecution()
	if !allowed {
		cb.rejectedExecutions.Add(1)
		cb.config.Metrics.RecordRejection(cb.config.Name)
		cb.config.Logger.Debug("Circuit breaker rejected execution", map[string]interface{}{
			"operation": "circuit_breaker_reject",
			"name":      cb.config.Name,
			"state":     cb.State().String(),
		})
		return fmt.Errorf("circuit breaker '%s' is open: %w", cb.config.Name, core.ErrCircuitBreakerOpen)
	}

	cb.totalExecutions.Add(1)

	if err := ctx.Err(); err != nil {
		// Never count the caller's cancellation against the endpoint.
		cb.completeExecution(trial, err)
		return err
	}

	err := fn()
	cb.completeExecution(trial, err)
	return err
}

// Allow reports whether a call may proceed right now, performing the lazy
// Open -> HalfOpen transition when the recovery timeout has elapsed. Callers
// that use Allow directly must report the outcome via RecordResult.
func (cb *CircuitBreaker) Allow() bool {
	_, allowed := cb.startExecution()
	return allowed
}

// RecordResult reports the outcome of a call admitted via Allow.
func (cb *CircuitBreaker) RecordResult(err error) {
	cb.completeExecution(cb.State() == StateHalfOpen, err)
}

// startExecution decides whether a call may proceed. The boolean trial flag
// marks the call as the half-open probe.
func (cb *CircuitBreaker) startExecution() (trial bool, allowed bool) {
	switch cb.state.Load().(CircuitState) {
	case StateClosed:
		return false, true

	case StateOpen:
		openedUntil := cb.openedUntil.Load().(time.Time)
		if time.Now().Before(openedUntil) {
			return false, false
		}

		// Recovery timeout elapsed: move to half-open and fall through to
		// claim the trial slot.
		cb.mu.Lock()
		if cb.state.Load().(CircuitState) == StateOpen {
			cb.transitionToUnlocked(StateHalfOpen)
		}
		cb.mu.Unlock()
		return cb.claimTrial()

	case StateHalfOpen:
		return cb.claimTrial()

	default:
		return false, false
	}
}

// claimTrial admits at most one caller while half-open.
func (cb *CircuitBreaker) claimTrial() (bool, bool) {
	if cb.state.Load().(CircuitState) != StateHalfOpen {
		// Lost a race with the trial outcome; re-evaluate from the top.
		return cb.startExecution()
	}
	if cb.trialInFlight.CompareAndSwap(false, true) {
		return true, true
	}
	return false, false
}

// completeExecution records the result of an admitted call
func (cb *CircuitBreaker) completeExecution(trial bool, err error) {
	counted := err != nil && cb.config.ErrorClassifier(err)

	if trial {
		cb.mu.Lock()
		defer cb.mu.Unlock()
		cb.trialInFlight.Store(false)

		if cb.state.Load().(CircuitState) != StateHalfOpen {
			return
		}
		switch {
		case err == nil:
			cb.failures.Store(0)
			cb.transitionToUnlocked(StateClosed)
		case counted:
			cb.openedUntil.Store(time.Now().Add(cb.config.RecoveryTimeout))
			cb.transitionToUnlocked(StateOpen)
		default:
			// Uncounted error (e.g. caller cancellation): the trial was
			// inconclusive, leave the slot free for the next caller.
		}
		return
	}

	if err == nil {
		if cb.state.Load().(CircuitState) == StateClosed {
			cb.failures.Store(0)
		}
		cb.config.Metrics.RecordSuccess(cb.config.Name)
		return
	}

	if !counted {
		cb.config.Logger.Debug("Error not counted toward circuit breaker", map[string]interface{}{
			"operation": "error_classification",
			"name":      cb.config.Name,
			"error":     err.Error(),
		})
		return
	}

	cb.config.Metrics.RecordFailure(cb.config.Name, fmt.Sprintf("%T", err))

	failures := cb.failures.Add(1)
	if int(failures) >= cb.config.FailureThreshold {
		cb.mu.Lock()
		if cb.state.Load().(CircuitState) == StateClosed {
			cb.openedUntil.Store(time.Now().Add(cb.config.RecoveryTimeout))
			cb.transitionToUnlocked(StateOpen)
		}
		cb.mu.Unlock()
	}
}

// transitionToUnlocked changes state (must be called with lock held)
func (cb *CircuitBreaker) transitionToUnlocked(newState CircuitState) {
	oldState := cb.state.Load().(CircuitState)
	if oldState == newState {
		return
	}

	cb.state.Store(newState)

	if newState == StateHalfOpen {
		cb.trialInFlight.Store(false)
	}

	cb.config.Logger.Info("Circuit breaker state changed", map[string]interface{}{
		"operation": "circuit_breaker_transition",
		"name":      cb.config.Name,
		"from":      oldState.String(),
		"to":        newState.String(),
		"failures":  cb.failures.Load(),
	})

	cb.config.Metrics.RecordStateChange(cb.config.Name, oldState.String(), newState.String())
}

// State returns the current state
func (cb *CircuitBreaker) State() CircuitState {
	return cb.state.Load().(CircuitState)
}

// Failures returns the current consecutive failure count
func (cb *CircuitBreaker) Failures() int {
	return int(cb.failures.Load())
}

// GetMetrics returns current monitoring counters
func (cb *CircuitBreaker) GetMetrics() map[string]interface{} {
	m := map[string]interface{}{
		"name":                cb.config.Name,
		"state":               cb.State().String(),
		"failures":            cb.failures.Load(),
		"total_executions":    cb.totalExecutions.Load(),
		"rejected_executions": cb.rejectedExecutions.Load(),
	}
	if cb.State() == StateOpen {
		m["opened_until"] = cb.openedUntil.Load().(time.Time)
	}
	return m
}

// Reset returns the breaker to closed with a zero failure count
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	oldState := cb.state.Load().(CircuitState)
	cb.state.Store(StateClosed)
	cb.openedUntil.Store(time.Time{})
	cb.failures.Store(0)
	cb.trialInFlight.Store(false)

	cb.config.Logger.Info("Circuit breaker reset", map[string]interface{}{
		"operation":      "circuit_breaker_reset",
		"name":           cb.config.Name,
		"previous_state": oldState.String(),
	})
}
