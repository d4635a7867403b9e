package core

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is()
// These are generic errors that can be wrapped with additional context
var (
	// Validation errors (caller's fault)
	ErrInvalidInput     = errors.New("invalid input")
	ErrEmptyText        = errors.New("text is empty")
	ErrTextTooLong      = errors.New("text exceeds maximum length")
	ErrUnknownTechnique = errors.New("unknown technique")
	ErrBatchTooLarge    = errors.New("batch exceeds maximum size")

	// Inference errors
	ErrInferenceFailed    = errors.New("inference request failed")
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

	// Cache errors
	ErrCacheUnavailable = errors.New("cache unavailable")

	// Persistence errors
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")

	// State errors
	ErrAlreadyStarted    = errors.New("already started")
	ErrNotInitialized    = errors.New("not initialized")
	ErrAlreadyRegistered = errors.New("already registered")

	// Operation errors
	ErrTimeout            = errors.New("operation timeout")
	ErrContextCanceled    = errors.New("context canceled")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrServiceUnavailable = errors.New("service unavailable")

	// HTTP/Network errors
	ErrConnectionFailed = errors.New("connection failed")
	ErrRequestFailed    = errors.New("request failed")
)

// Error kinds surfaced to callers. Every PipelineError carries exactly one.
const (
	KindValidation  = "validation"
	KindUnavailable = "service_unavailable"
	KindInference   = "inference"
	KindTimeout     = "timeout"
	KindPool        = "pool_exhausted"
	KindCircuit     = "circuit_open"
	KindInternal    = "internal"
)

// PipelineError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type PipelineError struct {
	Op        string // Operation that failed (e.g., "orchestrator.Enhance")
	Kind      string // Error kind (one of the Kind* constants)
	RequestID string // Optional ID of the request involved
	Message   string // Human-readable message
	Err       error  // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *PipelineError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.RequestID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.RequestID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewPipelineError creates a new PipelineError
func NewPipelineError(op, kind string, err error) *PipelineError {
	return &PipelineError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// ErrorInfo is the typed failure object handed to callers: a stable kind,
// a message, and a retryable hint for clients that implement backoff.
type ErrorInfo struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// DescribeError converts any error into its caller-facing ErrorInfo.
func DescribeError(err error) ErrorInfo {
	var pe *PipelineError
	if errors.As(err, &pe) && pe.Kind != "" {
		return ErrorInfo{Kind: pe.Kind, Message: err.Error(), Retryable: IsRetryable(err)}
	}
	return ErrorInfo{Kind: errorKind(err), Message: err.Error(), Retryable: IsRetryable(err)}
}

func errorKind(err error) string {
	switch {
	case IsValidation(err):
		return KindValidation
	case errors.Is(err, ErrCircuitBreakerOpen):
		return KindCircuit
	case IsTimeout(err):
		return KindTimeout
	case errors.Is(err, ErrPoolExhausted):
		return KindPool
	case errors.Is(err, ErrInferenceFailed):
		return KindInference
	case IsUnavailable(err):
		return KindUnavailable
	default:
		return KindInternal
	}
}

// IsRetryable checks if an error is retryable
// Retryable errors are typically transient network or availability issues
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrCacheUnavailable) ||
		errors.Is(err, ErrPoolExhausted) ||
		errors.Is(err, ErrServiceUnavailable)
}

// IsValidation checks if an error is the caller's fault
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyText) ||
		errors.Is(err, ErrTextTooLong) ||
		errors.Is(err, ErrUnknownTechnique) ||
		errors.Is(err, ErrBatchTooLarge)
}

// IsCircuitOpen checks if an error was short-circuited by an open breaker
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitBreakerOpen)
}

// IsTimeout checks if an error represents an exceeded deadline
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrContextCanceled)
}

// IsUnavailable checks if an error means a dependency could not serve
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrCircuitBreakerOpen) ||
		errors.Is(err, ErrCacheUnavailable)
}

// IsPoolExhausted checks if an error came from pool acquisition timing out
func IsPoolExhausted(err error) bool {
	return errors.Is(err, ErrPoolExhausted)
}

// IsConfigurationError checks if an error is configuration-related
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrMissingConfiguration)
}

// IsStateError checks if an error is related to invalid state transitions
func IsStateError(err error) bool {
	return errors.Is(err, ErrAlreadyStarted) ||
		errors.Is(err, ErrNotInitialized) ||
		errors.Is(err, ErrAlreadyRegistered)
}
