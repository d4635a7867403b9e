package core

import (
	"errors"
	"fmt"
	"testing"
)

// Test IsRetryable function
func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "ErrConnectionFailed is retryable",
			err:      ErrConnectionFailed,
			expected: true,
		},
		{
			name:     "ErrTimeout is retryable",
			err:      ErrTimeout,
			expected: true,
		},
		{
			name:     "ErrCacheUnavailable is retryable",
			err:      ErrCacheUnavailable,
			expected: true,
		},
		{
			name:     "ErrPoolExhausted is retryable",
			err:      ErrPoolExhausted,
			expected: true,
		},
		{
			name:     "ErrServiceUnavailable is retryable",
			err:      ErrServiceUnavailable,
			expected: true,
		},
		{
			name:     "wrapped retryable error is retryable",
			err:      fmt.Errorf("operation failed: %w", ErrTimeout),
			expected: true,
		},
		{
			name:     "ErrCircuitBreakerOpen is not retryable",
			err:      ErrCircuitBreakerOpen,
			expected: false,
		},
		{
			name:     "ErrInferenceFailed is not retryable",
			err:      ErrInferenceFailed,
			expected: false,
		},
		{
			name:     "ErrInvalidInput is not retryable",
			err:      ErrInvalidInput,
			expected: false,
		},
		{
			name:     "custom error is not retryable",
			err:      errors.New("custom error"),
			expected: false,
		},
		{
			name:     "nil error is not retryable",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsRetryable(tt.err)
			if result != tt.expected {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, result, tt.expected)
			}
		})
	}
}

// Test IsValidation function
func TestIsValidation(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"ErrInvalidInput", ErrInvalidInput, true},
		{"ErrEmptyText", ErrEmptyText, true},
		{"ErrTextTooLong", ErrTextTooLong, true},
		{"ErrUnknownTechnique", ErrUnknownTechnique, true},
		{"ErrBatchTooLarge", ErrBatchTooLarge, true},
		{"wrapped validation error", fmt.Errorf("enhance: %w", ErrEmptyText), true},
		{"ErrTimeout is not validation", ErrTimeout, false},
		{"ErrInferenceFailed is not validation", ErrInferenceFailed, false},
		{"nil is not validation", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsValidation(tt.err)
			if result != tt.expected {
				t.Errorf("IsValidation(%v) = %v, want %v", tt.err, result, tt.expected)
			}
		})
	}
}

func TestIsCircuitOpen(t *testing.T) {
	if !IsCircuitOpen(ErrCircuitBreakerOpen) {
		t.Error("expected ErrCircuitBreakerOpen to be circuit open")
	}
	if !IsCircuitOpen(fmt.Errorf("inference.Classify: %w", ErrCircuitBreakerOpen)) {
		t.Error("expected wrapped ErrCircuitBreakerOpen to be circuit open")
	}
	if IsCircuitOpen(ErrTimeout) {
		t.Error("ErrTimeout should not be circuit open")
	}
}

func TestPipelineErrorFormat(t *testing.T) {
	tests := []struct {
		name     string
		err      *PipelineError
		expected string
	}{
		{
			name: "op with wrapped error",
			err: &PipelineError{
				Op:  "orchestrator.Enhance",
				Err: ErrEmptyText,
			},
			expected: "orchestrator.Enhance: text is empty",
		},
		{
			name: "op with request id",
			err: &PipelineError{
				Op:        "orchestrator.Enhance",
				RequestID: "req-123",
				Err:       ErrEmptyText,
			},
			expected: "orchestrator.Enhance [req-123]: text is empty",
		},
		{
			name: "message only",
			err: &PipelineError{
				Kind:    KindValidation,
				Message: "temperature out of range",
			},
			expected: "temperature out of range",
		},
		{
			name: "kind fallback",
			err: &PipelineError{
				Kind: KindInternal,
			},
			expected: "internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestPipelineErrorUnwrap(t *testing.T) {
	inner := ErrCircuitBreakerOpen
	err := NewPipelineError("inference.Classify", KindCircuit, inner)

	if !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Error("errors.Is should see through PipelineError")
	}

	var pe *PipelineError
	if !errors.As(err, &pe) {
		t.Fatal("errors.As should find PipelineError")
	}
	if pe.Kind != KindCircuit {
		t.Errorf("Kind = %q, want %q", pe.Kind, KindCircuit)
	}
}

func TestDescribeError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantKind      string
		wantRetryable bool
	}{
		{
			name:          "pipeline error keeps its kind",
			err:           NewPipelineError("orchestrator.Enhance", KindValidation, ErrEmptyText),
			wantKind:      KindValidation,
			wantRetryable: false,
		},
		{
			name:          "bare validation sentinel",
			err:           fmt.Errorf("enhance: %w", ErrUnknownTechnique),
			wantKind:      KindValidation,
			wantRetryable: false,
		},
		{
			name:          "circuit open maps to circuit kind",
			err:           fmt.Errorf("classify: %w", ErrCircuitBreakerOpen),
			wantKind:      KindCircuit,
			wantRetryable: false,
		},
		{
			name:          "timeout maps to timeout kind",
			err:           fmt.Errorf("enhance: %w", ErrTimeout),
			wantKind:      KindTimeout,
			wantRetryable: true,
		},
		{
			name:          "pool exhaustion maps to pool kind",
			err:           fmt.Errorf("history: %w", ErrPoolExhausted),
			wantKind:      KindPool,
			wantRetryable: true,
		},
		{
			name:          "inference failure maps to inference kind",
			err:           fmt.Errorf("classify: %w", ErrInferenceFailed),
			wantKind:      KindInference,
			wantRetryable: false,
		},
		{
			name:          "unknown error maps to internal",
			err:           errors.New("boom"),
			wantKind:      KindInternal,
			wantRetryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := DescribeError(tt.err)
			if info.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", info.Kind, tt.wantKind)
			}
			if info.Retryable != tt.wantRetryable {
				t.Errorf("Retryable = %v, want %v", info.Retryable, tt.wantRetryable)
			}
			if info.Message == "" {
				t.Error("Message should not be empty")
			}
		})
	}
}
