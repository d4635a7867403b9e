package core

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Request bounds. Text limits are enforced after trimming.
const (
	MaxPromptLen       = 5000
	DefaultMaxTokens   = 2048
	MaxTokensCeiling   = 8192
	DefaultTemperature = 0.7
	MaxBatchPrompts    = 100
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// EnhanceRequest is the inbound contract for a single enhancement.
//
// Techniques may be empty, in which case the classifier fills the list.
// Temperature and MaxTokens are pointers so that an absent field is
// distinguishable from an explicit zero; Normalize applies the defaults.
type EnhanceRequest struct {
	Text        string                 `json:"text" validate:"required,min=1,max=5000"`
	Intent      string                 `json:"intent,omitempty"`
	Complexity  string                 `json:"complexity,omitempty" validate:"omitempty,oneof=simple moderate complex"`
	Techniques  []string               `json:"techniques,omitempty"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	TargetModel string                 `json:"target_model,omitempty"`
	MaxTokens   *int                   `json:"max_tokens,omitempty" validate:"omitempty,gte=1,lte=8192"`
	Temperature *float64               `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	UserID      string                 `json:"user_id,omitempty"`
	SessionID   string                 `json:"session_id,omitempty"`
}

// Normalize trims the text and applies defaults for absent fields.
func (r *EnhanceRequest) Normalize() {
	r.Text = strings.TrimSpace(r.Text)
	if r.MaxTokens == nil {
		d := DefaultMaxTokens
		r.MaxTokens = &d
	}
	if r.Temperature == nil {
		d := DefaultTemperature
		r.Temperature = &d
	}
}

// Validate checks structural fields. The returned error wraps a validation
// sentinel so callers can classify it with IsValidation.
func (r *EnhanceRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("enhance request: %w", ErrEmptyText)
	}
	if len(r.Text) > MaxPromptLen {
		return fmt.Errorf("enhance request: text is %d chars, limit %d: %w", len(r.Text), MaxPromptLen, ErrTextTooLong)
	}
	if r.Intent != "" && !ValidIntent(r.Intent) {
		return fmt.Errorf("enhance request: unknown intent %q: %w", r.Intent, ErrInvalidInput)
	}
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("enhance request: %v: %w", err, ErrInvalidInput)
	}
	return nil
}

// ResponseMetadata carries optional context about how the response was
// produced.
type ResponseMetadata struct {
	Intent       string                 `json:"intent,omitempty"`
	Complexity   string                 `json:"complexity,omitempty"`
	Cached       bool                   `json:"cached,omitempty"`
	ModelVersion string                 `json:"model_version,omitempty"`
	Metrics      *EnhancementMetrics    `json:"metrics,omitempty"`
	Context      map[string]interface{} `json:"context,omitempty"`
	RequestID    string                 `json:"request_id,omitempty"`
}

// EnhanceResponse is the outbound contract for a single enhancement.
type EnhanceResponse struct {
	EnhancedText      string           `json:"enhanced_text"`
	TechniquesApplied []string         `json:"techniques_applied"`
	GenerationTimeMs  int64            `json:"generation_time_ms"`
	TokenEstimate     int              `json:"token_estimate"`
	Confidence        float64          `json:"confidence"`
	Warnings          []string         `json:"warnings,omitempty"`
	Metadata          ResponseMetadata `json:"metadata"`
}

// BatchRequest is the inbound contract for batch enhancement.
type BatchRequest struct {
	Prompts  []EnhanceRequest `json:"prompts" validate:"required,min=1,max=100"`
	BatchID  string           `json:"batch_id,omitempty"`
	Priority int              `json:"priority,omitempty"`
}

// Validate bounds the batch before any per-item work happens.
func (b *BatchRequest) Validate() error {
	if len(b.Prompts) == 0 {
		return fmt.Errorf("batch request: no prompts: %w", ErrInvalidInput)
	}
	if len(b.Prompts) > MaxBatchPrompts {
		return fmt.Errorf("batch request: %d prompts, limit %d: %w", len(b.Prompts), MaxBatchPrompts, ErrBatchTooLarge)
	}
	return nil
}

// BatchItemResult pairs one batch slot with either a response or a typed
// error. Failures never abort sibling items.
type BatchItemResult struct {
	Index    int              `json:"index"`
	Response *EnhanceResponse `json:"response,omitempty"`
	Error    *ErrorInfo       `json:"error,omitempty"`
}
