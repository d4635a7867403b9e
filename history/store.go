// Package history persists enhancement outcomes: the request/response pairs
// users can review and rate, the ML verdicts worth learning from, and coarse
// per-user activity. The pipeline treats all of it as best-effort: writes go
// through an async queue and a lost record never fails an enhancement.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Record is one completed enhancement as stored for review and feedback.
type Record struct {
	ID               string                 `json:"id"`
	RequestID        string                 `json:"request_id,omitempty"`
	UserID           string                 `json:"user_id,omitempty"`
	SessionID        string                 `json:"session_id,omitempty"`
	OriginalText     string                 `json:"original_text"`
	EnhancedText     string                 `json:"enhanced_text"`
	Intent           string                 `json:"intent,omitempty"`
	Complexity       string                 `json:"complexity,omitempty"`
	Techniques       []string               `json:"techniques,omitempty"`
	Confidence       float64                `json:"confidence"`
	GenerationTimeMs int64                  `json:"generation_time_ms"`
	TokenEstimate    int                    `json:"token_estimate"`
	Cached           bool                   `json:"cached"`
	Warnings         []string               `json:"warnings,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

// IntentPattern is a classifier verdict persisted for offline learning.
// Only ML-sourced verdicts are recorded; the rule engine has nothing to
// learn from itself.
type IntentPattern struct {
	ID           string    `json:"id"`
	Text         string    `json:"text"`
	Intent       string    `json:"intent"`
	Confidence   float64   `json:"confidence"`
	ModelVersion string    `json:"model_version,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserActivity is one coarse activity event (enhance, batch, feedback).
type UserActivity struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Action    string    `json:"action"`
	RequestID string    `json:"request_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the persistence contract the pipeline consumes. PGStore is the
// production implementation; tests substitute fakes.
type Store interface {
	SaveHistory(ctx context.Context, rec *Record) error
	UpdateFeedback(ctx context.Context, id string, rating int, feedback string) error
	SaveIntentPattern(ctx context.Context, pattern *IntentPattern) error
	RecordUserActivity(ctx context.Context, activity *UserActivity) error
	Ping(ctx context.Context) error
	Close()
}

// stamp fills the generated fields a caller usually leaves empty.
func (r *Record) stamp() {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
}

func (p *IntentPattern) stamp() {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
}

func (a *UserActivity) stamp() {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
}
