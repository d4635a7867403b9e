package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/promptlift/promptlift/core"
)

// PGStore implements Store on a pgxpool connection pool. Every operation
// acquires a connection under the configured acquire deadline, so a
// saturated pool surfaces as ErrPoolExhausted instead of queueing callers
// indefinitely, and runs its statement under the query timeout.
type PGStore struct {
	pool           *pgxpool.Pool
	logger         core.Logger
	acquireTimeout time.Duration
	queryTimeout   time.Duration
}

var _ Store = (*PGStore)(nil)

// NewPGStore connects a pool per the history configuration. The pool is
// owned by the store; Close releases it.
func NewPGStore(ctx context.Context, cfg *core.HistoryConfig, logger core.Logger) (*PGStore, error) {
	if cfg == nil || cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("history: database URL is required: %w", core.ErrMissingConfiguration)
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("history: parse database URL: %w", err)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("history: create pool: %w", err)
	}

	s := &PGStore{
		pool:           pool,
		logger:         logger,
		acquireTimeout: durationOr(cfg.AcquireTimeout, 5*time.Second),
		queryTimeout:   durationOr(cfg.QueryTimeout, 10*time.Second),
	}

	logger.Info("History store connected", map[string]interface{}{
		"operation": "history.connect",
		"min_conns": poolCfg.MinConns,
		"max_conns": poolCfg.MaxConns,
	})
	return s, nil
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

// Init creates the tables and indexes. Every statement is idempotent, so
// repeated startup is safe.
func (s *PGStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS enhancement_history (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL DEFAULT '',
			original_text TEXT NOT NULL,
			enhanced_text TEXT NOT NULL,
			intent TEXT NOT NULL DEFAULT '',
			complexity TEXT NOT NULL DEFAULT '',
			techniques TEXT[] NOT NULL DEFAULT '{}',
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			generation_time_ms BIGINT NOT NULL DEFAULT 0,
			token_estimate INTEGER NOT NULL DEFAULT 0,
			cached BOOLEAN NOT NULL DEFAULT FALSE,
			warnings TEXT[] NOT NULL DEFAULT '{}',
			metadata JSONB,
			feedback_rating INTEGER,
			feedback_text TEXT,
			feedback_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS enhancement_history_user_idx ON enhancement_history(user_id)`,
		`CREATE INDEX IF NOT EXISTS enhancement_history_created_idx ON enhancement_history(created_at)`,

		`CREATE TABLE IF NOT EXISTS intent_patterns (
			id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			intent TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			model_version TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS intent_patterns_intent_idx ON intent_patterns(intent)`,

		`CREATE TABLE IF NOT EXISTS user_activity (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			action TEXT NOT NULL,
			request_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS user_activity_user_idx ON user_activity(user_id)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("history: init schema: %w", err)
		}
	}
	return nil
}

// SaveHistory inserts one enhancement record.
func (s *PGStore) SaveHistory(ctx context.Context, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("history: nil record: %w", core.ErrInvalidInput)
	}
	rec.stamp()

	metadata, err := encodeJSON(rec.Metadata)
	if err != nil {
		return fmt.Errorf("history: encode metadata: %w", err)
	}

	return s.exec(ctx, "history.save",
		`INSERT INTO enhancement_history (
			id, request_id, user_id, session_id, original_text, enhanced_text,
			intent, complexity, techniques, confidence, generation_time_ms,
			token_estimate, cached, warnings, metadata, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15::jsonb,$16)`,
		rec.ID, rec.RequestID, rec.UserID, rec.SessionID, rec.OriginalText, rec.EnhancedText,
		rec.Intent, rec.Complexity, textArray(rec.Techniques), rec.Confidence, rec.GenerationTimeMs,
		rec.TokenEstimate, rec.Cached, textArray(rec.Warnings), metadata, rec.CreatedAt)
}

// UpdateFeedback attaches a user rating to an existing record. Unknown ids
// are the caller's fault.
func (s *PGStore) UpdateFeedback(ctx context.Context, id string, rating int, feedback string) error {
	if id == "" {
		return fmt.Errorf("history: feedback needs a record id: %w", core.ErrInvalidInput)
	}
	if rating < 1 || rating > 5 {
		return fmt.Errorf("history: rating %d outside 1..5: %w", rating, core.ErrInvalidInput)
	}

	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	tag, err := conn.Exec(queryCtx,
		`UPDATE enhancement_history
		 SET feedback_rating = $2, feedback_text = $3, feedback_at = $4
		 WHERE id = $1`,
		id, rating, feedback, time.Now().UTC())
	if err != nil {
		return s.mapError("history.feedback", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("history: no record with id %s: %w", id, core.ErrInvalidInput)
	}
	return nil
}

// SaveIntentPattern stores one ML verdict for offline learning.
func (s *PGStore) SaveIntentPattern(ctx context.Context, pattern *IntentPattern) error {
	if pattern == nil {
		return fmt.Errorf("history: nil pattern: %w", core.ErrInvalidInput)
	}
	pattern.stamp()

	return s.exec(ctx, "history.pattern",
		`INSERT INTO intent_patterns (id, text, intent, confidence, model_version, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		pattern.ID, pattern.Text, pattern.Intent, pattern.Confidence, pattern.ModelVersion, pattern.CreatedAt)
}

// RecordUserActivity stores one coarse activity event.
func (s *PGStore) RecordUserActivity(ctx context.Context, activity *UserActivity) error {
	if activity == nil || activity.UserID == "" {
		return fmt.Errorf("history: activity needs a user id: %w", core.ErrInvalidInput)
	}
	activity.stamp()

	return s.exec(ctx, "history.activity",
		`INSERT INTO user_activity (id, user_id, action, request_id, created_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		activity.ID, activity.UserID, activity.Action, activity.RequestID, activity.CreatedAt)
}

// Ping verifies the database is reachable.
func (s *PGStore) Ping(ctx context.Context) error {
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	if err := s.pool.Ping(queryCtx); err != nil {
		return fmt.Errorf("history: ping: %v: %w", err, core.ErrServiceUnavailable)
	}
	return nil
}

// Close releases the pool. Safe to call more than once.
func (s *PGStore) Close() {
	s.pool.Close()
}

// exec runs one statement on an acquired connection under the query timeout.
func (s *PGStore) exec(ctx context.Context, op, sql string, args ...interface{}) error {
	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	if _, err := conn.Exec(queryCtx, sql, args...); err != nil {
		return s.mapError(op, err)
	}
	return nil
}

// acquire checks a connection out of the pool, waiting at most the acquire
// timeout. A timeout here means the pool is exhausted, not that the caller's
// deadline passed; the two are reported distinctly.
func (s *PGStore) acquire(ctx context.Context) (*pgxpool.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
	defer cancel()

	conn, err := s.pool.Acquire(acquireCtx)
	if err == nil {
		return conn, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("history: acquire: %v: %w", err, core.ErrContextCanceled)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("history: no connection within %s: %w", s.acquireTimeout, core.ErrPoolExhausted)
	}
	return nil, fmt.Errorf("history: acquire: %v: %w", err, core.ErrServiceUnavailable)
}

func (s *PGStore) mapError(op string, err error) error {
	kind := core.ErrServiceUnavailable
	if errors.Is(err, context.DeadlineExceeded) {
		kind = core.ErrTimeout
	} else if errors.Is(err, context.Canceled) {
		kind = core.ErrContextCanceled
	}
	s.logger.Error("History operation failed", map[string]interface{}{
		"operation":  op,
		"error":      err.Error(),
		"error_type": fmt.Sprintf("%T", err),
	})
	return fmt.Errorf("%s: %v: %w", op, err, kind)
}

// encodeJSON renders a metadata map for a jsonb column, NULL when empty.
func encodeJSON(m map[string]interface{}) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

// textArray never hands pgx a nil slice, so the TEXT[] columns stay NOT NULL.
func textArray(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
