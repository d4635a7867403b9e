package history

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/promptlift/promptlift/core"
)

// Writer decouples persistence from the request path. Enqueue never blocks:
// when the queue is full the record is dropped and logged, because a slow
// database must not slow enhancements. A single flusher goroutine executes
// jobs in order against the store with its own timeout, so writes complete
// safely even after the originating request is canceled.
type Writer struct {
	store      Store
	logger     core.Logger
	queue      chan writeJob
	quit       chan struct{}
	done       chan struct{}
	drain      time.Duration
	jobTimeout time.Duration
	closed     atomic.Bool
	dropped    atomic.Int64
}

type writeJob struct {
	kind string
	run  func(ctx context.Context) error
}

// NewWriter builds the writer and starts its flusher.
func NewWriter(store Store, cfg *core.HistoryConfig, logger core.Logger) *Writer {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	queueSize := 1024
	drain := 10 * time.Second
	jobTimeout := 15 * time.Second
	if cfg != nil {
		if cfg.QueueSize > 0 {
			queueSize = cfg.QueueSize
		}
		if cfg.DrainTimeout > 0 {
			drain = cfg.DrainTimeout
		}
		jobTimeout = durationOr(cfg.AcquireTimeout, 5*time.Second) + durationOr(cfg.QueryTimeout, 10*time.Second)
	}

	w := &Writer{
		store:      store,
		logger:     logger,
		queue:      make(chan writeJob, queueSize),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		drain:      drain,
		jobTimeout: jobTimeout,
	}
	go w.run()
	return w
}

// EnqueueHistory queues one enhancement record. Reports false when the
// record was dropped.
func (w *Writer) EnqueueHistory(rec *Record) bool {
	if rec == nil {
		return false
	}
	return w.enqueue("history", func(ctx context.Context) error {
		return w.store.SaveHistory(ctx, rec)
	})
}

// EnqueueActivity queues one user activity event.
func (w *Writer) EnqueueActivity(activity *UserActivity) bool {
	if activity == nil {
		return false
	}
	return w.enqueue("activity", func(ctx context.Context) error {
		return w.store.RecordUserActivity(ctx, activity)
	})
}

// RecordPattern queues an ML verdict as a learned intent pattern. The
// signature matches the classifier's sink contract; the request context is
// deliberately not used for the write, which runs on the flusher's own
// deadline.
func (w *Writer) RecordPattern(_ context.Context, text string, result *core.IntentResult) {
	if result == nil {
		return
	}
	pattern := &IntentPattern{
		Text:         text,
		Intent:       string(result.Intent),
		Confidence:   result.Confidence,
		ModelVersion: result.ModelVersion,
	}
	w.enqueue("pattern", func(ctx context.Context) error {
		return w.store.SaveIntentPattern(ctx, pattern)
	})
}

// Flush blocks until everything queued before the call has been written,
// or ctx expires.
func (w *Writer) Flush(ctx context.Context) error {
	flushed := make(chan struct{})
	ok := w.enqueue("flush", func(context.Context) error {
		close(flushed)
		return nil
	})
	if !ok {
		return fmt.Errorf("history: queue saturated, cannot flush: %w", core.ErrServiceUnavailable)
	}

	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting records, drains the queue up to the drain timeout,
// and returns. Idempotent.
func (w *Writer) Close(ctx context.Context) error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(w.quit)

	select {
	case <-w.done:
		return nil
	case <-time.After(w.drain):
		return fmt.Errorf("history: drain timed out after %s, records may be lost", w.drain)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped reports how many records were discarded on a full queue.
func (w *Writer) Dropped() int64 {
	return w.dropped.Load()
}

func (w *Writer) enqueue(kind string, run func(ctx context.Context) error) bool {
	if w.closed.Load() {
		w.drop(kind, "writer closed")
		return false
	}
	select {
	case w.queue <- writeJob{kind: kind, run: run}:
		return true
	default:
		w.drop(kind, "queue full")
		return false
	}
}

func (w *Writer) drop(kind, reason string) {
	w.dropped.Add(1)
	w.logger.Warn("History record dropped", map[string]interface{}{
		"operation": "history.enqueue",
		"kind":      kind,
		"reason":    reason,
		"dropped":   w.dropped.Load(),
	})
}

func (w *Writer) run() {
	defer close(w.done)

	for {
		select {
		case job := <-w.queue:
			w.execute(job)
		case <-w.quit:
			for {
				select {
				case job := <-w.queue:
					w.execute(job)
				default:
					return
				}
			}
		}
	}
}

// execute runs one write on the flusher's own deadline. A panicking store
// must not kill the flusher, so the call is guarded.
func (w *Writer) execute(job writeJob) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("History write panicked", map[string]interface{}{
				"operation": "history.flush",
				"kind":      job.kind,
				"panic":     fmt.Sprintf("%v", r),
				"stack":     string(debug.Stack()),
			})
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), w.jobTimeout)
	defer cancel()

	if err := job.run(ctx); err != nil {
		w.logger.Error("History write failed", map[string]interface{}{
			"operation":  "history.flush",
			"kind":       job.kind,
			"error":      err.Error(),
			"error_type": fmt.Sprintf("%T", err),
		})
	}
}
