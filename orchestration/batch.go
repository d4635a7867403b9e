package orchestration

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/promptlift/promptlift/core"
)

// DefaultBatchConcurrency bounds the fan-out when the config leaves it
// unset.
const DefaultBatchConcurrency = 5

// EnhanceBatch runs up to core.MaxBatchPrompts requests with bounded
// concurrency. Items are independent: a failing prompt yields an error in
// its slot and its siblings proceed. The returned slice always has one
// entry per prompt, in input order.
func (o *Orchestrator) EnhanceBatch(ctx context.Context, batch *core.BatchRequest) ([]core.BatchItemResult, error) {
	ctx, span := o.telemetry.StartSpan(ctx, "orchestration.enhance_batch")
	defer span.End()
	o.telemetry.RecordMetric("enhance.batch.requests", 1, nil)

	if batch == nil {
		err := &core.PipelineError{
			Op:      "orchestration.enhance_batch",
			Kind:    core.KindValidation,
			Message: "batch is nil",
			Err:     core.ErrInvalidInput,
		}
		span.RecordError(err)
		return nil, err
	}
	if err := batch.Validate(); err != nil {
		verr := &core.PipelineError{
			Op:   "orchestration.enhance_batch",
			Kind: core.KindValidation,
			Err:  err,
		}
		span.RecordError(verr)
		return nil, verr
	}

	batchID := batch.BatchID
	if batchID == "" {
		batchID = uuid.NewString()
	}
	span.SetAttribute("batch.id", batchID)
	span.SetAttribute("batch.size", len(batch.Prompts))

	concurrency := o.config.BatchConcurrency
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}

	start := time.Now()
	results := make([]core.BatchItemResult, len(batch.Prompts))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i := range batch.Prompts {
		g.Go(func() error {
			results[i] = o.enhanceItem(ctx, i, &batch.Prompts[i])
			return nil
		})
	}
	// Workers never return errors; failures live in their slots.
	_ = g.Wait()

	failed := 0
	for i := range results {
		if results[i].Error != nil {
			failed++
		}
	}
	o.telemetry.RecordMetric("enhance.duration_ms", float64(time.Since(start).Milliseconds()), map[string]string{"operation": "enhance_batch"})
	if failed > 0 {
		o.telemetry.RecordMetric("enhance.batch.failures", float64(failed), nil)
	}
	o.logger.Info("Batch enhancement completed", map[string]interface{}{
		"operation":   "orchestration.enhance_batch",
		"batch_id":    batchID,
		"size":        len(batch.Prompts),
		"failed":      failed,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	span.SetAttribute("batch.failed", failed)
	return results, nil
}

// enhanceItem runs one slot: the optional per-user rate limit, then the
// regular pipeline. Errors are captured, never propagated.
func (o *Orchestrator) enhanceItem(ctx context.Context, index int, req *core.EnhanceRequest) core.BatchItemResult {
	if denied := o.checkRateLimit(ctx, req); denied != nil {
		return core.BatchItemResult{Index: index, Error: denied}
	}

	resp, err := o.Enhance(ctx, req)
	if err != nil {
		info := core.DescribeError(err)
		return core.BatchItemResult{Index: index, Error: &info}
	}
	return core.BatchItemResult{Index: index, Response: resp}
}

// checkRateLimit consults the fixed-window limiter for the item's user.
// Anonymous items and deployments without a limiter pass through.
func (o *Orchestrator) checkRateLimit(ctx context.Context, req *core.EnhanceRequest) *core.ErrorInfo {
	if o.limiter == nil || o.rateLimit == nil || !o.rateLimit.Enabled || req.UserID == "" {
		return nil
	}

	res := o.limiter.Check(ctx, "user:"+req.UserID, o.rateLimit.Limit, o.rateLimit.Window)
	if res == nil || res.Allowed {
		return nil
	}

	o.logger.Warn("Batch item rate limited", map[string]interface{}{
		"operation":   "orchestration.enhance_batch",
		"user_id":     req.UserID,
		"count":       res.Count,
		"limit":       res.Limit,
		"retry_after": res.RetryAfter.String(),
	})
	err := &core.PipelineError{
		Op:      "orchestration.enhance_batch",
		Kind:    core.KindUnavailable,
		Message: fmt.Sprintf("user %s exceeded %d requests per %s", req.UserID, res.Limit, o.rateLimit.Window),
		Err:     core.ErrServiceUnavailable,
	}
	info := core.DescribeError(err)
	return &info
}
