// Package orchestration runs the enhancement pipeline end to end: validate,
// consult the cache, classify, merge technique lists, apply techniques,
// queue history, repopulate the cache. It owns no text transformation logic
// itself; everything domain-specific lives behind the classifier and engine
// contracts.
package orchestration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/promptlift/promptlift/cache"
	"github.com/promptlift/promptlift/core"
	"github.com/promptlift/promptlift/history"
)

// Enhancement cache keys are versioned so a change to the response shape
// invalidates old entries by construction instead of by flush.
const cacheKeyVersion = "enhance:v2:"

// HistorySink receives completed enhancements for async persistence.
// history.Writer implements it; the orchestrator never blocks on it.
type HistorySink interface {
	EnqueueHistory(rec *history.Record) bool
	EnqueueActivity(activity *history.UserActivity) bool
}

// RateLimiter is the slice of the cache limiter the batch path uses.
type RateLimiter interface {
	Check(ctx context.Context, identifier string, limit int, window time.Duration) *cache.RateLimitResult
}

// Orchestrator coordinates one enhancement request across the classifier,
// the technique engine, the cache, and the history queue. It implements no
// retries of its own: the inference client already retries, and everything
// else degrades.
type Orchestrator struct {
	config     *core.OrchestratorConfig
	rateLimit  *core.RateLimitConfig
	classifier core.Classifier
	engine     core.Enhancer
	cache      cache.Cache
	history    HistorySink
	limiter    RateLimiter
	logger     core.Logger
	telemetry  core.Telemetry
}

// Options wires the orchestrator's collaborators. Config, Classifier and
// Engine are required. Without a Cache every request recomputes; without a
// HistorySink nothing is persisted; without a Limiter batches are unmetered.
type Options struct {
	Config     *core.OrchestratorConfig
	RateLimit  *core.RateLimitConfig
	Classifier core.Classifier
	Engine     core.Enhancer
	Cache      cache.Cache
	History    HistorySink
	Limiter    RateLimiter
	Logger     core.Logger
	Telemetry  core.Telemetry
}

// New builds the orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Config == nil {
		return nil, &core.PipelineError{
			Op:      "orchestration.new",
			Kind:    core.KindValidation,
			Message: "orchestrator config is required",
			Err:     core.ErrMissingConfiguration,
		}
	}
	if opts.Classifier == nil || opts.Engine == nil {
		return nil, &core.PipelineError{
			Op:      "orchestration.new",
			Kind:    core.KindValidation,
			Message: "classifier and engine are required",
			Err:     core.ErrMissingConfiguration,
		}
	}
	if opts.Logger == nil {
		opts.Logger = &core.NoOpLogger{}
	}
	if opts.Telemetry == nil {
		opts.Telemetry = &core.NoOpTelemetry{}
	}

	return &Orchestrator{
		config:     opts.Config,
		rateLimit:  opts.RateLimit,
		classifier: opts.Classifier,
		engine:     opts.Engine,
		cache:      opts.Cache,
		history:    opts.History,
		limiter:    opts.Limiter,
		logger:     opts.Logger,
		telemetry:  opts.Telemetry,
	}, nil
}

// Enhance runs the full pipeline for one request.
func (o *Orchestrator) Enhance(ctx context.Context, req *core.EnhanceRequest) (*core.EnhanceResponse, error) {
	ctx, span := o.telemetry.StartSpan(ctx, "orchestration.enhance")
	defer span.End()
	start := time.Now()
	requestID := uuid.NewString()
	span.SetAttribute("request.id", requestID)
	o.telemetry.RecordMetric("enhance.requests", 1, nil)

	if req == nil {
		err := &core.PipelineError{
			Op:        "orchestration.enhance",
			Kind:      core.KindValidation,
			RequestID: requestID,
			Message:   "request is nil",
			Err:       core.ErrInvalidInput,
		}
		span.RecordError(err)
		o.telemetry.RecordMetric("enhance.failures", 1, map[string]string{"stage": "validation"})
		return nil, err
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		verr := &core.PipelineError{
			Op:        "orchestration.enhance",
			Kind:      core.KindValidation,
			RequestID: requestID,
			Err:       err,
		}
		span.RecordError(verr)
		o.telemetry.RecordMetric("enhance.failures", 1, map[string]string{"stage": "validation"})
		return nil, verr
	}
	o.telemetry.RecordMetric("enhance.prompt.size_bytes", float64(len(req.Text)), nil)

	if o.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.RequestTimeout)
		defer cancel()
	}

	key := fingerprint(req)
	var warnings []string

	if cached, degraded := o.lookup(ctx, key); cached != nil {
		cached.Metadata.Cached = true
		cached.Metadata.RequestID = requestID
		span.SetAttribute("enhance.cache_hit", true)
		o.telemetry.RecordMetric("enhance.cache.hits", 1, nil)
		o.logger.Debug("Enhancement served from cache", map[string]interface{}{
			"operation":  "orchestration.enhance",
			"request_id": requestID,
		})
		return cached, nil
	} else if degraded {
		warnings = append(warnings, core.WarningCacheDegraded)
	}

	var intentRes *core.IntentResult
	var clsErr error
	if req.Intent != "" {
		// A caller-fixed intent makes classification unnecessary.
		intentRes = o.intentOverride(req)
		span.SetAttribute("enhance.intent_override", true)
	} else {
		intentRes, clsErr = o.classifier.Classify(ctx, req.Text)
	}
	if clsErr != nil {
		if len(req.Techniques) == 0 {
			err := &core.PipelineError{
				Op:        "orchestration.enhance",
				Kind:      core.KindUnavailable,
				RequestID: requestID,
				Message:   "classification failed and no techniques were supplied",
				Err:       fmt.Errorf("%v: %w", clsErr, core.ErrServiceUnavailable),
			}
			span.RecordError(err)
			o.telemetry.RecordMetric("enhance.failures", 1, map[string]string{"stage": "classification"})
			o.logger.Error("Enhancement aborted, classifier down with no explicit techniques", map[string]interface{}{
				"operation":  "orchestration.enhance",
				"request_id": requestID,
				"error":      clsErr.Error(),
				"error_type": fmt.Sprintf("%T", clsErr),
			})
			return nil, err
		}
		warnings = append(warnings, core.WarningClassifierDown)
		o.logger.Warn("Classifier unavailable, proceeding with caller techniques", map[string]interface{}{
			"operation":  "orchestration.enhance",
			"request_id": requestID,
			"error":      clsErr.Error(),
		})
		intentRes = nil
	}

	if err := ctx.Err(); err != nil {
		canceled := &core.PipelineError{
			Op:        "orchestration.enhance",
			Kind:      core.KindTimeout,
			RequestID: requestID,
			Message:   "canceled before technique application",
			Err:       err,
		}
		span.RecordError(canceled)
		o.telemetry.RecordMetric("enhance.failures", 1, map[string]string{"stage": "timeout"})
		return nil, canceled
	}

	var suggested []string
	if intentRes != nil {
		suggested = intentRes.SuggestedTechniques
		warnings = append(warnings, intentRes.Warnings...)
	}
	ids := mergeTechniques(req.Techniques, suggested)
	span.SetAttribute("enhance.techniques", len(ids))

	result, err := o.engine.ApplyTechniques(ctx, req.Text, ids, techniqueContext(req, intentRes))
	if err != nil {
		span.RecordError(err)
		o.telemetry.RecordMetric("enhance.failures", 1, map[string]string{"stage": "techniques"})
		return nil, err
	}

	resp := &core.EnhanceResponse{
		EnhancedText:      result.EnhancedText,
		TechniquesApplied: result.TechniquesApplied,
		GenerationTimeMs:  time.Since(start).Milliseconds(),
		TokenEstimate:     result.TokenEstimate,
		Confidence:        result.Confidence,
		Warnings:          append(warnings, result.Warnings...),
		Metadata: core.ResponseMetadata{
			Metrics: &result.Metrics,
			Context: req.Context,
		},
	}
	if intentRes != nil {
		resp.Metadata.Intent = string(intentRes.Intent)
		resp.Metadata.Complexity = string(intentRes.Complexity.Level)
		resp.Metadata.ModelVersion = intentRes.ModelVersion
	}

	o.recordHistory(req, resp, requestID)

	// The cached copy carries no request identity and no cache-path
	// warnings; those belong to individual requests.
	if storeErr := o.store(ctx, key, resp); storeErr != nil {
		resp.Warnings = appendUnique(resp.Warnings, core.WarningCacheDegraded)
	}
	resp.Metadata.RequestID = requestID

	o.telemetry.RecordMetric("enhance.duration_ms", float64(resp.GenerationTimeMs), map[string]string{"operation": "enhance"})
	o.logger.Info("Enhancement completed", map[string]interface{}{
		"operation":          "orchestration.enhance",
		"request_id":         requestID,
		"intent":             resp.Metadata.Intent,
		"techniques_applied": resp.TechniquesApplied,
		"generation_time_ms": resp.GenerationTimeMs,
		"warnings":           len(resp.Warnings),
	})
	return resp, nil
}

// lookup reads the fingerprint from the enhancement namespace. The second
// return reports backend degradation; a plain miss is (nil, false).
func (o *Orchestrator) lookup(ctx context.Context, key string) (*core.EnhanceResponse, bool) {
	if o.cache == nil {
		return nil, false
	}
	var resp core.EnhanceResponse
	found, err := cache.GetJSON(ctx, o.cache, cache.NamespaceEnhancement, key, &resp)
	if err != nil {
		o.logger.Warn("Enhancement cache read degraded", map[string]interface{}{
			"operation": "orchestration.cache",
			"error":     err.Error(),
		})
		return nil, true
	}
	if !found {
		return nil, false
	}
	return &resp, false
}

// store writes the response under the fingerprint, last writer wins.
func (o *Orchestrator) store(ctx context.Context, key string, resp *core.EnhanceResponse) error {
	if o.cache == nil {
		return nil
	}
	ttl := o.config.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	if err := cache.SetJSON(ctx, o.cache, cache.NamespaceEnhancement, key, resp, ttl); err != nil {
		o.logger.Warn("Enhancement cache write degraded", map[string]interface{}{
			"operation": "orchestration.cache",
			"error":     err.Error(),
		})
		return err
	}
	return nil
}

// recordHistory queues the completed enhancement. Failure to enqueue is
// already logged by the sink; it never surfaces to the caller.
func (o *Orchestrator) recordHistory(req *core.EnhanceRequest, resp *core.EnhanceResponse, requestID string) {
	if o.history == nil {
		return
	}

	rec := &history.Record{
		RequestID:        requestID,
		UserID:           req.UserID,
		SessionID:        req.SessionID,
		OriginalText:     req.Text,
		EnhancedText:     resp.EnhancedText,
		Intent:           resp.Metadata.Intent,
		Complexity:       resp.Metadata.Complexity,
		Techniques:       resp.TechniquesApplied,
		Confidence:       resp.Confidence,
		GenerationTimeMs: resp.GenerationTimeMs,
		TokenEstimate:    resp.TokenEstimate,
		Cached:           resp.Metadata.Cached,
		Warnings:         resp.Warnings,
	}
	if resp.Metadata.ModelVersion != "" || req.TargetModel != "" {
		rec.Metadata = map[string]interface{}{}
		if resp.Metadata.ModelVersion != "" {
			rec.Metadata["model_version"] = resp.Metadata.ModelVersion
		}
		if req.TargetModel != "" {
			rec.Metadata["target_model"] = req.TargetModel
		}
	}
	o.history.EnqueueHistory(rec)

	if req.UserID != "" {
		o.history.EnqueueActivity(&history.UserActivity{
			UserID:    req.UserID,
			Action:    "enhance",
			RequestID: requestID,
		})
	}
}

// intentOverride turns a caller-supplied intent into a verdict: full
// confidence, suggestions from the intent's default list restricted to
// enabled techniques, in priority order.
func (o *Orchestrator) intentOverride(req *core.EnhanceRequest) *core.IntentResult {
	intent := core.Intent(req.Intent)
	level := core.ComplexityModerate
	if req.Complexity != "" {
		level = core.ComplexityLevel(req.Complexity)
	}

	defaults := core.DefaultTechniquesForIntent[intent]
	want := make(map[string]bool, len(defaults))
	for _, id := range defaults {
		want[id] = true
	}
	var suggested []string
	for _, id := range o.engine.EnabledTechniques() {
		if want[id] {
			suggested = append(suggested, id)
		}
	}

	return &core.IntentResult{
		Intent:              intent,
		Confidence:          1.0,
		Complexity:          core.Complexity{Level: level, Score: 0.5},
		Audience:            core.AudienceGeneral,
		SuggestedTechniques: suggested,
	}
}

// fingerprint derives the cache key from what determines the output: the
// normalized text, the caller's technique list, and the target model. The
// classifier verdict is deliberately absent so hits skip classification.
func fingerprint(req *core.EnhanceRequest) string {
	ids := append([]string(nil), req.Techniques...)
	sort.Strings(ids)

	h := sha256.New()
	h.Write([]byte(core.NormalizeText(req.Text)))
	h.Write([]byte{0})
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	h.Write([]byte(req.TargetModel))
	return cacheKeyVersion + hex.EncodeToString(h.Sum(nil))
}

// mergeTechniques combines caller-supplied and suggested ids, caller order
// first, duplicates removed.
func mergeTechniques(caller, suggested []string) []string {
	out := make([]string, 0, len(caller)+len(suggested))
	seen := make(map[string]bool, len(caller)+len(suggested))
	for _, id := range caller {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	for _, id := range suggested {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// techniqueContext assembles the map techniques read. Caller context comes
// first, then generation parameters, then the request's own fields, so an
// explicit request field always beats a context entry of the same name.
func techniqueContext(req *core.EnhanceRequest, intentRes *core.IntentResult) map[string]interface{} {
	tctx := make(map[string]interface{}, len(req.Context)+len(req.Parameters)+6)
	for k, v := range req.Context {
		tctx[k] = v
	}
	for k, v := range req.Parameters {
		tctx[k] = v
	}

	if req.MaxTokens != nil {
		tctx["max_tokens"] = *req.MaxTokens
	}
	if req.Temperature != nil {
		tctx["temperature"] = *req.Temperature
	}
	if req.TargetModel != "" {
		tctx["target_model"] = req.TargetModel
	}

	complexity := req.Complexity
	if complexity == "" && intentRes != nil {
		complexity = string(intentRes.Complexity.Level)
	}
	if complexity != "" {
		if _, ok := tctx["complexity"]; !ok {
			tctx["complexity"] = complexity
		}
	}

	if intentRes != nil {
		if _, ok := tctx["intent"]; !ok {
			tctx["intent"] = string(intentRes.Intent)
		}
		if _, ok := tctx["audience"]; !ok && intentRes.Audience != "" {
			tctx["audience"] = string(intentRes.Audience)
		}
		if _, ok := tctx["task_type"]; !ok {
			tctx["task_type"] = string(intentRes.Intent)
		}
	}
	return tctx
}

func appendUnique(warnings []string, w string) []string {
	for _, existing := range warnings {
		if existing == w {
			return warnings
		}
	}
	return append(warnings, w)
}
