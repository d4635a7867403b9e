package technique

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/promptlift/promptlift/core"
)

// Engine applies registered techniques to prompts in priority order. It
// implements core.Enhancer. Per-call state is stack-local; one engine serves
// all requests.
type Engine struct {
	registry  *Registry
	logger    core.Logger
	telemetry core.Telemetry
}

// EngineOptions configures the engine. Registry is required.
type EngineOptions struct {
	Registry  *Registry
	Logger    core.Logger
	Telemetry core.Telemetry
}

// NewEngine builds the technique engine.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Registry == nil {
		return nil, &core.PipelineError{
			Op:      "technique.new",
			Kind:    core.KindValidation,
			Message: "registry is required",
			Err:     core.ErrMissingConfiguration,
		}
	}
	if opts.Logger == nil {
		opts.Logger = &core.NoOpLogger{}
	}
	if opts.Telemetry == nil {
		opts.Telemetry = &core.NoOpTelemetry{}
	}
	return &Engine{
		registry:  opts.Registry,
		logger:    opts.Logger,
		telemetry: opts.Telemetry,
	}, nil
}

type step struct {
	id         string
	impl       Technique
	descriptor core.TechniqueDescriptor
}

// ApplyTechniques transforms text through ids in priority order (ascending,
// ties by id). A technique that rejects its input or fails is skipped with a
// warning; the previous text carries forward. The returned result always has
// non-empty EnhancedText for a valid request.
func (e *Engine) ApplyTechniques(ctx context.Context, text string, ids []string, tctx map[string]interface{}) (*core.EnhancementResult, error) {
	ctx, span := e.telemetry.StartSpan(ctx, "technique.apply")
	defer span.End()
	start := time.Now()

	if strings.TrimSpace(text) == "" {
		err := &core.PipelineError{
			Op:      "technique.apply",
			Kind:    core.KindValidation,
			Message: "text is empty",
			Err:     core.ErrEmptyText,
		}
		span.RecordError(err)
		return nil, err
	}

	budget, err := tokenBudget(tctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	steps, err := e.resolve(ids)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	result := &core.EnhancementResult{
		TechniquesApplied: make([]string, 0, len(steps)),
	}

	current := text
	for _, s := range steps {
		if ctx.Err() != nil {
			canceled := &core.PipelineError{
				Op:      "technique.apply",
				Kind:    core.KindTimeout,
				Message: "canceled between techniques",
				Err:     ctx.Err(),
			}
			span.RecordError(canceled)
			return nil, canceled
		}

		if !s.impl.ValidateInput(current, tctx) {
			e.logger.Warn("Technique rejected input, skipping", map[string]interface{}{
				"operation": "technique_apply",
				"technique": s.id,
			})
			result.Warnings = append(result.Warnings, "technique_skipped:"+s.id)
			continue
		}

		next, applyErr := e.safeApply(s, current, tctx)
		if applyErr != nil {
			e.logger.Warn("Technique failed, keeping previous text", map[string]interface{}{
				"operation":  "technique_apply",
				"technique":  s.id,
				"error":      applyErr,
				"error_type": fmt.Sprintf("%T", applyErr),
			})
			result.Warnings = append(result.Warnings, "technique_failed:"+s.id)
			continue
		}

		current = next
		result.TechniquesApplied = append(result.TechniquesApplied, s.id)
	}

	processed := collapseWhitespace(current)
	processed, truncated := truncateToBudget(processed, budget)
	if truncated {
		result.Warnings = append(result.Warnings, "truncated_to_token_budget")
	}
	if processed == "" {
		processed = text
		result.Warnings = append(result.Warnings, core.WarningPostProcessEmpty)
	}

	result.EnhancedText = processed
	result.TokenEstimate = EstimateTokens(processed)
	result.GenerationTimeMs = time.Since(start).Milliseconds()
	result.Metrics = e.computeMetrics(text, processed, steps, result.TechniquesApplied)
	result.Confidence = result.Metrics.OverallQuality

	span.SetAttribute("technique.applied", len(result.TechniquesApplied))
	span.SetAttribute("technique.token_estimate", result.TokenEstimate)

	return result, nil
}

// EnabledTechniques returns the enabled ids in catalog order.
func (e *Engine) EnabledTechniques() []string {
	descriptors := e.registry.ListEnabled()
	ids := make([]string, len(descriptors))
	for i, d := range descriptors {
		ids[i] = d.ID
	}
	return ids
}

// resolve maps ids to steps, rejecting unknown or disabled ids before any
// text changes hands.
func (e *Engine) resolve(ids []string) ([]step, error) {
	steps := make([]step, 0, len(ids))
	for _, id := range ids {
		impl, descriptor, ok := e.registry.Get(id)
		if !ok || !descriptor.Enabled {
			return nil, &core.PipelineError{
				Op:      "technique.apply",
				Kind:    core.KindValidation,
				Message: fmt.Sprintf("technique %q is not available", id),
				Err:     core.ErrUnknownTechnique,
			}
		}
		steps = append(steps, step{id: id, impl: impl, descriptor: descriptor})
	}

	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].descriptor.Priority != steps[j].descriptor.Priority {
			return steps[i].descriptor.Priority < steps[j].descriptor.Priority
		}
		return steps[i].id < steps[j].id
	})
	return steps, nil
}

// safeApply runs one technique with panic isolation. A panicking technique
// must never take down the request.
func (e *Engine) safeApply(s step, text string, tctx map[string]interface{}) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("technique %s panicked: %v", s.id, r)
			e.logger.Error("Technique panicked", map[string]interface{}{
				"operation": "technique_apply",
				"technique": s.id,
				"panic":     r,
				"stack":     string(debug.Stack()),
			})
		}
	}()
	return s.impl.Apply(text, tctx)
}

// tokenBudget reads max_tokens from the technique context. Absent means
// unlimited; a present non-positive budget can never be satisfied.
func tokenBudget(tctx map[string]interface{}) (int, error) {
	if tctx == nil {
		return 0, nil
	}
	if _, present := tctx["max_tokens"]; !present {
		return 0, nil
	}
	budget, ok := ctxInt(tctx, "max_tokens")
	if !ok || budget < 1 {
		return 0, &core.PipelineError{
			Op:      "technique.apply",
			Kind:    core.KindValidation,
			Message: fmt.Sprintf("token budget %v cannot be satisfied", tctx["max_tokens"]),
			Err:     core.ErrInvalidInput,
		}
	}
	return budget, nil
}

// collapseWhitespace normalizes the enhanced text: space and tab runs become
// one space, trailing spaces drop, and blank-line runs collapse to a single
// blank line. Applying it twice yields the same text.
func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")

	var b strings.Builder
	b.Grow(len(s))
	blankRun := 0
	wrote := false
	for _, line := range lines {
		collapsed := strings.Join(strings.Fields(line), " ")
		if collapsed == "" {
			blankRun++
			continue
		}
		if wrote {
			b.WriteString("\n")
			if blankRun > 0 {
				b.WriteString("\n")
			}
		}
		b.WriteString(collapsed)
		blankRun = 0
		wrote = true
	}
	return b.String()
}

// truncateToBudget cuts text so its token estimate fits the budget, marking
// the cut with an ellipsis. A zero budget means unlimited.
func truncateToBudget(s string, budget int) (string, bool) {
	if budget <= 0 || EstimateTokens(s) <= budget {
		return s, false
	}

	const marker = "..."
	runes := []rune(s)
	keep := budget*4 - len(marker)
	if keep < 0 {
		keep = 0
	}
	if keep > len(runes) {
		keep = len(runes)
	}
	return string(runes[:keep]) + marker, true
}
