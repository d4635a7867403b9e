package intent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/promptlift/promptlift/cache"
	"github.com/promptlift/promptlift/core"
)

// TechniqueCatalog is the slice of the technique registry the classifier
// needs: which techniques exist and are enabled, with their priorities.
type TechniqueCatalog interface {
	ListEnabled() []core.TechniqueDescriptor
}

// PatternSink receives ML verdicts worth persisting as learned patterns.
// Implementations must not block the classification path.
type PatternSink interface {
	RecordPattern(ctx context.Context, text string, result *core.IntentResult)
}

// Classifier routes between the rule engine and the ML tier according to
// the configured mode, caches verdicts, and fills suggested techniques.
// It implements core.Classifier.
type Classifier struct {
	config    *core.ClassifierConfig
	rules     *RuleEngine
	ml        core.Classifier
	cache     cache.Cache
	catalog   TechniqueCatalog
	patterns  PatternSink
	logger    core.Logger
	telemetry core.Telemetry
	group     singleflight.Group
}

// ClassifierOptions configures the hybrid classifier. Config is required.
// Without ML the classifier runs rules-only; without Cache every call
// classifies fresh.
type ClassifierOptions struct {
	Config    *core.ClassifierConfig
	ML        core.Classifier
	Cache     cache.Cache
	Catalog   TechniqueCatalog
	Patterns  PatternSink
	Logger    core.Logger
	Telemetry core.Telemetry
}

// NewClassifier builds the hybrid classifier.
func NewClassifier(opts ClassifierOptions) (*Classifier, error) {
	if opts.Config == nil {
		return nil, &core.PipelineError{
			Op:      "intent.new",
			Kind:    core.KindValidation,
			Message: "classifier config is required",
			Err:     core.ErrMissingConfiguration,
		}
	}
	if opts.Logger == nil {
		opts.Logger = &core.NoOpLogger{}
	}
	if opts.Telemetry == nil {
		opts.Telemetry = &core.NoOpTelemetry{}
	}

	return &Classifier{
		config:    opts.Config,
		rules:     NewRuleEngine(),
		ml:        opts.ML,
		cache:     opts.Cache,
		catalog:   opts.Catalog,
		patterns:  opts.Patterns,
		logger:    opts.Logger,
		telemetry: opts.Telemetry,
	}, nil
}

// Classify returns exactly one intent verdict for text. Identical texts
// classified concurrently share one execution; repeated texts within the
// cache TTL are served from the intent namespace with Source=cache.
func (c *Classifier) Classify(ctx context.Context, text string) (*core.IntentResult, error) {
	ctx, span := c.telemetry.StartSpan(ctx, "intent.classify")
	defer span.End()

	if strings.TrimSpace(text) == "" {
		err := &core.PipelineError{
			Op:      "intent.classify",
			Kind:    core.KindValidation,
			Message: "text is empty",
			Err:     core.ErrEmptyText,
		}
		span.RecordError(err)
		return nil, err
	}

	key := c.cacheKey(text)

	if cached := c.lookup(ctx, key); cached != nil {
		span.SetAttribute("intent.cache_hit", true)
		span.SetAttribute("intent.intent", string(cached.Intent))
		return cached, nil
	}

	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		result := c.route(ctx, text)
		c.store(ctx, key, result)
		return result, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	result := v.(*core.IntentResult)
	if shared {
		// Deduplicated callers get their own copy so later mutation of
		// warnings cannot cross requests.
		result = cloneResult(result)
	}

	span.SetAttribute("intent.intent", string(result.Intent))
	span.SetAttribute("intent.confidence", result.Confidence)
	span.SetAttribute("intent.source", string(result.Source))

	return result, nil
}

// cacheKey hashes (normalized text, routing mode) so a mode change never
// serves verdicts computed under different routing rules.
func (c *Classifier) cacheKey(text string) string {
	h := sha256.New()
	h.Write([]byte(core.NormalizeText(text)))
	h.Write([]byte{0})
	h.Write([]byte(c.config.Mode))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Classifier) lookup(ctx context.Context, key string) *core.IntentResult {
	if c.cache == nil {
		return nil
	}

	var result core.IntentResult
	found, err := cache.GetJSON(ctx, c.cache, cache.NamespaceIntent, key, &result)
	if err != nil || !found {
		return nil
	}

	result.Source = core.SourceCache
	return &result
}

func (c *Classifier) store(ctx context.Context, key string, result *core.IntentResult) {
	if c.cache == nil {
		return
	}
	if err := cache.SetJSON(ctx, c.cache, cache.NamespaceIntent, key, result, c.config.CacheTTL); err != nil {
		c.logger.Debug("Intent cache populate skipped", map[string]interface{}{
			"operation": "intent_cache_set",
			"error":     err,
		})
	}
}

// route runs the two tiers according to the configured mode. The rule
// engine always runs: it is microseconds of work and its audience and
// complexity enrich ML verdicts too.
func (c *Classifier) route(ctx context.Context, text string) *core.IntentResult {
	ruleVerdict := c.rules.Evaluate(text)

	// No ML tier wired means rules-only operation, not an outage.
	if c.ml == nil {
		return c.fromRules(ruleVerdict, nil)
	}

	switch c.config.Mode {
	case core.ModePerformance:
		if ruleVerdict.Score >= c.config.LowConfidence {
			return c.fromRules(ruleVerdict, nil)
		}
		return c.consultML(ctx, text, ruleVerdict)

	case core.ModeQuality:
		mlVerdict, err := c.classifyML(ctx, text)
		if err == nil && mlVerdict.Confidence >= c.config.LowConfidence {
			return c.fromML(ctx, text, mlVerdict, ruleVerdict)
		}
		return c.fromRules(ruleVerdict, err)

	default: // adaptive
		if ruleVerdict.Score >= c.config.HighConfidence {
			return c.fromRules(ruleVerdict, nil)
		}
		return c.consultML(ctx, text, ruleVerdict)
	}
}

func (c *Classifier) consultML(ctx context.Context, text string, ruleVerdict *RuleResult) *core.IntentResult {
	mlVerdict, err := c.classifyML(ctx, text)
	if err != nil {
		return c.fromRules(ruleVerdict, err)
	}
	return c.fromML(ctx, text, mlVerdict, ruleVerdict)
}

func (c *Classifier) classifyML(ctx context.Context, text string) (*core.IntentResult, error) {
	if c.ml == nil {
		return nil, core.ErrNotInitialized
	}
	return c.ml.Classify(ctx, text)
}

// fromRules finalizes a rule-engine verdict. mlErr is non-nil when the ML
// tier was consulted and failed; the verdict then carries the
// classifier_unavailable warning on top of any confidence warning.
func (c *Classifier) fromRules(ruleVerdict *RuleResult, mlErr error) *core.IntentResult {
	result := &core.IntentResult{
		Intent:          ruleVerdict.Intent,
		Confidence:      ruleVerdict.Score,
		Complexity:      ruleVerdict.Complexity,
		Audience:        ruleVerdict.Audience,
		Source:          core.SourceRules,
		MatchedPatterns: ruleVerdict.MatchedPatterns,
	}

	if mlErr != nil && !core.IsValidation(mlErr) {
		c.logger.Warn("ML tier unavailable, using rule verdict", map[string]interface{}{
			"operation":  "intent_fallback",
			"intent":     result.Intent,
			"confidence": result.Confidence,
			"error":      mlErr,
		})
		result.Warnings = append(result.Warnings, core.WarningClassifierDown)
	}

	c.finalize(result)
	return result
}

// fromML finalizes an ML verdict, borrowing the rule engine's audience
// when the model reports none. A borrowed field marks the verdict hybrid.
func (c *Classifier) fromML(ctx context.Context, text string, mlVerdict *core.IntentResult, ruleVerdict *RuleResult) *core.IntentResult {
	result := mlVerdict

	if result.Audience == "" {
		result.Audience = ruleVerdict.Audience
		if ruleVerdict.Audience != core.AudienceGeneral {
			result.Source = core.SourceHybrid
		}
	}

	c.finalize(result)

	if c.patterns != nil && c.config.PersistMLPatterns {
		c.patterns.RecordPattern(ctx, text, result)
	}

	return result
}

// finalize applies the invariants shared by both tiers: suggested
// techniques from the intent map filtered by the registry, and the
// low-confidence warning below the low threshold. A best guess is always
// returned, never an error.
func (c *Classifier) finalize(result *core.IntentResult) {
	if len(result.SuggestedTechniques) == 0 {
		result.SuggestedTechniques = c.suggestTechniques(result.Intent)
	} else {
		result.SuggestedTechniques = c.filterEnabled(result.SuggestedTechniques)
		if len(result.SuggestedTechniques) == 0 {
			result.SuggestedTechniques = c.suggestTechniques(result.Intent)
		}
	}

	if result.Confidence < c.config.LowConfidence {
		if !hasWarning(result.Warnings, core.WarningLowConfidence) {
			result.Warnings = append(result.Warnings, core.WarningLowConfidence)
		}
	}
}

// suggestTechniques maps an intent to its default techniques, drops any
// that are disabled or unregistered, and ranks the rest by (priority,
// position in the intent map).
func (c *Classifier) suggestTechniques(intent core.Intent) []string {
	defaults := core.DefaultTechniquesForIntent[intent]
	if len(defaults) == 0 {
		return nil
	}
	if c.catalog == nil {
		out := make([]string, len(defaults))
		copy(out, defaults)
		return out
	}

	enabled := make(map[string]int) // id -> priority
	for _, d := range c.catalog.ListEnabled() {
		enabled[d.ID] = d.Priority
	}

	type ranked struct {
		id       string
		priority int
		weight   int
	}
	var candidates []ranked
	for i, id := range defaults {
		if priority, ok := enabled[id]; ok {
			candidates = append(candidates, ranked{id: id, priority: priority, weight: i})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority < candidates[j].priority
		}
		return candidates[i].weight < candidates[j].weight
	})

	out := make([]string, len(candidates))
	for i, cand := range candidates {
		out[i] = cand.id
	}
	return out
}

// filterEnabled keeps only registered, enabled technique ids, preserving
// the caller's order.
func (c *Classifier) filterEnabled(ids []string) []string {
	if c.catalog == nil {
		return ids
	}
	enabled := make(map[string]bool)
	for _, d := range c.catalog.ListEnabled() {
		enabled[d.ID] = true
	}

	var out []string
	for _, id := range ids {
		if enabled[id] {
			out = append(out, id)
		}
	}
	return out
}

func hasWarning(warnings []string, warning string) bool {
	for _, w := range warnings {
		if w == warning {
			return true
		}
	}
	return false
}

func cloneResult(in *core.IntentResult) *core.IntentResult {
	out := *in
	out.SuggestedTechniques = append([]string(nil), in.SuggestedTechniques...)
	out.MatchedPatterns = append([]string(nil), in.MatchedPatterns...)
	out.Warnings = append([]string(nil), in.Warnings...)
	return &out
}
