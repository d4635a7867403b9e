package technique

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptlift/promptlift/core"
)

// markerTechnique records the text it saw and appends a marker, so tests
// can observe application order.
type markerTechnique struct {
	baseTechnique
	marker string
	seen   []string
}

func (t *markerTechnique) Apply(text string, _ map[string]interface{}) (string, error) {
	t.seen = append(t.seen, text)
	return text + "\n[" + t.marker + "]", nil
}

type panicTechnique struct{ baseTechnique }

func (t *panicTechnique) Apply(string, map[string]interface{}) (string, error) {
	panic("exploded mid-apply")
}

type rejectTechnique struct{ baseTechnique }

func (t *rejectTechnique) ValidateInput(string, map[string]interface{}) bool { return false }

func (t *rejectTechnique) Apply(text string, _ map[string]interface{}) (string, error) {
	return text + " [rejected]", nil
}

type eraserTechnique struct{ baseTechnique }

func (t *eraserTechnique) Apply(string, map[string]interface{}) (string, error) {
	return "", nil
}

func newTestEngine(t *testing.T) (*Engine, *Registry) {
	t.Helper()
	r := NewRegistry(nil)
	require.NoError(t, RegisterDefaults(r))
	e, err := NewEngine(EngineOptions{Registry: r})
	require.NoError(t, err)
	return e, r
}

func TestChainOfThoughtCustomSteps(t *testing.T) {
	e, _ := newTestEngine(t)

	result, err := e.ApplyTechniques(context.Background(), "Calculate compound interest",
		[]string{"chain_of_thought"},
		map[string]interface{}{"reasoning_steps": []string{"A", "B", "C", "D"}})
	require.NoError(t, err)

	text := result.EnhancedText
	positions := make([]int, 0, 4)
	for _, want := range []string{"1. A", "2. B", "3. C", "4. D"} {
		idx := strings.Index(text, want)
		require.NotEqual(t, -1, idx, "output must contain %q:\n%s", want, text)
		positions = append(positions, idx)
	}
	for i := 1; i < len(positions); i++ {
		assert.Greater(t, positions[i], positions[i-1], "steps must appear in order")
	}
	assert.Equal(t, []string{"chain_of_thought"}, result.TechniquesApplied)
}

func TestFewShotInputOutputFormat(t *testing.T) {
	e, _ := newTestEngine(t)

	result, err := e.ApplyTechniques(context.Background(), "Translate 'Hello' to Spanish",
		[]string{"few_shot"},
		map[string]interface{}{
			"examples": []interface{}{
				map[string]interface{}{"input": "dog", "output": "perro"},
				map[string]interface{}{"input": "cat", "output": "gato"},
			},
			"format_style": "input_output",
		})
	require.NoError(t, err)

	text := result.EnhancedText
	assert.Contains(t, text, "INPUT:")
	assert.Contains(t, text, "OUTPUT:")
	assert.Contains(t, text, "perro")
	assert.Contains(t, text, "gato")
}

func TestPriorityOrdering(t *testing.T) {
	r := NewRegistry(nil)
	alpha := &markerTechnique{marker: "alpha"}
	beta := &markerTechnique{marker: "beta"}
	require.NoError(t, r.Register(core.TechniqueDescriptor{ID: "alpha", Priority: 5, Enabled: true}, alpha))
	require.NoError(t, r.Register(core.TechniqueDescriptor{ID: "beta", Priority: 1, Enabled: true}, beta))
	e, err := NewEngine(EngineOptions{Registry: r})
	require.NoError(t, err)

	const raw = "raw prompt"
	result, err := e.ApplyTechniques(context.Background(), raw, []string{"alpha", "beta"}, nil)
	require.NoError(t, err)

	// beta (priority 1) sees the raw text; alpha sees beta's output.
	require.Len(t, beta.seen, 1)
	require.Len(t, alpha.seen, 1)
	assert.Equal(t, raw, beta.seen[0])
	assert.Equal(t, raw+"\n[beta]", alpha.seen[0])
	assert.Equal(t, []string{"beta", "alpha"}, result.TechniquesApplied)
}

func TestPriorityTieBreaksByID(t *testing.T) {
	r := NewRegistry(nil)
	first := &markerTechnique{marker: "aa"}
	second := &markerTechnique{marker: "zz"}
	require.NoError(t, r.Register(core.TechniqueDescriptor{ID: "zz", Priority: 7, Enabled: true}, second))
	require.NoError(t, r.Register(core.TechniqueDescriptor{ID: "aa", Priority: 7, Enabled: true}, first))
	e, err := NewEngine(EngineOptions{Registry: r})
	require.NoError(t, err)

	result, err := e.ApplyTechniques(context.Background(), "text", []string{"zz", "aa"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"aa", "zz"}, result.TechniquesApplied)
}

func TestUnknownTechniqueRejected(t *testing.T) {
	e, _ := newTestEngine(t)

	result, err := e.ApplyTechniques(context.Background(), "text", []string{"mind_reading"}, nil)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, core.ErrUnknownTechnique)
}

func TestDisabledTechniqueRejected(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, RegisterDefaults(r, "react"))
	e, err := NewEngine(EngineOptions{Registry: r})
	require.NoError(t, err)

	_, err = e.ApplyTechniques(context.Background(), "text", []string{"react"}, nil)
	assert.ErrorIs(t, err, core.ErrUnknownTechnique)
}

func TestEmptyTextRejected(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.ApplyTechniques(context.Background(), "   ", []string{"zero_shot"}, nil)
	assert.ErrorIs(t, err, core.ErrEmptyText)
}

func TestRejectedInputSkipsWithWarning(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(core.TechniqueDescriptor{ID: "picky", Priority: 1, Enabled: true}, &rejectTechnique{}))
	marker := &markerTechnique{marker: "after"}
	require.NoError(t, r.Register(core.TechniqueDescriptor{ID: "after", Priority: 2, Enabled: true}, marker))
	e, err := NewEngine(EngineOptions{Registry: r})
	require.NoError(t, err)

	result, err := e.ApplyTechniques(context.Background(), "text", []string{"picky", "after"}, nil)
	require.NoError(t, err)

	assert.Contains(t, result.Warnings, "technique_skipped:picky")
	assert.NotContains(t, result.EnhancedText, "[rejected]")
	assert.Equal(t, []string{"after"}, result.TechniquesApplied, "later techniques still run")
}

func TestPanicIsolatedToOneTechnique(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(core.TechniqueDescriptor{ID: "grenade", Priority: 1, Enabled: true}, &panicTechnique{}))
	marker := &markerTechnique{marker: "survivor"}
	require.NoError(t, r.Register(core.TechniqueDescriptor{ID: "survivor", Priority: 2, Enabled: true}, marker))
	e, err := NewEngine(EngineOptions{Registry: r})
	require.NoError(t, err)

	result, err := e.ApplyTechniques(context.Background(), "text", []string{"grenade", "survivor"}, nil)
	require.NoError(t, err, "a panicking technique must not fail the request")

	assert.Contains(t, result.Warnings, "technique_failed:grenade")
	assert.Equal(t, []string{"survivor"}, result.TechniquesApplied)
	assert.Equal(t, "text", marker.seen[0], "survivor must see the pre-panic text")
}

func TestPostProcessEmptyFallsBackToOriginal(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(core.TechniqueDescriptor{ID: "eraser", Priority: 1, Enabled: true}, &eraserTechnique{}))
	e, err := NewEngine(EngineOptions{Registry: r})
	require.NoError(t, err)

	result, err := e.ApplyTechniques(context.Background(), "keep me", []string{"eraser"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "keep me", result.EnhancedText)
	assert.Contains(t, result.Warnings, core.WarningPostProcessEmpty)
}

func TestTokenBudgetTruncation(t *testing.T) {
	e, _ := newTestEngine(t)

	long := strings.TrimSpace(strings.Repeat("alpha beta gamma ", 30))
	result, err := e.ApplyTechniques(context.Background(), long, nil,
		map[string]interface{}{"max_tokens": 10})
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(result.EnhancedText, "..."), "truncation must leave an ellipsis marker")
	assert.LessOrEqual(t, result.TokenEstimate, 10)
	assert.Contains(t, result.Warnings, "truncated_to_token_budget")
}

func TestImpossibleTokenBudgetRejected(t *testing.T) {
	e, _ := newTestEngine(t)

	for _, budget := range []interface{}{0, -5, "plenty"} {
		_, err := e.ApplyTechniques(context.Background(), "text", nil,
			map[string]interface{}{"max_tokens": budget})
		assert.ErrorIs(t, err, core.ErrInvalidInput, "budget %v must be rejected", budget)
	}
}

func TestWithinBudgetNotTruncated(t *testing.T) {
	e, _ := newTestEngine(t)

	result, err := e.ApplyTechniques(context.Background(), "short prompt", nil,
		map[string]interface{}{"max_tokens": 1000})
	require.NoError(t, err)

	assert.Equal(t, "short prompt", result.EnhancedText)
	assert.NotContains(t, result.Warnings, "truncated_to_token_budget")
}

func TestWhitespaceCollapseIdempotent(t *testing.T) {
	messy := "  a   b\t c \n\n\n\nd  \n\n e \n"
	once := collapseWhitespace(messy)
	twice := collapseWhitespace(once)
	assert.Equal(t, once, twice)
	assert.Equal(t, "a b c\n\nd\n\ne", once)
}

func TestEnginePostProcessingIdempotent(t *testing.T) {
	e, _ := newTestEngine(t)

	first, err := e.ApplyTechniques(context.Background(), "Explain   recursion \n\n\n simply",
		[]string{"step_by_step"}, nil)
	require.NoError(t, err)

	// Re-running the enhanced text through post-processing alone changes
	// nothing.
	second, err := e.ApplyTechniques(context.Background(), first.EnhancedText, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, first.EnhancedText, second.EnhancedText)
}

func TestCanceledContextStopsBetweenTechniques(t *testing.T) {
	e, _ := newTestEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.ApplyTechniques(ctx, "text", []string{"zero_shot"}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEnabledTechniquesCatalogOrder(t *testing.T) {
	e, _ := newTestEngine(t)

	assert.Equal(t, []string{
		"chain_of_thought", "tree_of_thoughts", "self_consistency", "react",
		"few_shot", "role_play", "emotional_appeal", "step_by_step",
		"structured_output", "constraints", "analogical", "zero_shot",
	}, e.EnabledTechniques())
}

func TestMetricsShape(t *testing.T) {
	e, _ := newTestEngine(t)

	result, err := e.ApplyTechniques(context.Background(), "Calculate compound interest",
		[]string{"chain_of_thought", "structured_output"}, nil)
	require.NoError(t, err)

	m := result.Metrics
	for name, v := range map[string]float64{
		"clarity":     m.Clarity,
		"specificity": m.Specificity,
		"coherence":   m.Coherence,
		"overall":     m.OverallQuality,
	} {
		assert.GreaterOrEqual(t, v, 0.0, name)
		assert.LessOrEqual(t, v, 1.0, name)
	}

	// Both applied techniques implement their own estimators.
	assert.Contains(t, m.PerTechnique, "chain_of_thought")
	assert.Contains(t, m.PerTechnique, "structured_output")
	assert.Greater(t, m.PerTechnique["chain_of_thought"], 0.9, "scaffold markers must be present")

	assert.Greater(t, m.ImprovementPct, 0.0)
	assert.LessOrEqual(t, m.ImprovementPct, 500.0)
	assert.Equal(t, m.OverallQuality, result.Confidence)
}

func TestMetricsDefaultScoreForPlainTechniques(t *testing.T) {
	e, _ := newTestEngine(t)

	result, err := e.ApplyTechniques(context.Background(), "Compare two options",
		[]string{"tree_of_thoughts"}, nil)
	require.NoError(t, err)

	assert.Equal(t, 0.75, result.Metrics.PerTechnique["tree_of_thoughts"])
}

func TestImprovementPctBounded(t *testing.T) {
	assert.Equal(t, 500.0, improvementPct("ab", strings.Repeat("x", 5000)))
	assert.InDelta(t, 0.0, improvementPct("same", "same"), 0.0001)
	assert.Less(t, improvementPct("a long original prompt", "tiny"), 0.0)
}
