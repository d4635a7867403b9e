// Package technique holds the enhancement technique library: a registry of
// named prompt transformations and the engine that applies them in priority
// order. Techniques are pure functions of (text, ctx) and never perform I/O.
package technique

import (
	"strings"
)

// Technique is the contract every prompt transformation implements.
//
// Apply must be deterministic for a given (text, ctx): the engine relies on
// this for cache correctness. ValidateInput is a cheap gate; returning false
// makes the engine skip the technique with a warning instead of failing the
// request.
type Technique interface {
	Apply(text string, ctx map[string]interface{}) (string, error)
	ValidateInput(text string, ctx map[string]interface{}) bool
	EstimateTokens(text string) int
}

// MetricsProvider is the optional introspection hook. Techniques that can
// score their own characteristic markers in the generated text implement it;
// the engine averages the returned values into per-technique quality scores.
type MetricsProvider interface {
	Metrics(generated string) map[string]float64
}

// EstimateTokens is the shared char-based heuristic: roughly four characters
// per token, never zero for non-empty text.
func EstimateTokens(text string) int {
	runes := len([]rune(text))
	if runes == 0 {
		return 0
	}
	return (runes + 3) / 4
}

// baseTechnique supplies the default gate and token estimate. Concrete
// techniques embed it and override what they need.
type baseTechnique struct{}

func (baseTechnique) ValidateInput(text string, _ map[string]interface{}) bool {
	return strings.TrimSpace(text) != ""
}

func (baseTechnique) EstimateTokens(text string) int {
	return EstimateTokens(text)
}

// Context accessors. Technique contexts arrive from JSON, so numbers may be
// float64 and lists may be []interface{}; these helpers absorb both shapes.

func ctxString(ctx map[string]interface{}, key string) (string, bool) {
	if ctx == nil {
		return "", false
	}
	s, ok := ctx[key].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func ctxStringOr(ctx map[string]interface{}, key, fallback string) string {
	if s, ok := ctxString(ctx, key); ok {
		return s
	}
	return fallback
}

func ctxInt(ctx map[string]interface{}, key string) (int, bool) {
	if ctx == nil {
		return 0, false
	}
	switch v := ctx[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func ctxIntOr(ctx map[string]interface{}, key string, fallback int) int {
	if n, ok := ctxInt(ctx, key); ok && n > 0 {
		return n
	}
	return fallback
}

func ctxBool(ctx map[string]interface{}, key string) bool {
	if ctx == nil {
		return false
	}
	b, ok := ctx[key].(bool)
	return ok && b
}

func ctxStringSlice(ctx map[string]interface{}, key string) []string {
	if ctx == nil {
		return nil
	}
	switch v := ctx[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func ctxMap(ctx map[string]interface{}, key string) map[string]interface{} {
	if ctx == nil {
		return nil
	}
	m, _ := ctx[key].(map[string]interface{})
	return m
}
