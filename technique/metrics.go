package technique

import (
	"strings"

	"github.com/promptlift/promptlift/core"
)

// Marker vocabularies for the closed-form quality estimators. All matching
// happens on lowercased text.
var (
	stepMarkers       = []string{"step by step", "step-by-step", "1.", "first,"}
	directiveMarkers  = []string{"must", "should", "specifically", "exactly", "ensure"}
	transitionMarkers = []string{"first", "then", "next", "finally", "therefore"}
)

// defaultTechniqueScore is used for applied techniques that do not implement
// MetricsProvider.
const defaultTechniqueScore = 0.75

// computeMetrics scores the enhanced text against the original. The
// estimators are deliberately closed-form: they reward surface structure the
// techniques are supposed to introduce, not semantic quality.
func (e *Engine) computeMetrics(original, enhanced string, steps []step, applied []string) core.EnhancementMetrics {
	lower := strings.ToLower(enhanced)

	m := core.EnhancementMetrics{
		Clarity:     clarityScore(lower),
		Specificity: markerScore(lower, directiveMarkers, 0.4, 0.15),
		Coherence:   markerScore(lower, transitionMarkers, 0.4, 0.15),
	}
	m.OverallQuality = 0.4*m.Clarity + 0.3*m.Specificity + 0.3*m.Coherence
	m.ImprovementPct = improvementPct(original, enhanced)

	appliedSet := make(map[string]bool, len(applied))
	for _, id := range applied {
		appliedSet[id] = true
	}

	m.PerTechnique = make(map[string]float64, len(applied))
	for _, s := range steps {
		if !appliedSet[s.id] {
			continue
		}
		if provider, ok := s.impl.(MetricsProvider); ok {
			m.PerTechnique[s.id] = clamp01(averageValues(provider.Metrics(enhanced)))
			continue
		}
		m.PerTechnique[s.id] = defaultTechniqueScore
	}

	return m
}

// clarityScore rewards numbered or bulleted structure and explicit step
// language.
func clarityScore(lower string) float64 {
	score := 0.4
	if strings.Contains(lower, "\n1.") || strings.HasPrefix(lower, "1.") {
		score += 0.2
	}
	if strings.Contains(lower, "\n-") || strings.Contains(lower, "\n*") {
		score += 0.1
	}
	for _, marker := range stepMarkers {
		if strings.Contains(lower, marker) {
			score += 0.2
			break
		}
	}
	if strings.Contains(lower, "\n") {
		score += 0.1
	}
	return clamp01(score)
}

// markerScore is the shared estimator: base plus a fixed reward per distinct
// marker found.
func markerScore(lower string, markers []string, base, perHit float64) float64 {
	score := base
	for _, marker := range markers {
		if containsToken(lower, marker) {
			score += perHit
		}
	}
	return clamp01(score)
}

// containsToken matches whole-word markers so "musty" does not count as
// "must".
func containsToken(lower, marker string) bool {
	if strings.Contains(marker, " ") {
		return strings.Contains(lower, marker)
	}
	padded := " " + strings.Map(punctToSpace, lower) + " "
	return strings.Contains(padded, " "+marker+" ")
}

func punctToSpace(r rune) rune {
	switch r {
	case '.', ',', ';', ':', '!', '?', '\n', '\t':
		return ' '
	}
	return r
}

// improvementPct measures relative length growth, bounded to ±500 so a
// pathological expansion cannot dominate dashboards.
func improvementPct(original, enhanced string) float64 {
	origLen := len([]rune(original))
	if origLen < 1 {
		origLen = 1
	}
	pct := (float64(len([]rune(enhanced)))/float64(origLen) - 1) * 100
	if pct > 500 {
		return 500
	}
	if pct < -500 {
		return -500
	}
	return pct
}

func averageValues(values map[string]float64) float64 {
	if len(values) == 0 {
		return defaultTechniqueScore
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
