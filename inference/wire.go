package inference

import (
	"github.com/promptlift/promptlift/core"
)

// Wire types for the model service JSON protocol.

type classifyRequest struct {
	Text string `json:"text"`
}

type batchClassifyRequest struct {
	Texts []string `json:"texts"`
}

type batchClassifyResponse struct {
	Results []wireIntentResult `json:"results"`
}

type wireIntentResult struct {
	Intent     string             `json:"intent"`
	Confidence float64            `json:"confidence"`
	Complexity wireComplexity     `json:"complexity"`
	Techniques []wireTechnique    `json:"techniques,omitempty"`
	AllIntents map[string]float64 `json:"all_intents,omitempty"`
	Metadata   wireMetadata       `json:"metadata"`
}

type wireComplexity struct {
	Level string  `json:"level"`
	Score float64 `json:"score"`
}

type wireTechnique struct {
	Name  string  `json:"name"`
	Score float64 `json:"score,omitempty"`
}

type wireMetadata struct {
	ModelVersion    string `json:"model_version,omitempty"`
	InferenceTimeMs int64  `json:"inference_time_ms,omitempty"`
}

// toIntentResult converts the wire form to the core result. Labels outside
// the closed intent set collapse to question_answering with the model's
// confidence zeroed, so downstream never sees an unknown label.
func (w wireIntentResult) toIntentResult() core.IntentResult {
	result := core.IntentResult{
		Intent:          core.Intent(w.Intent),
		Confidence:      clamp01(w.Confidence),
		Source:          core.SourceML,
		ModelVersion:    w.Metadata.ModelVersion,
		InferenceTimeMs: w.Metadata.InferenceTimeMs,
		Complexity: core.Complexity{
			Level: core.ComplexityLevel(w.Complexity.Level),
			Score: clamp01(w.Complexity.Score),
		},
	}

	if !core.ValidIntent(w.Intent) {
		result.Intent = core.IntentQuestionAnswering
		result.Confidence = 0
	}

	switch result.Complexity.Level {
	case core.ComplexitySimple, core.ComplexityModerate, core.ComplexityComplex:
	default:
		result.Complexity.Level = core.ComplexityModerate
	}

	for _, t := range w.Techniques {
		if t.Name != "" {
			result.SuggestedTechniques = append(result.SuggestedTechniques, t.Name)
		}
	}

	return result
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
