package core

import (
	"strings"
)

// Intent is one of the closed set of intent labels the classifier emits.
type Intent string

const (
	IntentQuestionAnswering Intent = "question_answering"
	IntentCreativeWriting   Intent = "creative_writing"
	IntentCodeGeneration    Intent = "code_generation"
	IntentDataAnalysis      Intent = "data_analysis"
	IntentReasoning         Intent = "reasoning"
	IntentSummarization     Intent = "summarization"
	IntentTranslation       Intent = "translation"
	IntentConversation      Intent = "conversation"
	IntentTaskPlanning      Intent = "task_planning"
	IntentProblemSolving    Intent = "problem_solving"
)

// AllIntents lists every label in the closed set.
var AllIntents = []Intent{
	IntentQuestionAnswering,
	IntentCreativeWriting,
	IntentCodeGeneration,
	IntentDataAnalysis,
	IntentReasoning,
	IntentSummarization,
	IntentTranslation,
	IntentConversation,
	IntentTaskPlanning,
	IntentProblemSolving,
}

// ValidIntent reports whether s is a member of the closed label set.
func ValidIntent(s string) bool {
	for _, i := range AllIntents {
		if string(i) == s {
			return true
		}
	}
	return false
}

// ComplexityLevel buckets a prompt's estimated difficulty.
type ComplexityLevel string

const (
	ComplexitySimple   ComplexityLevel = "simple"
	ComplexityModerate ComplexityLevel = "moderate"
	ComplexityComplex  ComplexityLevel = "complex"
)

// Audience is the detected reader the answer should target.
type Audience string

const (
	AudienceChild        Audience = "child"
	AudienceBeginner     Audience = "beginner"
	AudienceIntermediate Audience = "intermediate"
	AudienceExpert       Audience = "expert"
	AudienceGeneral      Audience = "general"
)

// Source records which tier produced an IntentResult.
type Source string

const (
	SourceRules  Source = "rules"
	SourceML     Source = "ml"
	SourceCache  Source = "cache"
	SourceHybrid Source = "hybrid"
)

// Warning markers attached to results. Warnings never become errors.
const (
	WarningLowConfidence    = "low_confidence"
	WarningPostProcessEmpty = "post_process_empty"
	WarningBatchTruncated   = "batch_truncated"
	WarningCacheDegraded    = "cache_degraded"
	WarningClassifierDown   = "classifier_unavailable"
)

// Complexity pairs the bucketed level with the numeric score the ML model
// produces. Rule-engine results carry a derived score.
type Complexity struct {
	Level ComplexityLevel `json:"level"`
	Score float64         `json:"score"`
}

// IntentResult is the classifier's verdict for one prompt.
//
// Invariants: if Source is ml, ModelVersion is set; if Source is rules,
// MatchedPatterns carries the rule trace. Confidence is within [0,1].
type IntentResult struct {
	Intent              Intent     `json:"intent"`
	Confidence          float64    `json:"confidence"`
	Complexity          Complexity `json:"complexity"`
	Audience            Audience   `json:"audience"`
	SuggestedTechniques []string   `json:"suggested_techniques"`
	Source              Source     `json:"source"`
	ModelVersion        string     `json:"model_version,omitempty"`
	MatchedPatterns     []string   `json:"matched_patterns,omitempty"`
	Warnings            []string   `json:"warnings,omitempty"`
	InferenceTimeMs     int64      `json:"inference_time_ms,omitempty"`
	RetryAttempts       int        `json:"retry_attempts,omitempty"`
}

// TechniqueDescriptor is the static record for one registered technique.
// Lower Priority applies first; ties break by ID. Descriptors are immutable
// once registered.
type TechniqueDescriptor struct {
	ID                string                 `json:"id"`
	Name              string                 `json:"name"`
	Priority          int                    `json:"priority"`
	Enabled           bool                   `json:"enabled"`
	DefaultParameters map[string]interface{} `json:"default_parameters,omitempty"`
}

// EnhancementMetrics scores the enhanced prompt against the original.
type EnhancementMetrics struct {
	Clarity        float64            `json:"clarity"`
	Specificity    float64            `json:"specificity"`
	Coherence      float64            `json:"coherence"`
	OverallQuality float64            `json:"overall_quality"`
	ImprovementPct float64            `json:"improvement_pct"`
	PerTechnique   map[string]float64 `json:"per_technique,omitempty"`
}

// EnhancementResult is the engine's output for one prompt.
type EnhancementResult struct {
	EnhancedText      string             `json:"enhanced_text"`
	TechniquesApplied []string           `json:"techniques_applied"`
	Confidence        float64            `json:"confidence"`
	GenerationTimeMs  int64              `json:"generation_time_ms"`
	TokenEstimate     int                `json:"token_estimate"`
	Warnings          []string           `json:"warnings,omitempty"`
	Metrics           EnhancementMetrics `json:"metrics"`
}

// DefaultTechniquesForIntent maps each intent label to its default
// technique shortlist, in suggestion order.
var DefaultTechniquesForIntent = map[Intent][]string{
	IntentQuestionAnswering: {"chain_of_thought", "few_shot"},
	IntentCreativeWriting:   {"few_shot", "role_play"},
	IntentCodeGeneration:    {"structured_output", "step_by_step", "few_shot"},
	IntentDataAnalysis:      {"chain_of_thought", "structured_output"},
	IntentReasoning:         {"chain_of_thought", "tree_of_thoughts", "self_consistency"},
	IntentSummarization:     {"structured_output"},
	IntentTranslation:       {"few_shot"},
	IntentConversation:      {"role_play"},
	IntentTaskPlanning:      {"step_by_step", "structured_output"},
	IntentProblemSolving:    {"chain_of_thought", "react", "self_consistency"},
}

// NormalizeText lowercases and collapses interior whitespace. Cache keys and
// fingerprints are computed over normalized text so that formatting-only
// variants of a prompt share an entry.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
