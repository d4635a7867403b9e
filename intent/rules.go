// Package intent implements the two-tier intent classifier: a deterministic
// rule engine that scores prompts against a fixed pattern inventory, and an
// ML tier (the inference client) consulted according to the routing mode.
package intent

import (
	"fmt"
	"strings"

	"github.com/promptlift/promptlift/core"
)

// Scoring weights. A phrase hit dominates; keyword hits are capped so a
// keyword-stuffed prompt cannot outrank a phrase match.
const (
	phraseWeight      = 0.5
	extraPhraseWeight = 0.1
	keywordWeight     = 0.2
	maxKeywordHits    = 2
)

// intentRule is the pattern inventory for one intent. Phrases match as
// substrings of the normalized text and carry the most weight; keywords
// are cheaper signals.
type intentRule struct {
	phrases  []string
	keywords []string
}

var ruleInventory = map[core.Intent]intentRule{
	core.IntentQuestionAnswering: {
		phrases:  []string{"what is", "what are", "can you explain", "tell me about", "why does", "how does", "how do i"},
		keywords: []string{"what", "why", "how", "when", "where", "explain", "question", "answer"},
	},
	core.IntentCreativeWriting: {
		phrases:  []string{"write a story", "write a poem", "compose a", "creative story", "write fiction"},
		keywords: []string{"story", "poem", "fiction", "creative", "novel", "character", "plot", "imagine"},
	},
	core.IntentCodeGeneration: {
		phrases:  []string{"python function", "write a function", "write code", "implement a", "write a script", "fix this code", "refactor"},
		keywords: []string{"code", "function", "python", "javascript", "script", "program", "implement", "algorithm", "debug", "class", "api", "sort"},
	},
	core.IntentDataAnalysis: {
		phrases:  []string{"analyze this data", "analyze the data", "data analysis", "create a chart", "statistical analysis"},
		keywords: []string{"data", "analyze", "analysis", "dataset", "statistics", "chart", "graph", "trend", "correlation", "csv"},
	},
	core.IntentReasoning: {
		phrases:  []string{"think through", "reason about", "logical reasoning", "work out whether"},
		keywords: []string{"reason", "logic", "logical", "deduce", "infer", "premise", "conclusion", "prove", "calculate"},
	},
	core.IntentSummarization: {
		phrases:  []string{"summarize this", "summarize the", "give me a summary", "tl;dr"},
		keywords: []string{"summarize", "summary", "condense", "shorten", "brief", "key points", "main points"},
	},
	core.IntentTranslation: {
		phrases:  []string{"translate this", "translate to", "translate into", "how do you say"},
		keywords: []string{"translate", "translation", "spanish", "french", "german", "japanese", "language"},
	},
	core.IntentConversation: {
		phrases:  []string{"let's chat", "let's talk", "tell me about yourself"},
		keywords: []string{"chat", "talk", "hello", "hi", "thanks", "conversation"},
	},
	core.IntentTaskPlanning: {
		phrases:  []string{"create a plan", "make a plan", "plan for", "project plan", "organize my"},
		keywords: []string{"plan", "schedule", "organize", "roadmap", "milestones", "tasks", "timeline", "deadline"},
	},
	core.IntentProblemSolving: {
		phrases:  []string{"solve this problem", "help me solve", "find a solution", "troubleshoot"},
		keywords: []string{"solve", "problem", "solution", "fix", "issue", "troubleshoot", "help", "stuck"},
	},
}

// Audience cues. Checked in order; first match wins.
var audienceCues = []struct {
	audience core.Audience
	cues     []string
}{
	{core.AudienceChild, []string{"5 year old", "5-year-old", "five year old", "five-year-old", "like i'm five", "for a child", "for kids", "to a kid"}},
	{core.AudienceBeginner, []string{"beginner", "new to", "just starting", "novice", "first time", "never done"}},
	{core.AudienceExpert, []string{"expert", "advanced", "phd", "deep dive", "for professionals"}},
	{core.AudienceIntermediate, []string{"intermediate", "some experience", "familiar with"}},
}

var (
	simpleCues  = []string{"simple", "simply", "briefly", "in short", "quick", "eli5", "basic"}
	complexCues = []string{"detailed", "comprehensive", "in depth", "in-depth", "thorough", "advanced", "rigorous"}
	clauseCues  = []string{",", ";", " and ", " then ", " after ", " while ", " because "}
)

// RuleResult is the rule engine's verdict for one prompt.
type RuleResult struct {
	Intent          core.Intent
	Score           float64
	Audience        core.Audience
	Complexity      core.Complexity
	MatchedPatterns []string
	AllScores       map[core.Intent]float64
}

// RuleEngine scores prompts against the pattern inventory. It is stateless
// and safe for concurrent use.
type RuleEngine struct{}

// NewRuleEngine returns the shared rule engine.
func NewRuleEngine() *RuleEngine {
	return &RuleEngine{}
}

// Evaluate scores text against every intent and returns the winner along
// with detected audience, complexity, and the matched-pattern trace.
// Ties break in the stable order of core.AllIntents.
func (e *RuleEngine) Evaluate(text string) *RuleResult {
	normalized := " " + core.NormalizeText(text) + " "

	result := &RuleResult{
		Intent:    core.IntentQuestionAnswering,
		AllScores: make(map[core.Intent]float64, len(core.AllIntents)),
	}

	var winnerPatterns []string
	for _, intent := range core.AllIntents {
		score, patterns := scoreIntent(normalized, ruleInventory[intent])
		result.AllScores[intent] = score
		if score > result.Score {
			result.Score = score
			result.Intent = intent
			winnerPatterns = patterns
		}
	}
	result.MatchedPatterns = winnerPatterns

	result.Audience = detectAudience(normalized, &result.MatchedPatterns)
	result.Complexity = detectComplexity(normalized, result.Audience, &result.MatchedPatterns)

	return result
}

// DetectAudience exposes audience detection for result enrichment when the
// ML tier wins but reports no audience.
func (e *RuleEngine) DetectAudience(text string) core.Audience {
	normalized := " " + core.NormalizeText(text) + " "
	return detectAudience(normalized, nil)
}

func scoreIntent(normalized string, rule intentRule) (float64, []string) {
	var score float64
	var patterns []string

	phraseHits := 0
	for _, phrase := range rule.phrases {
		if strings.Contains(normalized, phrase) {
			phraseHits++
			patterns = append(patterns, "phrase:"+phrase)
		}
	}
	if phraseHits > 0 {
		score += phraseWeight + float64(phraseHits-1)*extraPhraseWeight
	}

	keywordHits := 0
	for _, keyword := range rule.keywords {
		if containsWord(normalized, keyword) {
			keywordHits++
			patterns = append(patterns, "keyword:"+keyword)
		}
	}
	if keywordHits > maxKeywordHits {
		keywordHits = maxKeywordHits
	}
	score += float64(keywordHits) * keywordWeight

	if score > 1 {
		score = 1
	}
	return score, patterns
}

// containsWord matches a keyword on word boundaries. Multi-word keywords
// fall back to substring matching.
func containsWord(normalized, keyword string) bool {
	if strings.Contains(keyword, " ") {
		return strings.Contains(normalized, keyword)
	}
	return strings.Contains(normalized, " "+keyword+" ") ||
		strings.Contains(normalized, " "+keyword+"?") ||
		strings.Contains(normalized, " "+keyword+".") ||
		strings.Contains(normalized, " "+keyword+",")
}

func detectAudience(normalized string, trace *[]string) core.Audience {
	for _, entry := range audienceCues {
		for _, cue := range entry.cues {
			if strings.Contains(normalized, cue) {
				if trace != nil {
					*trace = append(*trace, "audience:"+cue)
				}
				return entry.audience
			}
		}
	}
	return core.AudienceGeneral
}

// detectComplexity derives a complexity bucket from length, clause count,
// and explicit cues. A child audience forces simple.
func detectComplexity(normalized string, audience core.Audience, trace *[]string) core.Complexity {
	words := len(strings.Fields(normalized))

	clauses := 0
	for _, cue := range clauseCues {
		clauses += strings.Count(normalized, cue)
	}

	score := float64(words) / 40.0
	if score > 1 {
		score = 1
	}
	score += 0.15 * float64(clauses)
	if score > 1 {
		score = 1
	}

	for _, cue := range simpleCues {
		if strings.Contains(normalized, " "+cue+" ") {
			if trace != nil {
				*trace = append(*trace, "cue:"+cue)
			}
			if score > 0.3 {
				score = 0.3
			}
			break
		}
	}
	for _, cue := range complexCues {
		if strings.Contains(normalized, cue) {
			if trace != nil {
				*trace = append(*trace, "cue:"+cue)
			}
			if score < 0.7 {
				score = 0.7
			}
			break
		}
	}

	if audience == core.AudienceChild {
		if trace != nil {
			*trace = append(*trace, "cue:child-forces-simple")
		}
		return core.Complexity{Level: core.ComplexitySimple, Score: clampComplexity(score, 0.3)}
	}

	level := core.ComplexityModerate
	switch {
	case score < 0.33:
		level = core.ComplexitySimple
	case score >= 0.66:
		level = core.ComplexityComplex
	}
	return core.Complexity{Level: level, Score: score}
}

func clampComplexity(score, max float64) float64 {
	if score > max {
		return max
	}
	return score
}

// String renders a compact trace for logs.
func (r *RuleResult) String() string {
	return fmt.Sprintf("%s(%.2f) audience=%s complexity=%s", r.Intent, r.Score, r.Audience, r.Complexity.Level)
}
