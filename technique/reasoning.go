package technique

import (
	"fmt"
	"strings"
)

// ChainOfThought prefixes a step-wise reasoning scaffold. The scaffold is
// domain-tuned when the prompt looks mathematical, algorithmic, or
// debugging-related, and the step count follows the estimated complexity.
//
// Context keys: reasoning_steps ([]string, overrides the scaffold),
// domain (string), complexity (simple|moderate|complex).
type ChainOfThought struct{ baseTechnique }

var cotStepBank = map[string][]string{
	"mathematical": {
		"Identify the known quantities and what must be found",
		"Write down the formulas or relationships that connect them",
		"Substitute the known values and work the calculation through",
		"Check the units and verify the result is plausible",
		"Consider boundary conditions and special cases",
		"State the final answer clearly",
	},
	"algorithmic": {
		"Restate the problem and its input/output contract",
		"Choose a data structure and outline the approach",
		"Walk through the logic on a small example",
		"Analyze time and space complexity",
		"Consider edge cases such as empty input and duplicates",
		"Write out the final solution",
	},
	"debugging": {
		"Reproduce the failure and capture the exact symptom",
		"Locate where observed behavior diverges from expected",
		"Form a hypothesis about the root cause",
		"Test the hypothesis with the smallest possible change",
		"Apply the fix and re-run the failing case",
		"Check for regressions in related paths",
	},
	"general": {
		"Break the problem into smaller parts",
		"Address each part in a logical order",
		"Combine the partial results",
		"Review the answer for consistency and completeness",
		"Note any assumptions made along the way",
		"State the conclusion plainly",
	},
}

func (t *ChainOfThought) Apply(text string, ctx map[string]interface{}) (string, error) {
	steps := ctxStringSlice(ctx, "reasoning_steps")
	if len(steps) == 0 {
		domain := ctxStringOr(ctx, "domain", "")
		if domain == "" {
			domain = detectReasoningDomain(text)
		}
		bank, ok := cotStepBank[domain]
		if !ok {
			bank = cotStepBank["general"]
		}
		n := cotStepCount(ctx)
		if n > len(bank) {
			n = len(bank)
		}
		steps = bank[:n]
	}

	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n\nLet's approach this step by step:\n")
	for i, step := range steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, step)
	}
	b.WriteString("\nShow your reasoning at each step before stating the final answer.")
	return b.String(), nil
}

func (t *ChainOfThought) Metrics(generated string) map[string]float64 {
	lower := strings.ToLower(generated)
	m := map[string]float64{"step_scaffold": 0.3, "numbered_steps": 0.3}
	if strings.Contains(lower, "step by step") {
		m["step_scaffold"] = 1.0
	}
	if strings.Contains(lower, "\n1.") || strings.HasPrefix(lower, "1.") {
		m["numbered_steps"] = 1.0
	}
	return m
}

// cotStepCount scales the scaffold with the complexity the classifier
// estimated (the orchestrator forwards it in the context). Default is the
// basic 4-step scaffold.
func cotStepCount(ctx map[string]interface{}) int {
	switch ctxStringOr(ctx, "complexity", "") {
	case "simple":
		return 3
	case "complex":
		return 6
	}
	return 4
}

func detectReasoningDomain(text string) string {
	lower := strings.ToLower(text)

	for _, kw := range []string{"debug", "bug", "error", "exception", "stack trace", "crash", "broken"} {
		if strings.Contains(lower, kw) {
			return "debugging"
		}
	}
	for _, kw := range []string{"calculate", "compute", "equation", "formula", "interest", "percentage", "probability", "sum of"} {
		if strings.Contains(lower, kw) {
			return "mathematical"
		}
	}
	for _, kw := range []string{"algorithm", "implement", "function", "code", "sort", "data structure", "complexity"} {
		if strings.Contains(lower, kw) {
			return "algorithmic"
		}
	}
	return "general"
}

// TreeOfThoughts lays out divergent approaches with evaluation criteria
// before committing to one.
//
// Context keys: approaches ([]string), num_branches (int, default 3).
type TreeOfThoughts struct{ baseTechnique }

var totDefaultApproaches = []string{
	"Direct analytical solution",
	"Decomposition into independent subproblems",
	"Analogy to a known solved problem",
	"Working backwards from the desired outcome",
	"Elimination of impossible options",
}

func (t *TreeOfThoughts) Apply(text string, ctx map[string]interface{}) (string, error) {
	approaches := ctxStringSlice(ctx, "approaches")
	if len(approaches) == 0 {
		n := ctxIntOr(ctx, "num_branches", 3)
		if n > len(totDefaultApproaches) {
			n = len(totDefaultApproaches)
		}
		approaches = totDefaultApproaches[:n]
	}

	var b strings.Builder
	b.WriteString(text)
	fmt.Fprintf(&b, "\n\nExplore %d different approaches before committing to one:\n", len(approaches))
	for i, approach := range approaches {
		fmt.Fprintf(&b, "Approach %d: %s\n", i+1, approach)
	}
	b.WriteString("\nEvaluate each approach against correctness, simplicity, and robustness to edge cases.")
	b.WriteString("\nThen select the most promising approach and carry it through to a complete answer.")
	return b.String(), nil
}

// SelfConsistency requests several independent solution paths and a
// consistency analysis across them.
//
// Context keys: num_paths (int, default 3), show_confidence (bool).
type SelfConsistency struct{ baseTechnique }

func (t *SelfConsistency) Apply(text string, ctx map[string]interface{}) (string, error) {
	n := ctxIntOr(ctx, "num_paths", 3)

	var b strings.Builder
	b.WriteString(text)
	fmt.Fprintf(&b, "\n\nSolve this %d separate times, each with a different line of reasoning:\n", n)
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "Path %d: reason independently, without referring to the other paths\n", i)
	}
	b.WriteString("\nThen compare the paths: note where they agree and where they diverge, and give the final answer supported by the majority.")
	if ctxBool(ctx, "show_confidence") {
		b.WriteString("\nState your confidence in the final answer as a percentage.")
	}
	return b.String(), nil
}

// ReAct scaffolds Thought/Action/Observation iterations over an allowed
// tool set.
//
// Context keys: num_steps (int, default 3), available_tools ([]string),
// allow_iterations (bool), include_reflection (bool).
type ReAct struct{ baseTechnique }

func (t *ReAct) Apply(text string, ctx map[string]interface{}) (string, error) {
	n := ctxIntOr(ctx, "num_steps", 3)
	tools := ctxStringSlice(ctx, "available_tools")

	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n\nWork through this with an explicit Thought/Action/Observation loop:\n")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "Thought %d: what is known, and what is still missing?\n", i)
		fmt.Fprintf(&b, "Action %d: one concrete step, such as a lookup, a calculation, or a check\n", i)
		fmt.Fprintf(&b, "Observation %d: what the action revealed\n", i)
	}
	if len(tools) > 0 {
		fmt.Fprintf(&b, "\nAllowed actions: %s.", strings.Join(tools, ", "))
	}
	if ctxBool(ctx, "allow_iterations") {
		b.WriteString("\nRepeat the loop if the last observation does not settle the question.")
	}
	if ctxBool(ctx, "include_reflection") {
		b.WriteString("\nFinish with a short reflection on what makes the answer trustworthy.")
	}
	b.WriteString("\nConclude with: Final Answer: <your answer>.")
	return b.String(), nil
}
