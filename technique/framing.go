package technique

import (
	"fmt"
	"strings"
)

// RolePlay prefixes a persona directive.
//
// Context keys: role (string, default a generic assistant).
type RolePlay struct{ baseTechnique }

func (t *RolePlay) Apply(text string, ctx map[string]interface{}) (string, error) {
	role := ctxStringOr(ctx, "role", "knowledgeable assistant")
	return fmt.Sprintf("You are %s. Stay in this role and draw on its expertise while answering.\n\n%s",
		withArticle(role), text), nil
}

// withArticle prepends an indefinite article unless the role already
// carries one.
func withArticle(role string) string {
	lower := strings.ToLower(role)
	for _, prefix := range []string{"a ", "an ", "the "} {
		if strings.HasPrefix(lower, prefix) {
			return role
		}
	}
	if strings.ContainsRune("aeiou", rune(lower[0])) {
		return "an " + role
	}
	return "a " + role
}

// EmotionalAppeal adds empathetic framing.
//
// Context keys: emotion (string, default encouraging), urgency (bool or
// "high").
type EmotionalAppeal struct{ baseTechnique }

var emotionFramings = map[string]string{
	"encouraging": "You are excellent at this kind of problem, and a careful answer here genuinely helps me.",
	"supportive":  "Take this at a comfortable pace; a thoughtful answer matters more than a fast one.",
	"serious":     "This answer feeds a real decision, so precision matters.",
}

func (t *EmotionalAppeal) Apply(text string, ctx map[string]interface{}) (string, error) {
	framing, ok := emotionFramings[ctxStringOr(ctx, "emotion", "encouraging")]
	if !ok {
		framing = emotionFramings["encouraging"]
	}

	var b strings.Builder
	b.WriteString(framing)
	if ctxBool(ctx, "urgency") || ctxStringOr(ctx, "urgency", "") == "high" {
		b.WriteString(" This is time-sensitive, so lead with the most important part.")
	}
	b.WriteString("\n\n")
	b.WriteString(text)
	return b.String(), nil
}

// StepByStep is the imperative wrapper: do the task step by step.
type StepByStep struct{ baseTechnique }

func (t *StepByStep) Apply(text string, ctx map[string]interface{}) (string, error) {
	return "Work through the following step by step, numbering each step and finishing it before starting the next:\n\n" + text, nil
}

func (t *StepByStep) Metrics(generated string) map[string]float64 {
	if strings.Contains(strings.ToLower(generated), "step by step") {
		return map[string]float64{"step_directive": 1.0}
	}
	return map[string]float64{"step_directive": 0.3}
}

// Constraints renders must/should constraints from a list. Items prefixed
// "should:" become preferences; everything else is a hard requirement.
//
// Context keys: constraints ([]string).
type Constraints struct{ baseTechnique }

var defaultConstraints = []string{
	"answer the question completely",
	"state any assumptions explicitly",
	"should: keep the answer concise",
}

func (t *Constraints) Apply(text string, ctx map[string]interface{}) (string, error) {
	items := ctxStringSlice(ctx, "constraints")
	if len(items) == 0 {
		items = defaultConstraints
	}

	var must, should []string
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		lower := strings.ToLower(trimmed)
		switch {
		case strings.HasPrefix(lower, "should:"):
			should = append(should, strings.TrimSpace(trimmed[len("should:"):]))
		case strings.HasPrefix(lower, "must:"):
			must = append(must, strings.TrimSpace(trimmed[len("must:"):]))
		default:
			must = append(must, trimmed)
		}
	}

	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n\nFollow these constraints:\n")
	for _, c := range must {
		fmt.Fprintf(&b, "- You must %s\n", c)
	}
	for _, c := range should {
		fmt.Fprintf(&b, "- You should %s\n", c)
	}
	return b.String(), nil
}

// Analogical injects an analogy from a target domain.
//
// Context keys: target_domain (string, default everyday life),
// num_analogies (int, default 1).
type Analogical struct{ baseTechnique }

func (t *Analogical) Apply(text string, ctx map[string]interface{}) (string, error) {
	domain := ctxStringOr(ctx, "target_domain", "everyday life")
	n := ctxIntOr(ctx, "num_analogies", 1)

	var b strings.Builder
	b.WriteString(text)
	if n == 1 {
		fmt.Fprintf(&b, "\n\nExplain the core idea with an analogy drawn from %s, then map each part of the analogy back to the original problem.", domain)
	} else {
		fmt.Fprintf(&b, "\n\nExplain the core idea with %d analogies drawn from %s, then map each analogy back to the original problem.", n, domain)
	}
	return b.String(), nil
}
