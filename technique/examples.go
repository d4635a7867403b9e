package technique

import (
	"fmt"
	"sort"
	"strings"
)

// FewShot prepends input/output exemplars. Custom examples are ranked by
// similarity to the prompt so the most relevant exemplar always leads;
// without custom examples a per-task default bank applies.
//
// Context keys: examples ([]{input,output}), task_type (string),
// format_style (input_output|xml|delimiter), delimiter (string),
// num_examples (int, default 3).
type FewShot struct{ baseTechnique }

type exemplar struct {
	input  string
	output string
}

var defaultExemplarBank = map[string][]exemplar{
	"translation": {
		{"Good morning", "Buenos días"},
		{"Thank you very much", "Muchas gracias"},
		{"See you tomorrow", "Hasta mañana"},
	},
	"classification": {
		{"This movie was fantastic", "positive"},
		{"Terrible service, never again", "negative"},
		{"It was fine, nothing special", "neutral"},
	},
	"summarization": {
		{"The meeting covered the third-quarter budget, the hiring freeze, and the new office layout proposal", "Q3 budget, hiring freeze, office layout"},
		{"The study followed 500 participants over ten years and found regular exercise correlated with better sleep", "10-year study: exercise correlates with better sleep"},
		{"The update introduces dark mode, fixes two crash bugs, and improves startup time by 30 percent", "Dark mode, crash fixes, 30% faster startup"},
	},
	"question_answering": {
		{"What is the boiling point of water at sea level?", "100 degrees Celsius (212 degrees Fahrenheit)"},
		{"Who wrote Pride and Prejudice?", "Jane Austen"},
		{"What gas do plants absorb from the air?", "Carbon dioxide"},
	},
}

func (t *FewShot) Apply(text string, ctx map[string]interface{}) (string, error) {
	examples := parseExemplars(ctx)
	custom := len(examples) > 0
	if !custom {
		examples = defaultExemplars(ctxStringOr(ctx, "task_type", ""))
	}

	k := ctxIntOr(ctx, "num_examples", 3)
	if custom {
		examples = rankBySimilarity(examples, text)
	}
	if len(examples) > k {
		examples = examples[:k]
	}

	format := ctxStringOr(ctx, "format_style", "input_output")
	delimiter := ctxStringOr(ctx, "delimiter", "###")

	var b strings.Builder
	b.WriteString("Here are examples of the expected input and output:\n\n")
	for i, ex := range examples {
		if i > 0 {
			b.WriteString("\n")
		}
		writeExemplar(&b, ex, format, delimiter)
	}
	b.WriteString("\nNow apply the same pattern to:\n")
	writeTrailer(&b, text, format, delimiter)
	return b.String(), nil
}

func (t *FewShot) Metrics(generated string) map[string]float64 {
	m := map[string]float64{"exemplar_markers": 0.3}
	if strings.Contains(generated, "INPUT:") && strings.Contains(generated, "OUTPUT:") {
		m["exemplar_markers"] = 1.0
	} else if strings.Contains(generated, "<input>") || strings.Contains(generated, "###") {
		m["exemplar_markers"] = 0.9
	}
	return m
}

func writeExemplar(b *strings.Builder, ex exemplar, format, delimiter string) {
	switch format {
	case "xml":
		fmt.Fprintf(b, "<example>\n<input>%s</input>\n<output>%s</output>\n</example>\n", ex.input, ex.output)
	case "delimiter":
		fmt.Fprintf(b, "%s %s %s\n", ex.input, delimiter, ex.output)
	default: // input_output
		fmt.Fprintf(b, "INPUT: %s\nOUTPUT: %s\n", ex.input, ex.output)
	}
}

func writeTrailer(b *strings.Builder, text, format, delimiter string) {
	switch format {
	case "xml":
		fmt.Fprintf(b, "<input>%s</input>", text)
	case "delimiter":
		fmt.Fprintf(b, "%s %s", text, delimiter)
	default:
		fmt.Fprintf(b, "INPUT: %s\nOUTPUT:", text)
	}
}

// parseExemplars reads the examples context key. JSON decoding produces
// []interface{} of map[string]interface{}; tests may pass typed slices.
func parseExemplars(ctx map[string]interface{}) []exemplar {
	if ctx == nil {
		return nil
	}

	var out []exemplar
	switch v := ctx["examples"].(type) {
	case []map[string]string:
		for _, m := range v {
			if m["input"] != "" && m["output"] != "" {
				out = append(out, exemplar{input: m["input"], output: m["output"]})
			}
		}
	case []interface{}:
		for _, item := range v {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			input, _ := m["input"].(string)
			output, _ := m["output"].(string)
			if input != "" && output != "" {
				out = append(out, exemplar{input: input, output: output})
			}
		}
	}
	return out
}

func defaultExemplars(taskType string) []exemplar {
	if bank, ok := defaultExemplarBank[taskType]; ok {
		return bank
	}
	return defaultExemplarBank["question_answering"]
}

// rankBySimilarity orders exemplars by word overlap with the prompt, best
// first. Ties keep the caller's order so the output stays deterministic.
func rankBySimilarity(examples []exemplar, text string) []exemplar {
	type scored struct {
		ex    exemplar
		score float64
	}

	promptWords := wordSet(text)
	ranked := make([]scored, len(examples))
	for i, ex := range examples {
		ranked[i] = scored{ex: ex, score: overlap(promptWords, wordSet(ex.input+" "+ex.output))}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	out := make([]exemplar, len(ranked))
	for i, r := range ranked {
		out[i] = r.ex
	}
	return out
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[strings.Trim(w, ".,!?;:'\"")] = true
	}
	return set
}

func overlap(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for w := range a {
		if b[w] {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	return float64(shared) / float64(union)
}

// ZeroShot clarifies the task with explicit instructions and no exemplars.
type ZeroShot struct{ baseTechnique }

func (t *ZeroShot) Apply(text string, ctx map[string]interface{}) (string, error) {
	var b strings.Builder
	b.WriteString("Task: ")
	b.WriteString(text)
	b.WriteString("\n\nAnswer the task directly and completely. State any assumptions you make.")
	b.WriteString(" If the task is ambiguous, answer the most reasonable interpretation and say which one you chose.")
	return b.String(), nil
}
