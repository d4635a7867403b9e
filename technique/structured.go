package technique

import (
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// StructuredOutput demands the answer in a named format and can validate a
// generated payload against that format.
//
// Context keys: output_format (json|xml|yaml|csv|table|markdown|custom,
// default json), schema (map with a "required" field list), table_style,
// csv_config (map with "columns"), markdown_features ([]string),
// custom_format (string), prefill (bool), error_format (explicit|implicit).
type StructuredOutput struct{ baseTechnique }

func (t *StructuredOutput) Apply(text string, ctx map[string]interface{}) (string, error) {
	format := strings.ToLower(ctxStringOr(ctx, "output_format", "json"))

	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n\n")

	required := requiredFields(ctxMap(ctx, "schema"))
	switch format {
	case "json":
		b.WriteString("Return the answer as a single valid JSON object and nothing else.")
		if len(required) > 0 {
			fmt.Fprintf(&b, " The object must include the fields: %s.", strings.Join(required, ", "))
		}
		if ctxBool(ctx, "prefill") {
			b.WriteString(" Begin the response with '{'.")
		}
	case "xml":
		b.WriteString("Return the answer as a well-formed XML document.")
		if len(required) > 0 {
			fmt.Fprintf(&b, " Include an element for each of: %s.", strings.Join(required, ", "))
		}
	case "yaml":
		b.WriteString("Return the answer as valid YAML.")
		if len(required) > 0 {
			fmt.Fprintf(&b, " Include the keys: %s.", strings.Join(required, ", "))
		}
	case "csv":
		b.WriteString("Return the answer as CSV with a header row.")
		if columns := ctxStringSlice(ctxMap(ctx, "csv_config"), "columns"); len(columns) > 0 {
			fmt.Fprintf(&b, " Use exactly these columns: %s.", strings.Join(columns, ", "))
		}
	case "table":
		fmt.Fprintf(&b, "Format the answer as a %s table with a header row.", ctxStringOr(ctx, "table_style", "markdown"))
		if len(required) > 0 {
			fmt.Fprintf(&b, " Include the columns: %s.", strings.Join(required, ", "))
		}
	case "markdown":
		b.WriteString("Format the answer as Markdown.")
		if features := ctxStringSlice(ctx, "markdown_features"); len(features) > 0 {
			fmt.Fprintf(&b, " Use these elements: %s.", strings.Join(features, ", "))
		}
	case "custom":
		custom, ok := ctxString(ctx, "custom_format")
		if !ok {
			return "", fmt.Errorf("structured_output: custom format requested without custom_format")
		}
		b.WriteString("Format the answer exactly as follows:\n")
		b.WriteString(custom)
	default:
		return "", fmt.Errorf("structured_output: unsupported output format %q", format)
	}

	if ctxStringOr(ctx, "error_format", "explicit") == "explicit" {
		b.WriteString("\nIf the requested structure cannot be produced, respond with an explicit error entry explaining why.")
	}
	return b.String(), nil
}

func (t *StructuredOutput) Metrics(generated string) map[string]float64 {
	lower := strings.ToLower(generated)
	score := 0.3
	for _, marker := range []string{"json", "xml", "yaml", "csv", "table", "markdown"} {
		if strings.Contains(lower, marker) {
			score = 1.0
			break
		}
	}
	return map[string]float64{"format_directive": score}
}

// ValidationReport is the outcome of checking a generated payload against a
// requested format.
type ValidationReport struct {
	Valid      bool        `json:"valid"`
	Errors     []string    `json:"errors,omitempty"`
	ParsedData interface{} `json:"parsed_data,omitempty"`
}

// ValidateOutput checks payload against format and, where the format has
// named fields, against schema's required list. It never returns an error:
// malformed payloads come back as Valid=false with reasons.
func (t *StructuredOutput) ValidateOutput(payload, format string, schema map[string]interface{}) *ValidationReport {
	report := &ValidationReport{}
	payload = strings.TrimSpace(payload)
	if payload == "" {
		report.Errors = append(report.Errors, "payload is empty")
		return report
	}

	required := requiredFields(schema)
	switch strings.ToLower(format) {
	case "json":
		validateJSON(report, payload, required)
	case "xml":
		validateXML(report, payload, required)
	case "yaml":
		validateYAML(report, payload, required)
	case "csv":
		validateCSV(report, payload, required)
	case "table":
		validateTable(report, payload, required)
	case "markdown":
		validateMarkdown(report, payload)
	default:
		report.Errors = append(report.Errors, fmt.Sprintf("unsupported format %q", format))
	}

	report.Valid = len(report.Errors) == 0
	return report
}

func validateJSON(report *ValidationReport, payload string, required []string) {
	var data interface{}
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		report.Errors = append(report.Errors, "invalid JSON: "+err.Error())
		return
	}
	report.ParsedData = data

	if len(required) == 0 {
		return
	}
	obj, ok := data.(map[string]interface{})
	if !ok {
		report.Errors = append(report.Errors, "expected a JSON object at the top level")
		return
	}
	for _, field := range required {
		if _, present := obj[field]; !present {
			report.Errors = append(report.Errors, fmt.Sprintf("missing required field %q", field))
		}
	}
}

func validateXML(report *ValidationReport, payload string, required []string) {
	decoder := xml.NewDecoder(strings.NewReader(payload))
	seen := make(map[string]bool)
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			report.Errors = append(report.Errors, "invalid XML: "+err.Error())
			return
		}
		if start, ok := tok.(xml.StartElement); ok {
			seen[start.Name.Local] = true
		}
	}
	if len(seen) == 0 {
		report.Errors = append(report.Errors, "no XML elements found")
		return
	}
	for _, field := range required {
		if !seen[field] {
			report.Errors = append(report.Errors, fmt.Sprintf("missing required element %q", field))
		}
	}
}

func validateYAML(report *ValidationReport, payload string, required []string) {
	var data interface{}
	if err := yaml.Unmarshal([]byte(payload), &data); err != nil {
		report.Errors = append(report.Errors, "invalid YAML: "+err.Error())
		return
	}
	report.ParsedData = data

	if len(required) == 0 {
		return
	}
	obj, ok := data.(map[string]interface{})
	if !ok {
		report.Errors = append(report.Errors, "expected a YAML mapping at the top level")
		return
	}
	for _, field := range required {
		if _, present := obj[field]; !present {
			report.Errors = append(report.Errors, fmt.Sprintf("missing required key %q", field))
		}
	}
}

func validateCSV(report *ValidationReport, payload string, required []string) {
	reader := csv.NewReader(strings.NewReader(payload))
	records, err := reader.ReadAll()
	if err != nil {
		report.Errors = append(report.Errors, "invalid CSV: "+err.Error())
		return
	}
	if len(records) == 0 {
		report.Errors = append(report.Errors, "CSV has no rows")
		return
	}
	report.ParsedData = records

	header := make(map[string]bool, len(records[0]))
	for _, cell := range records[0] {
		header[strings.ToLower(strings.TrimSpace(cell))] = true
	}
	for _, field := range required {
		if !header[strings.ToLower(field)] {
			report.Errors = append(report.Errors, fmt.Sprintf("missing required column %q", field))
		}
	}
}

func validateTable(report *ValidationReport, payload string, required []string) {
	var lines []string
	for _, line := range strings.Split(payload, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) < 2 || !strings.Contains(lines[0], "|") {
		report.Errors = append(report.Errors, "expected a table with a header row and a separator row")
		return
	}
	if !isTableSeparator(lines[1]) {
		report.Errors = append(report.Errors, "second line is not a table separator row")
		return
	}

	header := make(map[string]bool)
	var cells []string
	for _, cell := range strings.Split(lines[0], "|") {
		cell = strings.TrimSpace(cell)
		if cell != "" {
			header[strings.ToLower(cell)] = true
			cells = append(cells, cell)
		}
	}
	report.ParsedData = cells

	for _, field := range required {
		if !header[strings.ToLower(field)] {
			report.Errors = append(report.Errors, fmt.Sprintf("missing required column %q", field))
		}
	}
}

func isTableSeparator(line string) bool {
	sawDash := false
	for _, r := range line {
		switch r {
		case '-':
			sawDash = true
		case '|', ':', ' ', '\t':
		default:
			return false
		}
	}
	return sawDash
}

func validateMarkdown(report *ValidationReport, payload string) {
	for _, line := range strings.Split(payload, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "- ") ||
			strings.HasPrefix(trimmed, "* ") || strings.Contains(trimmed, "|") ||
			strings.Contains(trimmed, "**") || strings.Contains(trimmed, "`") {
			return
		}
	}
	report.Errors = append(report.Errors, "no Markdown structure found (expected headings, lists, emphasis, or tables)")
}

// requiredFields reads schema's "required" list. Both []string and JSON's
// []interface{} shapes are accepted.
func requiredFields(schema map[string]interface{}) []string {
	if schema == nil {
		return nil
	}
	switch v := schema["required"].(type) {
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
