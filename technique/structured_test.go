package technique

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredOutputJSONSchemaValidation(t *testing.T) {
	so := &StructuredOutput{}
	schema := map[string]interface{}{"required": []interface{}{"name"}}

	out, err := so.Apply("List the user", map[string]interface{}{
		"output_format": "json",
		"schema":        schema,
	})
	require.NoError(t, err)
	assert.Contains(t, out, "JSON")
	assert.Contains(t, out, "name")

	good := so.ValidateOutput(`{"name":"x"}`, "json", schema)
	assert.True(t, good.Valid)
	assert.Empty(t, good.Errors)
	assert.NotNil(t, good.ParsedData)

	bad := so.ValidateOutput(`{"age":30}`, "json", schema)
	assert.False(t, bad.Valid)
	require.NotEmpty(t, bad.Errors)
	assert.Contains(t, bad.Errors[0], "name")
}

func TestValidateOutputMalformedJSON(t *testing.T) {
	so := &StructuredOutput{}

	report := so.ValidateOutput(`{"name":`, "json", nil)
	assert.False(t, report.Valid)
	assert.Contains(t, report.Errors[0], "invalid JSON")
}

func TestValidateOutputJSONTopLevelArray(t *testing.T) {
	so := &StructuredOutput{}

	// Without required fields an array is acceptable JSON.
	free := so.ValidateOutput(`[1,2,3]`, "json", nil)
	assert.True(t, free.Valid)

	// With required fields the top level must be an object.
	schema := map[string]interface{}{"required": []string{"name"}}
	strict := so.ValidateOutput(`[1,2,3]`, "json", schema)
	assert.False(t, strict.Valid)
}

func TestValidateOutputXML(t *testing.T) {
	so := &StructuredOutput{}
	schema := map[string]interface{}{"required": []string{"name"}}

	good := so.ValidateOutput(`<user><name>x</name></user>`, "xml", schema)
	assert.True(t, good.Valid)

	missing := so.ValidateOutput(`<user><age>30</age></user>`, "xml", schema)
	assert.False(t, missing.Valid)
	assert.Contains(t, missing.Errors[0], "name")

	malformed := so.ValidateOutput(`<user><name>x</user>`, "xml", nil)
	assert.False(t, malformed.Valid)
}

func TestValidateOutputYAML(t *testing.T) {
	so := &StructuredOutput{}
	schema := map[string]interface{}{"required": []string{"name"}}

	good := so.ValidateOutput("name: x\nage: 30\n", "yaml", schema)
	assert.True(t, good.Valid, "errors: %v", good.Errors)

	missing := so.ValidateOutput("age: 30\n", "yaml", schema)
	assert.False(t, missing.Valid)
	assert.Contains(t, missing.Errors[0], "name")

	malformed := so.ValidateOutput("name: [unclosed", "yaml", nil)
	assert.False(t, malformed.Valid)
}

func TestValidateOutputCSV(t *testing.T) {
	so := &StructuredOutput{}
	schema := map[string]interface{}{"required": []string{"name", "age"}}

	good := so.ValidateOutput("name,age\nx,30\n", "csv", schema)
	assert.True(t, good.Valid, "errors: %v", good.Errors)

	missing := so.ValidateOutput("name\nx\n", "csv", schema)
	assert.False(t, missing.Valid)
	assert.Contains(t, missing.Errors[0], "age")

	ragged := so.ValidateOutput("a,b\n1,2,3\n", "csv", nil)
	assert.False(t, ragged.Valid)
}

func TestValidateOutputTable(t *testing.T) {
	so := &StructuredOutput{}
	schema := map[string]interface{}{"required": []string{"name"}}

	table := "| name | age |\n| --- | --- |\n| x | 30 |"
	good := so.ValidateOutput(table, "table", schema)
	assert.True(t, good.Valid, "errors: %v", good.Errors)

	noSeparator := "| name | age |\n| x | 30 |"
	assert.False(t, so.ValidateOutput(noSeparator, "table", nil).Valid)

	missing := "| age |\n| --- |\n| 30 |"
	report := so.ValidateOutput(missing, "table", schema)
	assert.False(t, report.Valid)
	assert.Contains(t, report.Errors[0], "name")
}

func TestValidateOutputMarkdown(t *testing.T) {
	so := &StructuredOutput{}

	assert.True(t, so.ValidateOutput("# Title\n- point one\n", "markdown", nil).Valid)
	assert.False(t, so.ValidateOutput("just a flat sentence", "markdown", nil).Valid)
}

func TestValidateOutputEmptyAndUnknownFormat(t *testing.T) {
	so := &StructuredOutput{}

	empty := so.ValidateOutput("   ", "json", nil)
	assert.False(t, empty.Valid)

	unknown := so.ValidateOutput("data", "protobuf", nil)
	assert.False(t, unknown.Valid)
	assert.Contains(t, unknown.Errors[0], "protobuf")
}

func TestStructuredOutputApplyFormats(t *testing.T) {
	so := &StructuredOutput{}

	tests := []struct {
		name string
		ctx  map[string]interface{}
		want []string
	}{
		{
			"default json with prefill",
			map[string]interface{}{"prefill": true},
			[]string{"JSON", "Begin the response with '{'"},
		},
		{
			"xml",
			map[string]interface{}{"output_format": "xml"},
			[]string{"well-formed XML"},
		},
		{
			"csv with columns",
			map[string]interface{}{
				"output_format": "csv",
				"csv_config":    map[string]interface{}{"columns": []interface{}{"id", "name"}},
			},
			[]string{"CSV", "id, name"},
		},
		{
			"table style",
			map[string]interface{}{"output_format": "table", "table_style": "ascii"},
			[]string{"ascii table"},
		},
		{
			"markdown features",
			map[string]interface{}{
				"output_format":     "markdown",
				"markdown_features": []interface{}{"headings", "bullet lists"},
			},
			[]string{"Markdown", "headings, bullet lists"},
		},
		{
			"custom format",
			map[string]interface{}{"output_format": "custom", "custom_format": "SECTION: <text>"},
			[]string{"SECTION: <text>"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := so.Apply("prompt", tt.ctx)
			require.NoError(t, err)
			for _, want := range tt.want {
				assert.Contains(t, out, want)
			}
		})
	}
}

func TestStructuredOutputApplyErrors(t *testing.T) {
	so := &StructuredOutput{}

	_, err := so.Apply("prompt", map[string]interface{}{"output_format": "custom"})
	assert.Error(t, err, "custom without custom_format")

	_, err = so.Apply("prompt", map[string]interface{}{"output_format": "hologram"})
	assert.Error(t, err)
}

func TestStructuredOutputErrorFormatModes(t *testing.T) {
	so := &StructuredOutput{}

	explicit, err := so.Apply("prompt", nil)
	require.NoError(t, err)
	assert.Contains(t, explicit, "explicit error entry")

	implicit, err := so.Apply("prompt", map[string]interface{}{"error_format": "implicit"})
	require.NoError(t, err)
	assert.False(t, strings.Contains(implicit, "explicit error entry"))
}
