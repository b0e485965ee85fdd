package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "json code block",
			input:    "```json\n{\"key\": \"value\"}\n```",
			expected: `{"key": "value"}`,
		},
		{
			name:     "generic code block",
			input:    "```\n{\"key\": \"value\"}\n```",
			expected: `{"key": "value"}`,
		},
		{
			name:     "fenced block wins over earlier bare object",
			input:    "Example {\"a\": 1}\n```json\n{\"b\": 2}\n```",
			expected: `{"b": 2}`,
		},
		{
			name:     "invalid fenced block falls through to later block",
			input:    "```text\nnot json\n```\n```json\n{\"ok\": true}\n```",
			expected: `{"ok": true}`,
		},
		{
			name:     "plain JSON",
			input:    `{"key": "value"}`,
			expected: `{"key": "value"}`,
		},
		{
			name:     "preamble before JSON object",
			input:    "As requested, here is the JSON:\n{\"company\": \"Acme\"}",
			expected: `{"company": "Acme"}`,
		},
		{
			name:     "JSON with trailing text",
			input:    "{\"key\": \"value\"}\n\nLet me know if you need anything else!",
			expected: `{"key": "value"}`,
		},
		{
			name:     "nested objects",
			input:    "Output:\n{\"outer\": {\"inner\": [1, {\"x\": 2}]}}",
			expected: `{"outer": {"inner": [1, {"x": 2}]}}`,
		},
		{
			name:     "braces inside strings",
			input:    `Result: {"template": "Hello {name}!", "q": "say \"}\""}`,
			expected: `{"template": "Hello {name}!", "q": "say \"}\""}`,
		},
		{
			name:     "skips unbalanced prose brace",
			input:    "Set {x to 3. Answer: {\"x\": 3}",
			expected: `{"x": 3}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ExtractJSON(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestExtractJSON_Failures(t *testing.T) {
	inputs := map[string]string{
		"empty":          "",
		"prose":          "No anomalies were found in the data.",
		"truncated":      `{"anomalies": [{"type": "x"`,
		"array only":     `["a", "b"]`,
		"unclosed fence": "```json\n{\"a\": ",
	}

	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			_, err := ExtractJSON(input)
			assert.ErrorIs(t, err, ErrNoJSON)
		})
	}
}

func TestBalancedObject(t *testing.T) {
	assert.Equal(t, `{"a": {"b": 1}}`, balancedObject(`{"a": {"b": 1}} tail`))
	assert.Equal(t, "", balancedObject(`{"a": 1`))
	assert.Equal(t, "", balancedObject("not json"))
	assert.Equal(t, "", balancedObject(""))
}
