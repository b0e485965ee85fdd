package schemas

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EmbeddedSchemas(t *testing.T) {
	for _, name := range []string{AnomalyReport, ChatReply, Event} {
		t.Run(name, func(t *testing.T) {
			s, err := Load(name)
			require.NoError(t, err)
			assert.NotNil(t, s)

			again, err := Load(name)
			require.NoError(t, err)
			assert.Same(t, s, again)
		})
	}
}

func TestLoad_Unknown(t *testing.T) {
	_, err := Load("missing.schema.json")

	var loadErr *SchemaLoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Contains(t, err.Error(), "not embedded")
}

func TestValidate_AnomalyReport(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr bool
	}{
		{name: "empty anomalies", doc: `{"anomalies": [], "summary": "All good"}`},
		{name: "one anomaly", doc: `{"anomalies": [{"vehicleId": 3, "row": 3, "type": "High Engine Temperature", "severity": "critical"}]}`},
		{name: "null summary", doc: `{"anomalies": [], "summary": null}`},
		{name: "missing anomalies", doc: `{"summary": "x"}`, wantErr: true},
		{name: "anomalies not array", doc: `{"anomalies": {}}`, wantErr: true},
		{name: "anomaly without type", doc: `{"anomalies": [{"severity": "low"}]}`, wantErr: true},
		{name: "fractional row", doc: `{"anomalies": [{"type": "x", "row": 1.5}]}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(AnomalyReport, tt.doc)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var validationErr *ValidationError
			require.True(t, errors.As(err, &validationErr), "got %v", err)
			assert.NotEmpty(t, validationErr.Errors)
			assert.Equal(t, AnomalyReport, validationErr.Schema)
		})
	}
}

func TestValidate_Event(t *testing.T) {
	assert.NoError(t, Validate(Event, `{"kind":"token","stage":"infer","message":"{\"a\"","timestamp":1760000000000}`))
	assert.Error(t, Validate(Event, `{"kind":"paused","stage":"infer","message":"","timestamp":1}`))
	assert.Error(t, Validate(Event, `{"kind":"started","stage":"billing","message":"","timestamp":1}`))
	assert.Error(t, Validate(Event, `{"kind":"started","stage":"infer"}`))
}

func TestValidate_ChatReply(t *testing.T) {
	assert.NoError(t, Validate(ChatReply, `{"message":"Hi","intent":"question","extractedDate":null}`))
	assert.Error(t, Validate(ChatReply, `{"suggestedActions":[1,2]}`))
}

func TestValidate_MalformedDocument(t *testing.T) {
	err := Validate(AnomalyReport, `{"anomalies": [`)
	assert.Error(t, err)
}

func TestValidateJSONString_Valid(t *testing.T) {
	schemaContent := `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"required": ["name"],
		"properties": {
			"name": {"type": "string"}
		}
	}`

	assert.NoError(t, ValidateJSONString(schemaContent, `{"name": "test"}`))
}

func TestValidateJSONString_Invalid(t *testing.T) {
	schemaContent := `{
		"type": "object",
		"required": ["name"],
		"properties": {
			"name": {"type": "string"}
		}
	}`

	err := ValidateJSONString(schemaContent, `{"age": 30}`)
	require.Error(t, err)

	validationErr, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Greater(t, len(validationErr.Errors), 0)
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{
		Schema: Event,
		Errors: []FieldError{
			{Field: "kind", Message: "must be one of the following"},
			{Field: "timestamp", Message: "is required"},
		},
	}

	msg := err.Error()
	assert.Contains(t, msg, "event.schema.json validation failed")
	assert.Contains(t, msg, "1. kind")
	assert.Contains(t, msg, "2. timestamp")
}
