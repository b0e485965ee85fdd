// Package llm - extractor.go provides generic LLM-based structured extraction.
package llm

import (
	"fmt"
	"strings"
)

// ExtractionSchema defines the structure for LLM-based content extraction.
// It provides a reusable way to define what information to extract from text.
type ExtractionSchema struct {
	Name         string        // Schema name (e.g., "AnomalyReport", "ChatReply")
	Description  string        // System prompt preamble describing the extraction task
	Fields       []SchemaField // Expected output fields
	Instructions []string      // Extra rules appended after the schema
}

// SchemaField defines a single field in the extraction output.
type SchemaField struct {
	Name        string // JSON field name
	Type        string // Type hint: "string", "[]string", "map[string]string"
	Description string // Description for the LLM
	Required    bool   // Whether this field is required
}

// BuildExtractionPrompt constructs the LLM prompt from schema and input text.
func BuildExtractionPrompt(schema ExtractionSchema, inputText string) string {
	var sb strings.Builder

	// System description
	sb.WriteString(schema.Description)
	sb.WriteString("\n\n")

	// Output schema
	sb.WriteString("Return your answer as JSON matching this exact structure:\n{\n")
	for i, field := range schema.Fields {
		typeHint := field.Type
		if typeHint == "" {
			typeHint = "string"
		}
		requiredHint := ""
		if field.Required {
			requiredHint = " (required)"
		}
		sb.WriteString(fmt.Sprintf("  \"%s\": %s%s", field.Name, typeHint, requiredHint))
		if field.Description != "" {
			sb.WriteString(fmt.Sprintf(" // %s", field.Description))
		}
		if i < len(schema.Fields)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("}\n\n")

	if len(schema.Instructions) > 0 {
		sb.WriteString("IMPORTANT:\n")
		for _, rule := range schema.Instructions {
			sb.WriteString("- ")
			sb.WriteString(rule)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	// Input text
	sb.WriteString("Input:\n\"\"\"\n")
	sb.WriteString(inputText)
	sb.WriteString("\n\"\"\"\n")

	return sb.String()
}

// --- Predefined Schemas ---

// AnomalyReportSchema returns the extraction schema for sensor anomaly reports.
func AnomalyReportSchema(description string) ExtractionSchema {
	return ExtractionSchema{
		Name:        "AnomalyReport",
		Description: description,
		Fields: []SchemaField{
			{
				Name: "anomalies",
				Type: `[{"vehicleId": "string", "row": number, "vin": "string", "type": "string", "severity": "low|medium|high|critical", ` +
					`"description": "string", "recommendation": "string", "affectedComponent": "string"}]`,
				Description: "One entry per detected issue; empty array when nothing is wrong",
				Required:    true,
			},
			{
				Name:        "summary",
				Type:        "\"string\"",
				Description: "Overall analysis summary",
				Required:    true,
			},
		},
		Instructions: []string{
			"Compare each reading against typical acceptable ranges.",
			"\"row\" is the _row value of the data row the issue was found in.",
			"If no anomalies are detected, return an empty anomalies array.",
		},
	}
}

// ChatReplySchema returns the extraction schema for assistant replies.
func ChatReplySchema(description string) ExtractionSchema {
	return ExtractionSchema{
		Name:        "ChatReply",
		Description: description,
		Fields: []SchemaField{
			{Name: "message", Type: "\"string\"", Description: "Your response to the user", Required: true},
			{Name: "intent", Type: "\"question|schedule_request|general|status\"", Required: true},
			{Name: "extractedDate", Type: "\"string\"", Description: "ISO date if the user named one, otherwise null"},
			{Name: "suggestedActions", Type: "[\"string\"]", Description: "Short follow-up actions"},
		},
		Instructions: []string{
			"Be friendly, clear, and concise.",
			"If high or critical anomalies exist, strongly advise scheduling maintenance.",
		},
	}
}
