package detection

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/fleet-diagnostics/internal/llm"
	"github.com/jonathan/fleet-diagnostics/internal/schemas"
	"github.com/jonathan/fleet-diagnostics/internal/types"
)

const defaultSummary = "Analysis complete"

type report struct {
	Anomalies []anomaly `json:"anomalies"`
	Summary   *string   `json:"summary"`
}

type anomaly struct {
	VehicleID         json.RawMessage `json:"vehicleId"`
	Row               *int            `json:"row"`
	VIN               *string         `json:"vin"`
	Type              string          `json:"type"`
	Severity          *string         `json:"severity"`
	Description       *string         `json:"description"`
	Recommendation    *string         `json:"recommendation"`
	AffectedComponent *string         `json:"affectedComponent"`
}

// Parse extracts the anomaly report from model text. rows is the number
// of rows the model saw; cited rows outside 1..rows are dropped to 0.
func Parse(text string, rows int, now time.Time) (*types.Detection, error) {
	payload, err := llm.ExtractJSON(text)
	if err != nil {
		return nil, types.NewStageError(types.ErrUpstreamMalformed, "model reply contained no JSON object", err)
	}

	if err := schemas.Validate(schemas.AnomalyReport, payload); err != nil {
		var verr *schemas.ValidationError
		if errors.As(err, &verr) {
			return nil, types.NewStageError(types.ErrUpstreamMalformed, "model reply does not match the anomaly report schema", err)
		}
		return nil, types.NewStageError(types.ErrInternal, "failed to validate model reply", err)
	}

	var r report
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return nil, types.NewStageError(types.ErrUpstreamMalformed, "failed to decode anomaly report", err)
	}

	det := &types.Detection{
		Findings: make([]types.Finding, 0, len(r.Anomalies)),
		Summary:  defaultSummary,
	}
	if r.Summary != nil && strings.TrimSpace(*r.Summary) != "" {
		det.Summary = strings.TrimSpace(*r.Summary)
	}

	detectedAt := now.UnixMilli()
	for _, a := range r.Anomalies {
		f := types.Finding{
			ID:                uuid.NewString(),
			VIN:               deref(a.VIN),
			Type:              strings.TrimSpace(a.Type),
			Severity:          types.ParseSeverity(deref(a.Severity)),
			Description:       deref(a.Description),
			Recommendation:    deref(a.Recommendation),
			AffectedComponent: deref(a.AffectedComponent),
			DetectedAt:        detectedAt,
		}
		if a.Row != nil && *a.Row >= 1 && *a.Row <= rows {
			f.Row = *a.Row
		}
		f.VehicleID = vehicleID(a.VehicleID, f.VIN)
		det.Findings = append(det.Findings, f)
	}
	return det, nil
}

// vehicleID accepts a string or number, falling back to the VIN
func vehicleID(raw json.RawMessage, vin string) string {
	if len(raw) > 0 {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
		var n float64
		if err := json.Unmarshal(raw, &n); err == nil {
			return strconv.FormatFloat(n, 'f', -1, 64)
		}
	}
	if vin != "" {
		return vin
	}
	return "unknown"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
