package types

import "strings"

// Severity ranks how urgent a finding is
type Severity string

// Severity levels
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity normalizes free-form severity text; unknown values become medium
func ParseSeverity(s string) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityLow:
		return SeverityLow
	case SeverityHigh:
		return SeverityHigh
	case SeverityCritical:
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// Urgent reports whether the severity is high or critical
func (s Severity) Urgent() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// Finding is one anomaly flagged by the inference stage
type Finding struct {
	ID                string   `json:"id"`
	VehicleID         string   `json:"vehicle_id"`
	VIN               string   `json:"vin,omitempty"`
	Row               int      `json:"row,omitempty"` // 1-based data row, 0 when unknown
	Type              string   `json:"type"`
	Severity          Severity `json:"severity"`
	Description       string   `json:"description"`
	Recommendation    string   `json:"recommendation"`
	AffectedComponent string   `json:"affected_component,omitempty"`
	DetectedAt        int64    `json:"detected_at"`
}

// Detection is the result of the inference stage
type Detection struct {
	Findings []Finding `json:"findings"`
	Summary  string    `json:"summary"`
}

// CriticalCount returns the number of critical findings
func (d *Detection) CriticalCount() int {
	if d == nil {
		return 0
	}
	count := 0
	for _, f := range d.Findings {
		if f.Severity == SeverityCritical {
			count++
		}
	}
	return count
}

// HasUrgent reports whether any finding is high or critical
func HasUrgent(findings []Finding) bool {
	for _, f := range findings {
		if f.Severity.Urgent() {
			return true
		}
	}
	return false
}
