package pipeline

import (
	"github.com/jonathan/fleet-diagnostics/internal/types"
)

// Result is the final aggregate of a run. Message and ErrorKind are always
// present; ErrorKind is empty on success.
type Result struct {
	Success       bool            `json:"success"`
	Message       string          `json:"message"`
	ErrorKind     types.ErrorKind `json:"error_kind"`
	RunID         string          `json:"run_id"`
	FindingCount  int             `json:"finding_count"`
	CriticalCount int             `json:"critical_count"`
	Findings      []types.Finding `json:"findings"`
	State         Snapshot        `json:"state"`
	Events        []types.Event   `json:"events,omitempty"`
}

// NewResult builds the aggregate from a finished run. err is the error
// returned by Run, if any.
func NewResult(s *State, events []types.Event, err error) *Result {
	findings := s.Findings()
	if findings == nil {
		findings = []types.Finding{}
	}
	r := &Result{
		Success:       err == nil,
		RunID:         s.RunID.String(),
		FindingCount:  len(findings),
		CriticalCount: s.Detection().CriticalCount(),
		Findings:      findings,
		State:         s.Snapshot(),
		Events:        events,
	}
	if err == nil {
		r.Message = completionMessage(s)
		return r
	}

	serr := s.Err
	if serr == nil {
		serr = types.AsStageError(types.StageOrchestrator, err)
	}
	r.Message = serr.Message
	r.ErrorKind = serr.Kind
	return r
}

// Error returns the classified pipeline error, or nil on success
func (r *Result) Error() *types.StageError {
	if r.Success {
		return nil
	}
	if r.State.Error != nil {
		return r.State.Error
	}
	return &types.StageError{Kind: r.ErrorKind, Stage: types.StageOrchestrator, Message: r.Message}
}
