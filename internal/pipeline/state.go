package pipeline

import (
	"github.com/google/uuid"

	"github.com/jonathan/fleet-diagnostics/internal/types"
)

// State accumulates stage values for one run. It is owned by the
// orchestrator while the run is in progress and read-only afterwards.
type State struct {
	RunID      uuid.UUID
	Err        *types.StageError
	Advisories map[types.StageID]*types.StageError

	values    map[types.StageID]any
	summaries map[types.StageID]map[string]any
}

// NewState creates an empty state for runID
func NewState(runID uuid.UUID) *State {
	return &State{
		RunID:      runID,
		Advisories: make(map[types.StageID]*types.StageError),
		values:     make(map[types.StageID]any),
		summaries:  make(map[types.StageID]map[string]any),
	}
}

// Set records the value produced by a stage. Callers seed on-demand inputs the same way.
func (s *State) Set(id types.StageID, value any) {
	s.values[id] = value
}

// Get returns the raw value recorded for id
func (s *State) Get(id types.StageID) (any, bool) {
	v, ok := s.values[id]
	return v, ok
}

// Succeeded reports whether id recorded a value
func (s *State) Succeeded(id types.StageID) bool {
	_, ok := s.values[id]
	return ok
}

// Summary returns the completion summary of id
func (s *State) Summary(id types.StageID) map[string]any {
	return s.summaries[id]
}

// Value returns the value recorded for id as T
func Value[T any](s *State, id types.StageID) (T, bool) {
	var zero T
	if s == nil {
		return zero, false
	}
	raw, ok := s.values[id]
	if !ok {
		return zero, false
	}
	v, ok := raw.(T)
	return v, ok
}

// Dataset returns the parsed upload
func (s *State) Dataset() *types.Dataset {
	ds, _ := Value[*types.Dataset](s, types.StageIngest)
	return ds
}

// Detection returns the inference result
func (s *State) Detection() *types.Detection {
	det, _ := Value[*types.Detection](s, types.StageInfer)
	return det
}

// Findings returns the detected findings, or nil before inference succeeded
func (s *State) Findings() []types.Finding {
	if det := s.Detection(); det != nil {
		return det.Findings
	}
	return nil
}

// Snapshot is the serializable form of a State
type Snapshot struct {
	RunID      string                              `json:"run_id"`
	Values     map[types.StageID]any               `json:"values"`
	Summaries  map[types.StageID]map[string]any    `json:"summaries,omitempty"`
	Error      *types.StageError                   `json:"error,omitempty"`
	Advisories map[types.StageID]*types.StageError `json:"advisories,omitempty"`
}

// Snapshot copies the state for serialization
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		RunID:  s.RunID.String(),
		Values: make(map[types.StageID]any, len(s.values)),
		Error:  s.Err,
	}
	for id, v := range s.values {
		snap.Values[id] = v
	}
	if len(s.summaries) > 0 {
		snap.Summaries = make(map[types.StageID]map[string]any, len(s.summaries))
		for id, v := range s.summaries {
			snap.Summaries[id] = v
		}
	}
	if len(s.Advisories) > 0 {
		snap.Advisories = make(map[types.StageID]*types.StageError, len(s.Advisories))
		for id, v := range s.Advisories {
			snap.Advisories[id] = v
		}
	}
	return snap
}
