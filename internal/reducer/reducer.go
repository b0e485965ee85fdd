// Package reducer derives display state from an ordered event log. It
// holds no state of its own: the log is the only source of truth.
package reducer

import (
	"sync"

	"github.com/jonathan/fleet-diagnostics/internal/types"
)

// Status is the display status of one stage
type Status string

// Stage statuses
const (
	StatusIdle   Status = "idle"
	StatusActive Status = "active"
	StatusDone   Status = "done"
	StatusFailed Status = "failed"
)

// State is the result of folding an event log. States share storage with
// the states they were folded from, so their fields are read-only.
type State struct {
	StageStatus map[types.StageID]Status `json:"stage_status"`
	ActiveStage *types.StageID           `json:"active_stage"`
	Log         []types.Event            `json:"log"`

	tip *logTip
}

// logTip guards the spare capacity of a shared log array. n is the number
// of slots handed out; only a state whose log ends at n may append in place.
type logTip struct {
	mu sync.Mutex
	n  int
}

// Empty returns the state of an empty log: every stage idle, nothing active
func Empty() State {
	st := State{StageStatus: make(map[types.StageID]Status, len(types.AllStages()))}
	for _, id := range types.AllStages() {
		st.StageStatus[id] = StatusIdle
	}
	return st
}

// Reduce folds events in order. Reduce(log) equals applying every event
// of log to Empty() one at a time.
func Reduce(events []types.Event) State {
	st := Empty()
	for _, ev := range events {
		st = Apply(st, ev)
	}
	return st
}

// Apply returns the state after ev. prev is not modified.
//
// A stage's status follows its most recent event: started, progress and
// token mean active, completed means done and failed means failed. The
// active stage is the stage of the latest non-terminal event; after a
// terminal event it returns to the orchestrator if the orchestrator is
// still active, and is cleared otherwise.
func Apply(prev State, ev types.Event) State {
	next := State{
		StageStatus: prev.StageStatus,
		ActiveStage: prev.ActiveStage,
	}
	next.Log, next.tip = appendEvent(prev, ev)

	var status Status
	switch ev.Kind {
	case types.KindCompleted:
		status = StatusDone
	case types.KindFailed:
		status = StatusFailed
	case types.KindStarted, types.KindProgress, types.KindToken:
		status = StatusActive
	default:
		return next
	}
	next.StageStatus = withStatus(prev.StageStatus, ev.Stage, status)

	if !ev.Kind.IsTerminal() {
		next.ActiveStage = activePtr(prev.ActiveStage, ev.Stage)
		return next
	}
	if ev.Stage != types.StageOrchestrator && next.StageStatus[types.StageOrchestrator] == StatusActive {
		next.ActiveStage = activePtr(prev.ActiveStage, types.StageOrchestrator)
	} else {
		next.ActiveStage = nil
	}
	return next
}

// appendEvent extends prev's log in place when prev is the latest state
// folded on its array, and copies into a larger array otherwise. Folding one
// event at a time is amortized constant work per event.
func appendEvent(prev State, ev types.Event) ([]types.Event, *logTip) {
	n := len(prev.Log)
	if t := prev.tip; t != nil && n < cap(prev.Log) {
		t.mu.Lock()
		claimed := t.n == n
		if claimed {
			t.n++
		}
		t.mu.Unlock()
		if claimed {
			return append(prev.Log, ev), t
		}
	}

	grown := make([]types.Event, n, 2*n+8)
	copy(grown, prev.Log)
	return append(grown, ev), &logTip{n: n + 1}
}

// withStatus returns statuses with id set, copying only on change
func withStatus(statuses map[types.StageID]Status, id types.StageID, status Status) map[types.StageID]Status {
	if cur, ok := statuses[id]; ok && cur == status {
		return statuses
	}
	next := make(map[types.StageID]Status, len(statuses)+1)
	for k, v := range statuses {
		next[k] = v
	}
	next[id] = status
	return next
}

func activePtr(prev *types.StageID, id types.StageID) *types.StageID {
	if prev != nil && *prev == id {
		return prev
	}
	return stagePtr(id)
}

// Status returns the status of id, idle when unknown
func (s State) Status(id types.StageID) Status {
	if st, ok := s.StageStatus[id]; ok {
		return st
	}
	return StatusIdle
}

// Active returns the active stage, or "" when none
func (s State) Active() types.StageID {
	if s.ActiveStage == nil {
		return ""
	}
	return *s.ActiveStage
}

// Finished reports whether the orchestrator reached a terminal status
func (s State) Finished() bool {
	st := s.Status(types.StageOrchestrator)
	return st == StatusDone || st == StatusFailed
}

func stagePtr(id types.StageID) *types.StageID {
	return &id
}
