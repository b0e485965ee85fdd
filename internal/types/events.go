// Package types provides type definitions for structured data used throughout the fleet diagnostics system.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// StageID identifies a pipeline participant
type StageID string

// Stage identities. The set is closed; every map keyed by StageID uses these.
const (
	StageOrchestrator   StageID = "orchestrator"
	StageIngest         StageID = "ingest"
	StageInfer          StageID = "infer"
	StageDispatch       StageID = "dispatch"
	StageSchedule       StageID = "schedule"
	StageConversational StageID = "conversational"
)

// AllStages returns every stage in declaration order
func AllStages() []StageID {
	return []StageID{
		StageOrchestrator,
		StageIngest,
		StageInfer,
		StageDispatch,
		StageSchedule,
		StageConversational,
	}
}

// Valid reports whether s is one of the declared stages
func (s StageID) Valid() bool {
	for _, id := range AllStages() {
		if id == s {
			return true
		}
	}
	return false
}

// EventKind is the kind of a progress event
type EventKind string

// Event kinds
const (
	KindStarted   EventKind = "started"
	KindProgress  EventKind = "progress"
	KindToken     EventKind = "token"
	KindCompleted EventKind = "completed"
	KindFailed    EventKind = "failed"
)

// IsTerminal reports whether the kind closes a stage invocation
func (k EventKind) IsTerminal() bool {
	return k == KindCompleted || k == KindFailed
}

// Event is an immutable, timestamped record of stage progress.
// Timestamp is unix milliseconds.
type Event struct {
	Kind      EventKind       `json:"kind"`
	Stage     StageID         `json:"stage"`
	Message   string          `json:"message"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// EmitFunc receives events as a stage produces them
type EmitFunc func(Event)

// nowMillis is replaced in tests that need stable timestamps
var nowMillis = func() int64 { return time.Now().UnixMilli() }

// NewEvent creates an event stamped with the current time
func NewEvent(kind EventKind, stage StageID, message string) Event {
	return Event{
		Kind:      kind,
		Stage:     stage,
		Message:   message,
		Timestamp: nowMillis(),
	}
}

// WithPayload returns a copy of the event carrying v as its compact JSON payload.
// Values that cannot be marshaled are dropped and the event is returned unchanged.
func (e Event) WithPayload(v any) Event {
	if v == nil {
		return e
	}
	data, err := json.Marshal(v)
	if err != nil {
		return e
	}
	e.Payload = data
	return e
}

// Time returns the event timestamp as a time.Time
func (e Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// DecodePayload unmarshals the event payload into v
func (e Event) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event has no payload")
	}
	return json.Unmarshal(e.Payload, v)
}

// SequenceError reports an event that breaks per-stage ordering
type SequenceError struct {
	Index   int
	Stage   StageID
	Kind    EventKind
	Message string
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("event %d (%s/%s): %s", e.Index, e.Stage, e.Kind, e.Message)
}

// ValidateSequence checks that, for every stage, kinds follow
// started, (progress|token)*, (completed|failed). A stage may start a new
// invocation after a terminal event; nothing else may follow a terminal.
func ValidateSequence(events []Event) error {
	open := make(map[StageID]bool)
	for i, ev := range events {
		if !ev.Stage.Valid() {
			return &SequenceError{Index: i, Stage: ev.Stage, Kind: ev.Kind, Message: "unknown stage"}
		}
		switch {
		case ev.Kind == KindStarted:
			if open[ev.Stage] {
				return &SequenceError{Index: i, Stage: ev.Stage, Kind: ev.Kind, Message: "started twice without a terminal event"}
			}
			open[ev.Stage] = true
		case ev.Kind.IsTerminal():
			if !open[ev.Stage] {
				return &SequenceError{Index: i, Stage: ev.Stage, Kind: ev.Kind, Message: "terminal event without started"}
			}
			open[ev.Stage] = false
		case ev.Kind == KindProgress || ev.Kind == KindToken:
			if !open[ev.Stage] {
				return &SequenceError{Index: i, Stage: ev.Stage, Kind: ev.Kind, Message: "progress outside an open invocation"}
			}
		default:
			return &SequenceError{Index: i, Stage: ev.Stage, Kind: ev.Kind, Message: "unknown kind"}
		}
	}
	return nil
}
