package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/jonathan/fleet-diagnostics/internal/types"
)

// ErrAlreadyRan is returned when Run is called twice on one orchestrator
var ErrAlreadyRan = errors.New("orchestrator already ran")

// Orchestrator drives one run. Construct a new one for every upload.
type Orchestrator struct {
	stages Stages
	sink   types.EmitFunc
	state  *State

	mu     sync.Mutex
	events []types.Event
	ran    bool
}

// New creates an orchestrator that reports every event to emit
func New(stages Stages, emit types.EmitFunc) *Orchestrator {
	return NewWithState(stages, emit, NewState(uuid.New()))
}

// NewWithState creates an orchestrator over an existing state, used to seed
// on-demand stages with the values they read.
func NewWithState(stages Stages, emit types.EmitFunc, state *State) *Orchestrator {
	return &Orchestrator{stages: stages, sink: emit, state: state}
}

// State returns the run state
func (o *Orchestrator) State() *State {
	return o.state
}

// Events returns a copy of every event emitted so far
func (o *Orchestrator) Events() []types.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]types.Event(nil), o.events...)
}

// emit records ev and forwards it. A panicking sink is logged and ignored.
func (o *Orchestrator) emit(ev types.Event) {
	o.mu.Lock()
	o.events = append(o.events, ev)
	o.mu.Unlock()

	if o.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[pipeline] run %s: event sink panicked on %s/%s: %v", o.state.RunID, ev.Stage, ev.Kind, r)
		}
	}()
	o.sink(ev)
}

// Run executes the automatic stages in order. The returned error is the
// pipeline error, already reported as the orchestrator failed event.
func (o *Orchestrator) Run(ctx context.Context) (*State, error) {
	o.mu.Lock()
	if o.ran {
		o.mu.Unlock()
		return o.state, ErrAlreadyRan
	}
	o.ran = true
	o.mu.Unlock()

	o.emit(types.NewEvent(types.KindStarted, types.StageOrchestrator, "Pipeline started").
		WithPayload(map[string]any{"run_id": o.state.RunID.String()}))

	if err := o.stages.Validate(); err != nil {
		return o.abort(types.NewStageError(types.ErrInternal, "pipeline misconfigured", err))
	}

	for _, id := range AutomaticOrder() {
		if err := ctx.Err(); err != nil {
			return o.abort(types.AsStageError(types.StageOrchestrator, err))
		}
		serr := o.runStage(ctx, id)
		if serr == nil {
			continue
		}
		if PolicyFor(id) == Abort {
			return o.abort(serr)
		}
		log.Printf("[pipeline] run %s: %s failed, continuing: %v", o.state.RunID, id, serr)
		o.state.Advisories[id] = serr
	}

	o.emit(types.NewEvent(types.KindCompleted, types.StageOrchestrator, completionMessage(o.state)).
		WithPayload(o.state.Snapshot()))
	return o.state, nil
}

// RunStage invokes one on-demand stage outside the automatic run and
// returns the value it produced.
func (o *Orchestrator) RunStage(ctx context.Context, id types.StageID) (any, error) {
	if _, ok := o.stages[id]; !ok {
		return nil, types.NewStageError(types.ErrInternal, fmt.Sprintf("no implementation for stage %s", id), nil)
	}
	if err := o.runStage(ctx, id); err != nil {
		return nil, err
	}
	v, _ := o.state.Get(id)
	return v, nil
}

// runStage brackets one invocation with its lifecycle events and records the outcome
func (o *Orchestrator) runStage(ctx context.Context, id types.StageID) *types.StageError {
	def := StageRegistry[id]
	stage, ok := o.stages[id]
	if !ok {
		return types.NewStageError(types.ErrInternal, fmt.Sprintf("no implementation for stage %s", id), nil)
	}

	o.emit(types.NewEvent(types.KindStarted, id, fmt.Sprintf("Starting %s", id)))

	for _, dep := range def.Dependency {
		if !o.state.Succeeded(dep) {
			serr := &types.StageError{
				Kind:    types.ErrInternal,
				Stage:   id,
				Message: fmt.Sprintf("dependency %s has no result", dep),
			}
			o.fail(id, serr, nil)
			return serr
		}
	}

	if def.SkipIf != nil {
		if reason, skip := def.SkipIf(o.state); skip {
			summary := map[string]any{"skipped": true, "reason": reason}
			o.state.summaries[id] = summary
			o.emit(types.NewEvent(types.KindCompleted, id, fmt.Sprintf("Skipped %s: %s", id, reason)).WithPayload(summary))
			return nil
		}
	}

	out := stage.Run(ctx, o.state, o.emit)
	if !out.OK {
		o.fail(id, out.Err, out.Summary)
		return out.Err
	}

	o.state.Set(id, out.Value)
	ev := types.NewEvent(types.KindCompleted, id, fmt.Sprintf("Completed %s", id))
	if out.Summary != nil {
		o.state.summaries[id] = out.Summary
		ev = ev.WithPayload(out.Summary)
	}
	o.emit(ev)
	return nil
}

func (o *Orchestrator) fail(id types.StageID, serr *types.StageError, summary map[string]any) {
	payload := failurePayload(serr)
	if summary != nil {
		payload["summary"] = summary
	}
	o.emit(types.NewEvent(types.KindFailed, id, serr.Message).WithPayload(payload))
}

// abort records the pipeline error and emits the orchestrator failure
func (o *Orchestrator) abort(serr *types.StageError) (*State, error) {
	o.state.Err = serr
	log.Printf("[pipeline] run %s aborted: %v", o.state.RunID, serr)
	o.emit(types.NewEvent(types.KindFailed, types.StageOrchestrator, serr.Message).WithPayload(failurePayload(serr)))
	return o.state, serr
}

func failurePayload(serr *types.StageError) map[string]any {
	payload := map[string]any{"kind": serr.Kind, "message": serr.Message}
	if serr.Stage != "" {
		payload["stage"] = serr.Stage
	}
	if serr.Cause != nil {
		payload["cause"] = serr.Cause.Error()
	}
	return payload
}

func completionMessage(s *State) string {
	n := len(s.Findings())
	switch {
	case n == 0:
		return "Pipeline completed: no issues found"
	case len(s.Advisories) > 0:
		return fmt.Sprintf("Pipeline completed with %d finding(s); %d advisory error(s)", n, len(s.Advisories))
	default:
		return fmt.Sprintf("Pipeline completed with %d finding(s)", n)
	}
}
