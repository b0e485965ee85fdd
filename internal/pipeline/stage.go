// Package pipeline runs the analysis stages in order and reports their
// progress as events.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/jonathan/fleet-diagnostics/internal/types"
)

// StageResult is the outcome of one stage invocation
type StageResult[T any] struct {
	OK      bool
	Value   T
	Err     error
	Summary map[string]any
}

// Succeed returns a successful result
func Succeed[T any](value T, summary map[string]any) StageResult[T] {
	return StageResult[T]{OK: true, Value: value, Summary: summary}
}

// Fail returns a failed result
func Fail[T any](err error) StageResult[T] {
	return StageResult[T]{Err: err}
}

// Reason returns the human-readable failure, or "" on success
func (r StageResult[T]) Reason() string {
	if r.OK {
		return ""
	}
	if r.Err == nil {
		return "stage failed without a reason"
	}
	return r.Err.Error()
}

// Outcome is the untyped form of a StageResult handed to the orchestrator
type Outcome struct {
	OK      bool
	Value   any
	Err     *types.StageError
	Summary map[string]any
}

// Stage is one pipeline participant
type Stage interface {
	ID() types.StageID
	Run(ctx context.Context, state *State, emit types.EmitFunc) Outcome
}

// RunFunc is the body of a stage. It reports failure through its result and
// may call emit only until it returns.
type RunFunc[T any] func(ctx context.Context, state *State, emit types.EmitFunc) StageResult[T]

// NewStage binds fn to id
func NewStage[T any](id types.StageID, fn RunFunc[T]) Stage {
	return &typedStage[T]{id: id, fn: fn}
}

type typedStage[T any] struct {
	id types.StageID
	fn RunFunc[T]
}

func (s *typedStage[T]) ID() types.StageID { return s.id }

func (s *typedStage[T]) Run(ctx context.Context, state *State, emit types.EmitFunc) (out Outcome) {
	guard := newEmitGuard(s.id, emit)
	defer guard.close()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[pipeline] stage %s panicked: %v", s.id, r)
			out = Outcome{Err: &types.StageError{
				Kind:    types.ErrInternal,
				Stage:   s.id,
				Message: fmt.Sprint(r),
			}}
		}
	}()

	res := s.fn(ctx, state, guard.emit)
	if !res.OK {
		err := res.Err
		if err == nil {
			err = errors.New(res.Reason())
		}
		return Outcome{Err: types.AsStageError(s.id, err), Summary: res.Summary}
	}
	return Outcome{OK: true, Value: res.Value, Summary: res.Summary}
}

// emitGuard forwards a stage's own progress events and drops everything
// else: lifecycle kinds belong to the orchestrator, and nothing may be
// emitted once the stage has returned.
type emitGuard struct {
	mu     sync.Mutex
	stage  types.StageID
	sink   types.EmitFunc
	closed bool
}

func newEmitGuard(stage types.StageID, sink types.EmitFunc) *emitGuard {
	return &emitGuard{stage: stage, sink: sink}
}

func (g *emitGuard) emit(ev types.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case g.closed:
		log.Printf("[pipeline] dropped %s event from %s: stage already returned", ev.Kind, g.stage)
		return
	case ev.Kind != types.KindProgress && ev.Kind != types.KindToken:
		log.Printf("[pipeline] dropped %s event from %s: lifecycle events are emitted by the orchestrator", ev.Kind, g.stage)
		return
	case ev.Stage != g.stage:
		ev.Stage = g.stage
	}
	if g.sink != nil {
		g.sink(ev)
	}
}

func (g *emitGuard) close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}
