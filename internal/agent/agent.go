// Package agent binds the stage implementations to one orchestrator per
// request and records run history. Both the HTTP server and the CLI go
// through it.
package agent

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/fleet-diagnostics/internal/chat"
	"github.com/jonathan/fleet-diagnostics/internal/config"
	"github.com/jonathan/fleet-diagnostics/internal/db"
	"github.com/jonathan/fleet-diagnostics/internal/detection"
	"github.com/jonathan/fleet-diagnostics/internal/dispatch"
	"github.com/jonathan/fleet-diagnostics/internal/ingestion"
	"github.com/jonathan/fleet-diagnostics/internal/llm"
	"github.com/jonathan/fleet-diagnostics/internal/pipeline"
	"github.com/jonathan/fleet-diagnostics/internal/scheduling"
	"github.com/jonathan/fleet-diagnostics/internal/types"
)

// Agent owns the long-lived collaborators shared by every run
type Agent struct {
	store      db.Store
	detector   *detection.Detector
	dispatcher *dispatch.Dispatcher
	scheduler  *scheduling.Scheduler
	assistant  *chat.Assistant
}

// Options overrides collaborators, mainly for tests
type Options struct {
	Now func() time.Time
}

// New creates an agent from configuration
func New(client llm.Client, store db.Store, cfg *config.Config, opts Options) *Agent {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Agent{
		store: store,
		detector: detection.New(client, detection.Options{
			Deadline:    cfg.InferenceTimeout,
			MinChunk:    cfg.MinChunk,
			PreviewRows: cfg.PreviewRows,
			Now:         now,
		}),
		dispatcher: dispatch.New(store, cfg.DispatchConcurrency),
		scheduler:  scheduling.New(store).WithClock(now),
		assistant: chat.New(client, chat.Options{
			Deadline: cfg.ChatTimeout,
			MinChunk: cfg.MinChunk,
			Now:      now,
		}),
	}
}

// Store returns the persistence layer
func (a *Agent) Store() db.Store {
	return a.store
}

// Upload is one CSV file submitted for analysis
type Upload struct {
	FileName  string
	Data      []byte
	Recipient string
}

// Stages returns the automatic stages for one upload
func (a *Agent) Stages(up Upload) pipeline.Stages {
	return pipeline.Stages{
		types.StageIngest:   ingestion.Stage(up.FileName, up.Data),
		types.StageInfer:    a.detector.Stage(),
		types.StageDispatch: a.dispatcher.Stage(up.Recipient),
	}
}

// Analyze runs the automatic pipeline for up, reporting every event to emit,
// and records the run with its event log. History failures are logged and
// never change the result.
func (a *Agent) Analyze(ctx context.Context, up Upload, emit types.EmitFunc) *pipeline.Result {
	runID := uuid.New()
	recorded := true
	if err := a.store.CreateRun(ctx, &db.Run{ID: runID, UserID: up.Recipient, FileName: up.FileName}); err != nil {
		log.Printf("[agent] run %s: failed to record run: %v", runID, err)
		recorded = false
	}

	o := pipeline.NewWithState(a.Stages(up), emit, pipeline.NewState(runID))
	state, err := o.Run(ctx)
	result := pipeline.NewResult(state, o.Events(), err)

	if recorded {
		a.record(context.WithoutCancel(ctx), runID, result)
	}
	return result
}

func (a *Agent) record(ctx context.Context, runID uuid.UUID, result *pipeline.Result) {
	if err := a.store.SaveEvents(ctx, runID, result.Events); err != nil {
		log.Printf("[agent] run %s: failed to save events: %v", runID, err)
	}
	status := db.RunStatusCompleted
	if !result.Success {
		status = db.RunStatusFailed
	}
	err := a.store.CompleteRun(ctx, runID, db.RunResult{
		Status:       status,
		ErrorKind:    result.ErrorKind,
		Message:      result.Message,
		FindingCount: result.FindingCount,
	})
	if err != nil {
		log.Printf("[agent] run %s: failed to complete run: %v", runID, err)
	}
}

// Schedule books an appointment as a one-off schedule stage invocation
func (a *Agent) Schedule(ctx context.Context, req types.ScheduleRequest, emit types.EmitFunc) (*types.Booking, error) {
	o := pipeline.New(pipeline.Stages{types.StageSchedule: a.scheduler.Stage(req)}, emit)
	v, err := o.RunStage(ctx, types.StageSchedule)
	if err != nil {
		return nil, err
	}
	return v.(*types.Booking), nil
}
