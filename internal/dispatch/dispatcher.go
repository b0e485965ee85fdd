// Package dispatch stores one in-app notification per finding.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/fleet-diagnostics/internal/pipeline"
	"github.com/jonathan/fleet-diagnostics/internal/types"
)

// DefaultConcurrency bounds parallel writes when unset
const DefaultConcurrency = 4

// NotificationStore persists notifications
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *types.Notification) error
}

// Dispatcher writes notifications for findings. Writes already committed are
// never rolled back when a later one fails.
type Dispatcher struct {
	store       NotificationStore
	concurrency int
	now         func() time.Time
}

// New creates a dispatcher. Non-positive concurrency uses DefaultConcurrency.
func New(store NotificationStore, concurrency int) *Dispatcher {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Dispatcher{store: store, concurrency: concurrency, now: time.Now}
}

// Persist writes one notification per finding for recipient
func (d *Dispatcher) Persist(ctx context.Context, runID uuid.UUID, recipient string, findings []types.Finding) types.DispatchOutcome {
	if len(findings) == 0 {
		return types.DispatchOutcome{OK: true, Skipped: true}
	}

	errs := make([]error, len(findings))
	stamp := d.now().UTC()

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, f := range findings {
		g.Go(func() error {
			n := &types.Notification{
				ID:        uuid.New(),
				RunID:     runID,
				UserID:    recipient,
				Finding:   f,
				CreatedAt: stamp,
			}
			if err := d.store.CreateNotification(ctx, n); err != nil {
				errs[i] = fmt.Errorf("finding %s: %w", f.ID, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	var out types.DispatchOutcome
	for _, err := range errs {
		if err != nil {
			out.Errors = append(out.Errors, err.Error())
		} else {
			out.Count++
		}
	}
	out.OK = len(out.Errors) == 0
	return out
}

// Stage binds the dispatcher as the dispatch stage for recipient
func (d *Dispatcher) Stage(recipient string) pipeline.Stage {
	return pipeline.NewStage(types.StageDispatch, func(ctx context.Context, s *pipeline.State, emit types.EmitFunc) pipeline.StageResult[types.DispatchOutcome] {
		findings := s.Findings()
		emit(types.NewEvent(types.KindProgress, types.StageDispatch,
			fmt.Sprintf("Creating %d notification(s) for %s", len(findings), recipient)))

		out := d.Persist(ctx, s.RunID, recipient, findings)
		summary := map[string]any{"count": out.Count, "total": len(findings)}
		if out.OK {
			return pipeline.Succeed(out, summary)
		}

		log.Printf("[dispatch] run %s: %d of %d notifications failed", s.RunID, len(out.Errors), len(findings))
		summary["errors"] = out.Errors
		res := pipeline.Fail[types.DispatchOutcome](types.NewStageError(types.ErrPersistencePartial,
			fmt.Sprintf("stored %d of %d notifications", out.Count, len(findings)), nil))
		res.Value = out
		res.Summary = summary
		return res
	})
}
