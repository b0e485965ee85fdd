package db

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/fleet-diagnostics/internal/types"
)

// Run statuses
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// DefaultListLimit caps list queries when no limit is given
const DefaultListLimit = 100

// Run is one upload-triggered pipeline execution
type Run struct {
	ID           uuid.UUID       `json:"id"`
	UserID       string          `json:"user_id"`
	FileName     string          `json:"file_name"`
	Status       string          `json:"status"`
	ErrorKind    types.ErrorKind `json:"error_kind,omitempty"`
	Message      string          `json:"message,omitempty"`
	FindingCount int             `json:"finding_count"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// RunResult is recorded when a run finishes
type RunResult struct {
	Status       string
	ErrorKind    types.ErrorKind
	Message      string
	FindingCount int
}

// Store is the persistence surface used by the server and CLI.
// Lookups of missing rows return nil without an error.
type Store interface {
	CreateRun(ctx context.Context, run *Run) error
	CompleteRun(ctx context.Context, id uuid.UUID, result RunResult) error
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
	SaveEvents(ctx context.Context, runID uuid.UUID, events []types.Event) error
	ListEvents(ctx context.Context, runID uuid.UUID) ([]types.Event, error)

	CreateNotification(ctx context.Context, n *types.Notification) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]types.Notification, error)

	CreateAppointment(ctx context.Context, a *types.Appointment) error
	ListAppointments(ctx context.Context, userID string) ([]types.Appointment, error)

	Close()
}

func listLimit(limit int) int {
	if limit <= 0 || limit > DefaultListLimit {
		return DefaultListLimit
	}
	return limit
}
