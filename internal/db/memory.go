package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/fleet-diagnostics/internal/types"
)

// MemoryStore keeps everything in process memory. It is used when no
// database URL is configured and in tests.
type MemoryStore struct {
	mu            sync.Mutex
	runs          map[uuid.UUID]*Run
	events        map[uuid.UUID][]types.Event
	notifications []types.Notification
	appointments  []types.Appointment
	now           func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:   make(map[uuid.UUID]*Run),
		events: make(map[uuid.UUID][]types.Event),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateRun records a run in the running state
func (m *MemoryStore) CreateRun(ctx context.Context, run *Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if _, exists := m.runs[run.ID]; exists {
		return fmt.Errorf("failed to create run: run %s already exists", run.ID)
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	run.CreatedAt = m.now()
	stored := *run
	m.runs[run.ID] = &stored
	return nil
}

// CompleteRun records the final status of a run
func (m *MemoryStore) CompleteRun(ctx context.Context, id uuid.UUID, result RunResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return fmt.Errorf("failed to complete run: run %s not found", id)
	}
	completed := m.now()
	run.Status = result.Status
	run.ErrorKind = result.ErrorKind
	run.Message = result.Message
	run.FindingCount = result.FindingCount
	run.CompletedAt = &completed
	return nil
}

// GetRun returns a copy of the run, or nil when absent
func (m *MemoryStore) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, nil
	}
	out := *run
	return &out, nil
}

// SaveEvents appends to the event log of a run
func (m *MemoryStore) SaveEvents(ctx context.Context, runID uuid.UUID, events []types.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[runID]; !ok {
		return fmt.Errorf("failed to save %d events: run %s not found", len(events), runID)
	}
	m.events[runID] = append(m.events[runID], events...)
	return nil
}

// ListEvents returns a copy of the event log of a run
func (m *MemoryStore) ListEvents(ctx context.Context, runID uuid.UUID) ([]types.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.events[runID]
	if len(stored) == 0 {
		return nil, nil
	}
	out := make([]types.Event, len(stored))
	copy(out, stored)
	return out, nil
}

// CreateNotification stores one notification
func (m *MemoryStore) CreateNotification(ctx context.Context, n *types.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = m.now()
	}
	m.notifications = append(m.notifications, *n)
	return nil
}

// ListNotifications returns the newest notifications for a user
func (m *MemoryStore) ListNotifications(ctx context.Context, userID string, limit int) ([]types.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.Notification
	for i := len(m.notifications) - 1; i >= 0; i-- {
		if m.notifications[i].UserID == userID {
			out = append(out, m.notifications[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if n := listLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// CreateAppointment stores a booking
func (m *MemoryStore) CreateAppointment(ctx context.Context, a *types.Appointment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = types.AppointmentScheduled
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = m.now()
	}
	m.appointments = append(m.appointments, *a)
	return nil
}

// ListAppointments returns a user's appointments ordered by date
func (m *MemoryStore) ListAppointments(ctx context.Context, userID string) ([]types.Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.Appointment
	for _, a := range m.appointments {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}

// Close is a no-op
func (m *MemoryStore) Close() {}
