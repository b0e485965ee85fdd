// Package scheduling books service appointments for detected findings.
package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/fleet-diagnostics/internal/pipeline"
	"github.com/jonathan/fleet-diagnostics/internal/types"
)

// Appointment lengths in minutes
const (
	StandardDuration = 60
	UrgentDuration   = 120
)

// dateLayouts are tried in order; layouts without a zone use the scheduler location
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// AppointmentStore persists appointments
type AppointmentStore interface {
	CreateAppointment(ctx context.Context, a *types.Appointment) error
}

// Scheduler validates and books appointments
type Scheduler struct {
	store AppointmentStore
	now   func() time.Time
	loc   *time.Location
}

// New creates a scheduler. Dates without a zone are read as UTC.
func New(store AppointmentStore) *Scheduler {
	return &Scheduler{store: store, now: time.Now, loc: time.UTC}
}

// WithClock returns a copy of the scheduler reading the current time from now
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	cp := *s
	cp.now = now
	return &cp
}

// ParseDate reads a preferred date in any accepted layout
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date format %q", value)
}

// DurationFor returns the slot length needed for findings
func DurationFor(findings []types.Finding) int {
	if types.HasUrgent(findings) {
		return UrgentDuration
	}
	return StandardDuration
}

// Book validates req and stores the appointment
func (s *Scheduler) Book(ctx context.Context, req types.ScheduleRequest) (*types.Booking, error) {
	if err := req.Validate(); err != nil {
		return nil, types.NewStageError(types.ErrInputInvalid, "invalid scheduling request", err)
	}

	date, err := ParseDate(req.PreferredDate, s.loc)
	if err != nil {
		return nil, types.NewStageError(types.ErrInputInvalid, "Invalid date format", err)
	}
	now := s.now()
	if date.Before(now) {
		return nil, types.NewStageError(types.ErrInputInvalid, "Appointment date must be in the future", nil)
	}

	appt := &types.Appointment{
		ID:              uuid.New(),
		UserID:          req.UserEmail,
		Date:            date.UTC(),
		DurationMinutes: DurationFor(req.Findings),
		Status:          types.AppointmentScheduled,
		VIN:             req.VIN,
		Findings:        req.Findings,
		CreatedAt:       now.UTC(),
	}
	if err := s.store.CreateAppointment(ctx, appt); err != nil {
		return nil, types.NewStageError(types.ErrUpstreamUnavailable, "failed to store appointment", err)
	}

	return &types.Booking{
		AppointmentID: appt.ID,
		Date:          appt.Date,
		Message:       fmt.Sprintf("Appointment scheduled for %s", date.Format("Mon, 02 Jan 2006 15:04 MST")),
	}, nil
}

// Stage binds one booking request as the on-demand schedule stage
func (s *Scheduler) Stage(req types.ScheduleRequest) pipeline.Stage {
	return pipeline.NewStage(types.StageSchedule, func(ctx context.Context, _ *pipeline.State, emit types.EmitFunc) pipeline.StageResult[*types.Booking] {
		emit(types.NewEvent(types.KindProgress, types.StageSchedule,
			fmt.Sprintf("Booking %d-minute slot for %d finding(s)", DurationFor(req.Findings), len(req.Findings))))

		booking, err := s.Book(ctx, req)
		if err != nil {
			return pipeline.Fail[*types.Booking](err)
		}
		return pipeline.Succeed(booking, map[string]any{
			"appointment_id":   booking.AppointmentID.String(),
			"appointment_date": booking.Date,
		})
	})
}
