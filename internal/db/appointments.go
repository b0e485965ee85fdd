package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/fleet-diagnostics/internal/types"
)

// CreateAppointment stores a booking, filling in ID, status and CreatedAt
func (db *DB) CreateAppointment(ctx context.Context, a *types.Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = types.AppointmentScheduled
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	findings, err := json.Marshal(a.Findings)
	if err != nil {
		return fmt.Errorf("failed to encode findings: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO appointments (id, user_id, appointment_date, duration_minutes, status, vin, findings, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.UserID, a.Date, a.DurationMinutes, string(a.Status), a.VIN, findings, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create appointment: %w", err)
	}
	return nil
}

// ListAppointments returns a user's appointments ordered by date
func (db *DB) ListAppointments(ctx context.Context, userID string) ([]types.Appointment, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, user_id, appointment_date, duration_minutes, status, vin, findings, created_at
		 FROM appointments WHERE user_id = $1
		 ORDER BY appointment_date`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	defer rows.Close()

	var out []types.Appointment
	for rows.Next() {
		var (
			a        types.Appointment
			status   string
			findings []byte
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.Date, &a.DurationMinutes, &status, &a.VIN, &findings, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan appointment: %w", err)
		}
		a.Status = types.AppointmentStatus(status)
		if err := json.Unmarshal(findings, &a.Findings); err != nil {
			return nil, fmt.Errorf("failed to decode findings for appointment %s: %w", a.ID, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	return out, nil
}
