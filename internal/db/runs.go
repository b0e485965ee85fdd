package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/fleet-diagnostics/internal/types"
)

// CreateRun inserts a run in the running state
func (db *DB) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	err := db.pool.QueryRow(ctx,
		`INSERT INTO runs (id, user_id, file_name, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		run.ID, run.UserID, run.FileName, run.Status,
	).Scan(&run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// CompleteRun records the final status of a run
func (db *DB) CompleteRun(ctx context.Context, id uuid.UUID, result RunResult) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE runs
		 SET status = $1, error_kind = NULLIF($2, ''), message = $3, finding_count = $4, completed_at = NOW()
		 WHERE id = $5`,
		result.Status, string(result.ErrorKind), result.Message, result.FindingCount, id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to complete run: run %s not found", id)
	}
	return nil
}

// GetRun retrieves a run by ID
func (db *DB) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	var (
		run       Run
		errorKind *string
		message   *string
	)
	err := db.pool.QueryRow(ctx,
		`SELECT id, user_id, file_name, status, error_kind, message, finding_count, created_at, completed_at
		 FROM runs WHERE id = $1`,
		id,
	).Scan(&run.ID, &run.UserID, &run.FileName, &run.Status, &errorKind, &message,
		&run.FindingCount, &run.CreatedAt, &run.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if errorKind != nil {
		run.ErrorKind = types.ErrorKind(*errorKind)
	}
	if message != nil {
		run.Message = *message
	}
	return &run, nil
}

// SaveEvents appends the event log of a run with one COPY
func (db *DB) SaveEvents(ctx context.Context, runID uuid.UUID, events []types.Event) error {
	if len(events) == 0 {
		return nil
	}
	var start int
	if err := db.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq) + 1, 0) FROM run_events WHERE run_id = $1`, runID,
	).Scan(&start); err != nil {
		return fmt.Errorf("failed to read event sequence: %w", err)
	}

	rows := make([][]any, len(events))
	for i, ev := range events {
		var payload any
		if len(ev.Payload) > 0 {
			payload = []byte(ev.Payload)
		}
		rows[i] = []any{runID, start + i, string(ev.Kind), string(ev.Stage), ev.Message, payload, ev.Timestamp}
	}

	_, err := db.pool.CopyFrom(ctx,
		pgx.Identifier{"run_events"},
		[]string{"run_id", "seq", "kind", "stage", "message", "payload", "emitted_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to save %d events: %w", len(events), err)
	}
	return nil
}

// ListEvents returns the event log of a run in emission order
func (db *DB) ListEvents(ctx context.Context, runID uuid.UUID) ([]types.Event, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT kind, stage, message, payload, emitted_at
		 FROM run_events WHERE run_id = $1 ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []types.Event
	for rows.Next() {
		var (
			ev      types.Event
			kind    string
			stage   string
			payload []byte
		)
		if err := rows.Scan(&kind, &stage, &ev.Message, &payload, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Kind = types.EventKind(kind)
		ev.Stage = types.StageID(stage)
		if len(payload) > 0 {
			ev.Payload = payload
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}
