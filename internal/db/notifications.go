package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/fleet-diagnostics/internal/types"
)

// CreateNotification stores one notification, filling in ID and CreatedAt
func (db *DB) CreateNotification(ctx context.Context, n *types.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	finding, err := json.Marshal(n.Finding)
	if err != nil {
		return fmt.Errorf("failed to encode finding: %w", err)
	}

	var runID *uuid.UUID
	if n.RunID != uuid.Nil {
		runID = &n.RunID
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO notifications (id, run_id, user_id, finding, read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		n.ID, runID, n.UserID, finding, n.Read, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// ListNotifications returns the newest notifications for a user
func (db *DB) ListNotifications(ctx context.Context, userID string, limit int) ([]types.Notification, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, run_id, user_id, finding, read, created_at
		 FROM notifications WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		userID, listLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []types.Notification
	for rows.Next() {
		var (
			n       types.Notification
			runID   *uuid.UUID
			finding []byte
		)
		if err := rows.Scan(&n.ID, &runID, &n.UserID, &finding, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		if runID != nil {
			n.RunID = *runID
		}
		if err := json.Unmarshal(finding, &n.Finding); err != nil {
			return nil, fmt.Errorf("failed to decode finding for notification %s: %w", n.ID, err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return out, nil
}
