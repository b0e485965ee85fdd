package types

import (
	"time"

	"github.com/google/uuid"
)

// Notification is an in-app alert stored for one finding
type Notification struct {
	ID        uuid.UUID `json:"id"`
	RunID     uuid.UUID `json:"run_id"`
	UserID    string    `json:"user_id"`
	Finding   Finding   `json:"finding"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// DispatchOutcome reports how many notifications were persisted
type DispatchOutcome struct {
	OK      bool     `json:"ok"`
	Count   int      `json:"count"`
	Skipped bool     `json:"skipped,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}
