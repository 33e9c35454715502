package types

import (
	"time"

	"github.com/google/uuid"
)

// Decision is the resolution of a checkpoint.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
	// DecisionExpired is recorded when a checkpoint deadline elapses.
	// Expiry is fail-safe: it behaves like a rejection, never an approval.
	DecisionExpired Decision = "expired"
)

// Valid reports whether d is a recognized decision.
func (d Decision) Valid() bool {
	switch d {
	case DecisionApproved, DecisionRejected, DecisionExpired:
		return true
	}
	return false
}

// Checkpoint represents a pending (or settled) human decision. A run has at
// most one open checkpoint at a time.
type Checkpoint struct {
	RunID      uuid.UUID  `json:"run_id"`
	State      RunState   `json:"state"`
	OpenedAt   time.Time  `json:"opened_at"`
	Deadline   *time.Time `json:"deadline,omitempty"`
	Resolution Decision   `json:"resolution,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Open reports whether the checkpoint still awaits a decision.
func (c *Checkpoint) Open() bool {
	return c.Resolution == ""
}

// Expired reports whether an open checkpoint's deadline has elapsed.
func (c *Checkpoint) Expired(now time.Time) bool {
	return c.Open() && c.Deadline != nil && now.After(*c.Deadline)
}
