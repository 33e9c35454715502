// Package types defines the core data model for application runs: the run
// record, its state tags, per-transition snapshots, stage outcomes, and
// checkpoints awaiting human decisions.
package types

import (
	"time"

	"github.com/google/uuid"
)

// RunState is the state tag of an application run. A run is in exactly one
// state at any point in time.
type RunState string

const (
	StateHunting           RunState = "hunting"
	StateMatching          RunState = "matching"
	StateContentGeneration RunState = "content_generation"
	StateFormFilling       RunState = "form_filling"
	StateSecurityChallenge RunState = "security_challenge"
	StateAwaitingApproval  RunState = "awaiting_approval"
	StateSubmitting        RunState = "submitting"
	StateMonitoring        RunState = "monitoring"
	StateSyncing           RunState = "syncing"
	StateCompleted         RunState = "completed"
	StateFailed            RunState = "failed"
	StateCancelled         RunState = "cancelled"
)

// AllStates lists every defined run state.
var AllStates = []RunState{
	StateHunting,
	StateMatching,
	StateContentGeneration,
	StateFormFilling,
	StateSecurityChallenge,
	StateAwaitingApproval,
	StateSubmitting,
	StateMonitoring,
	StateSyncing,
	StateCompleted,
	StateFailed,
	StateCancelled,
}

// Terminal reports whether the state has no outgoing transitions.
func (s RunState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Valid reports whether s is one of the defined run states.
func (s RunState) Valid() bool {
	for _, state := range AllStates {
		if s == state {
			return true
		}
	}
	return false
}

// Run represents one (user, job candidate) pair pursuing an application.
// Runs are mutated exclusively by the orchestration engine.
type Run struct {
	ID              uuid.UUID  `json:"id"`
	UserID          uuid.UUID  `json:"user_id"`
	JobRef          string     `json:"job_ref"`
	State           RunState   `json:"state"`
	Terminal        bool       `json:"terminal"`
	CancelRequested bool       `json:"cancel_requested,omitempty"`
	WakeAt          *time.Time `json:"wake_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Transition is one immutable entry in a run's append-only history.
// Sequence numbers are strictly increasing per run.
type Transition struct {
	RunID     uuid.UUID `json:"run_id"`
	Seq       int       `json:"seq"`
	State     RunState  `json:"state"`
	Snapshot  *Snapshot `json:"snapshot"`
	CreatedAt time.Time `json:"created_at"`
}
