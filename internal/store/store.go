// Package store provides durable, append-only persistence for application
// runs. Every state change is recorded as a transition with a strictly
// increasing sequence number; the latest transition is the source of truth
// for resumption after a crash.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/applier/internal/types"
)

var (
	// ErrRunNotFound indicates the run does not exist.
	ErrRunNotFound = errors.New("store: run not found")
	// ErrTerminalRun indicates a write against a run that already reached
	// a terminal state.
	ErrTerminalRun = errors.New("store: run is terminal")
	// ErrCheckpointOpen indicates a second checkpoint was opened while one
	// is still pending. A run has at most one open checkpoint.
	ErrCheckpointOpen = errors.New("store: checkpoint already open")
	// ErrCheckpointNotFound indicates the run has no checkpoint to act on.
	ErrCheckpointNotFound = errors.New("store: checkpoint not found")
	// ErrCheckpointResolved indicates the checkpoint was already settled.
	ErrCheckpointResolved = errors.New("store: checkpoint already resolved")
)

// Store is the persistence contract the engine drives runs through.
//
// AppendTransition is atomic and serialized per run: two concurrent appends
// for the same run never interleave, so exactly one transition is in flight
// per run. Transitions for different runs are fully independent.
type Store interface {
	// CreateRun creates a run at the HUNTING state with an initial
	// transition, idempotently per (userID, jobRef): if an active run
	// already exists for the pair, it is returned with created=false.
	CreateRun(ctx context.Context, userID uuid.UUID, jobRef string, snap *types.Snapshot) (run *types.Run, created bool, err error)

	GetRun(ctx context.Context, runID uuid.UUID) (*types.Run, error)
	ListRuns(ctx context.Context, limit int) ([]types.Run, error)

	// ListResumable returns non-terminal runs the engine may drive now:
	// runs with no open checkpoint whose wake time has elapsed, plus any
	// run with a pending cancellation request.
	ListResumable(ctx context.Context, now time.Time, limit int) ([]types.Run, error)

	// AppendTransition durably records the run's next state. wakeAt, when
	// set, defers the next scheduling pass for the run (retry backoff).
	AppendTransition(ctx context.Context, runID uuid.UUID, newState types.RunState, snap *types.Snapshot, wakeAt *time.Time) (*types.Transition, error)

	LoadLatest(ctx context.Context, runID uuid.UUID) (types.RunState, *types.Snapshot, error)
	LoadHistory(ctx context.Context, runID uuid.UUID) ([]types.Transition, error)

	OpenCheckpoint(ctx context.Context, runID uuid.UUID, state types.RunState, deadline *time.Time) (*types.Checkpoint, error)
	GetOpenCheckpoint(ctx context.Context, runID uuid.UUID) (*types.Checkpoint, error)
	// LatestCheckpoint returns the most recent checkpoint, open or settled.
	LatestCheckpoint(ctx context.Context, runID uuid.UUID) (*types.Checkpoint, error)
	ResolveCheckpoint(ctx context.Context, runID uuid.UUID, decision types.Decision) (*types.Checkpoint, error)
	ListExpiredCheckpoints(ctx context.Context, now time.Time) ([]types.Checkpoint, error)

	// RequestCancel flags a run for cancellation at the next safe boundary.
	RequestCancel(ctx context.Context, runID uuid.UUID) error

	Close()
}
