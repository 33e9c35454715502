// Package engine implements the orchestration loop that drives application
// runs: it claims resumable runs, invokes stage adapters through the retry
// controller, feeds outcomes to the router, and persists every transition.
// Only the engine reads or writes the store; adapters see snapshots and
// nothing else.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/jonathan/applier/internal/agents"
	"github.com/jonathan/applier/internal/config"
	"github.com/jonathan/applier/internal/retry"
	"github.com/jonathan/applier/internal/router"
	"github.com/jonathan/applier/internal/store"
	"github.com/jonathan/applier/internal/types"
)

var (
	// ErrNotAwaitingApproval indicates a decision arrived for a run that has
	// no open checkpoint.
	ErrNotAwaitingApproval = errors.New("engine: run is not awaiting approval")
	// ErrInvalidDecision indicates a decision other than approve/reject.
	// Expiry is reserved for the deadline sweep.
	ErrInvalidDecision = errors.New("engine: decision must be approved or rejected")
)

// maxStepsPerClaim bounds how many transitions one claim may apply, so a
// routing cycle can never pin a worker slot. The run stays resumable and the
// next pass picks it up again.
const maxStepsPerClaim = 32

// RunStatus is the queryable view of a run: the record, its latest snapshot,
// and the most recent checkpoint if any.
type RunStatus struct {
	Run        *types.Run        `json:"run"`
	Snapshot   *types.Snapshot   `json:"snapshot"`
	Checkpoint *types.Checkpoint `json:"checkpoint,omitempty"`
}

// Engine owns run lifecycles. It is safe for concurrent use; distinct runs
// progress in parallel up to the configured concurrency, while a single run is
// always driven sequentially.
type Engine struct {
	store      store.Store
	adapters   *agents.Registry
	controller *retry.Controller
	cfg        config.EngineConfig

	slots *semaphore.Weighted
	now   func() time.Time
}

// New builds an engine over the given store, adapter registry, and retry
// controller.
func New(st store.Store, adapters *agents.Registry, controller *retry.Controller, cfg config.EngineConfig) *Engine {
	if cfg.Concurrency < 1 {
		cfg = config.Defaults().Engine
	}
	return &Engine{
		store:      st,
		adapters:   adapters,
		controller: controller,
		cfg:        cfg,
		slots:      semaphore.NewWeighted(int64(cfg.Concurrency)),
		now:        time.Now,
	}
}

// CreateRun starts a run for the (user, job reference) pair. Creation is
// idempotent per pair: an existing active run is returned with created=false.
func (e *Engine) CreateRun(ctx context.Context, userID uuid.UUID, jobRef string) (*types.Run, bool, error) {
	if jobRef == "" {
		return nil, false, errors.New("engine: job reference is required")
	}
	snap := types.NewSnapshot()
	snap.UserID = userID
	snap.JobRef = jobRef
	run, created, err := e.store.CreateRun(ctx, userID, jobRef, snap)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create run: %w", err)
	}
	if created {
		log.Printf("run %s created for job %s", run.ID, jobRef)
	}
	return run, created, nil
}

// GetRunState returns the run record, its latest snapshot, and its most
// recent checkpoint.
func (e *Engine) GetRunState(ctx context.Context, runID uuid.UUID) (*RunStatus, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	_, snap, err := e.store.LoadLatest(ctx, runID)
	if err != nil {
		return nil, err
	}
	status := &RunStatus{Run: run, Snapshot: snap}
	if cp, err := e.store.LatestCheckpoint(ctx, runID); err == nil {
		status.Checkpoint = cp
	}
	return status, nil
}

// ResolveCheckpoint records a human decision on the run's open checkpoint.
// The run becomes resumable; the next scheduling pass drives it forward, so
// the caller is never coupled to pipeline latency.
func (e *Engine) ResolveCheckpoint(ctx context.Context, runID uuid.UUID, decision types.Decision) error {
	if decision != types.DecisionApproved && decision != types.DecisionRejected {
		return ErrInvalidDecision
	}
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.State != types.StateAwaitingApproval {
		return ErrNotAwaitingApproval
	}
	if _, err := e.store.ResolveCheckpoint(ctx, runID, decision); err != nil {
		if errors.Is(err, store.ErrCheckpointNotFound) {
			return ErrNotAwaitingApproval
		}
		return err
	}
	log.Printf("run %s checkpoint resolved: %s", runID, decision)
	return nil
}

// CancelRun flags the run for cancellation. If a stage invocation is in
// flight the flag takes effect right after it returns, never mid-flight.
func (e *Engine) CancelRun(ctx context.Context, runID uuid.UUID) error {
	return e.store.RequestCancel(ctx, runID)
}

// Start runs the scheduler until the context ends: one pass at startup, then
// one per poll interval.
func (e *Engine) Start(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.PollInterval())
	defer ticker.Stop()

	for {
		if err := e.Pass(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("engine pass failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Pass performs one scheduling pass: expire overdue checkpoints, then drive
// every resumable run. Runs progress concurrently up to the configured limit;
// Pass returns once all claimed runs settle.
func (e *Engine) Pass(ctx context.Context) error {
	e.sweepExpiredCheckpoints(ctx)

	runs, err := e.store.ListResumable(ctx, e.now(), 4*e.cfg.Concurrency)
	if err != nil {
		return fmt.Errorf("failed to list resumable runs: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, run := range runs {
		if err := e.slots.Acquire(ctx, 1); err != nil {
			break
		}
		runID := run.ID
		g.Go(func() error {
			defer e.slots.Release(1)
			e.driveRun(ctx, runID)
			return nil
		})
	}
	return g.Wait()
}

// sweepExpiredCheckpoints auto-resolves overdue checkpoints as expired.
// Expiry behaves like a rejection: the run proceeds to CANCELLED on the same
// pass, never to SUBMITTING.
func (e *Engine) sweepExpiredCheckpoints(ctx context.Context) {
	expired, err := e.store.ListExpiredCheckpoints(ctx, e.now())
	if err != nil {
		log.Printf("failed to list expired checkpoints: %v", err)
		return
	}
	for _, cp := range expired {
		if _, err := e.store.ResolveCheckpoint(ctx, cp.RunID, types.DecisionExpired); err != nil {
			log.Printf("failed to expire checkpoint for run %s: %v", cp.RunID, err)
			continue
		}
		log.Printf("run %s approval deadline elapsed", cp.RunID)
	}
}

// driveRun advances one run until it suspends, schedules a wake, reaches a
// terminal state, or hits the per-claim step bound.
func (e *Engine) driveRun(ctx context.Context, runID uuid.UUID) {
	for step := 0; step < maxStepsPerClaim; step++ {
		if ctx.Err() != nil {
			return
		}

		run, err := e.store.GetRun(ctx, runID)
		if err != nil {
			log.Printf("failed to load run %s: %v", runID, err)
			return
		}
		if run.Terminal {
			return
		}
		if run.CancelRequested {
			e.finalizeCancel(ctx, run)
			return
		}

		state, snap, err := e.store.LoadLatest(ctx, runID)
		if err != nil {
			log.Printf("failed to load latest state for run %s: %v", runID, err)
			return
		}

		var outcome *types.StageOutcome
		var wakeAt *time.Time

		if state == types.StateAwaitingApproval {
			outcome = e.decisionOutcome(ctx, run, snap)
			if outcome == nil {
				// Still awaiting a decision.
				return
			}
		} else {
			adapter, ok := e.adapters.ForState(state)
			if !ok {
				outcome = &types.StageOutcome{
					Stage:    state,
					Outcome:  types.OutcomeStageFailed,
					Reason:   fmt.Sprintf("no adapter registered for state %s", state),
					Snapshot: snap,
				}
			} else {
				// Stamp run identity so the adapter never reaches into
				// the store.
				snap.RunID = run.ID
				snap.UserID = run.UserID
				snap.JobRef = run.JobRef
				res := e.controller.Invoke(ctx, adapter, snap)
				outcome = res.Outcome
				wakeAt = res.WakeAt
			}
		}

		if !e.apply(ctx, run, state, outcome, wakeAt) {
			return
		}
	}
}

// decisionOutcome turns a settled checkpoint into a stage outcome. A still
// open checkpoint yields nil; a missing one fails closed.
func (e *Engine) decisionOutcome(ctx context.Context, run *types.Run, snap *types.Snapshot) *types.StageOutcome {
	cp, err := e.store.LatestCheckpoint(ctx, run.ID)
	if err != nil {
		return &types.StageOutcome{
			Stage:    types.StateAwaitingApproval,
			Outcome:  types.OutcomeStageFailed,
			Reason:   "awaiting approval with no checkpoint recorded",
			Snapshot: snap,
		}
	}
	if cp.Open() {
		return nil
	}

	out := &types.StageOutcome{Stage: types.StateAwaitingApproval, Snapshot: snap}
	if cp.Resolution == types.DecisionApproved {
		out.Outcome = types.OutcomeApproved
	} else {
		out.Outcome = types.OutcomeRejected
		out.Reason = fmt.Sprintf("checkpoint %s", cp.Resolution)
	}
	return out
}

// apply routes the outcome and persists the resulting transition. It returns
// true when the run should keep advancing under the current claim.
func (e *Engine) apply(ctx context.Context, run *types.Run, state types.RunState, outcome *types.StageOutcome, wakeAt *time.Time) bool {
	action := router.Next(state, outcome)
	snap := outcome.Snapshot

	switch action.Kind {
	case router.ActionAdvance:
		if !e.append(ctx, run.ID, action.State, snap, nil) {
			return false
		}
		return !action.State.Terminal()

	case router.ActionRetry:
		if outcome.Outcome == types.OutcomeStageFailed {
			// Post-submission stages defer instead of failing; clear the
			// exhausted counter so the next wake starts a fresh cycle.
			snap.ResetRetry(state)
		}
		if wakeAt == nil {
			t := e.now().Add(e.cfg.MonitorInterval())
			wakeAt = &t
		}
		e.append(ctx, run.ID, action.State, snap, wakeAt)
		return false

	case router.ActionSuspend:
		if !e.append(ctx, run.ID, action.State, snap, nil) {
			return false
		}
		var deadline *time.Time
		if d := e.cfg.ApprovalDeadline(); d > 0 {
			t := e.now().Add(d)
			deadline = &t
		}
		if _, err := e.store.OpenCheckpoint(ctx, run.ID, action.State, deadline); err != nil {
			log.Printf("failed to open checkpoint for run %s: %v", run.ID, err)
		}
		return false

	case router.ActionFail:
		snap.LastError = action.Reason
		e.append(ctx, run.ID, types.StateFailed, snap, nil)
		log.Printf("run %s failed: %s", run.ID, action.Reason)
		return false

	case router.ActionComplete:
		e.append(ctx, run.ID, types.StateCompleted, snap, nil)
		log.Printf("run %s completed", run.ID)
		return false
	}

	log.Printf("run %s: unknown action kind %q", run.ID, action.Kind)
	return false
}

// finalizeCancel applies a pending cancellation at a safe boundary: it
// rejects any open checkpoint and records the terminal transition.
func (e *Engine) finalizeCancel(ctx context.Context, run *types.Run) {
	if _, err := e.store.GetOpenCheckpoint(ctx, run.ID); err == nil {
		if _, err := e.store.ResolveCheckpoint(ctx, run.ID, types.DecisionRejected); err != nil {
			log.Printf("failed to reject checkpoint for cancelled run %s: %v", run.ID, err)
		}
	}

	_, snap, err := e.store.LoadLatest(ctx, run.ID)
	if err != nil {
		log.Printf("failed to load snapshot for cancelled run %s: %v", run.ID, err)
		return
	}
	e.append(ctx, run.ID, types.StateCancelled, snap, nil)
	log.Printf("run %s cancelled", run.ID)
}

func (e *Engine) append(ctx context.Context, runID uuid.UUID, state types.RunState, snap *types.Snapshot, wakeAt *time.Time) bool {
	if _, err := e.store.AppendTransition(ctx, runID, state, snap, wakeAt); err != nil {
		log.Printf("failed to append transition for run %s: %v", runID, err)
		return false
	}
	return true
}
