package retry

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/jonathan/applier/internal/types"
)

// Adapter is the slice of the agent contract the controller needs.
type Adapter interface {
	Stage() types.RunState
	Execute(ctx context.Context, snap *types.Snapshot) (*types.StageOutcome, error)
}

// Policy bounds retries for one stage.
type Policy struct {
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffFactor float64
}

// DefaultPolicy matches the 1s/4s/16s schedule with three attempts.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BackoffBase: time.Second, BackoffFactor: 4}
}

// Backoff returns the delay before the next attempt, given how many attempts
// have already been made.
func (p Policy) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := float64(p.BackoffBase) * math.Pow(p.BackoffFactor, float64(attempts-1))
	return time.Duration(d)
}

// Result is the controller's verdict for one invocation. WakeAt is set when a
// transient failure schedules a later attempt; the engine releases the worker
// slot instead of sleeping through the backoff.
type Result struct {
	Outcome *types.StageOutcome
	WakeAt  *time.Time
}

// Controller invokes adapters under retry policy.
type Controller struct {
	defaults Policy
	perStage map[types.RunState]Policy
	now      func() time.Time
}

// NewController builds a controller with a default policy and optional
// per-stage overrides.
func NewController(defaults Policy, perStage map[types.RunState]Policy) *Controller {
	if defaults.MaxAttempts < 1 {
		defaults = DefaultPolicy()
	}
	return &Controller{
		defaults: defaults,
		perStage: perStage,
		now:      time.Now,
	}
}

func (c *Controller) policyFor(stage types.RunState) Policy {
	if p, ok := c.perStage[stage]; ok && p.MaxAttempts > 0 {
		return p
	}
	return c.defaults
}

// Invoke runs one adapter attempt against a private clone of the snapshot and
// classifies the result. The clone, including its updated retry counter, is
// what the engine persists with the resulting transition.
func (c *Controller) Invoke(ctx context.Context, adapter Adapter, snap *types.Snapshot) Result {
	stage := adapter.Stage()
	policy := c.policyFor(stage)

	work := snap.Clone()
	rec := work.Retry(stage)
	rec.Attempts++
	rec.LastAttemptAt = c.now()

	outcome, err := c.execute(ctx, adapter, work)
	if err == nil && outcome != nil {
		work.ResetRetry(stage)
		work.LastError = ""
		outcome.Stage = stage
		outcome.Snapshot = work
		log.Printf("stage %s attempt %d: %s", stage, rec.Attempts, outcome.Outcome)
		return Result{Outcome: outcome}
	}
	if err == nil {
		err = Fatal(fmt.Errorf("adapter for stage %s returned no outcome", stage))
	}

	work.LastError = err.Error()
	log.Printf("stage %s attempt %d failed: %v", stage, rec.Attempts, err)

	if Classify(err) == ClassFatal {
		return Result{Outcome: &types.StageOutcome{
			Stage:    stage,
			Outcome:  types.OutcomeStageFailed,
			Reason:   fmt.Sprintf("stage %s failed permanently: %v", stage, err),
			Snapshot: work,
		}}
	}

	if rec.Attempts >= policy.MaxAttempts {
		return Result{Outcome: &types.StageOutcome{
			Stage:    stage,
			Outcome:  types.OutcomeStageFailed,
			Reason:   fmt.Sprintf("stage %s exhausted %d attempts: %v", stage, rec.Attempts, err),
			Snapshot: work,
		}}
	}

	wake := c.now().Add(policy.Backoff(rec.Attempts))
	return Result{
		Outcome: &types.StageOutcome{
			Stage:    stage,
			Outcome:  types.OutcomeRetryScheduled,
			Reason:   err.Error(),
			Snapshot: work,
		},
		WakeAt: &wake,
	}
}

// execute calls the adapter, converting panics into fatal errors so a buggy
// adapter can never take down the engine.
func (c *Controller) execute(ctx context.Context, adapter Adapter, snap *types.Snapshot) (outcome *types.StageOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = nil
			err = Fatal(fmt.Errorf("adapter panic: %v", r))
		}
	}()
	return adapter.Execute(ctx, snap)
}
