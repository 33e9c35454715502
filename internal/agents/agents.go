// Package agents implements the stage adapters that advance a run through the
// application pipeline. Each adapter normalizes one collaborator's work into a
// stage outcome and records its effects on the snapshot it is handed, so a
// replayed invocation after a crash observes the markers of completed work and
// skips the side effect.
package agents

import (
	"context"
	"fmt"

	"github.com/jonathan/applier/internal/types"
)

// Adapter is the uniform stage contract. Execute mutates the snapshot it is
// given; the caller owns persistence of the result.
type Adapter interface {
	Stage() types.RunState
	Execute(ctx context.Context, snap *types.Snapshot) (*types.StageOutcome, error)
}

// Registry maps each active run state to the adapter that drives it.
type Registry struct {
	byStage map[types.RunState]Adapter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byStage: make(map[types.RunState]Adapter)}
}

// Register binds an adapter to its stage.
func (r *Registry) Register(a Adapter) error {
	stage := a.Stage()
	if !stage.Valid() || stage.Terminal() {
		return fmt.Errorf("cannot register adapter for state %s", stage)
	}
	if _, ok := r.byStage[stage]; ok {
		return fmt.Errorf("adapter already registered for state %s", stage)
	}
	r.byStage[stage] = a
	return nil
}

// ForState returns the adapter for a state, if one is registered.
func (r *Registry) ForState(state types.RunState) (Adapter, bool) {
	a, ok := r.byStage[state]
	return a, ok
}
