package agents

import (
	"context"
	"fmt"

	"github.com/jonathan/applier/internal/retry"
	"github.com/jonathan/applier/internal/types"
)

// ChallengeSolver turns a security-challenge artifact into a pass token the
// form automation can present.
type ChallengeSolver interface {
	Solve(ctx context.Context, artifact string) (token string, err error)
}

// ChallengeAdapter solves the challenge that interrupted form filling. Its
// attempt count lives on the snapshot so the bound survives crashes.
type ChallengeAdapter struct {
	solver      ChallengeSolver
	maxAttempts int
}

// NewChallengeAdapter builds the security-challenge-stage adapter.
func NewChallengeAdapter(solver ChallengeSolver, maxAttempts int) *ChallengeAdapter {
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	return &ChallengeAdapter{solver: solver, maxAttempts: maxAttempts}
}

func (a *ChallengeAdapter) Stage() types.RunState { return types.StateSecurityChallenge }

func (a *ChallengeAdapter) Execute(ctx context.Context, snap *types.Snapshot) (*types.StageOutcome, error) {
	if snap.FormFill == nil || snap.FormFill.ChallengeArtifact == "" {
		return nil, retry.Fatal(fmt.Errorf("no challenge artifact recorded"))
	}
	if snap.FormFill.ChallengeAttempts >= a.maxAttempts {
		return &types.StageOutcome{
			Outcome: types.OutcomeChallengeUnsolved,
			Reason:  fmt.Sprintf("gave up after %d attempts", snap.FormFill.ChallengeAttempts),
		}, nil
	}
	snap.FormFill.ChallengeAttempts++

	token, err := a.solver.Solve(ctx, snap.FormFill.ChallengeArtifact)
	if err != nil {
		return nil, fmt.Errorf("failed to solve security challenge: %w", err)
	}
	if token == "" {
		return nil, fmt.Errorf("solver returned an empty token")
	}

	snap.FormFill.ChallengeToken = token
	snap.FormFill.ChallengeArtifact = ""
	return &types.StageOutcome{Outcome: types.OutcomeChallengeSolved}, nil
}
