package agents

import (
	"context"
	"fmt"

	"github.com/jonathan/applier/internal/retry"
	"github.com/jonathan/applier/internal/types"
)

// JobSource fetches the posting a run's job reference points at.
type JobSource interface {
	FetchPosting(ctx context.Context, jobRef string) (*types.JobCandidate, error)
}

// HuntAdapter resolves the run's job reference into a concrete candidate.
type HuntAdapter struct {
	source JobSource
}

// NewHuntAdapter builds the hunting-stage adapter.
func NewHuntAdapter(source JobSource) *HuntAdapter {
	return &HuntAdapter{source: source}
}

func (a *HuntAdapter) Stage() types.RunState { return types.StateHunting }

// Execute fetches the posting and records it on the snapshot. A snapshot that
// already carries a candidate is left alone so a replay never re-fetches.
func (a *HuntAdapter) Execute(ctx context.Context, snap *types.Snapshot) (*types.StageOutcome, error) {
	if snap.Candidate != nil && snap.Candidate.URL != "" {
		return &types.StageOutcome{
			Outcome: types.OutcomeCandidateFound,
			Reason:  fmt.Sprintf("%s at %s", snap.Candidate.Title, snap.Candidate.Company),
		}, nil
	}
	if snap.JobRef == "" {
		return nil, retry.Fatal(fmt.Errorf("run has no job reference to hunt"))
	}

	candidate, err := a.source.FetchPosting(ctx, snap.JobRef)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch posting %s: %w", snap.JobRef, err)
	}
	if candidate == nil || candidate.URL == "" {
		return nil, retry.Fatal(fmt.Errorf("posting %s resolved to no candidate", snap.JobRef))
	}

	snap.Candidate = candidate
	return &types.StageOutcome{
		Outcome: types.OutcomeCandidateFound,
		Reason:  fmt.Sprintf("%s at %s", candidate.Title, candidate.Company),
	}, nil
}
