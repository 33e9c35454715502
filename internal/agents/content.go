package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/jonathan/applier/internal/retry"
	"github.com/jonathan/applier/internal/types"
)

// DocumentGenerator produces a tailored resume and cover letter for a posting.
type DocumentGenerator interface {
	Generate(ctx context.Context, profile *types.UserProfile, candidate *types.JobCandidate) (*types.DocumentBundle, error)
}

// ContentAdapter generates the application documents. A snapshot already
// carrying a bundle is passed through untouched, so a security-challenge
// detour or a crash replay never regenerates documents.
type ContentAdapter struct {
	profiles  ProfileProvider
	generator DocumentGenerator
	now       func() time.Time
}

// NewContentAdapter builds the content-generation-stage adapter.
func NewContentAdapter(profiles ProfileProvider, generator DocumentGenerator) *ContentAdapter {
	return &ContentAdapter{profiles: profiles, generator: generator, now: time.Now}
}

func (a *ContentAdapter) Stage() types.RunState { return types.StateContentGeneration }

func (a *ContentAdapter) Execute(ctx context.Context, snap *types.Snapshot) (*types.StageOutcome, error) {
	if snap.Documents != nil {
		return &types.StageOutcome{
			Outcome: types.OutcomeDocumentsReady,
			Reason:  "documents already generated",
		}, nil
	}
	if snap.Candidate == nil {
		return nil, retry.Fatal(fmt.Errorf("content generation requires a candidate"))
	}

	profile, err := a.profiles.Profile(ctx, snap.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	bundle, err := a.generator.Generate(ctx, profile, snap.Candidate)
	if err != nil {
		return nil, fmt.Errorf("failed to generate documents: %w", err)
	}
	if bundle == nil || bundle.ResumeText == "" {
		return nil, fmt.Errorf("generator returned an empty document bundle")
	}
	if bundle.GeneratedAt.IsZero() {
		bundle.GeneratedAt = a.now()
	}

	snap.Documents = bundle
	return &types.StageOutcome{Outcome: types.OutcomeDocumentsReady}, nil
}
