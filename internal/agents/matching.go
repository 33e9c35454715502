package agents

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/applier/internal/retry"
	"github.com/jonathan/applier/internal/types"
)

// ProfileProvider loads the candidate-side material for a user.
type ProfileProvider interface {
	Profile(ctx context.Context, userID uuid.UUID) (*types.UserProfile, error)
}

// Scorer rates how well a posting fits a profile on a 0-100 scale.
type Scorer interface {
	Score(ctx context.Context, profile *types.UserProfile, candidate *types.JobCandidate) (float64, error)
}

// ApplicationHistory answers whether this user has already applied to the
// posting identified by the candidate's source and external ID.
type ApplicationHistory interface {
	AlreadyApplied(ctx context.Context, userID uuid.UUID, candidate *types.JobCandidate) (bool, error)
}

// MatchAdapter scores the candidate against the user's profile and gates the
// run on a configured threshold. Re-delivered postings the user already
// applied to are rejected before scoring.
type MatchAdapter struct {
	profiles  ProfileProvider
	scorer    Scorer
	history   ApplicationHistory
	threshold float64
}

// NewMatchAdapter builds the matching-stage adapter. history may be nil when
// no deduplication source is available.
func NewMatchAdapter(profiles ProfileProvider, scorer Scorer, history ApplicationHistory, threshold float64) *MatchAdapter {
	return &MatchAdapter{profiles: profiles, scorer: scorer, history: history, threshold: threshold}
}

func (a *MatchAdapter) Stage() types.RunState { return types.StateMatching }

func (a *MatchAdapter) Execute(ctx context.Context, snap *types.Snapshot) (*types.StageOutcome, error) {
	candidate := snap.Candidate
	if candidate == nil {
		return nil, retry.Fatal(fmt.Errorf("matching requires a hunted candidate"))
	}

	if a.history != nil && candidate.ExternalID != "" {
		applied, err := a.history.AlreadyApplied(ctx, snap.UserID, candidate)
		if err != nil {
			return nil, fmt.Errorf("failed to check application history: %w", err)
		}
		if applied {
			return &types.StageOutcome{
				Outcome: types.OutcomeScoreRejected,
				Reason:  fmt.Sprintf("already applied to %s posting %s", candidate.Source, candidate.ExternalID),
			}, nil
		}
	}

	if !candidate.Scored {
		profile, err := a.profiles.Profile(ctx, snap.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to load profile: %w", err)
		}
		score, err := a.scorer.Score(ctx, profile, candidate)
		if err != nil {
			return nil, fmt.Errorf("failed to score candidate: %w", err)
		}
		candidate.MatchScore = clampScore(score)
		candidate.Scored = true
	}

	if candidate.MatchScore < a.threshold {
		return &types.StageOutcome{
			Outcome: types.OutcomeScoreRejected,
			Reason:  fmt.Sprintf("score %.1f below threshold %.1f", candidate.MatchScore, a.threshold),
		}, nil
	}
	return &types.StageOutcome{
		Outcome: types.OutcomeScorePassed,
		Reason:  fmt.Sprintf("score %.1f", candidate.MatchScore),
	}, nil
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
