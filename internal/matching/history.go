package matching

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/applier/internal/store"
	"github.com/jonathan/applier/internal/types"
)

// StoreHistory answers duplicate-application questions from the run store:
// a posting counts as applied-to once any of the user's runs recorded a
// submission for the same (source, external ID).
type StoreHistory struct {
	store store.Store
}

// NewStoreHistory builds a history view over the run store.
func NewStoreHistory(s store.Store) *StoreHistory {
	return &StoreHistory{store: s}
}

// AlreadyApplied reports whether the user already submitted an application
// for the candidate's posting. Only submitted runs count: an active run in an
// earlier stage is the run asking the question.
func (h *StoreHistory) AlreadyApplied(ctx context.Context, userID uuid.UUID, candidate *types.JobCandidate) (bool, error) {
	runs, err := h.store.ListRuns(ctx, 0)
	if err != nil {
		return false, fmt.Errorf("failed to list runs: %w", err)
	}

	for _, run := range runs {
		if run.UserID != userID {
			continue
		}
		_, snap, err := h.store.LoadLatest(ctx, run.ID)
		if err != nil {
			if errors.Is(err, store.ErrRunNotFound) {
				continue
			}
			return false, fmt.Errorf("failed to load run %s: %w", run.ID, err)
		}
		if snap.Submission == nil || !snap.Submission.Submitted {
			continue
		}
		if snap.Candidate != nil &&
			snap.Candidate.Source == candidate.Source &&
			snap.Candidate.ExternalID == candidate.ExternalID {
			return true, nil
		}
	}
	return false, nil
}
