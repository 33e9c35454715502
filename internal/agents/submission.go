package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/jonathan/applier/internal/retry"
	"github.com/jonathan/applier/internal/types"
)

// FillResult reports what form automation accomplished on one pass. A
// non-empty ChallengeArtifact means filling stopped at a security challenge
// and the artifact (screenshot path or site key) needs solving first.
type FillResult struct {
	FieldsCompleted   int
	ScreenshotPath    string
	ChallengeArtifact string
}

// FormAutomation drives the browser against the posting's application form.
type FormAutomation interface {
	Fill(ctx context.Context, candidate *types.JobCandidate, docs *types.DocumentBundle, challengeToken string) (*FillResult, error)
	Submit(ctx context.Context, candidate *types.JobCandidate) (confirmation string, err error)
}

// FormFillAdapter fills the application form up to (but not through) the
// submit action, capturing the review screenshot along the way.
type FormFillAdapter struct {
	forms FormAutomation
}

// NewFormFillAdapter builds the form-filling-stage adapter.
func NewFormFillAdapter(forms FormAutomation) *FormFillAdapter {
	return &FormFillAdapter{forms: forms}
}

func (a *FormFillAdapter) Stage() types.RunState { return types.StateFormFilling }

func (a *FormFillAdapter) Execute(ctx context.Context, snap *types.Snapshot) (*types.StageOutcome, error) {
	if snap.FormFill != nil && snap.FormFill.Filled {
		return &types.StageOutcome{
			Outcome: types.OutcomeFormFilled,
			Reason:  "form already filled",
		}, nil
	}
	if snap.Candidate == nil || snap.Documents == nil {
		return nil, retry.Fatal(fmt.Errorf("form filling requires a candidate and generated documents"))
	}
	if snap.FormFill == nil {
		snap.FormFill = &types.FormFillProgress{}
	}

	result, err := a.forms.Fill(ctx, snap.Candidate, snap.Documents, snap.FormFill.ChallengeToken)
	if err != nil {
		return nil, fmt.Errorf("failed to fill application form: %w", err)
	}
	snap.FormFill.FieldsCompleted = result.FieldsCompleted

	if result.ChallengeArtifact != "" {
		snap.FormFill.ChallengeArtifact = result.ChallengeArtifact
		return &types.StageOutcome{
			Outcome: types.OutcomeChallengeDetected,
			Reason:  "form blocked by a security challenge",
		}, nil
	}

	snap.FormFill.Filled = true
	snap.FormFill.ScreenshotPath = result.ScreenshotPath
	return &types.StageOutcome{Outcome: types.OutcomeFormFilled}, nil
}

// SubmitAdapter performs the submit action exactly once. The submission
// record on the snapshot is the idempotency marker: once set, a replay
// reports success without touching the form again.
type SubmitAdapter struct {
	forms FormAutomation
	now   func() time.Time
}

// NewSubmitAdapter builds the submitting-stage adapter.
func NewSubmitAdapter(forms FormAutomation) *SubmitAdapter {
	return &SubmitAdapter{forms: forms, now: time.Now}
}

func (a *SubmitAdapter) Stage() types.RunState { return types.StateSubmitting }

func (a *SubmitAdapter) Execute(ctx context.Context, snap *types.Snapshot) (*types.StageOutcome, error) {
	if snap.Submission != nil && snap.Submission.Submitted {
		return &types.StageOutcome{
			Outcome: types.OutcomeSubmitted,
			Reason:  "application already submitted",
		}, nil
	}
	if snap.Candidate == nil || snap.FormFill == nil || !snap.FormFill.Filled {
		return nil, retry.Fatal(fmt.Errorf("submitting requires a filled form"))
	}

	confirmation, err := a.forms.Submit(ctx, snap.Candidate)
	if err != nil {
		return nil, fmt.Errorf("failed to submit application: %w", err)
	}

	submittedAt := a.now()
	snap.Submission = &types.SubmissionRecord{
		Submitted:    true,
		SubmittedAt:  &submittedAt,
		Confirmation: confirmation,
	}
	return &types.StageOutcome{
		Outcome: types.OutcomeSubmitted,
		Reason:  confirmation,
	}, nil
}
