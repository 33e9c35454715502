package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/applier/internal/agents"
	"github.com/jonathan/applier/internal/config"
	"github.com/jonathan/applier/internal/retry"
	"github.com/jonathan/applier/internal/store"
	"github.com/jonathan/applier/internal/types"
)

type stubAdapter struct {
	stage types.RunState
	fn    func(snap *types.Snapshot) (*types.StageOutcome, error)

	mu    sync.Mutex
	calls int
}

func (s *stubAdapter) Stage() types.RunState { return s.stage }

func (s *stubAdapter) Execute(_ context.Context, snap *types.Snapshot) (*types.StageOutcome, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.fn(snap)
}

func (s *stubAdapter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func ok(outcome string) *types.StageOutcome {
	return &types.StageOutcome{Outcome: outcome}
}

// pipelineAdapters registers a well-behaved fake for every active stage and
// returns them keyed by state so individual tests can override behavior.
func pipelineAdapters(t *testing.T) (*agents.Registry, map[types.RunState]*stubAdapter) {
	t.Helper()

	stubs := map[types.RunState]*stubAdapter{
		types.StateHunting: {stage: types.StateHunting, fn: func(snap *types.Snapshot) (*types.StageOutcome, error) {
			snap.Candidate = &types.JobCandidate{
				Source: "greenhouse", ExternalID: "1234",
				URL: "https://boards.example.com/acme/1234", Company: "Acme", Title: "Platform Engineer",
			}
			return ok(types.OutcomeCandidateFound), nil
		}},
		types.StateMatching: {stage: types.StateMatching, fn: func(snap *types.Snapshot) (*types.StageOutcome, error) {
			snap.Candidate.MatchScore = 85
			snap.Candidate.Scored = true
			return ok(types.OutcomeScorePassed), nil
		}},
		types.StateContentGeneration: {stage: types.StateContentGeneration, fn: func(snap *types.Snapshot) (*types.StageOutcome, error) {
			snap.Documents = &types.DocumentBundle{ResumeText: "resume", CoverLetterText: "cover", GeneratedAt: time.Now()}
			return ok(types.OutcomeDocumentsReady), nil
		}},
		types.StateFormFilling: {stage: types.StateFormFilling, fn: func(snap *types.Snapshot) (*types.StageOutcome, error) {
			snap.FormFill = &types.FormFillProgress{Filled: true, FieldsCompleted: 9}
			return ok(types.OutcomeFormFilled), nil
		}},
		types.StateSecurityChallenge: {stage: types.StateSecurityChallenge, fn: func(snap *types.Snapshot) (*types.StageOutcome, error) {
			snap.FormFill.ChallengeToken = "tok"
			snap.FormFill.ChallengeArtifact = ""
			return ok(types.OutcomeChallengeSolved), nil
		}},
		types.StateSubmitting: {stage: types.StateSubmitting, fn: func(snap *types.Snapshot) (*types.StageOutcome, error) {
			now := time.Now()
			snap.Submission = &types.SubmissionRecord{Submitted: true, SubmittedAt: &now, Confirmation: "APP-42"}
			return ok(types.OutcomeSubmitted), nil
		}},
		types.StateMonitoring: {stage: types.StateMonitoring, fn: func(snap *types.Snapshot) (*types.StageOutcome, error) {
			snap.TrackingStatus = "interview scheduled"
			return ok(types.OutcomeStatusChanged), nil
		}},
		types.StateSyncing: {stage: types.StateSyncing, fn: func(_ *types.Snapshot) (*types.StageOutcome, error) {
			return ok(types.OutcomeSynced), nil
		}},
	}

	registry := agents.NewRegistry()
	for _, stub := range stubs {
		require.NoError(t, registry.Register(stub))
	}
	return registry, stubs
}

func testConfig() config.EngineConfig {
	cfg := config.Defaults().Engine
	cfg.Concurrency = 2
	return cfg
}

func newTestEngine(t *testing.T, st store.Store, registry *agents.Registry) *Engine {
	t.Helper()
	controller := retry.NewController(retry.Policy{MaxAttempts: 3, BackoffBase: time.Millisecond, BackoffFactor: 2}, nil)
	return New(st, registry, controller, testConfig())
}

// historyStates collapses a run's transition history to the visited states.
func historyStates(t *testing.T, st store.Store, runID uuid.UUID) []types.RunState {
	t.Helper()
	history, err := st.LoadHistory(context.Background(), runID)
	require.NoError(t, err)
	states := make([]types.RunState, len(history))
	for i, tr := range history {
		states[i] = tr.State
	}
	return states
}

func TestHappyPathThroughApproval(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	registry, stubs := pipelineAdapters(t)
	e := newTestEngine(t, st, registry)

	run, created, err := e.CreateRun(ctx, uuid.New(), "greenhouse:acme:1234")
	require.NoError(t, err)
	require.True(t, created)

	// First pass drives the run up to the approval gate and parks it.
	require.NoError(t, e.Pass(ctx))

	status, err := e.GetRunState(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateAwaitingApproval, status.Run.State)
	require.NotNil(t, status.Checkpoint)
	assert.True(t, status.Checkpoint.Open())
	assert.NotNil(t, status.Checkpoint.Deadline)
	assert.NotNil(t, status.Snapshot.Documents)

	// A pass without a decision leaves the run parked.
	require.NoError(t, e.Pass(ctx))
	status, err = e.GetRunState(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateAwaitingApproval, status.Run.State)
	assert.Equal(t, 1, stubs[types.StateFormFilling].Calls())

	require.NoError(t, e.ResolveCheckpoint(ctx, run.ID, types.DecisionApproved))
	require.NoError(t, e.Pass(ctx))

	status, err = e.GetRunState(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateCompleted, status.Run.State)
	assert.True(t, status.Run.Terminal)
	assert.True(t, status.Snapshot.Submission.Submitted)
	assert.Equal(t, "interview scheduled", status.Snapshot.TrackingStatus)
	assert.Equal(t, 1, stubs[types.StateSubmitting].Calls())

	assert.Equal(t, []types.RunState{
		types.StateHunting,
		types.StateMatching,
		types.StateContentGeneration,
		types.StateFormFilling,
		types.StateAwaitingApproval,
		types.StateSubmitting,
		types.StateMonitoring,
		types.StateSyncing,
		types.StateCompleted,
	}, historyStates(t, st, run.ID))
}

func TestLowScoreCancelsWithoutGeneration(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	registry, stubs := pipelineAdapters(t)
	stubs[types.StateMatching].fn = func(snap *types.Snapshot) (*types.StageOutcome, error) {
		snap.Candidate.MatchScore = 40
		snap.Candidate.Scored = true
		return &types.StageOutcome{Outcome: types.OutcomeScoreRejected, Reason: "score 40.0 below threshold 70.0"}, nil
	}
	e := newTestEngine(t, st, registry)

	run, _, err := e.CreateRun(ctx, uuid.New(), "greenhouse:acme:1234")
	require.NoError(t, err)
	require.NoError(t, e.Pass(ctx))

	status, err := e.GetRunState(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateCancelled, status.Run.State)
	assert.Equal(t, 0, stubs[types.StateContentGeneration].Calls(),
		"rejected runs never reach content generation")
}

func TestChallengeDetourDoesNotRegenerateDocuments(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	registry, stubs := pipelineAdapters(t)
	stubs[types.StateFormFilling].fn = func(snap *types.Snapshot) (*types.StageOutcome, error) {
		if snap.FormFill == nil || snap.FormFill.ChallengeToken == "" {
			snap.FormFill = &types.FormFillProgress{ChallengeArtifact: "artifacts/challenge.png"}
			return ok(types.OutcomeChallengeDetected), nil
		}
		snap.FormFill.Filled = true
		snap.FormFill.FieldsCompleted = 9
		return ok(types.OutcomeFormFilled), nil
	}
	e := newTestEngine(t, st, registry)

	run, _, err := e.CreateRun(ctx, uuid.New(), "greenhouse:acme:1234")
	require.NoError(t, err)
	require.NoError(t, e.Pass(ctx))

	status, err := e.GetRunState(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateAwaitingApproval, status.Run.State)
	assert.Equal(t, 1, stubs[types.StateContentGeneration].Calls())
	assert.Equal(t, 1, stubs[types.StateSecurityChallenge].Calls())
	assert.Equal(t, 2, stubs[types.StateFormFilling].Calls())

	assert.Equal(t, []types.RunState{
		types.StateHunting,
		types.StateMatching,
		types.StateContentGeneration,
		types.StateFormFilling,
		types.StateSecurityChallenge,
		types.StateFormFilling,
		types.StateAwaitingApproval,
	}, historyStates(t, st, run.ID))
}

func TestTransientExhaustionFailsRun(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	registry, stubs := pipelineAdapters(t)
	stubs[types.StateHunting].fn = func(_ *types.Snapshot) (*types.StageOutcome, error) {
		return nil, retry.Transient(errors.New("board timeout"))
	}
	e := newTestEngine(t, st, registry)

	run, _, err := e.CreateRun(ctx, uuid.New(), "greenhouse:acme:1234")
	require.NoError(t, err)

	// Three passes, each after the backoff elapses, exhaust the policy.
	for i := 0; i < 3; i++ {
		require.NoError(t, e.Pass(ctx))
		time.Sleep(20 * time.Millisecond)
	}

	status, err := e.GetRunState(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateFailed, status.Run.State)
	assert.Contains(t, status.Snapshot.LastError, "exhausted 3 attempts")
	assert.Equal(t, 3, stubs[types.StateHunting].Calls())
}

func TestFatalErrorFailsWithoutRetry(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	registry, stubs := pipelineAdapters(t)
	stubs[types.StateHunting].fn = func(_ *types.Snapshot) (*types.StageOutcome, error) {
		return nil, retry.Fatal(errors.New("posting no longer exists"))
	}
	e := newTestEngine(t, st, registry)

	run, _, err := e.CreateRun(ctx, uuid.New(), "greenhouse:acme:1234")
	require.NoError(t, err)
	require.NoError(t, e.Pass(ctx))

	status, err := e.GetRunState(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateFailed, status.Run.State)
	assert.Equal(t, 1, stubs[types.StateHunting].Calls())
}

func TestApprovalDeadlineExpiryCancels(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	registry, stubs := pipelineAdapters(t)
	e := newTestEngine(t, st, registry)

	run, _, err := e.CreateRun(ctx, uuid.New(), "greenhouse:acme:1234")
	require.NoError(t, err)
	require.NoError(t, e.Pass(ctx))

	status, err := e.GetRunState(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, types.StateAwaitingApproval, status.Run.State)

	// Jump past the 72h deadline; the sweep expires the checkpoint and the
	// same pass drives the run to CANCELLED.
	e.now = func() time.Time { return time.Now().Add(73 * time.Hour) }
	require.NoError(t, e.Pass(ctx))

	status, err = e.GetRunState(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateCancelled, status.Run.State)
	assert.Equal(t, types.DecisionExpired, status.Checkpoint.Resolution)
	assert.Equal(t, 0, stubs[types.StateSubmitting].Calls(),
		"expiry never auto-approves submission")
}

func TestCancelAppliedAtSafeBoundary(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	registry, _ := pipelineAdapters(t)
	e := newTestEngine(t, st, registry)

	run, _, err := e.CreateRun(ctx, uuid.New(), "greenhouse:acme:1234")
	require.NoError(t, err)
	require.NoError(t, e.Pass(ctx))

	require.NoError(t, e.CancelRun(ctx, run.ID))
	require.NoError(t, e.Pass(ctx))

	status, err := e.GetRunState(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateCancelled, status.Run.State)
	require.NotNil(t, status.Checkpoint)
	assert.Equal(t, types.DecisionRejected, status.Checkpoint.Resolution,
		"cancellation settles the open checkpoint")
}

func TestRestartResumesWithoutResubmitting(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	// First engine instance drives the run through submission and parks it
	// monitoring with a wake an hour out.
	registry, stubs := pipelineAdapters(t)
	stubs[types.StateMonitoring].fn = func(_ *types.Snapshot) (*types.StageOutcome, error) {
		return ok(types.OutcomeStatusUnchanged), nil
	}
	e := newTestEngine(t, st, registry)

	run, _, err := e.CreateRun(ctx, uuid.New(), "greenhouse:acme:1234")
	require.NoError(t, err)
	require.NoError(t, e.Pass(ctx))
	require.NoError(t, e.ResolveCheckpoint(ctx, run.ID, types.DecisionApproved))
	require.NoError(t, e.Pass(ctx))

	status, err := e.GetRunState(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, types.StateMonitoring, status.Run.State)
	require.True(t, status.Snapshot.Submission.Submitted)
	require.NotNil(t, status.Run.WakeAt)

	// A fresh engine over the same store stands in for a restart.
	registry2, stubs2 := pipelineAdapters(t)
	e2 := newTestEngine(t, st, registry2)
	e2.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	require.NoError(t, e2.Pass(ctx))

	status, err = e2.GetRunState(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateCompleted, status.Run.State)
	assert.Equal(t, 0, stubs2[types.StateSubmitting].Calls(),
		"a submitted application is never re-submitted after restart")
	assert.Equal(t, 0, stubs2[types.StateHunting].Calls())
}

func TestMonitoringFailureDefersInsteadOfFailing(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	registry, stubs := pipelineAdapters(t)
	stubs[types.StateMonitoring].fn = func(_ *types.Snapshot) (*types.StageOutcome, error) {
		return nil, retry.Fatal(errors.New("portal redesigned"))
	}
	e := newTestEngine(t, st, registry)

	run, _, err := e.CreateRun(ctx, uuid.New(), "greenhouse:acme:1234")
	require.NoError(t, err)
	require.NoError(t, e.Pass(ctx))
	require.NoError(t, e.ResolveCheckpoint(ctx, run.ID, types.DecisionApproved))
	require.NoError(t, e.Pass(ctx))

	status, err := e.GetRunState(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateMonitoring, status.Run.State)
	assert.False(t, status.Run.Terminal, "tracking breakage never fails a submitted run")
	require.NotNil(t, status.Run.WakeAt, "deferred failure schedules a later wake")
	assert.Empty(t, status.Snapshot.Retries[string(types.StateMonitoring)],
		"deferral clears the exhausted retry counter")
}

func TestResolveCheckpointValidation(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	registry, _ := pipelineAdapters(t)
	e := newTestEngine(t, st, registry)

	run, _, err := e.CreateRun(ctx, uuid.New(), "greenhouse:acme:1234")
	require.NoError(t, err)

	err = e.ResolveCheckpoint(ctx, run.ID, types.DecisionApproved)
	assert.ErrorIs(t, err, ErrNotAwaitingApproval, "no checkpoint is open yet")

	err = e.ResolveCheckpoint(ctx, run.ID, types.DecisionExpired)
	assert.ErrorIs(t, err, ErrInvalidDecision)

	err = e.ResolveCheckpoint(ctx, uuid.New(), types.DecisionApproved)
	assert.ErrorIs(t, err, store.ErrRunNotFound)

	require.NoError(t, e.Pass(ctx))
	require.NoError(t, e.ResolveCheckpoint(ctx, run.ID, types.DecisionRejected))
	require.NoError(t, e.Pass(ctx))

	status, err := e.GetRunState(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateCancelled, status.Run.State)
}

func TestCreateRunIdempotentPerJob(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	registry, _ := pipelineAdapters(t)
	e := newTestEngine(t, st, registry)

	userID := uuid.New()
	first, created, err := e.CreateRun(ctx, userID, "greenhouse:acme:1234")
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := e.CreateRun(ctx, userID, "greenhouse:acme:1234")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	_, _, err = e.CreateRun(ctx, userID, "")
	assert.Error(t, err)
}

func TestMissingAdapterFailsClosed(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	e := newTestEngine(t, st, agents.NewRegistry())

	run, _, err := e.CreateRun(ctx, uuid.New(), "greenhouse:acme:1234")
	require.NoError(t, err)
	require.NoError(t, e.Pass(ctx))

	status, err := e.GetRunState(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateFailed, status.Run.State)
	assert.Contains(t, status.Snapshot.LastError, "no adapter registered")
}
