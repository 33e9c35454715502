package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/applier/internal/types"
)

// setupPostgres connects to the database named by DATABASE_URL, skipping the
// test when the variable is unset.
func setupPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}

	ctx := context.Background()
	s, err := Connect(ctx, databaseURL)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(s.Close)
	return s
}

func TestPostgresRunLifecycle(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()
	userID := uuid.New()
	jobRef := "greenhouse:acme:" + uuid.New().String()

	run, created, err := s.CreateRun(ctx, userID, jobRef, types.NewSnapshot())
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, types.StateHunting, run.State)

	// Idempotent per (user, jobRef) while active.
	dup, created, err := s.CreateRun(ctx, userID, jobRef, types.NewSnapshot())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, run.ID, dup.ID)

	snap := types.NewSnapshot()
	snap.Candidate = &types.JobCandidate{Company: "Acme", Title: "Platform Engineer"}
	tr, err := s.AppendTransition(ctx, run.ID, types.StateMatching, snap, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, tr.Seq)

	state, loaded, err := s.LoadLatest(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateMatching, state)
	require.NotNil(t, loaded.Candidate)
	assert.Equal(t, "Acme", loaded.Candidate.Company)

	history, err := s.LoadHistory(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 1, history[0].Seq)
	assert.Equal(t, 2, history[1].Seq)

	_, err = s.AppendTransition(ctx, run.ID, types.StateCancelled, snap, nil)
	require.NoError(t, err)
	_, err = s.AppendTransition(ctx, run.ID, types.StateMatching, snap, nil)
	assert.ErrorIs(t, err, ErrTerminalRun)

	// A terminal run no longer blocks a fresh application.
	fresh, created, err := s.CreateRun(ctx, userID, jobRef, types.NewSnapshot())
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, run.ID, fresh.ID)
}

func TestPostgresCheckpointLifecycle(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()

	run, _, err := s.CreateRun(ctx, uuid.New(), "lever:globex:"+uuid.New().String(), types.NewSnapshot())
	require.NoError(t, err)

	deadline := time.Now().Add(-time.Minute)
	cp, err := s.OpenCheckpoint(ctx, run.ID, types.StateAwaitingApproval, &deadline)
	require.NoError(t, err)
	assert.True(t, cp.Open())

	_, err = s.OpenCheckpoint(ctx, run.ID, types.StateAwaitingApproval, nil)
	assert.ErrorIs(t, err, ErrCheckpointOpen)

	expired, err := s.ListExpiredCheckpoints(ctx, time.Now())
	require.NoError(t, err)
	found := false
	for _, e := range expired {
		if e.RunID == run.ID {
			found = true
		}
	}
	assert.True(t, found, "expired checkpoint should be listed")

	resolved, err := s.ResolveCheckpoint(ctx, run.ID, types.DecisionExpired)
	require.NoError(t, err)
	assert.Equal(t, types.DecisionExpired, resolved.Resolution)

	_, err = s.ResolveCheckpoint(ctx, run.ID, types.DecisionApproved)
	assert.ErrorIs(t, err, ErrCheckpointResolved)

	_, err = s.ResolveCheckpoint(ctx, uuid.New(), types.DecisionApproved)
	assert.ErrorIs(t, err, ErrCheckpointNotFound)
}

func TestPostgresListResumable(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()
	now := time.Now()

	run, _, err := s.CreateRun(ctx, uuid.New(), "indeed:initech:"+uuid.New().String(), types.NewSnapshot())
	require.NoError(t, err)

	runs, err := s.ListResumable(ctx, now, 500)
	require.NoError(t, err)
	assert.True(t, containsRun(runs, run.ID))

	// Parked behind a checkpoint: not resumable.
	_, err = s.OpenCheckpoint(ctx, run.ID, types.StateAwaitingApproval, nil)
	require.NoError(t, err)
	runs, err = s.ListResumable(ctx, now, 500)
	require.NoError(t, err)
	assert.False(t, containsRun(runs, run.ID))

	// Cancel requests override the checkpoint park.
	require.NoError(t, s.RequestCancel(ctx, run.ID))
	runs, err = s.ListResumable(ctx, now, 500)
	require.NoError(t, err)
	assert.True(t, containsRun(runs, run.ID))
}

func containsRun(runs []types.Run, id uuid.UUID) bool {
	for _, r := range runs {
		if r.ID == id {
			return true
		}
	}
	return false
}
