package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/applier/internal/types"
)

// MemoryStore is an in-memory Store with the same contract as the Postgres
// implementation. It backs unit tests and credential-free local runs; state
// does not survive a process restart.
type MemoryStore struct {
	mu          sync.Mutex
	runs        map[uuid.UUID]*types.Run
	transitions map[uuid.UUID][]types.Transition
	checkpoints map[uuid.UUID][]types.Checkpoint
	// runLocks serializes AppendTransition per run while leaving distinct
	// runs independent.
	runLocks map[uuid.UUID]*sync.Mutex
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:        make(map[uuid.UUID]*types.Run),
		transitions: make(map[uuid.UUID][]types.Transition),
		checkpoints: make(map[uuid.UUID][]types.Checkpoint),
		runLocks:    make(map[uuid.UUID]*sync.Mutex),
	}
}

func (m *MemoryStore) lockFor(runID uuid.UUID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.runLocks[runID]
	if !ok {
		l = &sync.Mutex{}
		m.runLocks[runID] = l
	}
	return l
}

// CreateRun creates a run at HUNTING, or returns the existing active run for
// the same (userID, jobRef).
func (m *MemoryStore) CreateRun(_ context.Context, userID uuid.UUID, jobRef string, snap *types.Snapshot) (*types.Run, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, run := range m.runs {
		if run.UserID == userID && run.JobRef == jobRef && !run.Terminal {
			out := *run
			return &out, false, nil
		}
	}

	now := time.Now()
	run := &types.Run{
		ID:        uuid.New(),
		UserID:    userID,
		JobRef:    jobRef,
		State:     types.StateHunting,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.runs[run.ID] = run
	m.transitions[run.ID] = []types.Transition{{
		RunID:     run.ID,
		Seq:       1,
		State:     types.StateHunting,
		Snapshot:  snap.Clone(),
		CreatedAt: now,
	}}
	m.runLocks[run.ID] = &sync.Mutex{}

	out := *run
	return &out, true, nil
}

func (m *MemoryStore) GetRun(_ context.Context, runID uuid.UUID) (*types.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	out := *run
	return &out, nil
}

func (m *MemoryStore) ListRuns(_ context.Context, limit int) ([]types.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := make([]types.Run, 0, len(m.runs))
	for _, run := range m.runs {
		runs = append(runs, *run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (m *MemoryStore) ListResumable(_ context.Context, now time.Time, limit int) ([]types.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var runs []types.Run
	for _, run := range m.runs {
		if run.Terminal {
			continue
		}
		if run.CancelRequested {
			runs = append(runs, *run)
			continue
		}
		if m.hasOpenCheckpointLocked(run.ID) {
			continue
		}
		if run.WakeAt != nil && run.WakeAt.After(now) {
			continue
		}
		runs = append(runs, *run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].UpdatedAt.Before(runs[j].UpdatedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (m *MemoryStore) hasOpenCheckpointLocked(runID uuid.UUID) bool {
	cps := m.checkpoints[runID]
	return len(cps) > 0 && cps[len(cps)-1].Open()
}

func (m *MemoryStore) AppendTransition(_ context.Context, runID uuid.UUID, newState types.RunState, snap *types.Snapshot, wakeAt *time.Time) (*types.Transition, error) {
	runLock := m.lockFor(runID)
	runLock.Lock()
	defer runLock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	if run.Terminal {
		return nil, ErrTerminalRun
	}

	history := m.transitions[runID]
	seq := 1
	if len(history) > 0 {
		seq = history[len(history)-1].Seq + 1
	}

	now := time.Now()
	tr := types.Transition{
		RunID:     runID,
		Seq:       seq,
		State:     newState,
		Snapshot:  snap.Clone(),
		CreatedAt: now,
	}
	m.transitions[runID] = append(history, tr)

	run.State = newState
	run.Terminal = newState.Terminal()
	run.WakeAt = wakeAt
	run.UpdatedAt = now
	if run.Terminal {
		run.CancelRequested = false
		run.WakeAt = nil
	}

	out := tr
	return &out, nil
}

func (m *MemoryStore) LoadLatest(_ context.Context, runID uuid.UUID) (types.RunState, *types.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	history, ok := m.transitions[runID]
	if !ok || len(history) == 0 {
		return "", nil, ErrRunNotFound
	}
	last := history[len(history)-1]
	return last.State, last.Snapshot.Clone(), nil
}

func (m *MemoryStore) LoadHistory(_ context.Context, runID uuid.UUID) ([]types.Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	history, ok := m.transitions[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	out := make([]types.Transition, len(history))
	for i, tr := range history {
		out[i] = tr
		out[i].Snapshot = tr.Snapshot.Clone()
	}
	return out, nil
}

func (m *MemoryStore) OpenCheckpoint(_ context.Context, runID uuid.UUID, state types.RunState, deadline *time.Time) (*types.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[runID]; !ok {
		return nil, ErrRunNotFound
	}
	if m.hasOpenCheckpointLocked(runID) {
		return nil, ErrCheckpointOpen
	}
	cp := types.Checkpoint{
		RunID:    runID,
		State:    state,
		OpenedAt: time.Now(),
		Deadline: deadline,
	}
	m.checkpoints[runID] = append(m.checkpoints[runID], cp)
	out := cp
	return &out, nil
}

func (m *MemoryStore) GetOpenCheckpoint(_ context.Context, runID uuid.UUID) (*types.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cps := m.checkpoints[runID]
	if len(cps) == 0 || !cps[len(cps)-1].Open() {
		return nil, ErrCheckpointNotFound
	}
	out := cps[len(cps)-1]
	return &out, nil
}

func (m *MemoryStore) LatestCheckpoint(_ context.Context, runID uuid.UUID) (*types.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cps := m.checkpoints[runID]
	if len(cps) == 0 {
		return nil, ErrCheckpointNotFound
	}
	out := cps[len(cps)-1]
	return &out, nil
}

func (m *MemoryStore) ResolveCheckpoint(_ context.Context, runID uuid.UUID, decision types.Decision) (*types.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cps := m.checkpoints[runID]
	if len(cps) == 0 {
		return nil, ErrCheckpointNotFound
	}
	cp := &cps[len(cps)-1]
	if !cp.Open() {
		return nil, ErrCheckpointResolved
	}
	now := time.Now()
	cp.Resolution = decision
	cp.ResolvedAt = &now
	out := *cp
	return &out, nil
}

func (m *MemoryStore) ListExpiredCheckpoints(_ context.Context, now time.Time) ([]types.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []types.Checkpoint
	for _, cps := range m.checkpoints {
		if len(cps) == 0 {
			continue
		}
		last := cps[len(cps)-1]
		if last.Expired(now) {
			expired = append(expired, last)
		}
	}
	return expired, nil
}

func (m *MemoryStore) RequestCancel(_ context.Context, runID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	if run.Terminal {
		return ErrTerminalRun
	}
	run.CancelRequested = true
	run.UpdatedAt = time.Now()
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() {}
