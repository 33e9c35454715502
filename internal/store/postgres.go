package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonathan/applier/internal/types"
)

// PostgresStore persists runs in PostgreSQL through a pgx connection pool.
// Per-run write serialization uses transaction-scoped advisory locks keyed by
// run ID, so two engine workers (or two engine processes) can never commit
// interleaved transitions for the same run.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool to the database.
func Connect(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the run tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS application_runs (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id UUID NOT NULL,
			job_ref TEXT NOT NULL,
			state TEXT NOT NULL,
			terminal BOOLEAN NOT NULL DEFAULT FALSE,
			cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
			wake_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_active_pair
			ON application_runs (user_id, job_ref) WHERE NOT terminal`,
		`CREATE INDEX IF NOT EXISTS idx_runs_resumable
			ON application_runs (terminal, wake_at)`,
		`CREATE TABLE IF NOT EXISTS run_transitions (
			run_id UUID NOT NULL REFERENCES application_runs(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			state TEXT NOT NULL,
			snapshot JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (run_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS run_checkpoints (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			run_id UUID NOT NULL REFERENCES application_runs(id) ON DELETE CASCADE,
			state TEXT NOT NULL,
			opened_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			deadline TIMESTAMPTZ,
			resolution TEXT,
			resolved_at TIMESTAMPTZ
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_checkpoints_one_open
			ON run_checkpoints (run_id) WHERE resolution IS NULL`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}

func marshalSnapshot(snap *types.Snapshot) ([]byte, error) {
	if snap == nil {
		snap = types.NewSnapshot()
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

func unmarshalSnapshot(data []byte) (*types.Snapshot, error) {
	var snap types.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// CreateRun creates a run at HUNTING with its first transition, or returns
// the existing active run for the same (userID, jobRef).
func (s *PostgresStore) CreateRun(ctx context.Context, userID uuid.UUID, jobRef string, snap *types.Snapshot) (*types.Run, bool, error) {
	snapJSON, err := marshalSnapshot(snap)
	if err != nil {
		return nil, false, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var run types.Run
	err = tx.QueryRow(ctx,
		`INSERT INTO application_runs (user_id, job_ref, state)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, job_ref) WHERE NOT terminal DO NOTHING
		 RETURNING id, user_id, job_ref, state, terminal, cancel_requested, wake_at, created_at, updated_at`,
		userID, jobRef, types.StateHunting,
	).Scan(&run.ID, &run.UserID, &run.JobRef, &run.State, &run.Terminal,
		&run.CancelRequested, &run.WakeAt, &run.CreatedAt, &run.UpdatedAt)
	if err == pgx.ErrNoRows {
		// An active run already exists for the pair.
		existing, findErr := s.findActiveRun(ctx, tx, userID, jobRef)
		if findErr != nil {
			return nil, false, findErr
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			return nil, false, fmt.Errorf("failed to commit: %w", commitErr)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create run: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO run_transitions (run_id, seq, state, snapshot) VALUES ($1, 1, $2, $3)`,
		run.ID, types.StateHunting, snapJSON,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to record initial transition: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit: %w", err)
	}
	return &run, true, nil
}

func (s *PostgresStore) findActiveRun(ctx context.Context, tx pgx.Tx, userID uuid.UUID, jobRef string) (*types.Run, error) {
	var run types.Run
	err := tx.QueryRow(ctx,
		`SELECT id, user_id, job_ref, state, terminal, cancel_requested, wake_at, created_at, updated_at
		 FROM application_runs
		 WHERE user_id = $1 AND job_ref = $2 AND NOT terminal`,
		userID, jobRef,
	).Scan(&run.ID, &run.UserID, &run.JobRef, &run.State, &run.Terminal,
		&run.CancelRequested, &run.WakeAt, &run.CreatedAt, &run.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active run: %w", err)
	}
	return &run, nil
}

// GetRun retrieves a run by ID.
func (s *PostgresStore) GetRun(ctx context.Context, runID uuid.UUID) (*types.Run, error) {
	var run types.Run
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, job_ref, state, terminal, cancel_requested, wake_at, created_at, updated_at
		 FROM application_runs WHERE id = $1`,
		runID,
	).Scan(&run.ID, &run.UserID, &run.JobRef, &run.State, &run.Terminal,
		&run.CancelRequested, &run.WakeAt, &run.CreatedAt, &run.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// ListRuns retrieves recent runs.
func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]types.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, job_ref, state, terminal, cancel_requested, wake_at, created_at, updated_at
		 FROM application_runs ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// ListResumable returns runs the engine may drive now.
func (s *PostgresStore) ListResumable(ctx context.Context, now time.Time, limit int) ([]types.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT r.id, r.user_id, r.job_ref, r.state, r.terminal, r.cancel_requested, r.wake_at, r.created_at, r.updated_at
		 FROM application_runs r
		 WHERE NOT r.terminal
		   AND (r.cancel_requested
		        OR (NOT EXISTS (
		              SELECT 1 FROM run_checkpoints c
		              WHERE c.run_id = r.id AND c.resolution IS NULL)
		            AND (r.wake_at IS NULL OR r.wake_at <= $1)))
		 ORDER BY r.updated_at ASC
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list resumable runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

func scanRuns(rows pgx.Rows) ([]types.Run, error) {
	var runs []types.Run
	for rows.Next() {
		var run types.Run
		if err := rows.Scan(&run.ID, &run.UserID, &run.JobRef, &run.State, &run.Terminal,
			&run.CancelRequested, &run.WakeAt, &run.CreatedAt, &run.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// AppendTransition durably records the run's next state. The advisory lock
// serializes writers for the run; the whole transition (history row plus run
// row update) commits atomically or not at all.
func (s *PostgresStore) AppendTransition(ctx context.Context, runID uuid.UUID, newState types.RunState, snap *types.Snapshot, wakeAt *time.Time) (*types.Transition, error) {
	snapJSON, err := marshalSnapshot(snap)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, runID,
	); err != nil {
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}

	var terminal bool
	err = tx.QueryRow(ctx,
		`SELECT terminal FROM application_runs WHERE id = $1`, runID,
	).Scan(&terminal)
	if err == pgx.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	if terminal {
		return nil, ErrTerminalRun
	}

	var tr types.Transition
	err = tx.QueryRow(ctx,
		`INSERT INTO run_transitions (run_id, seq, state, snapshot)
		 SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3 FROM run_transitions WHERE run_id = $1
		 RETURNING run_id, seq, state, created_at`,
		runID, newState, snapJSON,
	).Scan(&tr.RunID, &tr.Seq, &tr.State, &tr.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to append transition: %w", err)
	}
	tr.Snapshot = snap.Clone()

	nowTerminal := newState.Terminal()
	if nowTerminal {
		wakeAt = nil
	}
	_, err = tx.Exec(ctx,
		`UPDATE application_runs
		 SET state = $1, terminal = $2, wake_at = $3,
		     cancel_requested = CASE WHEN $2 THEN FALSE ELSE cancel_requested END,
		     updated_at = NOW()
		 WHERE id = $4`,
		newState, nowTerminal, wakeAt, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update run state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}
	return &tr, nil
}

// LoadLatest returns the most recent transition's state and snapshot.
func (s *PostgresStore) LoadLatest(ctx context.Context, runID uuid.UUID) (types.RunState, *types.Snapshot, error) {
	var state types.RunState
	var snapJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT state, snapshot FROM run_transitions
		 WHERE run_id = $1 ORDER BY seq DESC LIMIT 1`,
		runID,
	).Scan(&state, &snapJSON)
	if err == pgx.ErrNoRows {
		return "", nil, ErrRunNotFound
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to load latest transition: %w", err)
	}
	snap, err := unmarshalSnapshot(snapJSON)
	if err != nil {
		return "", nil, err
	}
	return state, snap, nil
}

// LoadHistory returns the full ordered transition history for a run.
func (s *PostgresStore) LoadHistory(ctx context.Context, runID uuid.UUID) ([]types.Transition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, seq, state, snapshot, created_at
		 FROM run_transitions WHERE run_id = $1 ORDER BY seq ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	var history []types.Transition
	for rows.Next() {
		var tr types.Transition
		var snapJSON []byte
		if err := rows.Scan(&tr.RunID, &tr.Seq, &tr.State, &snapJSON, &tr.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		snap, err := unmarshalSnapshot(snapJSON)
		if err != nil {
			return nil, err
		}
		tr.Snapshot = snap
		history = append(history, tr)
	}
	if len(history) == 0 {
		return nil, ErrRunNotFound
	}
	return history, nil
}

// OpenCheckpoint records a pending human decision for the run. The partial
// unique index rejects a second open checkpoint.
func (s *PostgresStore) OpenCheckpoint(ctx context.Context, runID uuid.UUID, state types.RunState, deadline *time.Time) (*types.Checkpoint, error) {
	var cp types.Checkpoint
	var resolution *string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO run_checkpoints (run_id, state, deadline)
		 VALUES ($1, $2, $3)
		 RETURNING run_id, state, opened_at, deadline, resolution, resolved_at`,
		runID, state, deadline,
	).Scan(&cp.RunID, &cp.State, &cp.OpenedAt, &cp.Deadline, &resolution, &cp.ResolvedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrCheckpointOpen
		}
		return nil, fmt.Errorf("failed to open checkpoint: %w", err)
	}
	return &cp, nil
}

// GetOpenCheckpoint returns the run's pending checkpoint, if any.
func (s *PostgresStore) GetOpenCheckpoint(ctx context.Context, runID uuid.UUID) (*types.Checkpoint, error) {
	cp, err := s.latestCheckpoint(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !cp.Open() {
		return nil, ErrCheckpointNotFound
	}
	return cp, nil
}

// LatestCheckpoint returns the most recent checkpoint, open or settled.
func (s *PostgresStore) LatestCheckpoint(ctx context.Context, runID uuid.UUID) (*types.Checkpoint, error) {
	return s.latestCheckpoint(ctx, runID)
}

func (s *PostgresStore) latestCheckpoint(ctx context.Context, runID uuid.UUID) (*types.Checkpoint, error) {
	var cp types.Checkpoint
	var resolution *string
	err := s.pool.QueryRow(ctx,
		`SELECT run_id, state, opened_at, deadline, resolution, resolved_at
		 FROM run_checkpoints WHERE run_id = $1
		 ORDER BY id DESC LIMIT 1`,
		runID,
	).Scan(&cp.RunID, &cp.State, &cp.OpenedAt, &cp.Deadline, &resolution, &cp.ResolvedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	if resolution != nil {
		cp.Resolution = types.Decision(*resolution)
	}
	return &cp, nil
}

// ResolveCheckpoint settles the run's open checkpoint with a decision.
func (s *PostgresStore) ResolveCheckpoint(ctx context.Context, runID uuid.UUID, decision types.Decision) (*types.Checkpoint, error) {
	var cp types.Checkpoint
	var resolution *string
	err := s.pool.QueryRow(ctx,
		`UPDATE run_checkpoints
		 SET resolution = $1, resolved_at = NOW()
		 WHERE run_id = $2 AND resolution IS NULL
		 RETURNING run_id, state, opened_at, deadline, resolution, resolved_at`,
		decision, runID,
	).Scan(&cp.RunID, &cp.State, &cp.OpenedAt, &cp.Deadline, &resolution, &cp.ResolvedAt)
	if err == pgx.ErrNoRows {
		// Distinguish "never had a checkpoint" from "already resolved".
		if _, lookupErr := s.latestCheckpoint(ctx, runID); lookupErr == nil {
			return nil, ErrCheckpointResolved
		}
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve checkpoint: %w", err)
	}
	if resolution != nil {
		cp.Resolution = types.Decision(*resolution)
	}
	return &cp, nil
}

// ListExpiredCheckpoints returns open checkpoints whose deadline has elapsed.
func (s *PostgresStore) ListExpiredCheckpoints(ctx context.Context, now time.Time) ([]types.Checkpoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, state, opened_at, deadline, resolution, resolved_at
		 FROM run_checkpoints
		 WHERE resolution IS NULL AND deadline IS NOT NULL AND deadline < $1`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired checkpoints: %w", err)
	}
	defer rows.Close()

	var expired []types.Checkpoint
	for rows.Next() {
		var cp types.Checkpoint
		var resolution *string
		if err := rows.Scan(&cp.RunID, &cp.State, &cp.OpenedAt, &cp.Deadline, &resolution, &cp.ResolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		expired = append(expired, cp)
	}
	return expired, nil
}

// RequestCancel flags a run for cancellation at the next safe boundary.
func (s *PostgresStore) RequestCancel(ctx context.Context, runID uuid.UUID) error {
	result, err := s.pool.Exec(ctx,
		`UPDATE application_runs SET cancel_requested = TRUE, updated_at = NOW()
		 WHERE id = $1 AND NOT terminal`,
		runID,
	)
	if err != nil {
		return fmt.Errorf("failed to request cancel: %w", err)
	}
	if result.RowsAffected() == 0 {
		if _, err := s.GetRun(ctx, runID); err != nil {
			return err
		}
		return ErrTerminalRun
	}
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
