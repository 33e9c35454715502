package agents

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/applier/internal/retry"
	"github.com/jonathan/applier/internal/types"
)

// StatusTracker reads the application's current status from the employer's
// side, typically by scraping the candidate status page.
type StatusTracker interface {
	CheckStatus(ctx context.Context, candidate *types.JobCandidate, confirmation string) (string, error)
}

// StatusNotifier pushes a confirmed status change to downstream consumers,
// such as a webhook or the user's tracking sheet.
type StatusNotifier interface {
	SyncStatus(ctx context.Context, runID uuid.UUID, candidate *types.JobCandidate, status string) error
}

// MonitorAdapter polls the application status after submission. An unchanged
// status parks the run until the next poll; a change hands off to syncing.
type MonitorAdapter struct {
	tracker StatusTracker
}

// NewMonitorAdapter builds the monitoring-stage adapter.
func NewMonitorAdapter(tracker StatusTracker) *MonitorAdapter {
	return &MonitorAdapter{tracker: tracker}
}

func (a *MonitorAdapter) Stage() types.RunState { return types.StateMonitoring }

func (a *MonitorAdapter) Execute(ctx context.Context, snap *types.Snapshot) (*types.StageOutcome, error) {
	if snap.Submission == nil || !snap.Submission.Submitted {
		return nil, retry.Fatal(fmt.Errorf("monitoring requires a submitted application"))
	}

	status, err := a.tracker.CheckStatus(ctx, snap.Candidate, snap.Submission.Confirmation)
	if err != nil {
		return nil, fmt.Errorf("failed to check application status: %w", err)
	}
	if status == "" || status == snap.TrackingStatus {
		return &types.StageOutcome{
			Outcome: types.OutcomeStatusUnchanged,
			Reason:  fmt.Sprintf("status still %q", snap.TrackingStatus),
		}, nil
	}

	previous := snap.TrackingStatus
	snap.TrackingStatus = status
	return &types.StageOutcome{
		Outcome: types.OutcomeStatusChanged,
		Reason:  fmt.Sprintf("status %q -> %q", previous, status),
	}, nil
}

// SyncAdapter pushes the observed status change downstream and closes the run.
type SyncAdapter struct {
	notifier StatusNotifier
}

// NewSyncAdapter builds the syncing-stage adapter.
func NewSyncAdapter(notifier StatusNotifier) *SyncAdapter {
	return &SyncAdapter{notifier: notifier}
}

func (a *SyncAdapter) Stage() types.RunState { return types.StateSyncing }

func (a *SyncAdapter) Execute(ctx context.Context, snap *types.Snapshot) (*types.StageOutcome, error) {
	if snap.TrackingStatus == "" {
		return nil, retry.Fatal(fmt.Errorf("syncing requires an observed status"))
	}

	if err := a.notifier.SyncStatus(ctx, snap.RunID, snap.Candidate, snap.TrackingStatus); err != nil {
		return nil, fmt.Errorf("failed to sync status %q: %w", snap.TrackingStatus, err)
	}
	return &types.StageOutcome{
		Outcome: types.OutcomeSynced,
		Reason:  fmt.Sprintf("status %q synced", snap.TrackingStatus),
	}, nil
}
