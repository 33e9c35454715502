package types

// Outcome labels returned by agent adapters. The graph router recognizes
// exactly these; anything else fails closed.
const (
	OutcomeCandidateFound    = "candidate_found"
	OutcomeScorePassed       = "score_passed"
	OutcomeScoreRejected     = "score_rejected"
	OutcomeDocumentsReady    = "documents_ready"
	OutcomeFormFilled        = "form_filled"
	OutcomeChallengeDetected = "challenge_detected"
	OutcomeChallengeSolved   = "challenge_solved"
	OutcomeChallengeUnsolved = "challenge_unsolved"
	OutcomeApproved          = "approved"
	OutcomeRejected          = "rejected"
	OutcomeSubmitted         = "submitted"
	OutcomeStatusChanged     = "status_changed"
	OutcomeStatusUnchanged   = "status_unchanged"
	OutcomeSynced            = "synced"

	// OutcomeRetryScheduled is produced by the retry controller when a
	// transient failure leaves attempts remaining; the run stays in its
	// current state until the backoff elapses.
	OutcomeRetryScheduled = "retry_scheduled"

	// OutcomeStageFailed is produced when a stage exhausts its retries or
	// hits a fatal error. The router turns it into a FAILED run.
	OutcomeStageFailed = "stage_failed"
)

// StageOutcome is the normalized result of one adapter invocation.
type StageOutcome struct {
	Stage   RunState `json:"stage"`
	Outcome string   `json:"outcome"`
	// Reason carries a human-readable explanation for failures and
	// branching outcomes; it becomes the run's last error on FAILED.
	Reason string `json:"reason,omitempty"`
	// Snapshot is the updated context document to persist with the
	// resulting transition. The retry controller hands each adapter a
	// private clone, so adapters mutate freely; the original snapshot a
	// transition was loaded from is never touched.
	Snapshot *Snapshot `json:"-"`
}
