// Package router holds the pure routing function that maps a run's current
// state and the last stage outcome to the next action. It performs no I/O and
// holds no mutable state, so the full transition table is unit-testable.
package router

import (
	"fmt"

	"github.com/jonathan/applier/internal/types"
)

// ActionKind discriminates the possible next actions.
type ActionKind string

const (
	// ActionAdvance moves the run to Action.State.
	ActionAdvance ActionKind = "advance"
	// ActionRetry keeps the run in its current state; the engine re-drives
	// it once the scheduled backoff elapses.
	ActionRetry ActionKind = "retry"
	// ActionSuspend parks the run at Action.State behind an open checkpoint.
	ActionSuspend ActionKind = "suspend"
	// ActionFail ends the run in FAILED with Action.Reason.
	ActionFail ActionKind = "fail"
	// ActionComplete ends the run in COMPLETED.
	ActionComplete ActionKind = "complete"
)

// NextAction is the router's verdict for one (state, outcome) pair.
type NextAction struct {
	Kind   ActionKind
	State  types.RunState
	Reason string
}

// transitions is the routing table. Entries absent from this table fail
// closed: an unrecognized outcome never silently continues the run.
var transitions = map[types.RunState]map[string]NextAction{
	types.StateHunting: {
		types.OutcomeCandidateFound: {Kind: ActionAdvance, State: types.StateMatching},
	},
	types.StateMatching: {
		types.OutcomeScorePassed:   {Kind: ActionAdvance, State: types.StateContentGeneration},
		types.OutcomeScoreRejected: {Kind: ActionAdvance, State: types.StateCancelled},
	},
	types.StateContentGeneration: {
		types.OutcomeDocumentsReady: {Kind: ActionAdvance, State: types.StateFormFilling},
	},
	types.StateFormFilling: {
		types.OutcomeFormFilled:        {Kind: ActionSuspend, State: types.StateAwaitingApproval},
		types.OutcomeChallengeDetected: {Kind: ActionAdvance, State: types.StateSecurityChallenge},
	},
	types.StateSecurityChallenge: {
		types.OutcomeChallengeSolved: {Kind: ActionAdvance, State: types.StateFormFilling},
	},
	types.StateAwaitingApproval: {
		types.OutcomeApproved: {Kind: ActionAdvance, State: types.StateSubmitting},
		types.OutcomeRejected: {Kind: ActionAdvance, State: types.StateCancelled},
	},
	types.StateSubmitting: {
		types.OutcomeSubmitted: {Kind: ActionAdvance, State: types.StateMonitoring},
	},
	types.StateMonitoring: {
		types.OutcomeStatusChanged:   {Kind: ActionAdvance, State: types.StateSyncing},
		types.OutcomeStatusUnchanged: {Kind: ActionRetry, State: types.StateMonitoring},
	},
	types.StateSyncing: {
		types.OutcomeSynced: {Kind: ActionComplete, State: types.StateCompleted},
	},
}

// Next computes the next action for a run in the given state after the given
// outcome. Unknown (state, outcome) pairs fail closed to FAILED.
func Next(current types.RunState, outcome *types.StageOutcome) NextAction {
	if current.Terminal() {
		return NextAction{
			Kind:   ActionFail,
			State:  types.StateFailed,
			Reason: fmt.Sprintf("terminal state %s has no outgoing transitions", current),
		}
	}

	// Outcomes the retry controller produces apply in every state.
	switch outcome.Outcome {
	case types.OutcomeRetryScheduled:
		return NextAction{Kind: ActionRetry, State: current, Reason: outcome.Reason}
	case types.OutcomeStageFailed:
		// A submitted application is never un-submitted by a tracking
		// failure: post-submission stages defer and retry instead of
		// failing the run.
		if current == types.StateMonitoring || current == types.StateSyncing {
			return NextAction{Kind: ActionRetry, State: current, Reason: outcome.Reason}
		}
		reason := outcome.Reason
		if reason == "" {
			reason = fmt.Sprintf("stage %s failed", current)
		}
		return NextAction{Kind: ActionFail, State: types.StateFailed, Reason: reason}
	case types.OutcomeChallengeUnsolved:
		return NextAction{
			Kind:   ActionFail,
			State:  types.StateFailed,
			Reason: fmt.Sprintf("security challenge unsolved: %s", outcome.Reason),
		}
	}

	if byOutcome, ok := transitions[current]; ok {
		if action, ok := byOutcome[outcome.Outcome]; ok {
			action.Reason = outcome.Reason
			return action
		}
	}

	return NextAction{
		Kind:   ActionFail,
		State:  types.StateFailed,
		Reason: fmt.Sprintf("no route for outcome %q in state %s", outcome.Outcome, current),
	}
}
