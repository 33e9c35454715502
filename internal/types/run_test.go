package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunStateTerminal(t *testing.T) {
	tests := []struct {
		state    RunState
		terminal bool
	}{
		{StateHunting, false},
		{StateMatching, false},
		{StateContentGeneration, false},
		{StateFormFilling, false},
		{StateSecurityChallenge, false},
		{StateAwaitingApproval, false},
		{StateSubmitting, false},
		{StateMonitoring, false},
		{StateSyncing, false},
		{StateCompleted, true},
		{StateFailed, true},
		{StateCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.state.Terminal())
		})
	}
}

func TestRunStateValid(t *testing.T) {
	for _, state := range AllStates {
		assert.True(t, state.Valid(), "state %s should be valid", state)
	}

	assert.False(t, RunState("").Valid())
	assert.False(t, RunState("daydreaming").Valid())
}

func TestDecisionValid(t *testing.T) {
	assert.True(t, DecisionApproved.Valid())
	assert.True(t, DecisionRejected.Valid())
	assert.True(t, DecisionExpired.Valid())
	assert.False(t, Decision("").Valid())
	assert.False(t, Decision("maybe").Valid())
}
