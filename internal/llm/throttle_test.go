package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThrottleDisabledReturnsSameClient(t *testing.T) {
	c := &stubClient{name: "raw"}
	assert.Equal(t, Client(c), Throttle(c, 0))
	assert.Equal(t, Client(c), Throttle(c, -1))
}

func TestThrottlePassesThroughWithinBurst(t *testing.T) {
	c := &stubClient{name: "ok"}
	throttled := Throttle(c, 60)

	out, err := throttled.GenerateContent(context.Background(), "p", TierStandard)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	out, err = throttled.GenerateJSON(context.Background(), "p", TierStandard)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestThrottleBlocksUntilContextEnds(t *testing.T) {
	c := &stubClient{name: "ok"}
	throttled := Throttle(c, 1)

	// Drain the single burst token.
	_, err := throttled.GenerateContent(context.Background(), "p", TierStandard)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = throttled.GenerateVision(ctx, "p", []byte{1}, TierStandard)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
