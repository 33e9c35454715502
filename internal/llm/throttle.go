package llm

import (
	"context"

	"github.com/jonathan/applier/internal/ratelimit"
)

// throttledClient wraps a Client behind a token bucket so concurrent stages
// queue for the provider's quota instead of burning it.
type throttledClient struct {
	Client
	bucket *ratelimit.Bucket
}

// Throttle caps a client at requestsPerMinute, with the same burst. Callers
// block until a token is available or their context ends.
func Throttle(client Client, requestsPerMinute int) Client {
	if requestsPerMinute <= 0 {
		return client
	}
	return &throttledClient{
		Client: client,
		bucket: ratelimit.NewBucket(requestsPerMinute, float64(requestsPerMinute)/60.0),
	}
}

func (t *throttledClient) GenerateContent(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	if err := t.bucket.Wait(ctx); err != nil {
		return "", err
	}
	return t.Client.GenerateContent(ctx, prompt, tier)
}

func (t *throttledClient) GenerateJSON(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	if err := t.bucket.Wait(ctx); err != nil {
		return "", err
	}
	return t.Client.GenerateJSON(ctx, prompt, tier)
}

func (t *throttledClient) GenerateVision(ctx context.Context, prompt string, imagePNG []byte, tier ModelTier) (string, error) {
	if err := t.bucket.Wait(ctx); err != nil {
		return "", err
	}
	return t.Client.GenerateVision(ctx, prompt, imagePNG, tier)
}
