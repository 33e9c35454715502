// Package captcha solves the security challenges that job portals raise
// against automated form filling, by showing the captured challenge image to
// a vision-capable model.
package captcha

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jonathan/applier/internal/llm"
	"github.com/jonathan/applier/internal/prompts"
	"github.com/jonathan/applier/internal/retry"
)

// unsolvedMarker is what the prompt instructs the model to return when the
// challenge is unreadable.
const unsolvedMarker = "UNSOLVED"

// Solver reads a challenge screenshot and produces the pass answer.
type Solver struct {
	providers *llm.Registry
}

// NewSolver builds a vision-backed challenge solver.
func NewSolver(providers *llm.Registry) *Solver {
	return &Solver{providers: providers}
}

// Solve reads the challenge image at artifact and asks the vision model for
// the answer. An unreadable challenge is a retryable failure: portals rotate
// challenge images between attempts.
func (s *Solver) Solve(ctx context.Context, artifact string) (string, error) {
	client, err := s.providers.ForCapability(llm.CapabilityVision)
	if err != nil {
		return "", retry.Fatal(err)
	}

	image, err := os.ReadFile(artifact)
	if err != nil {
		return "", retry.Fatal(fmt.Errorf("failed to read challenge artifact: %w", err))
	}

	prompt, err := prompts.Get("captcha.json", "solve_challenge")
	if err != nil {
		return "", retry.Fatal(fmt.Errorf("failed to load challenge prompt: %w", err))
	}

	answer, err := client.GenerateVision(ctx, prompt, image, llm.TierAdvanced)
	if err != nil {
		return "", retry.Transient(fmt.Errorf("failed to solve challenge: %w", err))
	}

	answer = strings.TrimSpace(answer)
	if answer == "" || strings.EqualFold(answer, unsolvedMarker) {
		return "", retry.Transient(fmt.Errorf("model could not read the challenge"))
	}
	return answer, nil
}
