package captcha

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/applier/internal/llm"
	"github.com/jonathan/applier/internal/retry"
)

type stubVision struct {
	answer    string
	err       error
	lastImage []byte
}

func (s *stubVision) GenerateContent(_ context.Context, _ string, _ llm.ModelTier) (string, error) {
	return "", errors.New("unexpected text generation")
}

func (s *stubVision) GenerateJSON(_ context.Context, _ string, _ llm.ModelTier) (string, error) {
	return "", errors.New("unexpected JSON generation")
}

func (s *stubVision) GenerateVision(_ context.Context, _ string, image []byte, _ llm.ModelTier) (string, error) {
	s.lastImage = image
	return s.answer, s.err
}

func (s *stubVision) GetModel(_ llm.ModelTier) string { return "stub" }
func (s *stubVision) Close() error                    { return nil }

func solverWith(client llm.Client) *Solver {
	r := llm.NewRegistry()
	r.Register(client, llm.CapabilityVision)
	return NewSolver(r)
}

func writeArtifact(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "challenge.png")
	require.NoError(t, os.WriteFile(path, []byte("png-bytes"), 0o644))
	return path
}

func TestSolveReturnsAnswer(t *testing.T) {
	vision := &stubVision{answer: "  XK7Q2  "}
	s := solverWith(vision)

	token, err := s.Solve(context.Background(), writeArtifact(t))
	require.NoError(t, err)
	assert.Equal(t, "XK7Q2", token)
	assert.Equal(t, []byte("png-bytes"), vision.lastImage)
}

func TestSolveUnreadableChallengeIsTransient(t *testing.T) {
	s := solverWith(&stubVision{answer: "unsolved"})

	_, err := s.Solve(context.Background(), writeArtifact(t))
	require.Error(t, err)
	assert.Equal(t, retry.ClassTransient, retry.Classify(err), "portals rotate challenges, retry may succeed")
}

func TestSolveMissingArtifactIsFatal(t *testing.T) {
	s := solverWith(&stubVision{answer: "x"})

	_, err := s.Solve(context.Background(), "/nonexistent/challenge.png")
	require.Error(t, err)
	assert.Equal(t, retry.ClassFatal, retry.Classify(err))
}

func TestSolveWithoutVisionProviderIsFatal(t *testing.T) {
	s := NewSolver(llm.NewRegistry())

	_, err := s.Solve(context.Background(), writeArtifact(t))
	require.Error(t, err)
	assert.Equal(t, retry.ClassFatal, retry.Classify(err))
}

func TestSolveProviderErrorIsTransient(t *testing.T) {
	s := solverWith(&stubVision{err: errors.New("rate limited")})

	_, err := s.Solve(context.Background(), writeArtifact(t))
	require.Error(t, err)
	assert.Equal(t, retry.ClassTransient, retry.Classify(err))
}
