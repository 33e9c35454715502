package matching

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/applier/internal/llm"
	"github.com/jonathan/applier/internal/store"
	"github.com/jonathan/applier/internal/types"
)

func TestKeywordScorer(t *testing.T) {
	scorer := NewKeywordScorer()
	profile := &types.UserProfile{Skills: []string{"Go", "Postgres", "Kubernetes", "Terraform"}}

	tests := []struct {
		name      string
		candidate *types.JobCandidate
		atLeast   float64
		atMost    float64
	}{
		{
			name: "full body and title coverage",
			candidate: &types.JobCandidate{
				Title:       "Go Postgres Kubernetes Terraform Engineer",
				Description: "go postgres kubernetes terraform all day",
			},
			atLeast: 99, atMost: 100,
		},
		{
			name: "half the skills in the body only",
			candidate: &types.JobCandidate{
				Title:       "Software Engineer",
				Description: "We use Go and Postgres.",
			},
			atLeast: 34, atMost: 36, // 0.7 * 50
		},
		{
			name:      "no overlap",
			candidate: &types.JobCandidate{Title: "Chef", Description: "Cook food."},
			atLeast:   0, atMost: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, err := scorer.Score(context.Background(), profile, tt.candidate)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, score, tt.atLeast)
			assert.LessOrEqual(t, score, tt.atMost)
		})
	}
}

func TestKeywordScorerNormalizesPunctuation(t *testing.T) {
	scorer := NewKeywordScorer()
	profile := &types.UserProfile{Skills: []string{"Node.js"}}
	candidate := &types.JobCandidate{Description: "Experience with Node js services."}

	score, err := scorer.Score(context.Background(), profile, candidate)
	require.NoError(t, err)
	assert.Greater(t, score, float64(0))
}

func TestKeywordScorerNeutralWithoutSkills(t *testing.T) {
	scorer := NewKeywordScorer()
	score, err := scorer.Score(context.Background(), &types.UserProfile{}, &types.JobCandidate{Description: "anything"})
	require.NoError(t, err)
	assert.Equal(t, float64(neutralScore), score)
}

type judgeClient struct {
	raw string
	err error
}

func (c *judgeClient) GenerateContent(_ context.Context, _ string, _ llm.ModelTier) (string, error) {
	return "", errors.New("unexpected")
}

func (c *judgeClient) GenerateJSON(_ context.Context, _ string, _ llm.ModelTier) (string, error) {
	return c.raw, c.err
}

func (c *judgeClient) GenerateVision(_ context.Context, _ string, _ []byte, _ llm.ModelTier) (string, error) {
	return "", errors.New("unexpected")
}

func (c *judgeClient) GetModel(_ llm.ModelTier) string { return "judge" }
func (c *judgeClient) Close() error                    { return nil }

func judgeRegistry(c llm.Client) *llm.Registry {
	r := llm.NewRegistry()
	r.Register(c, llm.CapabilityJSON)
	return r
}

func TestHybridScorerAveragesRuleAndJudge(t *testing.T) {
	judge := NewLLMScorer(judgeRegistry(&judgeClient{raw: `{"score": 80, "reasoning": "strong overlap"}`}))
	scorer := NewHybridScorer(NewKeywordScorer(), judge)

	profile := &types.UserProfile{Skills: []string{"Go"}}
	candidate := &types.JobCandidate{Title: "Go Engineer", Description: "Go services"}

	score, err := scorer.Score(context.Background(), profile, candidate)
	require.NoError(t, err)
	// Rule score is 100 (full body and title coverage); judge says 80.
	assert.InDelta(t, 90, score, 0.01)
}

func TestHybridScorerFallsBackWhenJudgeFails(t *testing.T) {
	judge := NewLLMScorer(judgeRegistry(&judgeClient{err: errors.New("quota exceeded")}))
	scorer := NewHybridScorer(NewKeywordScorer(), judge)

	profile := &types.UserProfile{Skills: []string{"Go"}}
	candidate := &types.JobCandidate{Title: "Go Engineer", Description: "Go services"}

	score, err := scorer.Score(context.Background(), profile, candidate)
	require.NoError(t, err)
	assert.InDelta(t, 100, score, 0.01)
}

func TestHybridScorerWithoutJudge(t *testing.T) {
	scorer := NewHybridScorer(NewKeywordScorer(), nil)
	score, err := scorer.Score(context.Background(), &types.UserProfile{Skills: []string{"Go"}}, &types.JobCandidate{Description: "Go"})
	require.NoError(t, err)
	assert.InDelta(t, 70, score, 0.01)
}

func TestLLMScorerRejectsOutOfRangeVerdict(t *testing.T) {
	judge := NewLLMScorer(judgeRegistry(&judgeClient{raw: `{"score": 250}`}))
	_, err := judge.Score(context.Background(), &types.UserProfile{}, &types.JobCandidate{})
	assert.Error(t, err)
}

func TestFileProfileProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"name": "Jane Doe",
		"email": "jane@example.com",
		"skills": ["Go", "Postgres"],
		"resume": "Jane Doe\nPlatform Engineer"
	}`), 0o644))

	provider := NewFileProfileProvider(path)
	profile, err := provider.Profile(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", profile.Name)
	assert.Equal(t, []string{"Go", "Postgres"}, profile.Skills)

	// Second read serves the cache.
	again, err := provider.Profile(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Same(t, profile, again)
}

func TestFileProfileProviderRejectsIncompleteProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name": "Jane Doe"}`), 0o644))

	_, err := NewFileProfileProvider(path).Profile(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name and email")
}

func TestStoreHistoryAlreadyApplied(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	userID := uuid.New()

	// A submitted run for posting greenhouse/42.
	submitted, _, err := s.CreateRun(ctx, userID, "greenhouse:acme:42", types.NewSnapshot())
	require.NoError(t, err)
	snap := types.NewSnapshot()
	snap.Candidate = &types.JobCandidate{Source: "greenhouse", ExternalID: "42"}
	snap.Submission = &types.SubmissionRecord{Submitted: true}
	_, err = s.AppendTransition(ctx, submitted.ID, types.StateMonitoring, snap, nil)
	require.NoError(t, err)

	// An active run that never submitted.
	active, _, err := s.CreateRun(ctx, userID, "greenhouse:acme:77", types.NewSnapshot())
	require.NoError(t, err)
	activeSnap := types.NewSnapshot()
	activeSnap.Candidate = &types.JobCandidate{Source: "greenhouse", ExternalID: "77"}
	_, err = s.AppendTransition(ctx, active.ID, types.StateMatching, activeSnap, nil)
	require.NoError(t, err)

	history := NewStoreHistory(s)

	applied, err := history.AlreadyApplied(ctx, userID, &types.JobCandidate{Source: "greenhouse", ExternalID: "42"})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = history.AlreadyApplied(ctx, userID, &types.JobCandidate{Source: "greenhouse", ExternalID: "77"})
	require.NoError(t, err)
	assert.False(t, applied, "an unsubmitted run is not an application")

	// A different user is unaffected by this user's submissions.
	applied, err = history.AlreadyApplied(ctx, uuid.New(), &types.JobCandidate{Source: "greenhouse", ExternalID: "42"})
	require.NoError(t, err)
	assert.False(t, applied)
}
