package drafting

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/applier/internal/llm"
	"github.com/jonathan/applier/internal/retry"
	"github.com/jonathan/applier/internal/types"
)

// scriptedClient returns canned responses keyed on prompt content: extraction
// prompts get the requirements payload, everything else the draft payload.
type scriptedClient struct {
	extraction string
	draft      string
	draftErr   error
	prompts    []string
}

func (c *scriptedClient) GenerateContent(_ context.Context, prompt string, _ llm.ModelTier) (string, error) {
	c.prompts = append(c.prompts, prompt)
	return "", errors.New("unexpected text generation")
}

func (c *scriptedClient) GenerateJSON(_ context.Context, prompt string, _ llm.ModelTier) (string, error) {
	c.prompts = append(c.prompts, prompt)
	if strings.Contains(prompt, "job posting parser") {
		return c.extraction, nil
	}
	return c.draft, c.draftErr
}

func (c *scriptedClient) GenerateVision(_ context.Context, _ string, _ []byte, _ llm.ModelTier) (string, error) {
	return "", errors.New("unexpected vision generation")
}

func (c *scriptedClient) GetModel(_ llm.ModelTier) string { return "scripted" }
func (c *scriptedClient) Close() error                    { return nil }

func registryWith(c llm.Client) *llm.Registry {
	r := llm.NewRegistry()
	r.Register(c, llm.CapabilityText, llm.CapabilityJSON)
	return r
}

func testProfile() *types.UserProfile {
	return &types.UserProfile{
		Name:   "Jane Doe",
		Email:  "jane@example.com",
		Skills: []string{"Go", "Postgres"},
		Resume: "Jane Doe\nPlatform Engineer, 8 years",
	}
}

func testCandidate() *types.JobCandidate {
	return &types.JobCandidate{
		Source:      "greenhouse",
		ExternalID:  "42",
		Company:     "Acme",
		Title:       "Platform Engineer",
		Description: "We need Go and Postgres experience.",
	}
}

func TestGenerateProducesBundle(t *testing.T) {
	client := &scriptedClient{
		extraction: `{"requirements": ["Go", "Postgres"], "responsibilities": ["Run the platform"]}`,
		draft:      `{"resume": "Jane Doe tailored resume", "cover_letter": "Dear Acme,", "highlights": ["Go"]}`,
	}
	g := NewGenerator(registryWith(client), t.TempDir())

	bundle, err := g.Generate(context.Background(), testProfile(), testCandidate())
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe tailored resume", bundle.ResumeText)
	assert.Equal(t, "Dear Acme,", bundle.CoverLetterText)
	assert.False(t, bundle.GeneratedAt.IsZero())

	// Artifacts land on disk and their paths travel with the bundle.
	resume, err := os.ReadFile(bundle.ResumePath)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe tailored resume", string(resume))
	cover, err := os.ReadFile(bundle.CoverLetterPath)
	require.NoError(t, err)
	assert.Equal(t, "Dear Acme,", string(cover))
}

func TestGenerateFeedsExtractedRequirementsToDraftPrompt(t *testing.T) {
	client := &scriptedClient{
		extraction: `{"requirements": ["Kubernetes at scale"], "responsibilities": []}`,
		draft:      `{"resume": "r", "cover_letter": "c"}`,
	}
	g := NewGenerator(registryWith(client), "")

	_, err := g.Generate(context.Background(), testProfile(), testCandidate())
	require.NoError(t, err)

	require.Len(t, client.prompts, 2)
	assert.Contains(t, client.prompts[1], "Kubernetes at scale")
}

func TestGenerateSurvivesExtractionFailure(t *testing.T) {
	client := &scriptedClient{
		extraction: `not json at all`,
		draft:      `{"resume": "r", "cover_letter": "c"}`,
	}
	g := NewGenerator(registryWith(client), "")

	_, err := g.Generate(context.Background(), testProfile(), testCandidate())
	require.NoError(t, err)

	// The raw description stands in for the failed extraction.
	assert.Contains(t, client.prompts[1], "We need Go and Postgres experience.")
}

func TestGenerateRejectsInvalidDraft(t *testing.T) {
	client := &scriptedClient{
		extraction: `{"requirements": [], "responsibilities": []}`,
		draft:      `{"resume": "only a resume"}`,
	}
	g := NewGenerator(registryWith(client), "")

	_, err := g.Generate(context.Background(), testProfile(), testCandidate())
	require.Error(t, err)
	assert.Equal(t, retry.ClassTransient, retry.Classify(err), "regeneration may fix malformed output")
}

func TestGenerateWithoutJSONProviderIsFatal(t *testing.T) {
	g := NewGenerator(llm.NewRegistry(), "")
	_, err := g.Generate(context.Background(), testProfile(), testCandidate())
	require.Error(t, err)
	assert.Equal(t, retry.ClassFatal, retry.Classify(err))
}

func TestPostingSlug(t *testing.T) {
	assert.Equal(t, "acme-42", postingSlug(&types.JobCandidate{Company: "Acme", ExternalID: "42"}))
	assert.Equal(t, "initech-co-a-17", postingSlug(&types.JobCandidate{Company: "Initech & Co", ExternalID: "A/17"}))
	assert.Equal(t, "posting", postingSlug(&types.JobCandidate{}))
}
