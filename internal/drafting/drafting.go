// Package drafting turns a candidate profile and a job posting into the
// tailored resume and cover letter that go into the application form.
package drafting

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonathan/applier/internal/llm"
	"github.com/jonathan/applier/internal/prompts"
	"github.com/jonathan/applier/internal/retry"
	"github.com/jonathan/applier/internal/schemas"
	"github.com/jonathan/applier/internal/types"
)

// draftPayload mirrors the JSON shape the drafting model must return.
type draftPayload struct {
	Resume      string   `json:"resume"`
	CoverLetter string   `json:"cover_letter"`
	Highlights  []string `json:"highlights,omitempty"`
}

// requirementsPayload mirrors the posting-extraction output.
type requirementsPayload struct {
	Requirements     []string `json:"requirements"`
	Responsibilities []string `json:"responsibilities"`
	NiceToHave       []string `json:"nice_to_have,omitempty"`
}

// Generator drafts application documents through the JSON-capable provider
// and persists them as reviewable artifacts.
type Generator struct {
	providers   *llm.Registry
	artifactDir string
	now         func() time.Time
}

// NewGenerator builds a generator. artifactDir may be empty to skip writing
// document files to disk.
func NewGenerator(providers *llm.Registry, artifactDir string) *Generator {
	return &Generator{providers: providers, artifactDir: artifactDir, now: time.Now}
}

// Generate drafts a resume and cover letter for the candidate's posting. The
// model output is schema-validated before it is trusted.
func (g *Generator) Generate(ctx context.Context, profile *types.UserProfile, candidate *types.JobCandidate) (*types.DocumentBundle, error) {
	client, err := g.providers.ForCapability(llm.CapabilityJSON)
	if err != nil {
		return nil, retry.Fatal(err)
	}

	template, err := prompts.Get("drafting.json", "draft_documents")
	if err != nil {
		return nil, retry.Fatal(fmt.Errorf("failed to load drafting prompt: %w", err))
	}
	prompt := prompts.Format(template, map[string]string{
		"Profile":      renderProfile(profile),
		"Posting":      renderPosting(candidate),
		"Requirements": g.extractRequirements(ctx, client, candidate),
	})

	raw, err := client.GenerateJSON(ctx, prompt, llm.TierAdvanced)
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("failed to draft documents: %w", err))
	}
	if err := schemas.ValidateDocumentBundle(raw); err != nil {
		// Malformed model output usually clears up on regeneration.
		return nil, retry.Transient(fmt.Errorf("model returned invalid documents: %w", err))
	}

	var payload draftPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, retry.Transient(fmt.Errorf("failed to parse drafted documents: %w", err))
	}

	bundle := &types.DocumentBundle{
		ResumeText:      payload.Resume,
		CoverLetterText: payload.CoverLetter,
		GeneratedAt:     g.now(),
	}
	if err := g.writeArtifacts(candidate, bundle); err != nil {
		return nil, fmt.Errorf("failed to write document artifacts: %w", err)
	}
	return bundle, nil
}

// extractRequirements pulls the posting's stated requirements so the drafting
// prompt can target them. Extraction failure degrades to drafting from the
// raw description.
func (g *Generator) extractRequirements(ctx context.Context, client llm.Client, candidate *types.JobCandidate) string {
	if candidate.Description == "" {
		return "(no posting description available)"
	}

	prompt := llm.BuildExtractionPrompt(llm.JobRequirementsSchema(), candidate.Description)
	raw, err := client.GenerateJSON(ctx, prompt, llm.TierStandard)
	if err != nil {
		log.Printf("requirement extraction failed, drafting from raw description: %v", err)
		return candidate.Description
	}

	var payload requirementsPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		log.Printf("requirement extraction returned invalid JSON, drafting from raw description: %v", err)
		return candidate.Description
	}

	var sb strings.Builder
	writeSection(&sb, "Requirements", payload.Requirements)
	writeSection(&sb, "Responsibilities", payload.Responsibilities)
	writeSection(&sb, "Nice to have", payload.NiceToHave)
	if sb.Len() == 0 {
		return candidate.Description
	}
	return sb.String()
}

func writeSection(sb *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	sb.WriteString(title)
	sb.WriteString(":\n")
	for _, item := range items {
		sb.WriteString("- ")
		sb.WriteString(item)
		sb.WriteString("\n")
	}
}

// writeArtifacts stores the drafted documents under a per-posting directory
// and records their paths on the bundle.
func (g *Generator) writeArtifacts(candidate *types.JobCandidate, bundle *types.DocumentBundle) error {
	if g.artifactDir == "" {
		return nil
	}

	dir := filepath.Join(g.artifactDir, postingSlug(candidate))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	resumePath := filepath.Join(dir, "resume.txt")
	if err := os.WriteFile(resumePath, []byte(bundle.ResumeText), 0o644); err != nil {
		return fmt.Errorf("failed to write resume: %w", err)
	}
	coverPath := filepath.Join(dir, "cover_letter.txt")
	if err := os.WriteFile(coverPath, []byte(bundle.CoverLetterText), 0o644); err != nil {
		return fmt.Errorf("failed to write cover letter: %w", err)
	}

	bundle.ResumePath = resumePath
	bundle.CoverLetterPath = coverPath
	return nil
}

// postingSlug derives a filesystem-safe directory name for a posting.
func postingSlug(candidate *types.JobCandidate) string {
	parts := []string{candidate.Company, candidate.ExternalID}
	slug := strings.ToLower(strings.Join(parts, "-"))
	slug = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '-'
		}
	}, slug)
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "posting"
	}
	return slug
}

func renderProfile(profile *types.UserProfile) string {
	if profile == nil {
		return "(no profile on file)"
	}
	var sb strings.Builder
	if profile.Name != "" {
		fmt.Fprintf(&sb, "Name: %s\n", profile.Name)
	}
	if profile.Email != "" {
		fmt.Fprintf(&sb, "Email: %s\n", profile.Email)
	}
	if len(profile.Skills) > 0 {
		fmt.Fprintf(&sb, "Skills: %s\n", strings.Join(profile.Skills, ", "))
	}
	if profile.Resume != "" {
		fmt.Fprintf(&sb, "\nBase resume:\n%s\n", profile.Resume)
	}
	return sb.String()
}

func renderPosting(candidate *types.JobCandidate) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s at %s", candidate.Title, candidate.Company)
	if candidate.Location != "" {
		fmt.Fprintf(&sb, " (%s)", candidate.Location)
	}
	sb.WriteString("\n")
	if candidate.Description != "" {
		sb.WriteString(candidate.Description)
	}
	return sb.String()
}
