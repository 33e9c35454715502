// Package tracking follows an application after submission: it reads the
// portal's status for the application and pushes confirmed changes to the
// configured webhook.
package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonathan/applier/internal/fetch"
	"github.com/jonathan/applier/internal/llm"
	"github.com/jonathan/applier/internal/retry"
	"github.com/jonathan/applier/internal/types"
)

// StatusClosed is reported when the posting itself has disappeared, which
// portals use to signal the req was filled or withdrawn.
const StatusClosed = "closed"

// statusSelectors are the markup hooks portals commonly hang the
// application status on.
var statusSelectors = []string{
	".application-status",
	"#application-status",
	"[data-status]",
	".status-label",
}

// statusPayload mirrors the LLM fallback extraction output.
type statusPayload struct {
	Status string `json:"status"`
}

// PortalTracker scrapes the portal page for the application's status, with
// an LLM reading as fallback when the markup defeats the selectors.
type PortalTracker struct {
	opts      *fetch.Options
	providers *llm.Registry
}

// NewPortalTracker builds a tracker. providers may be nil to disable the
// LLM fallback.
func NewPortalTracker(providers *llm.Registry) *PortalTracker {
	return &PortalTracker{opts: fetch.DefaultOptions(), providers: providers}
}

// CheckStatus reads the current application status. An empty return means
// the status could not be determined and should count as unchanged.
func (t *PortalTracker) CheckStatus(ctx context.Context, candidate *types.JobCandidate, _ string) (string, error) {
	result, err := fetch.URL(ctx, candidate.URL, t.opts)
	if err != nil {
		if result != nil && result.StatusCode == http.StatusNotFound {
			return StatusClosed, nil
		}
		return "", retry.Transient(fmt.Errorf("failed to fetch portal page: %w", err))
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(result.HTML))
	if err != nil {
		return "", fmt.Errorf("failed to parse portal page: %w", err)
	}
	for _, selector := range statusSelectors {
		if text := strings.TrimSpace(doc.Find(selector).First().Text()); text != "" {
			return strings.ToLower(text), nil
		}
	}

	return t.statusFromModel(ctx, result.HTML)
}

// statusFromModel asks the JSON-capable model to read the page when no
// selector matched. Degrades to "unknown status" rather than failing.
func (t *PortalTracker) statusFromModel(ctx context.Context, html string) (string, error) {
	if t.providers == nil {
		return "", nil
	}
	client, err := t.providers.ForCapability(llm.CapabilityJSON)
	if err != nil {
		return "", nil
	}

	text, err := fetch.ExtractMainText(html, fetch.DefaultTextSelectors())
	if err != nil || text == "" {
		return "", nil
	}

	prompt := llm.BuildExtractionPrompt(llm.ApplicationStatusSchema(), text)
	raw, err := client.GenerateJSON(ctx, prompt, llm.TierLite)
	if err != nil {
		log.Printf("status extraction failed, treating as unchanged: %v", err)
		return "", nil
	}

	var payload statusPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		log.Printf("status extraction returned invalid JSON, treating as unchanged: %v", err)
		return "", nil
	}
	return strings.ToLower(strings.TrimSpace(payload.Status)), nil
}
