// Package discovery resolves job references into concrete postings by
// scraping Greenhouse-style job boards.
package discovery

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonathan/applier/internal/fetch"
	"github.com/jonathan/applier/internal/retry"
	"github.com/jonathan/applier/internal/types"
)

// sourceGreenhouse is the board family this source understands natively.
const sourceGreenhouse = "greenhouse"

// salaryPattern matches "$120,000 - $150,000" style ranges in posting text.
var salaryPattern = regexp.MustCompile(`\$([0-9][0-9,]*)\s*[-–]\s*\$([0-9][0-9,]*)`)

// Opening is one row of a board's listing page.
type Opening struct {
	Title      string
	URL        string
	ExternalID string
	Location   string
}

// BoardSource fetches postings from hosted job boards. A job reference is
// either "greenhouse:<board>:<id>" or a direct posting URL.
type BoardSource struct {
	baseURL   string
	opts      *fetch.Options
	renderSPA bool
}

// NewBoardSource builds a board source. baseURL overrides the hosted board
// root, mainly for tests; empty means the public Greenhouse host.
func NewBoardSource(baseURL string) *BoardSource {
	if baseURL == "" {
		baseURL = "https://boards.greenhouse.io"
	}
	return &BoardSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		opts:    fetch.DefaultOptions(),
	}
}

// EnableBrowserRendering turns on headless rendering for postings whose
// static HTML carries too little text (JavaScript-rendered boards). Requires
// Chrome on the host.
func (s *BoardSource) EnableBrowserRendering() *BoardSource {
	s.renderSPA = true
	return s
}

// FetchPosting resolves a job reference into a candidate.
func (s *BoardSource) FetchPosting(ctx context.Context, jobRef string) (*types.JobCandidate, error) {
	source, board, externalID, postingURL, err := s.resolveRef(jobRef)
	if err != nil {
		return nil, retry.Fatal(err)
	}

	result, err := fetch.URL(ctx, postingURL, s.opts)
	if err != nil {
		if result != nil && result.StatusCode == http.StatusNotFound {
			return nil, retry.Fatal(fmt.Errorf("posting %s no longer exists", jobRef))
		}
		return nil, retry.Transient(fmt.Errorf("failed to fetch posting: %w", err))
	}

	html := result.HTML
	platform := fetch.DetectPlatform(postingURL)
	description, err := fetch.ExtractMainText(html,
		fetch.PlatformContentSelectors(platform), fetch.PlatformNoiseSelectors(platform)...)
	if err != nil {
		return nil, fmt.Errorf("failed to extract posting text: %w", err)
	}

	// JavaScript-rendered boards serve a near-empty shell; re-fetch through a
	// headless browser when enabled.
	if s.renderSPA && fetch.ShouldUseBrowser(description) {
		rendered, berr := fetch.BrowserSimple(ctx, postingURL)
		if berr == nil {
			if text, terr := fetch.ExtractMainText(rendered,
				fetch.PlatformContentSelectors(platform), fetch.PlatformNoiseSelectors(platform)...); terr == nil {
				html = rendered
				description = text
			}
		}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse posting page: %w", err)
	}

	candidate := &types.JobCandidate{
		Source:     source,
		ExternalID: externalID,
		URL:        postingURL,
		Company:    firstText(doc, ".company-name", "#header .company", `meta[property="og:site_name"]`),
		Title:      firstText(doc, ".app-title", "h1.section-header", "h1"),
		Location:   firstText(doc, ".location", ".job-location", `[data-testid="location"]`),
	}
	if candidate.Company == "" {
		candidate.Company = board
	}

	candidate.Description = description
	candidate.SalaryMin, candidate.SalaryMax = parseSalaryRange(description)

	if candidate.Title == "" {
		return nil, retry.Fatal(fmt.Errorf("page at %s does not look like a job posting", postingURL))
	}
	return candidate, nil
}

// ListOpenings scrapes a board's listing page, for sweep-style discovery of
// postings worth opening runs for.
func (s *BoardSource) ListOpenings(ctx context.Context, board string) ([]Opening, error) {
	listURL := fmt.Sprintf("%s/%s", s.baseURL, board)
	result, err := fetch.URL(ctx, listURL, s.opts)
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("failed to fetch board %s: %w", board, err))
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(result.HTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse board page: %w", err)
	}

	var openings []Opening
	doc.Find(".opening").Each(func(_ int, sel *goquery.Selection) {
		link := sel.Find("a").First()
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		openings = append(openings, Opening{
			Title:      strings.TrimSpace(link.Text()),
			URL:        s.absoluteURL(href),
			ExternalID: externalIDFromPath(href),
			Location:   strings.TrimSpace(sel.Find(".location").Text()),
		})
	})
	return openings, nil
}

// resolveRef turns a job reference into its parts and the posting URL.
func (s *BoardSource) resolveRef(jobRef string) (source, board, externalID, postingURL string, err error) {
	if strings.HasPrefix(jobRef, "http://") || strings.HasPrefix(jobRef, "https://") {
		return "web", "", externalIDFromPath(jobRef), jobRef, nil
	}

	parts := strings.SplitN(jobRef, ":", 3)
	if len(parts) != 3 || parts[0] != sourceGreenhouse || parts[1] == "" || parts[2] == "" {
		return "", "", "", "", fmt.Errorf("unrecognized job reference %q", jobRef)
	}
	board, externalID = parts[1], parts[2]
	postingURL = fmt.Sprintf("%s/%s/jobs/%s", s.baseURL, board, externalID)
	return sourceGreenhouse, board, externalID, postingURL, nil
}

func (s *BoardSource) absoluteURL(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return s.baseURL + "/" + strings.TrimLeft(href, "/")
}

// externalIDFromPath takes the trailing path segment as the posting ID.
func externalIDFromPath(ref string) string {
	trimmed := strings.TrimRight(ref, "/")
	if idx := strings.Index(trimmed, "?"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}

// parseSalaryRange pulls a dollar range out of posting text, if present.
func parseSalaryRange(text string) (min, max int) {
	match := salaryPattern.FindStringSubmatch(text)
	if match == nil {
		return 0, 0
	}
	min, _ = strconv.Atoi(strings.ReplaceAll(match[1], ",", ""))
	max, _ = strconv.Atoi(strings.ReplaceAll(match[2], ",", ""))
	return min, max
}

// firstText returns the first non-empty text among the selectors, checking
// meta content attributes as a fallback.
func firstText(doc *goquery.Document, selectors ...string) string {
	for _, selector := range selectors {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		if strings.HasPrefix(selector, "meta") {
			if content, ok := sel.Attr("content"); ok && content != "" {
				return strings.TrimSpace(content)
			}
			continue
		}
		if text := strings.TrimSpace(sel.Text()); text != "" {
			return text
		}
	}
	return ""
}
