package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/jonathan/applier/internal/agents"
	"github.com/jonathan/applier/internal/retry"
	"github.com/jonathan/applier/internal/types"
)

// challengeProbe detects the common challenge widgets job portals embed.
const challengeProbe = `document.querySelector('iframe[src*="captcha"], iframe[src*="challenge"], img[src*="captcha"], .g-recaptcha, .h-captcha') !== null`

// confirmationProbe reads the confirmation text portals show after submission.
const confirmationProbe = `(function() {
	const el = document.querySelector('#confirmation, .application-confirmation, .confirmation, [data-confirmation]');
	if (el) { return el.textContent.trim(); }
	return document.title;
})()`

// fieldTimeout bounds how long to wait for any single form field.
const fieldTimeout = 3 * time.Second

// fieldTarget maps one logical applicant field to the selectors job boards
// commonly use for it.
type fieldTarget struct {
	label     string
	selectors []string
	value     string
}

// Automation fills and submits application forms through the session pool.
// The deployment serves one applicant, so the profile is fixed at
// construction time.
type Automation struct {
	pool        *Pool
	profile     *types.UserProfile
	artifactDir string
}

var _ agents.FormAutomation = (*Automation)(nil)

// NewAutomation builds the form automation collaborator.
func NewAutomation(pool *Pool, profile *types.UserProfile, artifactDir string) *Automation {
	return &Automation{pool: pool, profile: profile, artifactDir: artifactDir}
}

// Fill opens the posting's application form, fills every field it can find,
// and captures the review screenshot. If a security challenge blocks the
// form, Fill captures the challenge image instead and reports it.
func (a *Automation) Fill(ctx context.Context, candidate *types.JobCandidate, docs *types.DocumentBundle, challengeToken string) (*agents.FillResult, error) {
	result := &agents.FillResult{}

	err := a.pool.WithSession(ctx, func(sessionCtx context.Context) error {
		if err := chromedp.Run(sessionCtx,
			chromedp.Navigate(candidate.URL),
			chromedp.WaitReady("body"),
			chromedp.Sleep(2*time.Second),
		); err != nil {
			return retry.Transient(fmt.Errorf("failed to open application form: %w", err))
		}

		if challengeToken != "" {
			if err := a.presentToken(sessionCtx, challengeToken); err != nil {
				return err
			}
		}

		blocked, err := a.challengePresent(sessionCtx)
		if err != nil {
			return err
		}
		if blocked {
			path, err := a.screenshot(sessionCtx, candidate, "challenge.png")
			if err != nil {
				return err
			}
			result.ChallengeArtifact = path
			return nil
		}

		result.FieldsCompleted = a.fillFields(sessionCtx, a.targets(docs))

		path, err := a.screenshot(sessionCtx, candidate, "review.png")
		if err != nil {
			return err
		}
		result.ScreenshotPath = path
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Submit clicks through the submit action and reads the confirmation text.
func (a *Automation) Submit(ctx context.Context, candidate *types.JobCandidate) (string, error) {
	var confirmation string

	err := a.pool.WithSession(ctx, func(sessionCtx context.Context) error {
		if err := chromedp.Run(sessionCtx,
			chromedp.Navigate(candidate.URL),
			chromedp.WaitReady("body"),
			chromedp.Sleep(2*time.Second),
			chromedp.Click(`button[type="submit"], input[type="submit"], #submit_app`, chromedp.ByQuery),
			chromedp.Sleep(3*time.Second),
			chromedp.Evaluate(confirmationProbe, &confirmation),
		); err != nil {
			return retry.Transient(fmt.Errorf("failed to submit application: %w", err))
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(confirmation), nil
}

// targets builds the fill list from the fixed profile and the drafted
// documents.
func (a *Automation) targets(docs *types.DocumentBundle) []fieldTarget {
	first, last := splitName(a.profile.Name)
	return []fieldTarget{
		{label: "first name", value: first, selectors: []string{"#first_name", `input[name="first_name"]`, `input[autocomplete="given-name"]`}},
		{label: "last name", value: last, selectors: []string{"#last_name", `input[name="last_name"]`, `input[autocomplete="family-name"]`}},
		{label: "full name", value: a.profile.Name, selectors: []string{`input[name="name"]`, `input[autocomplete="name"]`}},
		{label: "email", value: a.profile.Email, selectors: []string{"#email", `input[type="email"]`, `input[name="email"]`}},
		{label: "phone", value: a.profile.Phone, selectors: []string{"#phone", `input[type="tel"]`, `input[name="phone"]`}},
		{label: "cover letter", value: docs.CoverLetterText, selectors: []string{"#cover_letter_text", `textarea[name="cover_letter"]`, `textarea[name*="cover"]`}},
		{label: "resume", value: docs.ResumeText, selectors: []string{"#resume_text", `textarea[name="resume"]`, `textarea[name*="resume"]`}},
	}
}

// fillFields sets each target it can locate, skipping the rest. Boards vary
// wildly, so a missing field is not an error.
func (a *Automation) fillFields(sessionCtx context.Context, targets []fieldTarget) int {
	filled := 0
	for _, target := range targets {
		if target.value == "" {
			continue
		}
		for _, selector := range target.selectors {
			fieldCtx, cancel := context.WithTimeout(sessionCtx, fieldTimeout)
			err := chromedp.Run(fieldCtx, chromedp.SetValue(selector, target.value, chromedp.ByQuery))
			cancel()
			if err == nil {
				filled++
				break
			}
		}
	}
	return filled
}

// presentToken types a previously solved challenge answer into the widget.
func (a *Automation) presentToken(sessionCtx context.Context, token string) error {
	for _, selector := range []string{`input[name="captcha"]`, `input[name*="captcha"]`, "#captcha-answer"} {
		fieldCtx, cancel := context.WithTimeout(sessionCtx, fieldTimeout)
		err := chromedp.Run(fieldCtx, chromedp.SetValue(selector, token, chromedp.ByQuery))
		cancel()
		if err == nil {
			return nil
		}
	}
	// The widget may have cleared itself after solving; not an error.
	return nil
}

func (a *Automation) challengePresent(sessionCtx context.Context) (bool, error) {
	var blocked bool
	if err := chromedp.Run(sessionCtx, chromedp.Evaluate(challengeProbe, &blocked)); err != nil {
		return false, retry.Transient(fmt.Errorf("failed to probe for challenge: %w", err))
	}
	return blocked, nil
}

// screenshot captures the full page into the posting's artifact directory.
func (a *Automation) screenshot(sessionCtx context.Context, candidate *types.JobCandidate, name string) (string, error) {
	var buf []byte
	if err := chromedp.Run(sessionCtx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return "", retry.Transient(fmt.Errorf("failed to capture screenshot: %w", err))
	}

	dir := filepath.Join(a.artifactDir, postingSlug(candidate))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return "", fmt.Errorf("failed to write screenshot: %w", err)
	}
	return path, nil
}

func splitName(full string) (first, last string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

func postingSlug(candidate *types.JobCandidate) string {
	slug := strings.ToLower(candidate.Company + "-" + candidate.ExternalID)
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
