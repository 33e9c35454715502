// Package matching scores job candidates against the applicant's profile and
// decides whether a posting is worth pursuing.
package matching

import (
	"context"
	"strings"

	"github.com/jonathan/applier/internal/types"
)

// neutralScore is used when the profile lists no skills to match against:
// the posting is neither endorsed nor rejected on keyword evidence.
const neutralScore = 50

// KeywordScorer is the rule-based scorer: coverage of the profile's skills in
// the posting text, with extra weight on the posting title.
type KeywordScorer struct{}

// NewKeywordScorer returns the rule-based scorer.
func NewKeywordScorer() *KeywordScorer {
	return &KeywordScorer{}
}

// Score rates the candidate 0-100. It is pure and never fails.
func (s *KeywordScorer) Score(_ context.Context, profile *types.UserProfile, candidate *types.JobCandidate) (float64, error) {
	if profile == nil || len(profile.Skills) == 0 {
		return neutralScore, nil
	}

	body := normalize(candidate.Description)
	title := normalize(candidate.Title)

	var bodyHits, titleHits int
	for _, skill := range profile.Skills {
		needle := normalize(skill)
		if needle == "" {
			continue
		}
		if strings.Contains(body, needle) {
			bodyHits++
		}
		if strings.Contains(title, needle) {
			titleHits++
		}
	}

	total := float64(len(profile.Skills))
	coverage := float64(bodyHits) / total
	titleCoverage := float64(titleHits) / total
	return 100 * (0.7*coverage + 0.3*titleCoverage), nil
}

// normalize lowercases text and collapses non-alphanumeric runs to single
// spaces so "Node.js" matches "node js".
func normalize(text string) string {
	var sb strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(text) {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if alnum {
			sb.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			sb.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(sb.String())
}
