package matching

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/jonathan/applier/internal/llm"
	"github.com/jonathan/applier/internal/types"
)

// judgeVerdict mirrors the JSON the judge model returns.
type judgeVerdict struct {
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
}

// LLMScorer asks a lightweight model how well the posting fits the profile.
type LLMScorer struct {
	providers *llm.Registry
}

// NewLLMScorer builds the model-backed scorer.
func NewLLMScorer(providers *llm.Registry) *LLMScorer {
	return &LLMScorer{providers: providers}
}

// Score rates the candidate 0-100 through the judge model.
func (s *LLMScorer) Score(ctx context.Context, profile *types.UserProfile, candidate *types.JobCandidate) (float64, error) {
	client, err := s.providers.ForCapability(llm.CapabilityJSON)
	if err != nil {
		return 0, err
	}

	prompt := buildJudgePrompt(profile, candidate)
	raw, err := client.GenerateJSON(ctx, prompt, llm.TierLite)
	if err != nil {
		return 0, fmt.Errorf("failed to judge candidate: %w", err)
	}

	var verdict judgeVerdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return 0, fmt.Errorf("failed to parse judge verdict: %w", err)
	}
	if verdict.Score < 0 || verdict.Score > 100 {
		return 0, fmt.Errorf("judge returned out-of-range score %.1f", verdict.Score)
	}
	return verdict.Score, nil
}

func buildJudgePrompt(profile *types.UserProfile, candidate *types.JobCandidate) string {
	var sb strings.Builder
	sb.WriteString("Rate how well this candidate fits this job posting on a 0-100 scale.\n")
	sb.WriteString("100 means the candidate meets every requirement; 0 means no overlap at all.\n\n")
	fmt.Fprintf(&sb, "Candidate skills: %s\n", strings.Join(profile.Skills, ", "))
	if profile.Resume != "" {
		fmt.Fprintf(&sb, "Candidate resume:\n%s\n", profile.Resume)
	}
	fmt.Fprintf(&sb, "\nPosting: %s at %s\n%s\n", candidate.Title, candidate.Company, candidate.Description)
	sb.WriteString("\nReturn ONLY JSON: {\"score\": number, \"reasoning\": \"one sentence\"}\n")
	return sb.String()
}

// HybridScorer combines the rule-based and model scores when both are
// available, and degrades to rules alone when the model is not.
type HybridScorer struct {
	rule  *KeywordScorer
	judge *LLMScorer
}

// NewHybridScorer builds the combined scorer. judge may be nil.
func NewHybridScorer(rule *KeywordScorer, judge *LLMScorer) *HybridScorer {
	return &HybridScorer{rule: rule, judge: judge}
}

// Score averages the rule and judge scores 50/50. A judge failure is logged
// and the rule score stands alone.
func (s *HybridScorer) Score(ctx context.Context, profile *types.UserProfile, candidate *types.JobCandidate) (float64, error) {
	ruleScore, err := s.rule.Score(ctx, profile, candidate)
	if err != nil {
		return 0, err
	}
	if s.judge == nil {
		return ruleScore, nil
	}

	judgeScore, err := s.judge.Score(ctx, profile, candidate)
	if err != nil {
		log.Printf("judge scoring unavailable, using rule score alone: %v", err)
		return ruleScore, nil
	}
	return (ruleScore + judgeScore) / 2, nil
}
