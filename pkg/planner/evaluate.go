package planner

import (
	"cmp"
	"slices"
	"strings"

	"github.com/randalmurphal/taskguide/pkg/planner/config"
)

// Decision is the outcome of the retry policy.
type Decision string

// Retry decisions.
const (
	DecisionContinue Decision = "continue"
	DecisionRetry    Decision = "retry"
)

// Accessibility scores how easy a pricing model is to adopt.
func Accessibility(pricing string) float64 {
	p := strings.ToLower(strings.TrimSpace(pricing))
	switch {
	case p == "":
		return 0.6
	case strings.Contains(p, "open source"), strings.Contains(p, "open-source"):
		return 1.0
	case strings.Contains(p, "freemium"), strings.Contains(p, "premium"), strings.Contains(p, "free tier"):
		return 0.7
	case strings.Contains(p, "free"):
		return 1.0
	case strings.Contains(p, "paid"), strings.Contains(p, "subscription"), strings.Contains(p, "$"):
		return 0.5
	default:
		return 0.6
	}
}

// Reputation maps a 0-5 catalog rating to 0-1. Unrated tools score 0.5.
func Reputation(rating float64) float64 {
	if rating <= 0 {
		return 0.5
	}
	return min(rating/5, 1)
}

// ScoreCandidates fills in evaluation scores, sorts by final score and
// keeps the top N. The input slice is not modified.
func ScoreCandidates(cands []ToolCandidate, w config.ScoringSettings) []ToolCandidate {
	out := slices.Clone(cands)
	for i := range out {
		c := &out[i]
		c.Reputation = Reputation(c.Rating)
		c.Accessibility = Accessibility(c.Pricing)
		c.FinalScore = w.SimilarityWeight*c.Similarity +
			w.ReputationWeight*c.Reputation +
			w.AccessibilityWeight*c.Accessibility
	}
	slices.SortStableFunc(out, func(a, b ToolCandidate) int {
		return cmp.Compare(b.FinalScore, a.FinalScore)
	})
	if w.TopN > 0 && len(out) > w.TopN {
		out = out[:w.TopN]
	}
	return out
}

// DecideRetry applies the low-score replan policy to per-task top scores.
// A replan is chosen when the mean score is below MeanThreshold and at
// least LowFraction of the tasks scored below TaskThreshold, unless
// retryCount has reached MaxRetries.
func DecideRetry(evals []TaskEvaluation, p config.RetrySettings, retryCount int) Decision {
	if !p.Enabled || retryCount >= p.MaxRetries || len(evals) == 0 {
		return DecisionContinue
	}
	var sum float64
	low := 0
	for _, e := range evals {
		sum += e.TopScore
		if e.TopScore < p.TaskThreshold {
			low++
		}
	}
	mean := sum / float64(len(evals))
	if mean < p.MeanThreshold && float64(low)/float64(len(evals)) >= p.LowFraction {
		return DecisionRetry
	}
	return DecisionContinue
}
