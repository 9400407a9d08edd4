package strategies

import (
	"sort"
	"time"

	"mercator-hq/ganymede/pkg/registry"
	"mercator-hq/ganymede/pkg/routing"
)

// ModelRule is one entry in the model-rules strategy. A rule matches a
// request when every set condition holds; unset (zero) conditions are
// ignored.
type ModelRule struct {
	// Name identifies the rule in decision reasons and logs.
	Name string

	// Priority orders evaluation; lower values are evaluated first.
	Priority int

	// MaxCost matches requests whose cost ceiling is at or below this
	// value.
	MaxCost float64

	// MaxLatency matches requests whose latency ceiling is at or below
	// this value.
	MaxLatency time.Duration

	// RequiresVision matches requests that need vision support.
	RequiresVision bool

	// MaxTokens matches requests whose output budget is at or below
	// this value.
	MaxTokens int

	// Providers maps preferred provider ids to weights. Candidates
	// from higher-weight providers rank first.
	Providers map[string]int
}

// ModelRulesStrategy evaluates configured rules in priority order and
// converts the first matching rule's provider weights into a ranking.
// Requests matching no rule fall back to the wrapped weighted
// strategy.
type ModelRulesStrategy struct {
	rules    []ModelRule
	fallback routing.Strategy
}

// NewModelRulesStrategy creates a model-rules strategy. fallback
// handles requests no rule matches, typically a weighted strategy.
func NewModelRulesStrategy(rules []ModelRule, fallback routing.Strategy) *ModelRulesStrategy {
	ordered := make([]ModelRule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})
	return &ModelRulesStrategy{rules: ordered, fallback: fallback}
}

// Rank applies the first matching rule's provider weights, or
// delegates to the fallback strategy when nothing matches.
func (s *ModelRulesStrategy) Rank(req *routing.RoutingRequest, eligible []*registry.Candidate,
	snaps map[string]*routing.ProviderMetricsSnapshot) ([]routing.ScoredCandidate, error) {

	for _, rule := range s.rules {
		if !rule.matches(req) {
			continue
		}
		return s.rankByWeights(rule, eligible), nil
	}

	return s.fallback.Rank(req, eligible, snaps)
}

// Name returns the strategy name.
func (s *ModelRulesStrategy) Name() string { return "model-rules" }

// matches reports whether every set condition holds for the request.
func (r *ModelRule) matches(req *routing.RoutingRequest) bool {
	if r.RequiresVision && !req.RequiresVision {
		return false
	}
	if r.MaxCost > 0 && (req.MaxCost <= 0 || req.MaxCost > r.MaxCost) {
		return false
	}
	if r.MaxLatency > 0 && (req.MaxLatency <= 0 || req.MaxLatency > r.MaxLatency) {
		return false
	}
	if r.MaxTokens > 0 && (req.MaxTokens <= 0 || req.MaxTokens > r.MaxTokens) {
		return false
	}
	return true
}

// rankByWeights converts the rule's provider weights into scores.
// Candidates from unlisted providers score 0 and rank last.
func (s *ModelRulesStrategy) rankByWeights(rule ModelRule, eligible []*registry.Candidate) []routing.ScoredCandidate {
	maxWeight := 0
	for _, w := range rule.Providers {
		if w > maxWeight {
			maxWeight = w
		}
	}

	scored := make([]routing.ScoredCandidate, 0, len(eligible))
	for _, c := range eligible {
		score := 0.0
		if maxWeight > 0 {
			score = float64(rule.Providers[c.Provider]) / float64(maxWeight)
		}
		scored = append(scored, routing.ScoredCandidate{Candidate: c, Score: score})
	}
	sortByScore(scored)
	return scored
}
