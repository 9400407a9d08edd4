package strategies

import (
	"mercator-hq/ganymede/pkg/registry"
	"mercator-hq/ganymede/pkg/routing"
)

// CostStrategy ranks candidates by ascending estimated request cost.
//
// Cost comes from static registry pricing, not telemetry, so this
// strategy never degrades:
//
//	cost = inputTokens/1e6 * pricing.input + outputTokens/1e6 * pricing.output
//
// Token counts are estimated from the prompt length when the request
// does not carry them.
type CostStrategy struct{}

// NewCostStrategy creates a cost-based strategy.
func NewCostStrategy() *CostStrategy {
	return &CostStrategy{}
}

// Rank scores candidates by min-max normalized estimated cost,
// cheapest first.
func (s *CostStrategy) Rank(req *routing.RoutingRequest, eligible []*registry.Candidate,
	snaps map[string]*routing.ProviderMetricsSnapshot) ([]routing.ScoredCandidate, error) {

	in, out := estimateRequestTokens(req)

	values := make([]float64, len(eligible))
	for i, c := range eligible {
		values[i] = c.EstimateCost(in, out)
	}

	scores := minMaxScores(values, true)
	scored := make([]routing.ScoredCandidate, len(eligible))
	for i, c := range eligible {
		scored[i] = routing.ScoredCandidate{Candidate: c, Score: scores[i]}
	}
	sortByScore(scored)
	return scored, nil
}

// Name returns the strategy name.
func (s *CostStrategy) Name() string { return "cost" }
