package strategies

import (
	"fmt"
	"time"

	"mercator-hq/ganymede/pkg/registry"
	"mercator-hq/ganymede/pkg/routing"
)

// WeightedStrategy combines normalized latency and cost scores with
// configured percentage weights.
//
// Both dimensions are min-max scaled across the eligible set only:
// the best candidate scores 1, the worst 0, midpoints linear. The
// combined score is (latencyWeight*latencyScore +
// costWeight*costScore)/100, ranked descending. Ties break by lexical
// candidate key so identical snapshots always produce identical
// rankings.
type WeightedStrategy struct {
	latencyWeight float64
	costWeight    float64
}

// NewWeightedStrategy creates a weighted strategy. Weights are
// percentages and must sum to 100; zero/zero defaults to 50/50.
func NewWeightedStrategy(latencyWeight, costWeight int) (*WeightedStrategy, error) {
	if latencyWeight == 0 && costWeight == 0 {
		latencyWeight, costWeight = 50, 50
	}
	if latencyWeight+costWeight != 100 {
		return nil, fmt.Errorf("weights must sum to 100, got %d+%d", latencyWeight, costWeight)
	}
	if latencyWeight < 0 || costWeight < 0 {
		return nil, fmt.Errorf("weights must be non-negative, got %d/%d", latencyWeight, costWeight)
	}
	return &WeightedStrategy{
		latencyWeight: float64(latencyWeight),
		costWeight:    float64(costWeight),
	}, nil
}

// Rank scores candidates by the weighted combination. Returns
// ErrTelemetryUnavailable when latency carries weight but no candidate
// has observations.
func (s *WeightedStrategy) Rank(req *routing.RoutingRequest, eligible []*registry.Candidate,
	snaps map[string]*routing.ProviderMetricsSnapshot) ([]routing.ScoredCandidate, error) {

	if s.latencyWeight > 0 && !hasLatencyData(eligible, snaps) {
		return nil, fmt.Errorf("%w: no latency observations for any candidate",
			routing.ErrTelemetryUnavailable)
	}

	in, out := estimateRequestTokens(req)

	costValues := make([]float64, len(eligible))
	for i, c := range eligible {
		costValues[i] = c.EstimateCost(in, out)
	}
	costScores := minMaxScores(costValues, true)

	latencyScores := make([]float64, len(eligible))
	if s.latencyWeight > 0 {
		var worst time.Duration
		for _, c := range eligible {
			if snap := snaps[c.Key()]; snap != nil && snap.RequestCount > 0 && snap.P95Latency > worst {
				worst = snap.P95Latency
			}
		}
		latencyValues := make([]float64, len(eligible))
		for i, c := range eligible {
			snap := snaps[c.Key()]
			if snap != nil && snap.RequestCount > 0 {
				latencyValues[i] = float64(snap.P95Latency.Milliseconds())
			} else {
				latencyValues[i] = float64(worst.Milliseconds()) + 1
			}
		}
		latencyScores = minMaxScores(latencyValues, true)
	}

	scored := make([]routing.ScoredCandidate, len(eligible))
	for i, c := range eligible {
		combined := (s.latencyWeight*latencyScores[i] + s.costWeight*costScores[i]) / 100
		scored[i] = routing.ScoredCandidate{Candidate: c, Score: combined}
	}
	sortByScore(scored)
	return scored, nil
}

// Name returns the strategy name.
func (s *WeightedStrategy) Name() string { return "weighted" }
