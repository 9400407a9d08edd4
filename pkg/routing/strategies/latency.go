package strategies

import (
	"fmt"
	"time"

	"mercator-hq/ganymede/pkg/registry"
	"mercator-hq/ganymede/pkg/routing"
)

// LatencyStrategy ranks candidates by ascending P95 latency.
//
// Candidates without observations score 0 and rank last: they are not
// excluded (the selector already decided eligibility) but proven-fast
// candidates win.
type LatencyStrategy struct{}

// NewLatencyStrategy creates a latency-based strategy.
func NewLatencyStrategy() *LatencyStrategy {
	return &LatencyStrategy{}
}

// Rank scores candidates by min-max normalized P95 latency, lowest
// latency first. Returns ErrTelemetryUnavailable when no candidate has
// any observations.
func (s *LatencyStrategy) Rank(_ *routing.RoutingRequest, eligible []*registry.Candidate,
	snaps map[string]*routing.ProviderMetricsSnapshot) ([]routing.ScoredCandidate, error) {

	if !hasLatencyData(eligible, snaps) {
		return nil, fmt.Errorf("%w: no latency observations for any candidate",
			routing.ErrTelemetryUnavailable)
	}

	// Unobserved candidates get the worst observed latency plus one
	// step so normalization puts them at the bottom.
	var worst time.Duration
	for _, c := range eligible {
		if snap := snaps[c.Key()]; snap != nil && snap.RequestCount > 0 && snap.P95Latency > worst {
			worst = snap.P95Latency
		}
	}

	values := make([]float64, len(eligible))
	for i, c := range eligible {
		snap := snaps[c.Key()]
		if snap != nil && snap.RequestCount > 0 {
			values[i] = float64(snap.P95Latency.Milliseconds())
		} else {
			values[i] = float64(worst.Milliseconds()) + 1
		}
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
func (s *LatencyStrategy) Name() string { return "latency" }
