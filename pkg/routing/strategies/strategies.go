// Package strategies implements the selectable candidate-ranking
// strategies used by the router: latency, cost, weighted, model-rules,
// round-robin, and failover.
//
// All strategies produce deterministic rankings for identical inputs.
// Ties are broken by lexical candidate key order so repeated runs and
// tests are reproducible.
package strategies

import (
	"sort"

	"mercator-hq/ganymede/pkg/registry"
	"mercator-hq/ganymede/pkg/routing"
)

// sortByScore orders scored candidates best-first, breaking score
// ties by lexical candidate key.
func sortByScore(scored []routing.ScoredCandidate) {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Candidate.Key() < scored[j].Candidate.Key()
	})
}

// minMaxScores maps values onto [0,1] with 1 for the best value. When
// all values are equal every candidate scores 1.
//
// lowerIsBetter inverts the scale for metrics like latency and cost.
func minMaxScores(values []float64, lowerIsBetter bool) []float64 {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}

	scores := make([]float64, len(values))
	for i, v := range values {
		if hi == lo {
			scores[i] = 1
			continue
		}
		norm := (v - lo) / (hi - lo)
		if lowerIsBetter {
			norm = 1 - norm
		}
		scores[i] = norm
	}
	return scores
}

// estimateRequestTokens mirrors the router's token sizing so strategy
// cost estimates match the decision's estimated cost.
func estimateRequestTokens(req *routing.RoutingRequest) (input, output int) {
	const charsPerToken = 4
	const defaultOutputTokens = 500

	input = req.InputTokens
	if input == 0 && req.PromptLength > 0 {
		input = (req.PromptLength + charsPerToken - 1) / charsPerToken
	}

	output = req.OutputTokens
	if output == 0 {
		if req.MaxTokens > 0 {
			output = req.MaxTokens
		} else {
			output = defaultOutputTokens
		}
	}
	return input, output
}

// hasLatencyData reports whether at least one candidate has observed
// requests in its snapshot.
func hasLatencyData(eligible []*registry.Candidate, snaps map[string]*routing.ProviderMetricsSnapshot) bool {
	for _, c := range eligible {
		if s := snaps[c.Key()]; s != nil && s.RequestCount > 0 {
			return true
		}
	}
	return false
}
