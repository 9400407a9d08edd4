package strategies

import (
	"strings"
	"sync"
	"sync/atomic"

	"mercator-hq/ganymede/pkg/registry"
	"mercator-hq/ganymede/pkg/routing"
)

// RoundRobinStrategy rotates through the eligible set.
//
// One counter exists per distinct eligible-candidate set, keyed by the
// set's sorted fingerprint, so rotation stays fair even when
// eligibility varies between requests. The counter is advanced with a
// single atomic increment: concurrent calls never skip or repeat an
// index.
type RoundRobinStrategy struct {
	// counters maps an eligible-set fingerprint to its *atomic.Int64.
	counters sync.Map
}

// NewRoundRobinStrategy creates a round-robin strategy.
func NewRoundRobinStrategy() *RoundRobinStrategy {
	return &RoundRobinStrategy{}
}

// Rank returns the eligible set rotated so the next candidate in the
// rotation ranks first. Scores descend linearly with rotation position.
func (s *RoundRobinStrategy) Rank(_ *routing.RoutingRequest, eligible []*registry.Candidate,
	_ map[string]*routing.ProviderMetricsSnapshot) ([]routing.ScoredCandidate, error) {

	ordered := routing.SortCandidates(eligible)
	k := len(ordered)

	counter := s.counterFor(ordered)
	n := counter.Add(1) - 1
	start := int(n % int64(k))

	scored := make([]routing.ScoredCandidate, 0, k)
	for i := 0; i < k; i++ {
		c := ordered[(start+i)%k]
		scored = append(scored, routing.ScoredCandidate{
			Candidate: c,
			Score:     float64(k-i) / float64(k),
		})
	}
	return scored, nil
}

// Name returns the strategy name.
func (s *RoundRobinStrategy) Name() string { return "round-robin" }

// Reset clears all rotation counters. Primarily for tests.
func (s *RoundRobinStrategy) Reset() {
	s.counters.Range(func(key, _ any) bool {
		s.counters.Delete(key)
		return true
	})
}

// counterFor returns the counter for a sorted eligible set, creating
// it on first use.
func (s *RoundRobinStrategy) counterFor(ordered []*registry.Candidate) *atomic.Int64 {
	var sb strings.Builder
	for i, c := range ordered {
		if i > 0 {
			sb.WriteByte('|')
		}
		sb.WriteString(c.Key())
	}
	fingerprint := sb.String()

	if v, ok := s.counters.Load(fingerprint); ok {
		return v.(*atomic.Int64)
	}
	v, _ := s.counters.LoadOrStore(fingerprint, new(atomic.Int64))
	return v.(*atomic.Int64)
}
