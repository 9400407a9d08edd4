package strategies

import (
	"log/slog"
	"sync"

	"mercator-hq/ganymede/pkg/registry"
	"mercator-hq/ganymede/pkg/routing"
)

// FailoverStrategy always prefers the active primary in a configured
// provider chain.
//
// Demotion is deliberate: the primary moves to the next chain entry
// only after a configurable number of consecutive failures reported
// via ReportOutcome, so a single flaky error does not cause thrashing.
// A success resets the failure streak.
type FailoverStrategy struct {
	chain     []string
	threshold int
	logger    *slog.Logger

	mu          sync.Mutex
	activeIndex int
	failStreaks map[string]int
}

// NewFailoverStrategy creates a failover strategy. chain lists
// provider ids primary-first; threshold is the consecutive-failure
// count that triggers demotion (default 3).
func NewFailoverStrategy(chain []string, threshold int) *FailoverStrategy {
	if threshold <= 0 {
		threshold = 3
	}
	return &FailoverStrategy{
		chain:       chain,
		threshold:   threshold,
		logger:      slog.Default().With("component", "routing.failover"),
		failStreaks: make(map[string]int),
	}
}

// Rank orders eligible candidates by chain position starting at the
// active primary; candidates outside the chain rank last in lexical
// order.
func (s *FailoverStrategy) Rank(_ *routing.RoutingRequest, eligible []*registry.Candidate,
	_ map[string]*routing.ProviderMetricsSnapshot) ([]routing.ScoredCandidate, error) {

	s.mu.Lock()
	active := s.activeIndex
	s.mu.Unlock()

	// Chain position relative to the active primary: 0 for the
	// primary, 1 for the next fallback, and so on.
	rank := make(map[string]int, len(s.chain))
	for i := range s.chain {
		rank[s.chain[(active+i)%len(s.chain)]] = i
	}

	ordered := routing.SortCandidates(eligible)
	scored := make([]routing.ScoredCandidate, 0, len(ordered))
	for _, c := range ordered {
		pos, inChain := rank[c.Provider]
		score := 0.0
		if inChain {
			score = float64(len(s.chain)-pos) / float64(len(s.chain))
		}
		scored = append(scored, routing.ScoredCandidate{Candidate: c, Score: score})
	}
	sortByScore(scored)
	return scored, nil
}

// Name returns the strategy name.
func (s *FailoverStrategy) Name() string { return "failover" }

// ReportOutcome records a request outcome for a provider. Failures of
// the active primary accumulate; reaching the threshold demotes it to
// the next chain entry.
func (s *FailoverStrategy) ReportOutcome(provider string, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if success {
		s.failStreaks[provider] = 0
		return
	}

	s.failStreaks[provider]++

	if len(s.chain) == 0 || provider != s.chain[s.activeIndex%len(s.chain)] {
		return
	}
	if s.failStreaks[provider] < s.threshold {
		return
	}

	s.failStreaks[provider] = 0
	s.activeIndex = (s.activeIndex + 1) % len(s.chain)
	s.logger.Warn("primary demoted after consecutive failures",
		"provider", provider,
		"new_primary", s.chain[s.activeIndex],
		"threshold", s.threshold,
	)
}

// ActivePrimary returns the current primary provider id, or "" for an
// empty chain.
func (s *FailoverStrategy) ActivePrimary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.chain) == 0 {
		return ""
	}
	return s.chain[s.activeIndex%len(s.chain)]
}
