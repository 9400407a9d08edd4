package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"mercator-hq/ganymede/pkg/registry"
)

// Strategy ranks eligible candidates. Defined here rather than in the
// strategies package to avoid an import cycle.
//
// Implementations must be thread-safe; rankings must be deterministic
// for identical inputs.
type Strategy interface {
	// Rank orders the eligible candidates best-first with a score per
	// candidate. Returns ErrTelemetryUnavailable when its ranking
	// inputs are missing, in which case the router degrades to
	// round-robin.
	Rank(req *RoutingRequest, eligible []*registry.Candidate,
		snaps map[string]*ProviderMetricsSnapshot) ([]ScoredCandidate, error)

	// Name returns the strategy name for logging and decisions.
	Name() string
}

// OutcomeAware is implemented by strategies that track request
// outcomes (currently failover). The router forwards ReportOutcome
// calls to every strategy implementing it.
type OutcomeAware interface {
	ReportOutcome(provider string, success bool)
}

// FallbackStrategy is the strategy used when the selected strategy's
// telemetry inputs are unavailable.
const FallbackStrategy = "round-robin"

// Config contains the router's tuning parameters.
type Config struct {
	// DefaultStrategy is used when a request carries no override.
	DefaultStrategy string

	// SuccessRateFloor excludes candidates whose observed success rate
	// is below it. Default 0.8. Candidates without observations are
	// not excluded.
	SuccessRateFloor float64

	// SnapshotTTL is how long a metrics snapshot stays fresh.
	// Default 60s.
	SnapshotTTL time.Duration

	// SnapshotWindow is the metrics lookback per snapshot.
	// Default 15m.
	SnapshotWindow time.Duration

	// MinSampleSize is the request count at which decision confidence
	// reaches 1. Default 50.
	MinSampleSize int
}

func (c *Config) applyDefaults() {
	if c.DefaultStrategy == "" {
		c.DefaultStrategy = "weighted"
	}
	if c.SuccessRateFloor == 0 {
		c.SuccessRateFloor = 0.8
	}
	if c.SnapshotTTL <= 0 {
		c.SnapshotTTL = 60 * time.Second
	}
	if c.SnapshotWindow <= 0 {
		c.SnapshotWindow = 15 * time.Minute
	}
	if c.MinSampleSize <= 0 {
		c.MinSampleSize = 50
	}
}

// Router selects a provider/model for each request using registry
// candidates, cached metrics snapshots, and a selectable strategy.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Selection never blocks on
// live telemetry beyond the snapshot TTL: stale snapshots are used
// as-is with proportionally lowered confidence while a background
// refresh runs.
type Router struct {
	config     *Config
	registry   *registry.Registry
	snapshots  *SnapshotCache
	strategies map[string]Strategy
	logger     *slog.Logger
}

// NewRouter creates a router. The strategies map must contain every
// strategy selectable by name, including "round-robin" which also
// serves as the degradation fallback.
func NewRouter(config *Config, reg *registry.Registry, reader MetricsReader,
	strategies map[string]Strategy) (*Router, error) {

	if config == nil {
		config = &Config{}
	}
	config.applyDefaults()

	if _, ok := strategies[config.DefaultStrategy]; !ok {
		return nil, fmt.Errorf("default strategy %q not registered", config.DefaultStrategy)
	}
	if _, ok := strategies[FallbackStrategy]; !ok {
		return nil, fmt.Errorf("fallback strategy %q not registered", FallbackStrategy)
	}

	return &Router{
		config:     config,
		registry:   reg,
		snapshots:  NewSnapshotCache(reader, config.SnapshotTTL, config.SnapshotWindow),
		strategies: strategies,
		logger:     slog.Default().With("component", "routing"),
	}, nil
}

// SelectProvider chooses a provider/model for the request.
//
// Returns NoEligibleProviderError when no candidate satisfies the
// request's capability requirements, cost/latency ceilings, and the
// success-rate floor.
func (r *Router) SelectProvider(ctx context.Context, req *RoutingRequest) (*RoutingDecision, error) {
	// The registry's candidate slice is immutable per generation, so
	// pointers into it stay valid for the life of this call.
	current := r.registry.Candidates()
	candidates := make([]*registry.Candidate, len(current))
	for i := range current {
		candidates[i] = &current[i]
	}

	snaps := r.collectSnapshots(ctx, candidates)

	eligible, excluded := filterEligible(req, candidates, snaps, r.config.SuccessRateFloor)
	if len(eligible) == 0 {
		return nil, &NoEligibleProviderError{Total: len(candidates), Excluded: excluded}
	}

	strategyName := req.Strategy
	if strategyName == "" {
		strategyName = r.config.DefaultStrategy
	}
	strategy, ok := r.strategies[strategyName]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", strategyName)
	}

	ranked, err := strategy.Rank(req, eligible, snaps)
	if errors.Is(err, ErrTelemetryUnavailable) {
		r.logger.Warn("strategy degraded to round-robin",
			"strategy", strategyName, "reason", err)
		strategy = r.strategies[FallbackStrategy]
		strategyName = FallbackStrategy
		ranked, err = strategy.Rank(req, eligible, snaps)
	}
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", strategyName, err)
	}
	if len(ranked) == 0 {
		return nil, &NoEligibleProviderError{Total: len(candidates), Excluded: excluded}
	}

	return r.buildDecision(req, strategyName, ranked, snaps), nil
}

// ReportOutcome feeds a request outcome back to outcome-aware
// strategies. Safe to call with unknown providers; duplicate reports
// are tolerated.
func (r *Router) ReportOutcome(provider string, success bool) {
	for _, s := range r.strategies {
		if oa, ok := s.(OutcomeAware); ok {
			oa.ReportOutcome(provider, success)
		}
	}
}

// Snapshots exposes the cached metrics snapshots for operator queries.
func (r *Router) Snapshots() []*ProviderMetricsSnapshot {
	return r.snapshots.Snapshots()
}

// collectSnapshots fetches a snapshot per candidate. A failed fetch
// leaves the candidate without a snapshot rather than failing the
// request; strategies treat missing snapshots as absent telemetry.
func (r *Router) collectSnapshots(ctx context.Context, candidates []*registry.Candidate) map[string]*ProviderMetricsSnapshot {
	snaps := make(map[string]*ProviderMetricsSnapshot, len(candidates))
	for _, c := range candidates {
		snap, err := r.snapshots.Get(ctx, c.Provider, c.Model)
		if err != nil {
			r.logger.Warn("snapshot unavailable",
				"provider", c.Provider, "model", c.Model, "error", err)
			continue
		}
		snaps[c.Key()] = snap
	}
	return snaps
}

// buildDecision assembles the immutable decision from the winning
// ranking.
func (r *Router) buildDecision(req *RoutingRequest, strategyName string,
	ranked []ScoredCandidate, snaps map[string]*ProviderMetricsSnapshot) *RoutingDecision {

	winner := ranked[0]
	snap := snaps[winner.Candidate.Key()]

	in, out := estimateTokens(req)
	decision := &RoutingDecision{
		ID:            uuid.NewString(),
		Provider:      winner.Candidate.Provider,
		Model:         winner.Candidate.Model,
		Strategy:      strategyName,
		Reason:        fmt.Sprintf("ranked first by %s strategy (score %.4f)", strategyName, winner.Score),
		EstimatedCost: winner.Candidate.EstimateCost(in, out),
		Confidence:    r.confidence(snap),
		CreatedAt:     time.Now(),
	}
	if snap != nil {
		decision.EstimatedLatency = snap.AvgLatency
	}

	for _, alt := range ranked[1:] {
		decision.Alternatives = append(decision.Alternatives, Alternative{
			Provider: alt.Candidate.Provider,
			Model:    alt.Candidate.Model,
			Score:    alt.Score,
		})
		if len(decision.Alternatives) == 3 {
			break
		}
	}

	return decision
}

// confidence maps the winner's sample count to [0,1], lowered
// proportionally when the snapshot has outlived its TTL.
func (r *Router) confidence(snap *ProviderMetricsSnapshot) float64 {
	if snap == nil {
		return 0
	}

	confidence := math.Min(1, float64(snap.RequestCount)/float64(r.config.MinSampleSize))

	if age := snap.Age(); age > r.config.SnapshotTTL {
		confidence *= float64(r.config.SnapshotTTL) / float64(age)
	}
	return confidence
}

// SortCandidates orders candidates by key for deterministic iteration.
// Shared by strategies that need a stable candidate order.
func SortCandidates(candidates []*registry.Candidate) []*registry.Candidate {
	out := make([]*registry.Candidate, len(candidates))
	copy(out, candidates)
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}
