package routing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/ganymede/pkg/metrics"
)

// MetricsReader is the slice of the metrics store the snapshot cache
// needs. The metrics store satisfies it.
type MetricsReader interface {
	GetAggregated(ctx context.Context, metric string, start, end time.Time, f metrics.Filters) (*metrics.Aggregate, error)
}

// SnapshotCache caches per-candidate metrics snapshots with a TTL.
//
// Reads never block on telemetry: a fresh snapshot is returned
// directly, a stale one is returned as-is while a background refresh
// runs, and only a complete miss computes synchronously. At most one
// refresh per key runs at a time.
type SnapshotCache struct {
	reader MetricsReader
	ttl    time.Duration
	window time.Duration
	logger *slog.Logger

	mu         sync.RWMutex
	snaps      map[string]*ProviderMetricsSnapshot
	refreshing map[string]bool
}

// NewSnapshotCache creates a cache. ttl is how long a snapshot stays
// fresh; window is the metrics lookback each snapshot covers.
func NewSnapshotCache(reader MetricsReader, ttl, window time.Duration) *SnapshotCache {
	return &SnapshotCache{
		reader:     reader,
		ttl:        ttl,
		window:     window,
		logger:     slog.Default().With("component", "routing.snapshots"),
		snaps:      make(map[string]*ProviderMetricsSnapshot),
		refreshing: make(map[string]bool),
	}
}

// Get returns the snapshot for a candidate. A stale snapshot is
// returned immediately and refreshed in the background; the caller is
// expected to lower decision confidence by its age.
func (c *SnapshotCache) Get(ctx context.Context, provider, model string) (*ProviderMetricsSnapshot, error) {
	key := provider + "/" + model

	c.mu.RLock()
	snap, ok := c.snaps[key]
	c.mu.RUnlock()

	if ok {
		if snap.Age() > c.ttl {
			c.refreshAsync(provider, model, key)
		}
		return snap, nil
	}

	// First request for this candidate pays for the computation.
	snap, err := c.compute(ctx, provider, model)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.snaps[key] = snap
	c.mu.Unlock()
	return snap, nil
}

// Snapshots returns a copy of all cached snapshots, for operator
// queries.
func (c *SnapshotCache) Snapshots() []*ProviderMetricsSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*ProviderMetricsSnapshot, 0, len(c.snaps))
	for _, s := range c.snaps {
		cp := *s
		out = append(out, &cp)
	}
	return out
}

// Invalidate drops the cached snapshot for a candidate.
func (c *SnapshotCache) Invalidate(provider, model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snaps, provider+"/"+model)
}

// refreshAsync starts a background refresh unless one is already
// running for the key.
func (c *SnapshotCache) refreshAsync(provider, model, key string) {
	c.mu.Lock()
	if c.refreshing[key] {
		c.mu.Unlock()
		return
	}
	c.refreshing[key] = true
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.refreshing, key)
			c.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		snap, err := c.compute(ctx, provider, model)
		if err != nil {
			// Keep the stale snapshot; callers keep lowering confidence.
			c.logger.Warn("snapshot refresh failed",
				"provider", provider, "model", model, "error", err)
			return
		}

		c.mu.Lock()
		c.snaps[key] = snap
		c.mu.Unlock()
	}()
}

// compute derives a snapshot from the metrics store.
func (c *SnapshotCache) compute(ctx context.Context, provider, model string) (*ProviderMetricsSnapshot, error) {
	now := time.Now()
	start := now.Add(-c.window)
	filters := metrics.Filters{Provider: provider, Model: model}

	latency, err := c.reader.GetAggregated(ctx, metrics.MetricRequestLatency, start, now, filters)
	if err != nil {
		return nil, err
	}
	success, err := c.reader.GetAggregated(ctx, metrics.MetricRequestSuccess, start, now, filters)
	if err != nil {
		return nil, err
	}
	cost, err := c.reader.GetAggregated(ctx, metrics.MetricRequestCost, start, now, filters)
	if err != nil {
		return nil, err
	}

	return &ProviderMetricsSnapshot{
		Provider:     provider,
		Model:        model,
		AvgLatency:   time.Duration(latency.Avg) * time.Millisecond,
		P50Latency:   time.Duration(latency.P50) * time.Millisecond,
		P95Latency:   time.Duration(latency.P95) * time.Millisecond,
		P99Latency:   time.Duration(latency.P99) * time.Millisecond,
		SuccessRate:  success.Avg,
		AvgCost:      cost.Avg,
		RequestCount: latency.Count,
		RefreshedAt:  now,
	}, nil
}
