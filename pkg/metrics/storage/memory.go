package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"mercator-hq/ganymede/pkg/metrics"
)

// MemoryBackend implements metrics.Backend with in-memory slices and
// maps. Intended for tests and ephemeral setups; production deployments
// use the SQLite backend.
type MemoryBackend struct {
	mu      sync.RWMutex
	events  []*metrics.MetricEvent
	buckets map[bucketKey]*metrics.AggregateBucket

	// failInserts makes InsertEvents fail; test hook for flush retry
	// and drop-oldest behavior.
	failInserts bool
}

type bucketKey struct {
	metric     string
	resolution metrics.Resolution
	start      int64
	provider   string
	model      string
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		buckets: make(map[bucketKey]*metrics.AggregateBucket),
	}
}

// SetFailInserts toggles injected insert failures (tests only).
func (m *MemoryBackend) SetFailInserts(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failInserts = fail
}

// InsertEvents appends events to the log.
func (m *MemoryBackend) InsertEvents(ctx context.Context, events []*metrics.MetricEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failInserts {
		return errInjectedFailure
	}

	for _, e := range events {
		copied := *e
		m.events = append(m.events, &copied)
	}
	return nil
}

// QueryEvents returns events in [start, end) matching the filters.
func (m *MemoryBackend) QueryEvents(ctx context.Context, start, end time.Time, f metrics.Filters) ([]*metrics.MetricEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*metrics.MetricEvent
	for _, e := range m.events {
		if e.Timestamp.Before(start) || !e.Timestamp.Before(end) {
			continue
		}
		if !f.Matches(e) {
			continue
		}
		copied := *e
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// UpsertBuckets inserts or replaces buckets by their dimension key.
func (m *MemoryBackend) UpsertBuckets(ctx context.Context, buckets []*metrics.AggregateBucket) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range buckets {
		copied := *b
		copied.Samples = append([]float64(nil), b.Samples...)
		m.buckets[keyOf(b)] = &copied
	}
	return nil
}

// QueryBuckets returns buckets matching metric, resolution, range, and
// filters, ordered by start.
func (m *MemoryBackend) QueryBuckets(ctx context.Context, metric string, res metrics.Resolution, start, end time.Time, f metrics.Filters) ([]*metrics.AggregateBucket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*metrics.AggregateBucket
	for _, b := range m.buckets {
		if b.Metric != metric || b.Resolution != res {
			continue
		}
		if b.Start.Before(start) || !b.Start.Before(end) {
			continue
		}
		if f.Provider != "" && b.Provider != f.Provider {
			continue
		}
		if f.Model != "" && b.Model != f.Model {
			continue
		}
		copied := *b
		copied.Samples = append([]float64(nil), b.Samples...)
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

// PurgeEvents deletes events older than the cutoff.
func (m *MemoryBackend) PurgeEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.events[:0]
	var deleted int64
	for _, e := range m.events {
		if e.Timestamp.Before(olderThan) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	m.events = kept
	return deleted, nil
}

// PurgeBuckets deletes buckets of a resolution older than the cutoff.
func (m *MemoryBackend) PurgeBuckets(ctx context.Context, res metrics.Resolution, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for k, b := range m.buckets {
		if b.Resolution == res && b.Start.Before(olderThan) {
			delete(m.buckets, k)
			deleted++
		}
	}
	return deleted, nil
}

// Close is a no-op for the memory backend.
func (m *MemoryBackend) Close() error {
	return nil
}

func keyOf(b *metrics.AggregateBucket) bucketKey {
	return bucketKey{
		metric:     b.Metric,
		resolution: b.Resolution,
		start:      b.Start.UnixMilli(),
		provider:   b.Provider,
		model:      b.Model,
	}
}
