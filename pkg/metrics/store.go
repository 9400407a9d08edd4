package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// rawQueryWindow is the longest range served directly from raw events.
// Longer ranges read aggregate buckets instead.
const rawQueryWindow = 2 * time.Hour

// Store is the metrics store: an append-only event log with buffered
// fire-and-forget recording, multi-resolution aggregates, and the two
// read contracts the router and alert manager consume.
type Store struct {
	backend  Backend
	recorder *Recorder
	rollup   *Rollup
	pruner   *Pruner
	logger   *slog.Logger
}

// NewStore creates a store over the backend. recorderCfg and retention
// may be nil for defaults.
func NewStore(backend Backend, recorderCfg *RecorderConfig, retention *RetentionConfig) *Store {
	return &Store{
		backend:  backend,
		recorder: NewRecorder(backend, recorderCfg),
		rollup:   NewRollup(backend),
		pruner:   NewPruner(backend, retention),
		logger:   slog.Default().With("component", "metrics.store"),
	}
}

// Record buffers an event for asynchronous persistence. It never blocks
// on storage and never returns an error.
func (s *Store) Record(event *MetricEvent) {
	s.recorder.Record(event)
}

// DroppedCount returns the number of events dropped due to buffer
// overflow.
func (s *Store) DroppedCount() int64 {
	return s.recorder.DroppedCount()
}

// FlushedCount returns the number of events durably persisted.
func (s *Store) FlushedCount() int64 {
	return s.recorder.FlushedCount()
}

// Pending returns the number of events currently buffered.
func (s *Store) Pending() int {
	return s.recorder.Pending()
}

// Flush synchronously persists buffered events. Shutdown and test use.
func (s *Store) Flush(ctx context.Context) error {
	return s.recorder.Flush(ctx)
}

// RunRollup executes one rollup pass. Normally driven by the scheduler.
func (s *Store) RunRollup(ctx context.Context, now time.Time) error {
	return s.rollup.Run(ctx, now)
}

// RunPrune executes one retention pass. Normally driven by the scheduler.
func (s *Store) RunPrune(ctx context.Context, now time.Time) (int64, error) {
	return s.pruner.Prune(ctx, now)
}

// Close flushes pending events and closes the backend.
func (s *Store) Close() error {
	if err := s.recorder.Close(); err != nil {
		s.logger.Warn("final metric flush failed", "error", err)
	}
	return s.backend.Close()
}

// GetAggregated computes {count, sum, avg, min, max, p50, p95, p99} for
// a metric over [start, end). Short ranges are computed from raw events
// with a streaming scan (P-squared percentiles); longer ranges combine
// aggregate buckets, re-deriving percentiles from merged sample
// reservoirs. Bucketed results are selected by bucket start, so a range
// not aligned to the chosen resolution effectively rounds both edges up
// to the next bucket boundary; callers wanting exact edges should align
// start and end to the resolution for their range.
func (s *Store) GetAggregated(ctx context.Context, metric string, start, end time.Time, f Filters) (*Aggregate, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("invalid range: end %v not after start %v", end, start)
	}

	if end.Sub(start) <= rawQueryWindow {
		return s.aggregateRaw(ctx, metric, start, end, f)
	}
	return s.aggregateBuckets(ctx, metric, start, end, f)
}

// aggregateRaw streams raw events through count/sum/min/max and three
// P-squared estimators.
func (s *Store) aggregateRaw(ctx context.Context, metric string, start, end time.Time, f Filters) (*Aggregate, error) {
	events, err := s.backend.QueryEvents(ctx, start, end, f)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	agg := &Aggregate{}
	p50 := NewP2Estimator(0.50)
	p95 := NewP2Estimator(0.95)
	p99 := NewP2Estimator(0.99)

	for _, e := range events {
		for _, sample := range e.Samples() {
			if sample.Metric != metric {
				continue
			}
			v := sample.Value
			if agg.Count == 0 || v < agg.Min {
				agg.Min = v
			}
			if agg.Count == 0 || v > agg.Max {
				agg.Max = v
			}
			agg.Count++
			agg.Sum += v
			p50.Observe(v)
			p95.Observe(v)
			p99.Observe(v)
		}
	}

	if agg.Count > 0 {
		agg.Avg = agg.Sum / float64(agg.Count)
		agg.P50 = p50.Value()
		agg.P95 = p95.Value()
		agg.P99 = p99.Value()
	}
	return agg, nil
}

// aggregateBuckets combines stored buckets at the coarsest resolution
// that still resolves the range.
func (s *Store) aggregateBuckets(ctx context.Context, metric string, start, end time.Time, f Filters) (*Aggregate, error) {
	res := resolutionForRange(end.Sub(start))

	buckets, err := s.backend.QueryBuckets(ctx, metric, res, start, end, f)
	if err != nil {
		return nil, fmt.Errorf("query buckets: %w", err)
	}

	agg := &Aggregate{}
	for i, b := range buckets {
		if i == 0 || b.Min < agg.Min {
			agg.Min = b.Min
		}
		if i == 0 || b.Max > agg.Max {
			agg.Max = b.Max
		}
		agg.Count += b.Count
		agg.Sum += b.Sum
	}

	if agg.Count > 0 {
		agg.Avg = agg.Sum / float64(agg.Count)
		merged := MergeSamples(buckets, start.UnixNano())
		if len(merged) > 0 {
			agg.P50 = SortedQuantile(merged, 0.50)
			agg.P95 = SortedQuantile(merged, 0.95)
			agg.P99 = SortedQuantile(merged, 0.99)
		}
	}
	return agg, nil
}

// GetTimeSeries returns the per-bucket average of a metric over
// [start, end) at the requested bucket width, ordered by timestamp.
// Buckets with no observations are omitted. Ranges within the raw
// query window are computed from raw events, so the series does not
// depend on rollups having run; longer ranges read stored aggregate
// buckets.
func (s *Store) GetTimeSeries(ctx context.Context, metric string, start, end time.Time, bucket time.Duration, f Filters) ([]TimePoint, error) {
	if bucket <= 0 {
		return nil, fmt.Errorf("invalid bucket width %v", bucket)
	}
	if !end.After(start) {
		return nil, fmt.Errorf("invalid range: end %v not after start %v", end, start)
	}

	type acc struct {
		count int64
		sum   float64
	}
	accs := make(map[time.Time]*acc)

	if end.Sub(start) <= rawQueryWindow {
		events, err := s.backend.QueryEvents(ctx, start, end, f)
		if err != nil {
			return nil, fmt.Errorf("query events: %w", err)
		}
		for _, e := range events {
			for _, sample := range e.Samples() {
				if sample.Metric != metric {
					continue
				}
				ts := e.Timestamp.Truncate(bucket)
				a := accs[ts]
				if a == nil {
					a = &acc{}
					accs[ts] = a
				}
				a.count++
				a.sum += sample.Value
			}
		}
	} else {
		res := finestResolutionFor(bucket)
		buckets, err := s.backend.QueryBuckets(ctx, metric, res, start, end, f)
		if err != nil {
			return nil, fmt.Errorf("query buckets: %w", err)
		}
		for _, b := range buckets {
			ts := b.Start.Truncate(bucket)
			a := accs[ts]
			if a == nil {
				a = &acc{}
				accs[ts] = a
			}
			a.count += b.Count
			a.sum += b.Sum
		}
	}

	points := make([]TimePoint, 0, len(accs))
	for ts, a := range accs {
		if a.count == 0 {
			continue
		}
		points = append(points, TimePoint{Timestamp: ts, Value: a.sum / float64(a.count)})
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
	return points, nil
}

// resolutionForRange picks the bucket resolution for an aggregate query.
func resolutionForRange(span time.Duration) Resolution {
	switch {
	case span <= 48*time.Hour:
		return ResolutionMinute
	case span <= 14*24*time.Hour:
		return ResolutionHour
	default:
		return ResolutionDay
	}
}

// finestResolutionFor picks the finest stored resolution that fits the
// requested series bucket width.
func finestResolutionFor(bucket time.Duration) Resolution {
	switch {
	case bucket < time.Hour:
		return ResolutionMinute
	case bucket < 24*time.Hour:
		return ResolutionHour
	default:
		return ResolutionDay
	}
}
