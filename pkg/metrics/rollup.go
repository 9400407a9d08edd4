package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// rollupLookback is how far behind the current boundary each rollup
// pass re-derives buckets, so late-flushed events are still captured.
// Upserts are keyed, so reprocessing a window is idempotent.
const rollupLookback = 3

// Rollup aggregates raw events into 1-minute buckets and rolls those
// into 1-hour and 1-day buckets. Percentiles are exact at 1-minute
// granularity (sorted over the raw window); coarser buckets re-derive
// percentiles from merged per-bucket sample reservoirs rather than
// combining the finer buckets' percentile values.
type Rollup struct {
	backend Backend
	logger  *slog.Logger

	lastHour time.Time
	lastDay  time.Time
}

// NewRollup creates a rollup job over the backend.
func NewRollup(backend Backend) *Rollup {
	return &Rollup{
		backend: backend,
		logger:  slog.Default().With("component", "metrics.rollup"),
	}
}

// Run executes one rollup pass at the given time. Minute rollups run
// every pass; hour and day rollups run when their boundary has been
// crossed since the previous pass.
func (r *Rollup) Run(ctx context.Context, now time.Time) error {
	if err := r.rollupMinutes(ctx, now); err != nil {
		return fmt.Errorf("minute rollup: %w", err)
	}

	hour := now.Truncate(time.Hour)
	if hour.After(r.lastHour) {
		if err := r.rollupCoarser(ctx, ResolutionMinute, ResolutionHour, now); err != nil {
			return fmt.Errorf("hour rollup: %w", err)
		}
		r.lastHour = hour
	}

	day := now.Truncate(24 * time.Hour)
	if day.After(r.lastDay) {
		if err := r.rollupCoarser(ctx, ResolutionHour, ResolutionDay, now); err != nil {
			return fmt.Errorf("day rollup: %w", err)
		}
		r.lastDay = day
	}

	return nil
}

// dimension keys one aggregate series within a time bucket.
type dimension struct {
	metric   string
	provider string
	model    string
	start    time.Time
}

// rollupMinutes derives 1-minute buckets from raw events for the last
// few completed minutes.
func (r *Rollup) rollupMinutes(ctx context.Context, now time.Time) error {
	end := now.Truncate(time.Minute)
	start := end.Add(-rollupLookback * time.Minute)

	events, err := r.backend.QueryEvents(ctx, start, end, Filters{})
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	groups := make(map[dimension][]float64)
	for _, e := range events {
		minute := e.Timestamp.Truncate(time.Minute)
		for _, s := range e.Samples() {
			d := dimension{metric: s.Metric, provider: e.Provider, model: e.Model, start: minute}
			groups[d] = append(groups[d], s.Value)
		}
	}

	buckets := make([]*AggregateBucket, 0, len(groups))
	for d, values := range groups {
		buckets = append(buckets, buildBucket(d, ResolutionMinute, values))
	}

	if err := r.backend.UpsertBuckets(ctx, buckets); err != nil {
		return err
	}

	r.logger.Debug("minute rollup complete",
		"events", len(events),
		"buckets", len(buckets),
	)
	return nil
}

// rollupCoarser merges buckets of resolution from into buckets of
// resolution to for the last few completed coarse windows.
func (r *Rollup) rollupCoarser(ctx context.Context, from, to Resolution, now time.Time) error {
	width := to.Duration()
	end := now.Truncate(width)
	start := end.Add(-rollupLookback * width)

	// Metrics are enumerable; query each series and regroup.
	metricsNames := []string{
		MetricRequestLatency, MetricRequestCost, MetricRequestSuccess,
		MetricRequestTokens, MetricCacheHit, MetricRateLimitDenials,
	}

	var out []*AggregateBucket
	for _, metric := range metricsNames {
		fine, err := r.backend.QueryBuckets(ctx, metric, from, start, end, Filters{})
		if err != nil {
			return err
		}
		if len(fine) == 0 {
			continue
		}

		groups := make(map[dimension][]*AggregateBucket)
		for _, b := range fine {
			d := dimension{metric: metric, provider: b.Provider, model: b.Model,
				start: b.Start.Truncate(width)}
			groups[d] = append(groups[d], b)
		}

		for d, parts := range groups {
			out = append(out, mergeBuckets(d, to, parts))
		}
	}

	if len(out) == 0 {
		return nil
	}
	if err := r.backend.UpsertBuckets(ctx, out); err != nil {
		return err
	}

	r.logger.Debug("coarse rollup complete",
		"from", string(from),
		"to", string(to),
		"buckets", len(out),
	)
	return nil
}

// buildBucket computes an exact aggregate over raw values and retains a
// bounded reservoir sample for later merging.
func buildBucket(d dimension, res Resolution, values []float64) *AggregateBucket {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	b := &AggregateBucket{
		Metric:     d.metric,
		Resolution: res,
		Start:      d.start,
		Provider:   d.provider,
		Model:      d.model,
		Count:      int64(len(values)),
		Min:        sorted[0],
		Max:        sorted[len(sorted)-1],
		P50:        SortedQuantile(sorted, 0.50),
		P95:        SortedQuantile(sorted, 0.95),
		P99:        SortedQuantile(sorted, 0.99),
	}
	for _, v := range values {
		b.Sum += v
	}

	res64 := NewReservoir(d.start.UnixNano())
	res64.AddAll(values)
	b.Samples = append([]float64(nil), res64.Samples()...)
	return b
}

// mergeBuckets combines fine buckets into one coarse bucket. Count, sum,
// min, and max merge exactly; percentiles are re-derived from the merged
// sample reservoirs.
func mergeBuckets(d dimension, res Resolution, parts []*AggregateBucket) *AggregateBucket {
	out := &AggregateBucket{
		Metric:     d.metric,
		Resolution: res,
		Start:      d.start,
		Provider:   d.provider,
		Model:      d.model,
		Min:        parts[0].Min,
		Max:        parts[0].Max,
	}

	for _, p := range parts {
		out.Count += p.Count
		out.Sum += p.Sum
		if p.Min < out.Min {
			out.Min = p.Min
		}
		if p.Max > out.Max {
			out.Max = p.Max
		}
	}

	merged := MergeSamples(parts, d.start.UnixNano())
	out.Samples = merged
	if len(merged) > 0 {
		out.P50 = SortedQuantile(merged, 0.50)
		out.P95 = SortedQuantile(merged, 0.95)
		out.P99 = SortedQuantile(merged, 0.99)
	}
	return out
}
