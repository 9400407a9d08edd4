package metrics

import (
	"context"
	"time"
)

// EventKind classifies a metric event.
type EventKind string

const (
	// KindRequest is a completed provider request outcome.
	KindRequest EventKind = "request"

	// KindCache is a cache lookup outcome.
	KindCache EventKind = "cache"

	// KindRateLimit is a rate limit violation.
	KindRateLimit EventKind = "rate_limit"
)

// Metric names derived from events. Each event expands into one or more
// (metric, value) samples; see MetricEvent.Samples.
const (
	// MetricRequestLatency is per-request latency in milliseconds.
	MetricRequestLatency = "request_latency_ms"

	// MetricRequestCost is per-request cost in USD.
	MetricRequestCost = "request_cost_usd"

	// MetricRequestSuccess is 1 for a successful request, 0 otherwise.
	// The window average is the success rate.
	MetricRequestSuccess = "request_success_rate"

	// MetricRequestTokens is total tokens (input + output) per request.
	MetricRequestTokens = "request_tokens"

	// MetricCacheHit is 1 for a cache hit, 0 for a miss. The window
	// average is the hit rate.
	MetricCacheHit = "cache_hit_rate"

	// MetricRateLimitDenials is 1 per recorded denial. The window count
	// is the denial volume; rules typically aggregate with "count".
	MetricRateLimitDenials = "rate_limit_denials"
)

// MetricEvent is an immutable outcome record. Events are written once
// and never updated.
type MetricEvent struct {
	// ID uniquely identifies the event.
	ID string

	// Timestamp is when the outcome occurred.
	Timestamp time.Time

	// Kind classifies the event.
	Kind EventKind

	// Provider and Model identify the backend that served the request.
	// Empty for events not tied to a backend (e.g. global rate limits).
	Provider string
	Model    string

	// Latency is the observed request latency (request events).
	Latency time.Duration

	// Success is whether the request succeeded (request events).
	Success bool

	// InputTokens and OutputTokens are the observed token counts.
	InputTokens  int
	OutputTokens int

	// Cost is the observed cost in USD.
	Cost float64

	// CacheHit is whether a cache lookup hit (cache events).
	CacheHit bool

	// Scope and ScopeKey identify the violated limit (rate_limit events).
	Scope    string
	ScopeKey string
}

// Sample is one (metric, value) observation derived from an event.
type Sample struct {
	Metric string
	Value  float64
}

// Samples expands the event into its derived metric samples.
func (e *MetricEvent) Samples() []Sample {
	switch e.Kind {
	case KindRequest:
		success := 0.0
		if e.Success {
			success = 1.0
		}
		return []Sample{
			{MetricRequestLatency, float64(e.Latency.Milliseconds())},
			{MetricRequestCost, e.Cost},
			{MetricRequestSuccess, success},
			{MetricRequestTokens, float64(e.InputTokens + e.OutputTokens)},
		}
	case KindCache:
		hit := 0.0
		if e.CacheHit {
			hit = 1.0
		}
		return []Sample{{MetricCacheHit, hit}}
	case KindRateLimit:
		return []Sample{{MetricRateLimitDenials, 1.0}}
	default:
		return nil
	}
}

// Resolution is an aggregate bucket granularity.
type Resolution string

const (
	ResolutionMinute Resolution = "1m"
	ResolutionHour   Resolution = "1h"
	ResolutionDay    Resolution = "1d"
)

// Duration returns the bucket width for the resolution.
func (r Resolution) Duration() time.Duration {
	switch r {
	case ResolutionMinute:
		return time.Minute
	case ResolutionHour:
		return time.Hour
	case ResolutionDay:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// AggregateBucket is a time-bucketed rollup for one metric dimension.
// Samples retains a bounded random sample of the underlying observations
// so percentiles stay mergeable when buckets are rolled up further.
type AggregateBucket struct {
	Metric     string
	Resolution Resolution
	Start      time.Time
	Provider   string
	Model      string

	Count int64
	Sum   float64
	Min   float64
	Max   float64
	P50   float64
	P95   float64
	P99   float64

	Samples []float64
}

// Aggregate is the result of an aggregation query.
type Aggregate struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Avg   float64 `json:"avg"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// TimePoint is one point in a time series.
type TimePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Filters restricts queries to a provider and/or model dimension.
// Empty fields match everything.
type Filters struct {
	Provider string
	Model    string
}

// Matches reports whether the event satisfies the filters.
func (f Filters) Matches(e *MetricEvent) bool {
	if f.Provider != "" && e.Provider != f.Provider {
		return false
	}
	if f.Model != "" && e.Model != f.Model {
		return false
	}
	return true
}

// Backend defines the interface for durable metric persistence.
// Implementations must be safe for concurrent use; purges in particular
// run concurrently with reads.
type Backend interface {
	// InsertEvents persists a batch of events.
	InsertEvents(ctx context.Context, events []*MetricEvent) error

	// QueryEvents returns events in [start, end) matching the filters,
	// ordered by timestamp.
	QueryEvents(ctx context.Context, start, end time.Time, f Filters) ([]*MetricEvent, error)

	// UpsertBuckets inserts or replaces aggregate buckets. The key is
	// (metric, resolution, start, provider, model), which makes rollup
	// reprocessing idempotent.
	UpsertBuckets(ctx context.Context, buckets []*AggregateBucket) error

	// QueryBuckets returns buckets for a metric and resolution whose
	// start lies in [start, end), matching the filters, ordered by start.
	QueryBuckets(ctx context.Context, metric string, res Resolution, start, end time.Time, f Filters) ([]*AggregateBucket, error)

	// PurgeEvents deletes events older than the cutoff. Idempotent.
	PurgeEvents(ctx context.Context, olderThan time.Time) (int64, error)

	// PurgeBuckets deletes buckets of a resolution older than the
	// cutoff. Idempotent.
	PurgeBuckets(ctx context.Context, res Resolution, olderThan time.Time) (int64, error)

	// Close releases backend resources.
	Close() error
}
