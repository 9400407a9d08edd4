package metrics_test

import (
	"context"
	"testing"
	"time"

	"mercator-hq/ganymede/pkg/metrics"
	"mercator-hq/ganymede/pkg/metrics/storage"
)

func newTestStore(t *testing.T, cfg *metrics.RecorderConfig) (*metrics.Store, *storage.MemoryBackend) {
	t.Helper()
	backend := storage.NewMemoryBackend()
	store := metrics.NewStore(backend, cfg, nil)
	t.Cleanup(func() { store.Close() })
	return store, backend
}

func requestEvent(ts time.Time, provider, model string, latency time.Duration, success bool, cost float64) *metrics.MetricEvent {
	return &metrics.MetricEvent{
		Timestamp:    ts,
		Kind:         metrics.KindRequest,
		Provider:     provider,
		Model:        model,
		Latency:      latency,
		Success:      success,
		InputTokens:  1000,
		OutputTokens: 500,
		Cost:         cost,
	}
}

func TestRecord_FireAndForget(t *testing.T) {
	store, _ := newTestStore(t, nil)

	start := time.Now()
	for i := 0; i < 1000; i++ {
		store.Record(requestEvent(time.Now(), "openai", "gpt-4o", 100*time.Millisecond, true, 0.01))
	}
	elapsed := time.Since(start)

	// 1000 records must complete far under a millisecond each.
	if elapsed > 100*time.Millisecond {
		t.Errorf("1000 Record calls took %v, expected well under 100ms", elapsed)
	}
}

func TestRecord_DropOldestOnOverflow(t *testing.T) {
	backend := storage.NewMemoryBackend()
	backend.SetFailInserts(true)

	store := metrics.NewStore(backend, &metrics.RecorderConfig{
		BufferSize:    10,
		FlushSize:     100, // never triggers a size flush
		FlushInterval: time.Hour,
		RetryMax:      0,
	}, nil)
	defer store.Close()

	for i := 0; i < 25; i++ {
		store.Record(requestEvent(time.Now(), "p", "m", time.Millisecond, true, 0))
	}

	if dropped := store.DroppedCount(); dropped != 15 {
		t.Errorf("Expected 15 dropped events, got %d", dropped)
	}
}

func TestFlush_PersistsBufferedEvents(t *testing.T) {
	store, backend := newTestStore(t, nil)
	now := time.Now()

	store.Record(requestEvent(now, "openai", "gpt-4o", 100*time.Millisecond, true, 0.01))
	store.Record(requestEvent(now, "anthropic", "claude", 200*time.Millisecond, false, 0.02))

	if err := store.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	events, err := backend.QueryEvents(context.Background(),
		now.Add(-time.Minute), now.Add(time.Minute), metrics.Filters{})
	if err != nil {
		t.Fatalf("QueryEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 persisted events, got %d", len(events))
	}
	if events[0].ID == "" {
		t.Error("Expected an assigned event ID")
	}
}

func TestFlush_RetriesAfterFailure(t *testing.T) {
	backend := storage.NewMemoryBackend()
	store := metrics.NewStore(backend, &metrics.RecorderConfig{
		BufferSize:    100,
		FlushSize:     50,
		FlushInterval: time.Hour,
		RetryMax:      0,
	}, nil)
	defer store.Close()

	backend.SetFailInserts(true)
	store.Record(requestEvent(time.Now(), "p", "m", time.Millisecond, true, 0))

	if err := store.Flush(context.Background()); err == nil {
		t.Fatal("Expected flush to fail with injected error")
	}

	// Events stay buffered; a later flush succeeds without loss.
	backend.SetFailInserts(false)
	if err := store.Flush(context.Background()); err != nil {
		t.Fatalf("Flush after recovery failed: %v", err)
	}

	events, _ := backend.QueryEvents(context.Background(),
		time.Now().Add(-time.Minute), time.Now().Add(time.Minute), metrics.Filters{})
	if len(events) != 1 {
		t.Errorf("Expected 1 event after recovery, got %d", len(events))
	}
}

func TestGetAggregated_RawWindow(t *testing.T) {
	store, _ := newTestStore(t, nil)
	base := time.Now().Add(-30 * time.Minute)

	// 100 requests with latencies 1..100ms, 90 successes.
	for i := 1; i <= 100; i++ {
		store.Record(requestEvent(base.Add(time.Duration(i)*time.Second),
			"openai", "gpt-4o", time.Duration(i)*time.Millisecond, i <= 90, 0.01))
	}
	if err := store.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	agg, err := store.GetAggregated(context.Background(), metrics.MetricRequestLatency,
		base.Add(-time.Minute), base.Add(time.Hour), metrics.Filters{Provider: "openai"})
	if err != nil {
		t.Fatalf("GetAggregated failed: %v", err)
	}

	if agg.Count != 100 {
		t.Errorf("Expected count 100, got %d", agg.Count)
	}
	if agg.Min != 1 || agg.Max != 100 {
		t.Errorf("Expected min/max 1/100, got %v/%v", agg.Min, agg.Max)
	}
	if agg.Avg < 50 || agg.Avg > 51 {
		t.Errorf("Expected avg ~50.5, got %v", agg.Avg)
	}
	if agg.P95 < 85 || agg.P95 > 100 {
		t.Errorf("Expected P95 near 95, got %v", agg.P95)
	}

	// Success rate over the same window.
	sr, err := store.GetAggregated(context.Background(), metrics.MetricRequestSuccess,
		base.Add(-time.Minute), base.Add(time.Hour), metrics.Filters{Provider: "openai"})
	if err != nil {
		t.Fatalf("GetAggregated success failed: %v", err)
	}
	if !within(sr.Avg, 0.9, 1e-9) {
		t.Errorf("Expected success rate 0.9, got %v", sr.Avg)
	}
}

func TestRollupAndBucketAggregation(t *testing.T) {
	store, backend := newTestStore(t, nil)
	base := time.Now().Truncate(time.Minute).Add(-2 * time.Minute)

	for i := 0; i < 60; i++ {
		store.Record(requestEvent(base.Add(time.Duration(i)*time.Second),
			"openai", "gpt-4o", time.Duration(100+i)*time.Millisecond, true, 0.02))
	}
	if err := store.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if err := store.RunRollup(context.Background(), base.Add(3*time.Minute)); err != nil {
		t.Fatalf("RunRollup failed: %v", err)
	}

	buckets, err := backend.QueryBuckets(context.Background(),
		metrics.MetricRequestLatency, metrics.ResolutionMinute,
		base.Add(-time.Minute), base.Add(3*time.Minute), metrics.Filters{})
	if err != nil {
		t.Fatalf("QueryBuckets failed: %v", err)
	}
	if len(buckets) == 0 {
		t.Fatal("Expected minute buckets after rollup")
	}

	var total int64
	for _, b := range buckets {
		total += b.Count
		if len(b.Samples) == 0 {
			t.Error("Expected retained samples in bucket")
		}
	}
	if total != 60 {
		t.Errorf("Expected 60 events across buckets, got %d", total)
	}
}

func TestRollup_Idempotent(t *testing.T) {
	store, backend := newTestStore(t, nil)
	base := time.Now().Truncate(time.Minute).Add(-2 * time.Minute)

	store.Record(requestEvent(base.Add(time.Second), "p", "m", 50*time.Millisecond, true, 0))
	if err := store.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	now := base.Add(3 * time.Minute)
	if err := store.RunRollup(context.Background(), now); err != nil {
		t.Fatalf("First rollup failed: %v", err)
	}
	if err := store.RunRollup(context.Background(), now); err != nil {
		t.Fatalf("Second rollup failed: %v", err)
	}

	buckets, _ := backend.QueryBuckets(context.Background(),
		metrics.MetricRequestLatency, metrics.ResolutionMinute,
		base.Add(-time.Minute), now, metrics.Filters{})
	if len(buckets) != 1 {
		t.Fatalf("Expected exactly 1 bucket after reprocessing, got %d", len(buckets))
	}
	if buckets[0].Count != 1 {
		t.Errorf("Expected bucket count 1, got %d", buckets[0].Count)
	}
}

func TestGetTimeSeries(t *testing.T) {
	store, _ := newTestStore(t, nil)
	base := time.Now().Truncate(time.Minute).Add(-10 * time.Minute)

	// Two spikes in distinct minutes.
	for i := 0; i < 10; i++ {
		store.Record(requestEvent(base.Add(time.Duration(i)*time.Second), "p", "m",
			100*time.Millisecond, true, 0))
	}
	for i := 0; i < 10; i++ {
		store.Record(requestEvent(base.Add(5*time.Minute+time.Duration(i)*time.Second), "p", "m",
			300*time.Millisecond, true, 0))
	}
	if err := store.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if err := store.RunRollup(context.Background(), base.Add(11*time.Minute)); err != nil {
		t.Fatalf("RunRollup failed: %v", err)
	}

	points, err := store.GetTimeSeries(context.Background(), metrics.MetricRequestLatency,
		base.Add(-time.Minute), base.Add(11*time.Minute), time.Minute, metrics.Filters{})
	if err != nil {
		t.Fatalf("GetTimeSeries failed: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("Expected 2 populated buckets, got %d", len(points))
	}
	if !points[0].Timestamp.Before(points[1].Timestamp) {
		t.Error("Expected points ordered by timestamp")
	}
	if !within(points[0].Value, 100, 1e-9) || !within(points[1].Value, 300, 1e-9) {
		t.Errorf("Expected values [100, 300], got [%v, %v]", points[0].Value, points[1].Value)
	}
}

func TestGetTimeSeries_MinuteSeriesWithoutRollups(t *testing.T) {
	store, _ := newTestStore(t, nil)
	base := time.Now().Truncate(time.Minute).Add(-30 * time.Minute)

	// Events well outside the rollup lookback, and no rollup pass at
	// all. Minute granularity must still come back from raw events.
	store.Record(requestEvent(base, "p", "m", 200*time.Millisecond, true, 0))
	store.Record(requestEvent(base.Add(20*time.Minute), "p", "m", 400*time.Millisecond, true, 0))
	if err := store.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	points, err := store.GetTimeSeries(context.Background(), metrics.MetricRequestLatency,
		base.Add(-time.Minute), base.Add(25*time.Minute), time.Minute, metrics.Filters{})
	if err != nil {
		t.Fatalf("GetTimeSeries failed: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("Expected 2 populated buckets from raw events, got %d", len(points))
	}
	if !within(points[0].Value, 200, 1e-9) || !within(points[1].Value, 400, 1e-9) {
		t.Errorf("Expected values [200, 400], got [%v, %v]", points[0].Value, points[1].Value)
	}
}

func TestPrune(t *testing.T) {
	store, backend := newTestStore(t, nil)
	now := time.Now()
	old := now.Add(-8 * 24 * time.Hour)

	store.Record(requestEvent(old, "p", "m", time.Millisecond, true, 0))
	store.Record(requestEvent(now, "p", "m", time.Millisecond, true, 0))
	if err := store.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	deleted, err := store.RunPrune(context.Background(), now)
	if err != nil {
		t.Fatalf("RunPrune failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 purged event, got %d", deleted)
	}

	// Idempotent: a second pass deletes nothing.
	deleted, err = store.RunPrune(context.Background(), now)
	if err != nil {
		t.Fatalf("Second RunPrune failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("Expected idempotent purge, got %d deletions", deleted)
	}

	events, _ := backend.QueryEvents(context.Background(),
		now.Add(-30*24*time.Hour), now.Add(time.Minute), metrics.Filters{})
	if len(events) != 1 {
		t.Errorf("Expected recent event to survive, got %d events", len(events))
	}
}

func within(got, want, tol float64) bool {
	d := got - want
	return d < tol && d > -tol
}
