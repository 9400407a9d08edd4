package routing

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"mercator-hq/ganymede/pkg/metrics"
	"mercator-hq/ganymede/pkg/registry"
)

// fakeReader serves canned aggregates per provider for snapshot
// computation.
type fakeReader struct {
	latencyMs map[string]float64 // provider -> p95/avg latency
	success   map[string]float64 // provider -> success rate
	counts    map[string]int64   // provider -> request count
	err       error
}

func (f *fakeReader) GetAggregated(_ context.Context, metric string, _, _ time.Time, filters metrics.Filters) (*metrics.Aggregate, error) {
	if f.err != nil {
		return nil, f.err
	}

	count := f.counts[filters.Provider]
	agg := &metrics.Aggregate{Count: count}

	switch metric {
	case metrics.MetricRequestLatency:
		v := f.latencyMs[filters.Provider]
		agg.Avg, agg.P50, agg.P95, agg.P99 = v, v, v, v
	case metrics.MetricRequestSuccess:
		agg.Avg = f.success[filters.Provider]
	case metrics.MetricRequestCost:
		agg.Avg = 0.01
	}
	return agg, nil
}

// rankAll is a trivial strategy ranking candidates in registry order
// with score 1.
type rankAll struct{ name string }

func (r *rankAll) Rank(_ *RoutingRequest, eligible []*registry.Candidate,
	_ map[string]*ProviderMetricsSnapshot) ([]ScoredCandidate, error) {
	out := make([]ScoredCandidate, len(eligible))
	for i, c := range eligible {
		out[i] = ScoredCandidate{Candidate: c, Score: 1}
	}
	return out, nil
}
func (r *rankAll) Name() string { return r.name }

// rankFail always reports missing telemetry.
type rankFail struct{}

func (r *rankFail) Rank(_ *RoutingRequest, _ []*registry.Candidate,
	_ map[string]*ProviderMetricsSnapshot) ([]ScoredCandidate, error) {
	return nil, ErrTelemetryUnavailable
}
func (r *rankFail) Name() string { return "failing" }

func testCandidates(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.NewStaticRegistry([]registry.Candidate{
		{
			Provider: "cheap", Model: "mini",
			Capabilities: registry.Capabilities{MaxContext: 128000, MaxOutputTokens: 16000},
			Pricing:      registry.Pricing{InputPer1M: 0.25, OutputPer1M: 1.25},
		},
		{
			Provider: "premium", Model: "large",
			Capabilities: registry.Capabilities{Vision: true, ToolUse: true, MaxContext: 200000, MaxOutputTokens: 8000},
			Pricing:      registry.Pricing{InputPer1M: 3.00, OutputPer1M: 15.00},
		},
	})
	if err != nil {
		t.Fatalf("NewStaticRegistry failed: %v", err)
	}
	return reg
}

func newTestRouter(t *testing.T, reg *registry.Registry, reader MetricsReader,
	strategies map[string]Strategy) *Router {
	t.Helper()

	if strategies == nil {
		strategies = map[string]Strategy{}
	}
	if _, ok := strategies["round-robin"]; !ok {
		strategies["round-robin"] = &rankAll{name: "round-robin"}
	}
	if _, ok := strategies["weighted"]; !ok {
		strategies["weighted"] = &rankAll{name: "weighted"}
	}

	router, err := NewRouter(&Config{MinSampleSize: 50}, reg, reader, strategies)
	if err != nil {
		t.Fatalf("NewRouter failed: %v", err)
	}
	return router
}

func TestSelectProvider_VisionRequiredNoCandidate(t *testing.T) {
	reg, err := registry.NewStaticRegistry([]registry.Candidate{
		{Provider: "text-only", Model: "m", Capabilities: registry.Capabilities{MaxOutputTokens: 4000}},
	})
	if err != nil {
		t.Fatalf("NewStaticRegistry failed: %v", err)
	}
	router := newTestRouter(t, reg, &fakeReader{}, nil)

	_, err = router.SelectProvider(context.Background(), &RoutingRequest{RequiresVision: true})
	if !errors.Is(err, ErrNoEligibleProviders) {
		t.Fatalf("Expected ErrNoEligibleProviders, got %v", err)
	}

	var typed *NoEligibleProviderError
	if !errors.As(err, &typed) {
		t.Fatal("Expected NoEligibleProviderError type")
	}
	if typed.Excluded["vision"] != 1 {
		t.Errorf("Expected 1 vision exclusion, got %+v", typed.Excluded)
	}
}

func TestSelectProvider_DegradesToRoundRobin(t *testing.T) {
	reg := testCandidates(t)
	router := newTestRouter(t, reg, &fakeReader{}, map[string]Strategy{
		"failing": &rankFail{},
	})

	decision, err := router.SelectProvider(context.Background(),
		&RoutingRequest{Strategy: "failing"})
	if err != nil {
		t.Fatalf("Expected degraded selection, got error: %v", err)
	}
	if decision.Strategy != "round-robin" {
		t.Errorf("Expected fallback to round-robin, got %q", decision.Strategy)
	}
}

func TestSelectProvider_DecisionShape(t *testing.T) {
	reg := testCandidates(t)
	reader := &fakeReader{
		latencyMs: map[string]float64{"cheap": 200, "premium": 400},
		success:   map[string]float64{"cheap": 0.95, "premium": 0.99},
		counts:    map[string]int64{"cheap": 100, "premium": 100},
	}
	router := newTestRouter(t, reg, reader, nil)

	decision, err := router.SelectProvider(context.Background(), &RoutingRequest{
		InputTokens: 1000, OutputTokens: 500,
	})
	if err != nil {
		t.Fatalf("SelectProvider failed: %v", err)
	}

	if decision.ID == "" {
		t.Error("Expected a decision ID")
	}
	if decision.Provider == "" || decision.Model == "" {
		t.Error("Expected provider and model")
	}
	if decision.Confidence != 1 {
		t.Errorf("Expected confidence 1 at 100 samples, got %v", decision.Confidence)
	}
	if len(decision.Alternatives) != 1 {
		t.Errorf("Expected 1 alternative from a 2-candidate set, got %d", len(decision.Alternatives))
	}
	if decision.EstimatedCost <= 0 {
		t.Errorf("Expected positive estimated cost, got %v", decision.EstimatedCost)
	}
}

func TestConfidence_ScalesWithSamples(t *testing.T) {
	reg := testCandidates(t)
	reader := &fakeReader{
		latencyMs: map[string]float64{"cheap": 200},
		success:   map[string]float64{"cheap": 1.0},
		counts:    map[string]int64{"cheap": 25},
	}
	router := newTestRouter(t, reg, reader, nil)

	decision, err := router.SelectProvider(context.Background(), &RoutingRequest{})
	if err != nil {
		t.Fatalf("SelectProvider failed: %v", err)
	}

	// rankAll picks the first candidate ("cheap/mini") with 25 of the
	// 50 minimum samples.
	if math.Abs(decision.Confidence-0.5) > 1e-9 {
		t.Errorf("Expected confidence 0.5 at 25/50 samples, got %v", decision.Confidence)
	}
}

func TestFilterEligible(t *testing.T) {
	candidates := []*registry.Candidate{
		{
			Provider: "healthy", Model: "m",
			Capabilities: registry.Capabilities{Vision: true, MaxOutputTokens: 8000},
		},
		{
			Provider: "unhealthy", Model: "m",
			Capabilities: registry.Capabilities{Vision: true, MaxOutputTokens: 8000},
		},
		{
			Provider: "unobserved", Model: "m",
			Capabilities: registry.Capabilities{Vision: true, MaxOutputTokens: 8000},
		},
		{
			Provider: "small", Model: "m",
			Capabilities: registry.Capabilities{MaxOutputTokens: 1000},
		},
	}
	snaps := map[string]*ProviderMetricsSnapshot{
		"healthy/m":   {RequestCount: 100, SuccessRate: 0.95},
		"unhealthy/m": {RequestCount: 100, SuccessRate: 0.5},
	}

	req := &RoutingRequest{RequiresVision: true, MaxTokens: 4000}
	eligible, excluded := filterEligible(req, candidates, snaps, 0.8)

	if len(eligible) != 2 {
		t.Fatalf("Expected 2 eligible candidates, got %d", len(eligible))
	}
	got := map[string]bool{}
	for _, c := range eligible {
		got[c.Provider] = true
	}
	if !got["healthy"] {
		t.Error("Expected healthy provider to be eligible")
	}
	if !got["unobserved"] {
		t.Error("Candidates without observations must not be excluded by the success floor")
	}
	if excluded["success_rate"] != 1 || excluded["vision"] != 1 {
		t.Errorf("Unexpected exclusion counts: %+v", excluded)
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name       string
		req        RoutingRequest
		wantInput  int
		wantOutput int
	}{
		{"explicit counts", RoutingRequest{InputTokens: 1000, OutputTokens: 500}, 1000, 500},
		{"from prompt length", RoutingRequest{PromptLength: 4000}, 1000, 500},
		{"prompt length rounds up", RoutingRequest{PromptLength: 5}, 2, 500},
		{"output from max tokens", RoutingRequest{InputTokens: 10, MaxTokens: 2000}, 10, 2000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, out := estimateTokens(&tt.req)
			if in != tt.wantInput || out != tt.wantOutput {
				t.Errorf("estimateTokens = (%d, %d), want (%d, %d)",
					in, out, tt.wantInput, tt.wantOutput)
			}
		})
	}
}

func TestSnapshotCache_ServesStaleWithoutBlocking(t *testing.T) {
	reader := &fakeReader{
		latencyMs: map[string]float64{"p": 100},
		success:   map[string]float64{"p": 1.0},
		counts:    map[string]int64{"p": 10},
	}
	cache := NewSnapshotCache(reader, 50*time.Millisecond, time.Minute)

	first, err := cache.Get(context.Background(), "p", "m")
	if err != nil {
		t.Fatalf("First Get failed: %v", err)
	}

	time.Sleep(60 * time.Millisecond)

	// The reader now fails; the stale snapshot must still be served.
	reader.err = errors.New("store down")
	second, err := cache.Get(context.Background(), "p", "m")
	if err != nil {
		t.Fatalf("Stale Get failed: %v", err)
	}
	if second.RefreshedAt != first.RefreshedAt {
		t.Error("Expected the stale snapshot to be returned while refresh runs")
	}
}
