package gateway

import (
	"context"
	"testing"
	"time"

	"mercator-hq/ganymede/pkg/alerting"
	"mercator-hq/ganymede/pkg/metrics"
	"mercator-hq/ganymede/pkg/metrics/storage"
	"mercator-hq/ganymede/pkg/ratelimit"
	"mercator-hq/ganymede/pkg/registry"
	"mercator-hq/ganymede/pkg/routing"
	"mercator-hq/ganymede/pkg/routing/strategies"
)

func newTestGateway(t *testing.T) (*Gateway, *storage.MemoryBackend) {
	t.Helper()

	reg, err := registry.NewStaticRegistry([]registry.Candidate{
		{
			Provider: "cheap", Model: "mini",
			Capabilities: registry.Capabilities{MaxContext: 128000, MaxOutputTokens: 16000},
			Pricing:      registry.Pricing{InputPer1M: 0.25, OutputPer1M: 1.25},
		},
		{
			Provider: "premium", Model: "large",
			Capabilities: registry.Capabilities{Vision: true, MaxContext: 200000, MaxOutputTokens: 8000},
			Pricing:      registry.Pricing{InputPer1M: 3.00, OutputPer1M: 15.00},
		},
	})
	if err != nil {
		t.Fatalf("NewStaticRegistry failed: %v", err)
	}

	backend := storage.NewMemoryBackend()
	store := metrics.NewStore(backend, nil, nil)
	t.Cleanup(func() { store.Close() })

	limiterCfg := ratelimit.DefaultConfig()
	limiterCfg.Limits = map[ratelimit.Scope]ratelimit.ScopeLimit{
		ratelimit.ScopeUser: {Limit: 5, Window: time.Minute},
	}
	limiter, err := ratelimit.NewLimiter(limiterCfg, nil, store)
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}
	t.Cleanup(func() { limiter.Close() })

	weighted, err := strategies.NewWeightedStrategy(0, 100)
	if err != nil {
		t.Fatalf("NewWeightedStrategy failed: %v", err)
	}
	router, err := routing.NewRouter(&routing.Config{DefaultStrategy: "cost"}, reg, store,
		map[string]routing.Strategy{
			"cost":        strategies.NewCostStrategy(),
			"weighted":    weighted,
			"round-robin": strategies.NewRoundRobinStrategy(),
		})
	if err != nil {
		t.Fatalf("NewRouter failed: %v", err)
	}

	alerts := alerting.NewManager(nil, store)

	return New(reg, store, limiter, router, alerts, nil), backend
}

func TestAdmit_ShortCircuitsOnDenial(t *testing.T) {
	g, _ := newTestGateway(t)

	for i := 0; i < 5; i++ {
		if adm := g.Admit("u-1", ""); !adm.Allowed {
			t.Fatalf("Request %d denied within quota", i+1)
		}
	}

	adm := g.Admit("u-1", "")
	if adm.Allowed {
		t.Fatal("Expected denial past the user quota")
	}
	if adm.DeniedScope != ratelimit.ScopeUser {
		t.Errorf("Expected user scope denial, got %s", adm.DeniedScope)
	}
	if adm.Result.RetryAfter <= 0 {
		t.Errorf("Expected positive RetryAfter, got %v", adm.Result.RetryAfter)
	}

	// A different user is unaffected.
	if adm := g.Admit("u-2", ""); !adm.Allowed {
		t.Error("Independent user should be admitted")
	}
}

func TestRouteAndReportOutcome(t *testing.T) {
	g, backend := newTestGateway(t)

	decision, err := g.Route(context.Background(), &routing.RoutingRequest{
		InputTokens: 1000, OutputTokens: 500, UserID: "u-1",
	})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if decision.Provider != "cheap" {
		t.Errorf("Cost routing should pick cheap, got %s", decision.Provider)
	}
	if g.PendingDecisions() != 1 {
		t.Errorf("Expected 1 pending decision, got %d", g.PendingDecisions())
	}

	outcome := &Outcome{
		DecisionID:   decision.ID,
		Success:      true,
		Latency:      250 * time.Millisecond,
		InputTokens:  1000,
		OutputTokens: 480,
		Cost:         decision.EstimatedCost,
	}
	g.ReportOutcome(outcome)

	if g.PendingDecisions() != 0 {
		t.Errorf("Expected 0 pending decisions after report, got %d", g.PendingDecisions())
	}

	if err := g.Store.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	events, err := backend.QueryEvents(context.Background(),
		time.Now().Add(-time.Minute), time.Now().Add(time.Minute), metrics.Filters{})
	if err != nil {
		t.Fatalf("QueryEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 recorded event, got %d", len(events))
	}
	if events[0].Provider != "cheap" || !events[0].Success {
		t.Errorf("Unexpected event: %+v", events[0])
	}
}

func TestReportOutcome_IdempotentAndTolerant(t *testing.T) {
	g, backend := newTestGateway(t)

	decision, err := g.Route(context.Background(), &routing.RoutingRequest{})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}

	outcome := &Outcome{DecisionID: decision.ID, Success: true, Latency: time.Millisecond}
	g.ReportOutcome(outcome)
	g.ReportOutcome(outcome) // duplicate
	g.ReportOutcome(&Outcome{DecisionID: "never-issued", Success: false})

	if err := g.Store.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	events, _ := backend.QueryEvents(context.Background(),
		time.Now().Add(-time.Minute), time.Now().Add(time.Minute), metrics.Filters{})
	if len(events) != 1 {
		t.Errorf("Duplicate and unknown reports must not add events, got %d", len(events))
	}
}

func TestRoute_DenialRecordedAsViolation(t *testing.T) {
	g, backend := newTestGateway(t)

	for i := 0; i < 6; i++ {
		g.Admit("u-1", "")
	}

	if err := g.Store.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	events, _ := backend.QueryEvents(context.Background(),
		time.Now().Add(-time.Minute), time.Now().Add(time.Minute), metrics.Filters{})

	violations := 0
	for _, e := range events {
		if e.Kind == metrics.KindRateLimit {
			violations++
		}
	}
	if violations != 1 {
		t.Errorf("Expected 1 recorded violation event, got %d", violations)
	}
}
