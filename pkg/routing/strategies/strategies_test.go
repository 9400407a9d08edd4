package strategies

import (
	"math"
	"sync"
	"testing"
	"time"

	"mercator-hq/ganymede/pkg/registry"
	"mercator-hq/ganymede/pkg/routing"
)

func candidate(provider, model string, inPrice, outPrice float64) *registry.Candidate {
	return &registry.Candidate{
		Provider: provider,
		Model:    model,
		Capabilities: registry.Capabilities{
			MaxContext:      128000,
			MaxOutputTokens: 16000,
		},
		Pricing: registry.Pricing{InputPer1M: inPrice, OutputPer1M: outPrice},
	}
}

func snapshot(provider, model string, p95 time.Duration, count int64) *routing.ProviderMetricsSnapshot {
	return &routing.ProviderMetricsSnapshot{
		Provider:     provider,
		Model:        model,
		P95Latency:   p95,
		AvgLatency:   p95,
		SuccessRate:  1,
		RequestCount: count,
		RefreshedAt:  time.Now(),
	}
}

func TestCostStrategy_PicksCheaperProvider(t *testing.T) {
	// $0.25/$1.25 vs $3.00/$15.00 per 1M input/output tokens.
	cheap := candidate("cheap", "mini", 0.25, 1.25)
	premium := candidate("premium", "large", 3.00, 15.00)

	s := NewCostStrategy()
	ranked, err := s.Rank(&routing.RoutingRequest{InputTokens: 1000, OutputTokens: 500},
		[]*registry.Candidate{premium, cheap}, nil)
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}

	if ranked[0].Candidate.Provider != "cheap" {
		t.Errorf("Expected cheap provider first, got %s", ranked[0].Candidate.Provider)
	}

	// 1000/1e6*0.25 + 500/1e6*1.25 = 0.000875
	wantCost := 0.000875
	gotCost := ranked[0].Candidate.EstimateCost(1000, 500)
	if math.Abs(gotCost-wantCost) > 1e-12 {
		t.Errorf("Estimated cost = %v, want %v", gotCost, wantCost)
	}
}

func TestLatencyStrategy_RanksByP95(t *testing.T) {
	fast := candidate("fast", "m", 1, 1)
	slow := candidate("slow", "m", 1, 1)
	fresh := candidate("fresh", "m", 1, 1)

	snaps := map[string]*routing.ProviderMetricsSnapshot{
		"fast/m": snapshot("fast", "m", 100*time.Millisecond, 50),
		"slow/m": snapshot("slow", "m", 900*time.Millisecond, 50),
	}

	s := NewLatencyStrategy()
	ranked, err := s.Rank(&routing.RoutingRequest{},
		[]*registry.Candidate{slow, fresh, fast}, snaps)
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}

	if ranked[0].Candidate.Provider != "fast" {
		t.Errorf("Expected fast first, got %s", ranked[0].Candidate.Provider)
	}
	// Unobserved candidates rank behind all observed ones.
	if ranked[2].Candidate.Provider != "fresh" {
		t.Errorf("Expected unobserved candidate last, got %s", ranked[2].Candidate.Provider)
	}
}

func TestLatencyStrategy_NoTelemetry(t *testing.T) {
	s := NewLatencyStrategy()
	_, err := s.Rank(&routing.RoutingRequest{},
		[]*registry.Candidate{candidate("p", "m", 1, 1)},
		map[string]*routing.ProviderMetricsSnapshot{})
	if err == nil {
		t.Fatal("Expected ErrTelemetryUnavailable without observations")
	}
}

func TestWeightedStrategy_Deterministic(t *testing.T) {
	a := candidate("alpha", "m", 1.0, 5.0)
	b := candidate("beta", "m", 2.0, 10.0)

	snaps := map[string]*routing.ProviderMetricsSnapshot{
		"alpha/m": snapshot("alpha", "m", 500*time.Millisecond, 50),
		"beta/m":  snapshot("beta", "m", 100*time.Millisecond, 50),
	}

	s, err := NewWeightedStrategy(50, 50)
	if err != nil {
		t.Fatalf("NewWeightedStrategy failed: %v", err)
	}

	req := &routing.RoutingRequest{InputTokens: 1000, OutputTokens: 500}
	first, err := s.Rank(req, []*registry.Candidate{a, b}, snaps)
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}

	// Identical inputs always produce identical rankings.
	for i := 0; i < 10; i++ {
		again, err := s.Rank(req, []*registry.Candidate{a, b}, snaps)
		if err != nil {
			t.Fatalf("Repeat rank failed: %v", err)
		}
		for j := range first {
			if again[j].Candidate.Key() != first[j].Candidate.Key() ||
				again[j].Score != first[j].Score {
				t.Fatalf("Ranking changed between identical calls: %+v vs %+v", first, again)
			}
		}
	}

	// alpha is best on cost (score 1), worst on latency (score 0);
	// beta is the mirror. At 50/50 both combine to 0.5 and the lexical
	// tiebreak puts alpha first.
	if first[0].Candidate.Provider != "alpha" {
		t.Errorf("Expected lexical tiebreak to pick alpha, got %s", first[0].Candidate.Provider)
	}
	if math.Abs(first[0].Score-0.5) > 1e-9 {
		t.Errorf("Expected combined score 0.5, got %v", first[0].Score)
	}
}

func TestWeightedStrategy_RejectsBadWeights(t *testing.T) {
	if _, err := NewWeightedStrategy(60, 60); err == nil {
		t.Error("Expected error for weights summing past 100")
	}
	if _, err := NewWeightedStrategy(120, -20); err == nil {
		t.Error("Expected error for negative weight")
	}
}

func TestRoundRobin_Fairness(t *testing.T) {
	eligible := []*registry.Candidate{
		candidate("a", "m", 1, 1),
		candidate("b", "m", 1, 1),
		candidate("c", "m", 1, 1),
	}

	s := NewRoundRobinStrategy()
	chosen := make(map[string]int)
	const n = 31 // not a multiple of 3

	for i := 0; i < n; i++ {
		ranked, err := s.Rank(&routing.RoutingRequest{}, eligible, nil)
		if err != nil {
			t.Fatalf("Rank failed: %v", err)
		}
		chosen[ranked[0].Candidate.Provider]++
	}

	// Each candidate wins floor(31/3)=10 or ceil(31/3)=11 times.
	for provider, count := range chosen {
		if count != 10 && count != 11 {
			t.Errorf("Provider %s chosen %d times, want 10 or 11", provider, count)
		}
	}
}

func TestRoundRobin_ConcurrentNoSkips(t *testing.T) {
	eligible := []*registry.Candidate{
		candidate("a", "m", 1, 1),
		candidate("b", "m", 1, 1),
	}

	s := NewRoundRobinStrategy()
	var wg sync.WaitGroup
	var mu sync.Mutex
	chosen := make(map[string]int)

	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				ranked, _ := s.Rank(&routing.RoutingRequest{}, eligible, nil)
				mu.Lock()
				chosen[ranked[0].Candidate.Provider]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// 1000 calls over 2 candidates: exactly 500 each, since the
	// counter is advanced atomically.
	if chosen["a"] != 500 || chosen["b"] != 500 {
		t.Errorf("Expected 500/500 split, got %+v", chosen)
	}
}

func TestRoundRobin_PerSetCounters(t *testing.T) {
	setA := []*registry.Candidate{candidate("a", "m", 1, 1), candidate("b", "m", 1, 1)}
	setB := []*registry.Candidate{candidate("a", "m", 1, 1), candidate("c", "m", 1, 1)}

	s := NewRoundRobinStrategy()
	first, _ := s.Rank(&routing.RoutingRequest{}, setA, nil)
	second, _ := s.Rank(&routing.RoutingRequest{}, setB, nil)

	// A different eligible set starts its own rotation from the top.
	if first[0].Candidate.Provider != "a" || second[0].Candidate.Provider != "a" {
		t.Errorf("Each set should rotate independently: %s, %s",
			first[0].Candidate.Provider, second[0].Candidate.Provider)
	}
}

func TestFailover_DemotesAfterThreshold(t *testing.T) {
	eligible := []*registry.Candidate{
		candidate("primary", "m", 1, 1),
		candidate("secondary", "m", 1, 1),
	}

	s := NewFailoverStrategy([]string{"primary", "secondary"}, 3)

	ranked, _ := s.Rank(&routing.RoutingRequest{}, eligible, nil)
	if ranked[0].Candidate.Provider != "primary" {
		t.Fatalf("Expected primary first, got %s", ranked[0].Candidate.Provider)
	}

	// Two failures are below the threshold.
	s.ReportOutcome("primary", false)
	s.ReportOutcome("primary", false)
	ranked, _ = s.Rank(&routing.RoutingRequest{}, eligible, nil)
	if ranked[0].Candidate.Provider != "primary" {
		t.Error("Primary demoted before reaching the failure threshold")
	}

	// A success resets the streak.
	s.ReportOutcome("primary", true)
	s.ReportOutcome("primary", false)
	s.ReportOutcome("primary", false)
	ranked, _ = s.Rank(&routing.RoutingRequest{}, eligible, nil)
	if ranked[0].Candidate.Provider != "primary" {
		t.Error("Success should reset the failure streak")
	}

	// Three consecutive failures demote.
	s.ReportOutcome("primary", false)
	ranked, _ = s.Rank(&routing.RoutingRequest{}, eligible, nil)
	if ranked[0].Candidate.Provider != "secondary" {
		t.Errorf("Expected secondary after demotion, got %s", ranked[0].Candidate.Provider)
	}
	if s.ActivePrimary() != "secondary" {
		t.Errorf("ActivePrimary = %s, want secondary", s.ActivePrimary())
	}
}

func TestModelRules_FirstMatchWins(t *testing.T) {
	visionProvider := candidate("vision-shop", "v", 1, 1)
	budgetProvider := candidate("budget-shop", "b", 1, 1)

	rules := []ModelRule{
		{
			Name: "vision-route", Priority: 1, RequiresVision: true,
			Providers: map[string]int{"vision-shop": 10},
		},
		{
			Name: "budget-route", Priority: 2, MaxCost: 0.01,
			Providers: map[string]int{"budget-shop": 10},
		},
	}

	fallback, _ := NewWeightedStrategy(0, 100)
	s := NewModelRulesStrategy(rules, fallback)
	eligible := []*registry.Candidate{budgetProvider, visionProvider}

	// Vision request matches the priority-1 rule.
	ranked, err := s.Rank(&routing.RoutingRequest{RequiresVision: true, MaxCost: 0.005},
		eligible, nil)
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if ranked[0].Candidate.Provider != "vision-shop" {
		t.Errorf("Expected vision-shop from rule 1, got %s", ranked[0].Candidate.Provider)
	}

	// Cheap non-vision request falls through to the budget rule.
	ranked, err = s.Rank(&routing.RoutingRequest{MaxCost: 0.005}, eligible, nil)
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if ranked[0].Candidate.Provider != "budget-shop" {
		t.Errorf("Expected budget-shop from rule 2, got %s", ranked[0].Candidate.Provider)
	}
}

func TestModelRules_FallbackWhenNoMatch(t *testing.T) {
	cheap := candidate("cheap", "m", 0.25, 1.25)
	premium := candidate("premium", "m", 3.00, 15.00)

	fallback, _ := NewWeightedStrategy(0, 100) // pure cost
	s := NewModelRulesStrategy([]ModelRule{
		{Name: "vision-only", Priority: 1, RequiresVision: true,
			Providers: map[string]int{"premium": 10}},
	}, fallback)

	ranked, err := s.Rank(&routing.RoutingRequest{InputTokens: 1000, OutputTokens: 500},
		[]*registry.Candidate{premium, cheap}, nil)
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if ranked[0].Candidate.Provider != "cheap" {
		t.Errorf("Expected cost fallback to pick cheap, got %s", ranked[0].Candidate.Provider)
	}
}
