package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/ganymede/pkg/alerting"
	"mercator-hq/ganymede/pkg/metrics"
	"mercator-hq/ganymede/pkg/ratelimit"
	"mercator-hq/ganymede/pkg/registry"
	"mercator-hq/ganymede/pkg/routing"
	telemetrymetrics "mercator-hq/ganymede/pkg/telemetry/metrics"
)

// decisionTTL bounds how long an unreported decision is tracked for
// idempotent outcome accounting.
const decisionTTL = 10 * time.Minute

// Gateway is the explicit context object binding the registry, rate
// limiter, router, metrics store, and alert manager. It is constructed
// once at process start and passed to request handlers by reference;
// there is no global mutable state.
type Gateway struct {
	Registry *registry.Registry
	Store    *metrics.Store
	Limiter  *ratelimit.Limiter
	Router   *routing.Router
	Alerts   *alerting.Manager

	// Collector is optional operational instrumentation.
	Collector *telemetrymetrics.Collector

	logger *slog.Logger

	// pending tracks issued decisions awaiting their outcome report.
	// First report wins; duplicates and reports for expired or unknown
	// decisions are tolerated silently.
	mu      sync.Mutex
	pending map[string]pendingDecision
}

type pendingDecision struct {
	provider  string
	model     string
	expiresAt time.Time
}

// Admission is the result of the multi-scope admission sequence.
type Admission struct {
	// Allowed is true when every checked scope admitted the request.
	Allowed bool

	// DeniedScope names the scope that denied, when Allowed is false.
	DeniedScope ratelimit.Scope

	// Result is the check result of the denying scope, or of the last
	// checked scope on success.
	Result *ratelimit.CheckResult
}

// New creates a gateway over already-constructed components.
// collector may be nil.
func New(reg *registry.Registry, store *metrics.Store, limiter *ratelimit.Limiter,
	router *routing.Router, alerts *alerting.Manager, collector *telemetrymetrics.Collector) *Gateway {

	return &Gateway{
		Registry:  reg,
		Store:     store,
		Limiter:   limiter,
		Router:    router,
		Alerts:    alerts,
		Collector: collector,
		logger:    slog.Default().With("component", "gateway"),
		pending:   make(map[string]pendingDecision),
	}
}

// Admit runs the admission sequence for a request: user scope, then
// ip, then global, short-circuiting on the first denial. Scopes
// without an identifier or without a configured limit pass through.
func (g *Gateway) Admit(userID, ip string) *Admission {
	checks := []ratelimit.Key{
		{Scope: ratelimit.ScopeUser, ID: userID},
		{Scope: ratelimit.ScopeIP, ID: ip},
		{Scope: ratelimit.ScopeGlobal},
	}

	var last *ratelimit.CheckResult
	for _, key := range checks {
		if key.Scope != ratelimit.ScopeGlobal && key.ID == "" {
			continue
		}
		result := g.Limiter.Check(key, 1)
		if g.Collector != nil {
			g.Collector.RecordLimitCheck(string(key.Scope), result.Allowed)
		}
		if !result.Allowed {
			return &Admission{Allowed: false, DeniedScope: key.Scope, Result: result}
		}
		last = result
	}
	return &Admission{Allowed: true, Result: last}
}

// AdmitProvider checks the provider scope after routing has chosen a
// provider.
func (g *Gateway) AdmitProvider(provider string) *Admission {
	result := g.Limiter.Check(ratelimit.Key{Scope: ratelimit.ScopeProvider, ID: provider}, 1)
	if g.Collector != nil {
		g.Collector.RecordLimitCheck(string(ratelimit.ScopeProvider), result.Allowed)
	}
	if !result.Allowed {
		return &Admission{Allowed: false, DeniedScope: ratelimit.ScopeProvider, Result: result}
	}
	return &Admission{Allowed: true, Result: result}
}

// Route selects a provider for the request and registers the decision
// for outcome accounting.
func (g *Gateway) Route(ctx context.Context, req *routing.RoutingRequest) (*routing.RoutingDecision, error) {
	started := time.Now()

	decision, err := g.Router.SelectProvider(ctx, req)
	if err != nil {
		if g.Collector != nil {
			g.Collector.RecordRoutingFailure("no_eligible_provider")
		}
		return nil, err
	}

	if g.Collector != nil {
		g.Collector.RecordRoutingDecision(decision.Strategy, decision.Provider, time.Since(started))
	}

	g.mu.Lock()
	g.pending[decision.ID] = pendingDecision{
		provider:  decision.Provider,
		model:     decision.Model,
		expiresAt: time.Now().Add(decisionTTL),
	}
	g.expireLocked()
	g.mu.Unlock()

	return decision, nil
}

// Outcome is the caller's report after dispatching to the chosen
// provider.
type Outcome struct {
	DecisionID   string
	Success      bool
	Latency      time.Duration
	InputTokens  int
	OutputTokens int
	Cost         float64
	CacheHit     bool
}

// ReportOutcome records the outcome of a dispatched request: a metric
// event for the metrics store and an outcome signal for
// outcome-aware routing strategies.
//
// Accounting is best-effort idempotent: the first report for a
// decision wins, duplicates and reports for unknown or expired
// decisions are ignored without error.
func (g *Gateway) ReportOutcome(o *Outcome) {
	g.mu.Lock()
	pd, ok := g.pending[o.DecisionID]
	if ok {
		delete(g.pending, o.DecisionID)
	}
	g.mu.Unlock()

	if !ok {
		g.logger.Debug("outcome for unknown or already-reported decision",
			"decision_id", o.DecisionID)
		return
	}

	g.Store.Record(&metrics.MetricEvent{
		Timestamp:    time.Now(),
		Kind:         metrics.KindRequest,
		Provider:     pd.provider,
		Model:        pd.model,
		Latency:      o.Latency,
		Success:      o.Success,
		InputTokens:  o.InputTokens,
		OutputTokens: o.OutputTokens,
		Cost:         o.Cost,
		CacheHit:     o.CacheHit,
	})

	g.Router.ReportOutcome(pd.provider, o.Success)
}

// PendingDecisions returns the number of decisions awaiting an
// outcome report.
func (g *Gateway) PendingDecisions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// expireLocked drops decisions past their TTL. Caller holds g.mu.
// Expiry bounds memory when callers never report, which the contract
// must tolerate.
func (g *Gateway) expireLocked() {
	now := time.Now()
	for id, pd := range g.pending {
		if now.After(pd.expiresAt) {
			delete(g.pending, id)
		}
	}
}
