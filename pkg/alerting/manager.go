package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"mercator-hq/ganymede/pkg/metrics"
)

// MetricsReader is the slice of the metrics store rule evaluation
// needs. The metrics store satisfies it.
type MetricsReader interface {
	GetAggregated(ctx context.Context, metric string, start, end time.Time, f metrics.Filters) (*metrics.Aggregate, error)
}

// Config contains the manager's tuning parameters.
type Config struct {
	// EvaluationInterval is how often enabled rules are evaluated.
	// Default: 60s.
	EvaluationInterval time.Duration

	// Epsilon is the tolerance for equality operators, avoiding
	// floating-point false negatives. Default: 1e-9.
	Epsilon float64

	// FeedBuffer is the per-subscriber transition channel depth.
	FeedBuffer int
}

func (c *Config) applyDefaults() {
	if c.EvaluationInterval <= 0 {
		c.EvaluationInterval = 60 * time.Second
	}
	if c.Epsilon <= 0 {
		c.Epsilon = 1e-9
	}
}

// Manager evaluates alert rules against metrics aggregates and drives
// the alert lifecycle.
//
// Each enabled rule is evaluated every interval: a triggered rule with
// no open alert opens one (firing), an open alert whose condition has
// cleared resolves exactly once. Rules failing validation are marked
// invalid and skipped with a warning; they never break the loop for
// other rules. State transitions are published on the feed.
type Manager struct {
	config *Config
	store  *Store
	reader MetricsReader
	feed   *Feed
	logger *slog.Logger

	// invalid maps rule id to the validation failure. Cleared when a
	// rule is updated.
	invalidMu sync.Mutex
	invalid   map[string]string

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewManager creates a manager over the given metrics reader.
func NewManager(config *Config, reader MetricsReader) *Manager {
	if config == nil {
		config = &Config{}
	}
	config.applyDefaults()

	return &Manager{
		config:  config,
		store:   NewStore(),
		reader:  reader,
		feed:    NewFeed(config.FeedBuffer),
		logger:  slog.Default().With("component", "alerting"),
		invalid: make(map[string]string),
	}
}

// Start launches the periodic evaluation loop. Returns an error if
// already running.
func (m *Manager) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.running {
		return fmt.Errorf("alert manager already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	go m.loop(loopCtx)

	m.logger.Info("alert evaluation started",
		"interval", m.config.EvaluationInterval)
	return nil
}

// Stop halts the evaluation loop and waits for the in-flight pass.
func (m *Manager) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if !m.running {
		return
	}
	m.cancel()
	<-m.done
	m.running = false
}

func (m *Manager) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.config.EvaluationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.EvaluateAll(ctx)
		}
	}
}

// EvaluateAll runs one evaluation pass over every enabled rule.
func (m *Manager) EvaluateAll(ctx context.Context) {
	for _, rule := range m.store.ListRules() {
		if !rule.Enabled {
			continue
		}
		if reason, bad := m.invalidReason(rule.ID); bad {
			m.logger.Warn("skipping invalid rule",
				"rule", rule.Name, "reason", reason)
			continue
		}
		if _, err := m.EvaluateRule(ctx, rule); err != nil {
			m.logger.Warn("rule evaluation failed",
				"rule", rule.Name, "error", err)
		}
	}
}

// EvaluateRule evaluates one rule now and applies any lifecycle
// transition. Safe to call concurrently with the scheduled loop;
// alert creation is idempotent.
func (m *Manager) EvaluateRule(ctx context.Context, rule *AlertRule) (*EvalResult, error) {
	if err := rule.Validate(); err != nil {
		m.markInvalid(rule.ID, err.Error())
		return nil, err
	}

	window := time.Duration(rule.DurationSeconds) * time.Second
	if window == 0 {
		// First-breach semantics: compare against the latest interval.
		window = m.config.EvaluationInterval
	}

	now := time.Now()
	agg, err := m.reader.GetAggregated(ctx, rule.Metric, now.Add(-window), now,
		metrics.Filters{Provider: rule.Provider, Model: rule.Model})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", rule.Metric, err)
	}

	value := aggregateField(agg, rule.Aggregation)
	triggered := compare(value, rule.Operator, rule.Threshold, m.config.Epsilon)

	result := &EvalResult{
		Triggered:    triggered,
		CurrentValue: value,
		Message: fmt.Sprintf("%s %s(%s) = %.4f, threshold %s %.4f",
			rule.Name, rule.Aggregation, rule.Metric, value, rule.Operator, rule.Threshold),
	}

	m.transition(rule, result)
	return result, nil
}

// transition applies the lifecycle state machine for one evaluation.
func (m *Manager) transition(rule *AlertRule, result *EvalResult) {
	if result.Triggered {
		alert, created := m.store.OpenAlertIfAbsent(rule, result.CurrentValue)
		if created {
			m.logger.Warn("alert firing",
				"rule", rule.Name,
				"value", result.CurrentValue,
				"threshold", rule.Threshold,
				"severity", rule.Severity,
			)
			m.feed.Publish(Transition{
				Type:      TransitionFiring,
				Alert:     *alert,
				RuleName:  rule.Name,
				Timestamp: time.Now(),
			})
		}
		return
	}

	if alert := m.store.ResolveOpenAlert(rule.ID); alert != nil {
		m.logger.Info("alert resolved",
			"rule", rule.Name, "value", result.CurrentValue)
		m.feed.Publish(Transition{
			Type:      TransitionResolved,
			Alert:     *alert,
			RuleName:  rule.Name,
			Timestamp: time.Now(),
		})
	}
}

// Acknowledge marks a firing alert acknowledged and publishes the
// transition. Acknowledged alerts still auto-resolve.
func (m *Manager) Acknowledge(alertID string) (*Alert, error) {
	alert, err := m.store.Acknowledge(alertID)
	if err != nil {
		return nil, err
	}

	ruleName := ""
	if rule := m.store.GetRule(alert.RuleID); rule != nil {
		ruleName = rule.Name
	}
	m.feed.Publish(Transition{
		Type:      TransitionAcknowledged,
		Alert:     *alert,
		RuleName:  ruleName,
		Timestamp: time.Now(),
	})
	return alert, nil
}

// CreateRule adds a rule.
func (m *Manager) CreateRule(rule *AlertRule) (*AlertRule, error) {
	return m.store.CreateRule(rule)
}

// UpdateRule replaces a rule and clears any invalid mark so it gets
// re-evaluated.
func (m *Manager) UpdateRule(rule *AlertRule) (*AlertRule, error) {
	updated, err := m.store.UpdateRule(rule)
	if err != nil {
		return nil, err
	}
	m.invalidMu.Lock()
	delete(m.invalid, rule.ID)
	m.invalidMu.Unlock()
	return updated, nil
}

// DeleteRule removes a rule.
func (m *Manager) DeleteRule(id string) error {
	m.invalidMu.Lock()
	delete(m.invalid, id)
	m.invalidMu.Unlock()
	return m.store.DeleteRule(id)
}

// GetRule returns one rule, or nil.
func (m *Manager) GetRule(id string) *AlertRule { return m.store.GetRule(id) }

// ListRules returns all rules.
func (m *Manager) ListRules() []*AlertRule { return m.store.ListRules() }

// GetAlert returns one alert, or nil.
func (m *Manager) GetAlert(id string) *Alert { return m.store.GetAlert(id) }

// ListAlerts returns alerts, optionally only open ones.
func (m *Manager) ListAlerts(onlyOpen bool) []*Alert { return m.store.ListAlerts(onlyOpen) }

// Feed returns the transition feed for subscription.
func (m *Manager) Feed() *Feed { return m.feed }

func (m *Manager) markInvalid(ruleID, reason string) {
	m.invalidMu.Lock()
	defer m.invalidMu.Unlock()
	m.invalid[ruleID] = reason
}

func (m *Manager) invalidReason(ruleID string) (string, bool) {
	m.invalidMu.Lock()
	defer m.invalidMu.Unlock()
	reason, ok := m.invalid[ruleID]
	return reason, ok
}

// aggregateField extracts the compared field from an aggregate.
func aggregateField(agg *metrics.Aggregate, a Aggregation) float64 {
	switch a {
	case AggCount:
		return float64(agg.Count)
	case AggSum:
		return agg.Sum
	case AggMin:
		return agg.Min
	case AggMax:
		return agg.Max
	case AggP50:
		return agg.P50
	case AggP95:
		return agg.P95
	case AggP99:
		return agg.P99
	default:
		return agg.Avg
	}
}

// compare applies an operator with epsilon tolerance on the equality
// variants.
func compare(value float64, op Operator, threshold, epsilon float64) bool {
	switch op {
	case OpGreaterThan:
		return value > threshold
	case OpLessThan:
		return value < threshold
	case OpGreaterOrEqual:
		return value > threshold || math.Abs(value-threshold) <= epsilon
	case OpLessOrEqual:
		return value < threshold || math.Abs(value-threshold) <= epsilon
	case OpEqual:
		return math.Abs(value-threshold) <= epsilon
	case OpNotEqual:
		return math.Abs(value-threshold) > epsilon
	default:
		return false
	}
}
