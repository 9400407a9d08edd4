package alerting

import (
	"fmt"
	"time"

	"mercator-hq/ganymede/pkg/metrics"
)

// Operator compares a current metric value to a rule threshold.
type Operator string

const (
	OpGreaterThan    Operator = ">"
	OpLessThan       Operator = "<"
	OpGreaterOrEqual Operator = ">="
	OpLessOrEqual    Operator = "<="
	OpEqual          Operator = "=="
	OpNotEqual       Operator = "!="
)

// Aggregation selects which aggregate field a rule compares against.
type Aggregation string

const (
	AggAvg   Aggregation = "avg"
	AggCount Aggregation = "count"
	AggSum   Aggregation = "sum"
	AggMin   Aggregation = "min"
	AggMax   Aggregation = "max"
	AggP50   Aggregation = "p50"
	AggP95   Aggregation = "p95"
	AggP99   Aggregation = "p99"
)

// Severity classifies an alert for downstream consumers.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertRule is an operator-authored threshold rule, mutable via CRUD.
type AlertRule struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`

	// Metric is the metric name to evaluate.
	Metric string `json:"metric" yaml:"metric"`

	// Aggregation picks the aggregate field compared to the threshold.
	// Default: avg.
	Aggregation Aggregation `json:"aggregation" yaml:"aggregation"`

	Operator  Operator `json:"operator" yaml:"operator"`
	Threshold float64  `json:"threshold" yaml:"threshold"`

	// DurationSeconds is the evaluation lookback window. Zero means
	// the rule fires on the first breach using the evaluation
	// interval as the window.
	DurationSeconds int `json:"duration_seconds" yaml:"duration_seconds"`

	// Provider and Model optionally scope the rule.
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"`
	Model    string `json:"model,omitempty" yaml:"model,omitempty"`

	Severity Severity `json:"severity" yaml:"severity"`
	Enabled  bool     `json:"enabled" yaml:"enabled"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Validate checks a rule's shape. Rules failing validation are marked
// invalid and skipped by the evaluation loop.
func (r *AlertRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name cannot be empty")
	}
	if !validMetrics[r.Metric] {
		return fmt.Errorf("unknown metric %q", r.Metric)
	}
	switch r.Operator {
	case OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual, OpEqual, OpNotEqual:
	default:
		return fmt.Errorf("unknown operator %q", r.Operator)
	}
	switch r.Aggregation {
	case "", AggAvg, AggCount, AggSum, AggMin, AggMax, AggP50, AggP95, AggP99:
	default:
		return fmt.Errorf("unknown aggregation %q", r.Aggregation)
	}
	if r.DurationSeconds < 0 {
		return fmt.Errorf("duration_seconds cannot be negative")
	}
	return nil
}

// validMetrics is the set of metric names rules may reference.
var validMetrics = map[string]bool{
	metrics.MetricRequestLatency:   true,
	metrics.MetricRequestCost:      true,
	metrics.MetricRequestSuccess:   true,
	metrics.MetricRequestTokens:    true,
	metrics.MetricCacheHit:         true,
	metrics.MetricRateLimitDenials: true,
}

// AlertState is the lifecycle state of an alert.
type AlertState string

const (
	StateFiring       AlertState = "firing"
	StateAcknowledged AlertState = "acknowledged"
	StateResolved     AlertState = "resolved"
)

// Open reports whether the state counts against the one-open-alert
// invariant.
func (s AlertState) Open() bool {
	return s == StateFiring || s == StateAcknowledged
}

// Alert is one incident for a rule. At most one non-resolved alert
// exists per rule at any time.
type Alert struct {
	ID     string     `json:"id"`
	RuleID string     `json:"rule_id"`
	State  AlertState `json:"state"`

	StartedAt      time.Time `json:"started_at"`
	AcknowledgedAt time.Time `json:"acknowledged_at,omitempty"`
	ResolvedAt     time.Time `json:"resolved_at,omitempty"`

	// ValueAtTrigger and ThresholdAtTrigger record the comparison that
	// opened the alert.
	ValueAtTrigger     float64 `json:"value_at_trigger"`
	ThresholdAtTrigger float64 `json:"threshold_at_trigger"`

	Severity Severity `json:"severity"`
}

// EvalResult is the outcome of evaluating one rule.
type EvalResult struct {
	Triggered    bool    `json:"triggered"`
	CurrentValue float64 `json:"current_value"`
	Message      string  `json:"message"`
}
