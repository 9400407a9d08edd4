// Package metrics exposes operational Prometheus metrics: routing
// decisions, admission checks, metrics-pipeline health, and alert
// transitions. These are process-level gauges and counters, distinct
// from the per-request event telemetry the metrics store records.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector registers and updates all Prometheus metrics.
//
// Metric instances are pre-allocated at construction; recording is a
// label lookup plus an atomic update.
type Collector struct {
	registry *prometheus.Registry

	routingDecisions *prometheus.CounterVec
	routingFailures  *prometheus.CounterVec
	routingLatency   prometheus.Histogram

	limitChecks     *prometheus.CounterVec
	limitViolations *prometheus.CounterVec

	alertTransitions *prometheus.CounterVec

	eventsDropped prometheus.GaugeFunc
	eventsFlushed prometheus.GaugeFunc
	bufferDepth   prometheus.GaugeFunc
}

// PipelineStats supplies the metrics-pipeline gauges. The metrics
// store satisfies it.
type PipelineStats interface {
	DroppedCount() int64
	FlushedCount() int64
	Pending() int
}

// NewCollector creates a collector with all metrics registered on a
// fresh registry. namespace defaults to "ganymede". stats may be nil,
// disabling the pipeline gauges.
func NewCollector(namespace string, stats PipelineStats) *Collector {
	if namespace == "" {
		namespace = "ganymede"
	}
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		routingDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_decisions_total",
			Help:      "Routing decisions by strategy and chosen provider.",
		}, []string{"strategy", "provider"}),
		routingFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_failures_total",
			Help:      "Routing failures by reason.",
		}, []string{"reason"}),
		routingLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "routing_decision_seconds",
			Help:      "Time spent producing a routing decision.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025},
		}),
		limitChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_checks_total",
			Help:      "Rate limit checks by scope and result.",
		}, []string{"scope", "result"}),
		limitViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_violations_total",
			Help:      "Rate limit denials by scope.",
		}, []string{"scope"}),
		alertTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_transitions_total",
			Help:      "Alert lifecycle transitions by type and severity.",
		}, []string{"type", "severity"}),
	}

	registry.MustRegister(
		c.routingDecisions,
		c.routingFailures,
		c.routingLatency,
		c.limitChecks,
		c.limitViolations,
		c.alertTransitions,
	)

	if stats != nil {
		c.eventsDropped = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "metric_events_dropped",
			Help:      "Metric events dropped on buffer overflow.",
		}, func() float64 { return float64(stats.DroppedCount()) })
		c.eventsFlushed = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "metric_events_flushed",
			Help:      "Metric events flushed to durable storage.",
		}, func() float64 { return float64(stats.FlushedCount()) })
		c.bufferDepth = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "metric_buffer_depth",
			Help:      "Metric events currently buffered.",
		}, func() float64 { return float64(stats.Pending()) })
		registry.MustRegister(c.eventsDropped, c.eventsFlushed, c.bufferDepth)
	}

	return c
}

// RecordRoutingDecision counts a successful decision and its latency.
func (c *Collector) RecordRoutingDecision(strategy, provider string, took time.Duration) {
	c.routingDecisions.WithLabelValues(strategy, provider).Inc()
	c.routingLatency.Observe(took.Seconds())
}

// RecordRoutingFailure counts a failed selection.
func (c *Collector) RecordRoutingFailure(reason string) {
	c.routingFailures.WithLabelValues(reason).Inc()
}

// RecordLimitCheck counts an admission check.
func (c *Collector) RecordLimitCheck(scope string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "denied"
		c.limitViolations.WithLabelValues(scope).Inc()
	}
	c.limitChecks.WithLabelValues(scope, result).Inc()
}

// RecordAlertTransition counts an alert lifecycle transition.
func (c *Collector) RecordAlertTransition(transitionType, severity string) {
	c.alertTransitions.WithLabelValues(transitionType, severity).Inc()
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
