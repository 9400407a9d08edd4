package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type stubStats struct {
	dropped int64
	flushed int64
	pending int
}

func (s *stubStats) DroppedCount() int64 { return s.dropped }
func (s *stubStats) FlushedCount() int64 { return s.flushed }
func (s *stubStats) Pending() int        { return s.pending }

func TestCollector_RecordRoutingDecision(t *testing.T) {
	c := NewCollector("test", nil)

	c.RecordRoutingDecision("cost", "openai", 2*time.Millisecond)
	c.RecordRoutingDecision("cost", "openai", 1*time.Millisecond)
	c.RecordRoutingDecision("latency", "anthropic", 3*time.Millisecond)

	if got := testutil.ToFloat64(c.routingDecisions.WithLabelValues("cost", "openai")); got != 2 {
		t.Errorf("Expected 2 cost/openai decisions, got %v", got)
	}
	if got := testutil.ToFloat64(c.routingDecisions.WithLabelValues("latency", "anthropic")); got != 1 {
		t.Errorf("Expected 1 latency/anthropic decision, got %v", got)
	}
}

func TestCollector_RecordLimitCheck(t *testing.T) {
	c := NewCollector("test", nil)

	c.RecordLimitCheck("user", true)
	c.RecordLimitCheck("user", false)
	c.RecordLimitCheck("user", false)

	if got := testutil.ToFloat64(c.limitChecks.WithLabelValues("user", "allowed")); got != 1 {
		t.Errorf("Expected 1 allowed check, got %v", got)
	}
	if got := testutil.ToFloat64(c.limitChecks.WithLabelValues("user", "denied")); got != 2 {
		t.Errorf("Expected 2 denied checks, got %v", got)
	}
	// Denials also count as violations.
	if got := testutil.ToFloat64(c.limitViolations.WithLabelValues("user")); got != 2 {
		t.Errorf("Expected 2 violations, got %v", got)
	}
}

func TestCollector_PipelineGauges(t *testing.T) {
	stats := &stubStats{dropped: 3, flushed: 40, pending: 7}
	c := NewCollector("test", stats)

	if got := testutil.ToFloat64(c.eventsDropped); got != 3 {
		t.Errorf("Expected dropped gauge 3, got %v", got)
	}
	if got := testutil.ToFloat64(c.eventsFlushed); got != 40 {
		t.Errorf("Expected flushed gauge 40, got %v", got)
	}
	if got := testutil.ToFloat64(c.bufferDepth); got != 7 {
		t.Errorf("Expected buffer depth gauge 7, got %v", got)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector("test", nil)
	c.RecordRoutingFailure("no_eligible_provider")
	c.RecordAlertTransition("firing", "critical")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from /metrics, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "test_routing_failures_total") {
		t.Error("Exposition should contain routing failure counter")
	}
	if !strings.Contains(body, "test_alert_transitions_total") {
		t.Error("Exposition should contain alert transition counter")
	}
}
