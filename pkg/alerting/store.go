package alerting

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store holds rules and alerts in memory behind one mutex.
//
// Holding the lock across the open-alert check and the insert is what
// enforces the at-most-one-open-alert-per-rule invariant under
// concurrent evaluation ticks.
type Store struct {
	mu     sync.Mutex
	rules  map[string]*AlertRule
	alerts map[string]*Alert

	// openByRule indexes the open alert per rule id, if any.
	openByRule map[string]*Alert
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		rules:      make(map[string]*AlertRule),
		alerts:     make(map[string]*Alert),
		openByRule: make(map[string]*Alert),
	}
}

// CreateRule validates and stores a new rule, assigning an ID when
// absent.
func (s *Store) CreateRule(rule *AlertRule) (*AlertRule, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rule
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	} else if _, exists := s.rules[cp.ID]; exists {
		return nil, fmt.Errorf("rule %s already exists", cp.ID)
	}
	if cp.Aggregation == "" {
		cp.Aggregation = AggAvg
	}
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now

	s.rules[cp.ID] = &cp
	out := cp
	return &out, nil
}

// UpdateRule replaces an existing rule.
func (s *Store) UpdateRule(rule *AlertRule) (*AlertRule, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.rules[rule.ID]
	if !ok {
		return nil, fmt.Errorf("rule %s not found", rule.ID)
	}

	cp := *rule
	if cp.Aggregation == "" {
		cp.Aggregation = AggAvg
	}
	cp.CreatedAt = existing.CreatedAt
	cp.UpdatedAt = time.Now()
	s.rules[cp.ID] = &cp
	out := cp
	return &out, nil
}

// DeleteRule removes a rule. Its open alert, if any, stays in history
// but no longer blocks anything.
func (s *Store) DeleteRule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[id]; !ok {
		return fmt.Errorf("rule %s not found", id)
	}
	delete(s.rules, id)
	delete(s.openByRule, id)
	return nil
}

// GetRule returns a copy of the rule, or nil if absent.
func (s *Store) GetRule(id string) *AlertRule {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[id]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

// ListRules returns copies of all rules sorted by name.
func (s *Store) ListRules() []*AlertRule {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*AlertRule, 0, len(s.rules))
	for _, r := range s.rules {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// OpenAlert returns a copy of the rule's open alert, or nil.
func (s *Store) OpenAlert(ruleID string) *Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.openByRule[ruleID]
	if !ok {
		return nil
	}
	cp := *a
	return &cp
}

// OpenAlertIfAbsent atomically creates a firing alert for the rule
// unless one is already open. Returns the alert and whether it was
// created by this call; concurrent racing creations collapse to one.
func (s *Store) OpenAlertIfAbsent(rule *AlertRule, value float64) (*Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.openByRule[rule.ID]; ok {
		cp := *existing
		return &cp, false
	}

	alert := &Alert{
		ID:                 uuid.NewString(),
		RuleID:             rule.ID,
		State:              StateFiring,
		StartedAt:          time.Now(),
		ValueAtTrigger:     value,
		ThresholdAtTrigger: rule.Threshold,
		Severity:           rule.Severity,
	}
	s.alerts[alert.ID] = alert
	s.openByRule[rule.ID] = alert

	cp := *alert
	return &cp, true
}

// ResolveOpenAlert transitions the rule's open alert to resolved.
// Returns the resolved alert, or nil if no alert was open (resolution
// happens exactly once).
func (s *Store) ResolveOpenAlert(ruleID string) *Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, ok := s.openByRule[ruleID]
	if !ok {
		return nil
	}

	alert.State = StateResolved
	alert.ResolvedAt = time.Now()
	delete(s.openByRule, ruleID)

	cp := *alert
	return &cp
}

// Acknowledge transitions a firing alert to acknowledged. It does not
// block future auto-resolution.
func (s *Store) Acknowledge(alertID string) (*Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, ok := s.alerts[alertID]
	if !ok {
		return nil, fmt.Errorf("alert %s not found", alertID)
	}
	if alert.State != StateFiring {
		return nil, fmt.Errorf("alert %s is %s, only firing alerts can be acknowledged",
			alertID, alert.State)
	}

	alert.State = StateAcknowledged
	alert.AcknowledgedAt = time.Now()

	cp := *alert
	return &cp, nil
}

// GetAlert returns a copy of one alert, or nil.
func (s *Store) GetAlert(id string) *Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[id]
	if !ok {
		return nil
	}
	cp := *a
	return &cp
}

// ListAlerts returns copies of alerts, newest first. With onlyOpen,
// resolved alerts are skipped.
func (s *Store) ListAlerts(onlyOpen bool) []*Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		if onlyOpen && !a.State.Open() {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}
