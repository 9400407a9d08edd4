package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"mercator-hq/ganymede/pkg/alerting"
	"mercator-hq/ganymede/pkg/metrics"
	"mercator-hq/ganymede/pkg/ratelimit"
)

// errorResponse is the JSON body for all error replies.
type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, errorResponse{Error: fmt.Sprintf(format, args...)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

// handleReady reports ready once the registry holds at least one
// candidate.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	candidates := s.gw.Registry.Len()

	status := "ready"
	statusCode := http.StatusOK
	if candidates == 0 {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, map[string]any{
		"status":     status,
		"candidates": candidates,
		"timestamp":  time.Now().Unix(),
	})
}

// candidateView is the wire shape of a registry entry.
type candidateView struct {
	Provider        string  `json:"provider"`
	Model           string  `json:"model"`
	Vision          bool    `json:"vision"`
	ToolUse         bool    `json:"tool_use"`
	MaxContext      int     `json:"max_context"`
	MaxOutputTokens int     `json:"max_output_tokens"`
	InputPer1M      float64 `json:"input_per_1m"`
	OutputPer1M     float64 `json:"output_per_1m"`
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	candidates := s.gw.Registry.Candidates()

	views := make([]candidateView, 0, len(candidates))
	for _, c := range candidates {
		views = append(views, candidateView{
			Provider:        c.Provider,
			Model:           c.Model,
			Vision:          c.Capabilities.Vision,
			ToolUse:         c.Capabilities.ToolUse,
			MaxContext:      c.Capabilities.MaxContext,
			MaxOutputTokens: c.Capabilities.MaxOutputTokens,
			InputPer1M:      c.Pricing.InputPer1M,
			OutputPer1M:     c.Pricing.OutputPer1M,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": views})
}

func (s *Server) handleProviderSnapshots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": s.gw.Router.Snapshots()})
}

// parseRange reads start and end query parameters (RFC 3339). The
// default range is the last hour.
func parseRange(r *http.Request) (start, end time.Time, err error) {
	end = time.Now()
	start = end.Add(-time.Hour)

	if v := r.URL.Query().Get("end"); v != "" {
		end, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return start, end, fmt.Errorf("invalid end %q: %w", v, err)
		}
		start = end.Add(-time.Hour)
	}
	if v := r.URL.Query().Get("start"); v != "" {
		start, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return start, end, fmt.Errorf("invalid start %q: %w", v, err)
		}
	}
	return start, end, nil
}

func parseFilters(r *http.Request) metrics.Filters {
	return metrics.Filters{
		Provider: r.URL.Query().Get("provider"),
		Model:    r.URL.Query().Get("model"),
	}
}

func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	metric := r.URL.Query().Get("metric")
	if metric == "" {
		writeError(w, http.StatusBadRequest, "metric parameter is required")
		return
	}
	start, end, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	agg, err := s.gw.Store.GetAggregated(r.Context(), metric, start, end, parseFilters(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "aggregate query failed: %v", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"metric":    metric,
		"start":     start,
		"end":       end,
		"aggregate": agg,
	})
}

func (s *Server) handleTimeSeries(w http.ResponseWriter, r *http.Request) {
	metric := r.URL.Query().Get("metric")
	if metric == "" {
		writeError(w, http.StatusBadRequest, "metric parameter is required")
		return
	}
	start, end, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	bucket := time.Minute
	if v := r.URL.Query().Get("bucket"); v != "" {
		bucket, err = time.ParseDuration(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid bucket %q: %v", v, err)
			return
		}
	}

	points, err := s.gw.Store.GetTimeSeries(r.Context(), metric, start, end, bucket, parseFilters(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "time series query failed: %v", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"metric": metric,
		"bucket": bucket.String(),
		"points": points,
	})
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	onlyOpen := r.URL.Query().Get("open") == "true"
	writeJSON(w, http.StatusOK, map[string]any{"alerts": s.gw.Alerts.ListAlerts(onlyOpen)})
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	alert := s.gw.Alerts.GetAlert(r.PathValue("id"))
	if alert == nil {
		writeError(w, http.StatusNotFound, "alert %q not found", r.PathValue("id"))
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	alert, err := s.gw.Alerts.Acknowledge(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusConflict, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"rules": s.gw.Alerts.ListRules()})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule alerting.AlertRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule body: %v", err)
		return
	}

	created, err := s.gw.Alerts.CreateRule(&rule)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule := s.gw.Alerts.GetRule(r.PathValue("id"))
	if rule == nil {
		writeError(w, http.StatusNotFound, "rule %q not found", r.PathValue("id"))
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var rule alerting.AlertRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule body: %v", err)
		return
	}
	rule.ID = r.PathValue("id")

	updated, err := s.gw.Alerts.UpdateRule(&rule)
	if err != nil {
		writeError(w, http.StatusNotFound, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.gw.Alerts.DeleteRule(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, "%v", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRemaining reports the remaining tokens for one scope/key pair
// without consuming any.
func (s *Server) handleRemaining(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope")
	if scope == "" {
		writeError(w, http.StatusBadRequest, "scope parameter is required")
		return
	}
	key := ratelimit.Key{Scope: ratelimit.Scope(scope), ID: r.URL.Query().Get("key")}

	writeJSON(w, http.StatusOK, map[string]any{
		"scope":     key.Scope,
		"key":       key.ID,
		"remaining": s.gw.Limiter.Remaining(key),
	})
}

func (s *Server) handleLimitStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"buckets": s.gw.Limiter.BucketCount(),
	})
}
