package routing

import (
	"time"

	"mercator-hq/ganymede/pkg/registry"
)

// RoutingRequest describes what a request needs from a provider. Zero
// values mean "no requirement".
type RoutingRequest struct {
	// RequiresVision restricts selection to vision-capable models.
	RequiresVision bool

	// RequiresToolUse restricts selection to tool-capable models.
	RequiresToolUse bool

	// MaxTokens is the required output token budget. Candidates whose
	// max output is smaller are ineligible.
	MaxTokens int

	// MaxCost is a hard ceiling on estimated request cost in USD.
	MaxCost float64

	// MaxLatency is a hard ceiling on the candidate's observed P95
	// latency. Candidates without observations are not excluded.
	MaxLatency time.Duration

	// InputTokens and OutputTokens size the request for cost
	// estimation. When zero they are estimated from PromptLength.
	InputTokens  int
	OutputTokens int

	// PromptLength is the request size in characters, used to estimate
	// token counts when explicit counts are absent.
	PromptLength int

	// TenantID and UserID identify the caller for audit and admission
	// control. Not used in ranking.
	TenantID string
	UserID   string

	// Strategy overrides the configured default strategy for this
	// request.
	Strategy string
}

// Alternative is a runner-up candidate included in a decision for
// observability.
type Alternative struct {
	Provider string  `json:"provider"`
	Model    string  `json:"model"`
	Score    float64 `json:"score"`
}

// RoutingDecision is the immutable result of provider selection.
// It is created fresh per request and never mutated after return.
type RoutingDecision struct {
	// ID uniquely identifies this decision. The caller passes it back
	// with the outcome report.
	ID string `json:"id"`

	Provider string `json:"provider"`
	Model    string `json:"model"`

	// Strategy is the strategy that produced the ranking. May differ
	// from the requested strategy after a degradation fallback.
	Strategy string `json:"strategy"`

	// Reason is a human-readable explanation of the choice.
	Reason string `json:"reason"`

	// EstimatedCost is the projected request cost in USD from the
	// candidate's pricing and the request's token sizing.
	EstimatedCost float64 `json:"estimated_cost"`

	// EstimatedLatency is the candidate's average observed latency.
	// Zero when no observations exist.
	EstimatedLatency time.Duration `json:"estimated_latency"`

	// Confidence in [0,1] reflects how much historical data backs the
	// choice, lowered proportionally when the snapshot is stale.
	Confidence float64 `json:"confidence"`

	// Alternatives are the next candidates by the same ranking.
	Alternatives []Alternative `json:"alternatives,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ScoredCandidate pairs a registry candidate with its strategy score.
// Higher scores rank first.
type ScoredCandidate struct {
	Candidate *registry.Candidate
	Score     float64
}

// ProviderMetricsSnapshot holds rolling-window statistics for one
// (provider, model) pair, derived from the metrics store and cached
// with a short TTL.
type ProviderMetricsSnapshot struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`

	AvgLatency time.Duration `json:"avg_latency"`
	P50Latency time.Duration `json:"p50_latency"`
	P95Latency time.Duration `json:"p95_latency"`
	P99Latency time.Duration `json:"p99_latency"`

	// SuccessRate in [0,1]. Meaningful only when RequestCount > 0.
	SuccessRate float64 `json:"success_rate"`

	// AvgCost is the average observed request cost in USD.
	AvgCost float64 `json:"avg_cost"`

	// RequestCount is the number of requests in the window.
	RequestCount int64 `json:"request_count"`

	// RefreshedAt is when this snapshot was computed.
	RefreshedAt time.Time `json:"refreshed_at"`
}

// Age returns how old the snapshot is.
func (s *ProviderMetricsSnapshot) Age() time.Duration {
	return time.Since(s.RefreshedAt)
}
