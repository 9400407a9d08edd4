package routing

import (
	"mercator-hq/ganymede/pkg/registry"
)

// exclusion reasons reported in NoEligibleProviderError.
const (
	excludedVision      = "vision"
	excludedToolUse     = "tool_use"
	excludedMaxTokens   = "max_tokens"
	excludedMaxCost     = "max_cost"
	excludedMaxLatency  = "max_latency"
	excludedSuccessRate = "success_rate"
)

// filterEligible applies the request's hard requirements and the
// success-rate floor to the candidate set.
//
// Candidates without observations are not excluded by the latency
// ceiling or the success-rate floor: a new provider must be able to
// receive its first requests.
func filterEligible(req *RoutingRequest, candidates []*registry.Candidate,
	snaps map[string]*ProviderMetricsSnapshot, successFloor float64) ([]*registry.Candidate, map[string]int) {

	var eligible []*registry.Candidate
	excluded := make(map[string]int)

	for _, c := range candidates {
		if req.RequiresVision && !c.Capabilities.Vision {
			excluded[excludedVision]++
			continue
		}
		if req.RequiresToolUse && !c.Capabilities.ToolUse {
			excluded[excludedToolUse]++
			continue
		}
		if req.MaxTokens > 0 && c.Capabilities.MaxOutputTokens < req.MaxTokens {
			excluded[excludedMaxTokens]++
			continue
		}
		if req.MaxCost > 0 {
			in, out := estimateTokens(req)
			if c.EstimateCost(in, out) > req.MaxCost {
				excluded[excludedMaxCost]++
				continue
			}
		}

		snap := snaps[c.Key()]
		hasObservations := snap != nil && snap.RequestCount > 0

		if req.MaxLatency > 0 && hasObservations && snap.P95Latency > req.MaxLatency {
			excluded[excludedMaxLatency]++
			continue
		}
		if hasObservations && snap.SuccessRate < successFloor {
			excluded[excludedSuccessRate]++
			continue
		}

		eligible = append(eligible, c)
	}

	return eligible, excluded
}

// charsPerToken is the character-to-token estimation ratio used when a
// request does not carry explicit token counts.
const charsPerToken = 4

// defaultOutputTokens sizes the completion when the caller gives no
// estimate.
const defaultOutputTokens = 500

// estimateTokens returns the input/output token sizing for a request,
// estimating from prompt length where explicit counts are absent.
func estimateTokens(req *RoutingRequest) (input, output int) {
	input = req.InputTokens
	if input == 0 && req.PromptLength > 0 {
		input = (req.PromptLength + charsPerToken - 1) / charsPerToken
	}

	output = req.OutputTokens
	if output == 0 {
		if req.MaxTokens > 0 {
			output = req.MaxTokens
		} else {
			output = defaultOutputTokens
		}
	}
	return input, output
}
