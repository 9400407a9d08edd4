// Package routing selects a provider/model for each request.
//
// Selection combines three inputs: the pricing/capability registry,
// cached metrics snapshots (TTL-bounded, refreshed in the background,
// never blocking the request path), and a selectable ranking strategy.
// Requests that no registered candidate can satisfy fail with
// NoEligibleProviderError; strategies whose telemetry inputs are
// missing degrade to round-robin with a warning instead of failing.
//
// Decision confidence scales with the winner's observed request count
// up to a configured minimum sample size, and drops proportionally
// when the backing snapshot has outlived its TTL.
package routing
