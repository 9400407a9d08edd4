// Package ratelimit implements multi-scope admission control with
// token buckets.
//
// Each (scope, key) pair gets its own bucket, created lazily on first
// check and evicted after an idle period. A bucket holds limit+burst
// tokens and refills continuously at limit/window. Checks on the same
// key are serialized; checks on different keys run in parallel across
// 64 shards.
//
// Composition across scopes is the caller's responsibility: check
// user, then provider, then global, short-circuiting on the first
// denial.
//
// Bucket state can be persisted through a storage backend so restarts
// do not reset quotas. While the backend is unhealthy the limiter
// applies a configurable fail-open or fail-closed policy, defaulting
// to fail-closed.
package ratelimit
