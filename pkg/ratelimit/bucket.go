package ratelimit

import (
	"math"
	"sync"
	"time"
)

// bucket implements the token bucket algorithm for a single key.
//
// Tokens are a float so that refill accrues smoothly between checks
// rather than in whole-token steps. The invariant 0 <= tokens <=
// capacity holds after every operation.
//
// # Algorithm
//
//  1. refill = min(capacity, tokens + elapsedMs * refillRatePerMs)
//  2. if refilled tokens >= requested: subtract and allow
//  3. else deny; retryAfter = ceil((requested - tokens) / refillRatePerMs)
//
// Each bucket carries its own mutex so checks on different keys never
// contend.
type bucket struct {
	mu              sync.Mutex
	capacity        float64
	tokens          float64
	refillRatePerMs float64
	lastRefill      time.Time
	lastUsed        time.Time
}

// newBucket creates a full bucket for the given scope limit.
func newBucket(limit ScopeLimit, now time.Time) *bucket {
	capacity := float64(limit.Limit + limit.Burst)
	return &bucket{
		capacity:        capacity,
		tokens:          capacity,
		refillRatePerMs: float64(limit.Limit) / float64(limit.Window.Milliseconds()),
		lastRefill:      now,
		lastUsed:        now,
	}
}

// take attempts to consume n tokens at the given instant. The refill,
// availability check, and subtraction happen under one lock acquisition
// so concurrent checks on the same key cannot double-spend.
func (b *bucket) take(now time.Time, n int64) (allowed bool, remaining int64, retryAfter time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(now)
	b.lastUsed = now

	requested := float64(n)
	if b.tokens >= requested {
		b.tokens -= requested
		return true, int64(b.tokens), 0
	}

	deficit := requested - b.tokens
	waitMs := math.Ceil(deficit / b.refillRatePerMs)
	return false, int64(b.tokens), time.Duration(waitMs) * time.Millisecond
}

// refillLocked accrues tokens for the time elapsed since the last
// refill. Elapsed time is taken in fractional milliseconds so checks
// spaced closer than 1ms still accrue their share of refill. Caller
// must hold the lock.
func (b *bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}

	elapsedMs := float64(elapsed) / float64(time.Millisecond)
	b.tokens += elapsedMs * b.refillRatePerMs
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// idleSince reports whether the bucket has been unused since the cutoff.
func (b *bucket) idleSince(cutoff time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastUsed.Before(cutoff)
}

// snapshot returns the current token count and refill timestamp for
// persistence.
func (b *bucket) snapshot() (tokens float64, lastRefill time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens, b.lastRefill
}

// restore overwrites the bucket state from a persisted snapshot,
// clamped to the invariant range.
func (b *bucket) restore(tokens float64, lastRefill time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if tokens < 0 {
		tokens = 0
	}
	if tokens > b.capacity {
		tokens = b.capacity
	}
	b.tokens = tokens
	b.lastRefill = lastRefill
}
