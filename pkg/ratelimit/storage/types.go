package storage

import (
	"context"
	"time"
)

// BucketState is the persisted form of a single token bucket. It is
// backend-agnostic; the limiter reconstructs live buckets from these
// records at startup.
type BucketState struct {
	// Scope is the limiting dimension (user, provider, ip, global).
	Scope string

	// Key is the identifier within the scope.
	Key string

	// Tokens is the token count at snapshot time.
	Tokens float64

	// LastRefill is the bucket's refill timestamp at snapshot time.
	LastRefill time.Time

	// UpdatedAt is when this state was written.
	UpdatedAt time.Time
}

// Backend defines the interface for bucket state persistence.
// Implementations must be safe for concurrent use.
type Backend interface {
	// SaveStates persists a full snapshot of bucket states, replacing
	// any previous snapshot for the same (scope, key) pairs.
	SaveStates(ctx context.Context, states []*BucketState) error

	// LoadStates returns all persisted bucket states. Returns an empty
	// slice when nothing has been persisted.
	LoadStates(ctx context.Context) ([]*BucketState, error)

	// DeleteState removes the persisted state for one bucket. No-op if
	// the state does not exist.
	DeleteState(ctx context.Context, scope, key string) error

	// Close releases backend resources.
	Close() error
}
