package ratelimit

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"mercator-hq/ganymede/pkg/metrics"
	"mercator-hq/ganymede/pkg/ratelimit/storage"
)

// shardCount spreads keys across independent lock domains so checks on
// different keys do not contend. Must be a power of two.
const shardCount = 64

// ViolationRecorder receives denial events. The metrics store
// satisfies this interface; its Record is fire-and-forget.
type ViolationRecorder interface {
	Record(event *metrics.MetricEvent)
}

// Config contains configuration for the limiter.
type Config struct {
	// Limits maps each scope to its bucket parameters. Scopes without
	// an entry are unlimited.
	Limits map[Scope]ScopeLimit

	// IdleEviction is how long a bucket may go unused before it is
	// evicted. Default: 24 hours.
	IdleEviction time.Duration

	// SweepInterval is how often the eviction sweep runs.
	// Default: 10 minutes.
	SweepInterval time.Duration

	// PersistInterval is how often bucket state is snapshotted to the
	// backend. Default: 30 seconds. Ignored without a backend.
	PersistInterval time.Duration

	// FailOpen allows requests while the persistence backend is
	// unhealthy. Default false: deny, protecting cost and capacity
	// guarantees at the price of availability.
	FailOpen bool
}

// DefaultConfig returns a config with default timing parameters and no
// limits.
func DefaultConfig() *Config {
	return &Config{
		Limits:          make(map[Scope]ScopeLimit),
		IdleEviction:    24 * time.Hour,
		SweepInterval:   10 * time.Minute,
		PersistInterval: 30 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	if c.IdleEviction <= 0 {
		c.IdleEviction = 24 * time.Hour
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 10 * time.Minute
	}
	if c.PersistInterval <= 0 {
		c.PersistInterval = 30 * time.Second
	}
}

// Limiter gates admission with per-key token buckets.
//
// Buckets are created lazily on first check and evicted after an idle
// period to bound memory. The key space is sharded so concurrent
// checks on different keys never serialize against each other, while
// checks on the same key are fully serialized.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Limiter struct {
	config   *Config
	shards   [shardCount]*shard
	backend  storage.Backend
	recorder ViolationRecorder
	logger   *slog.Logger

	// healthy tracks the persistence backend. Checks consult it to
	// apply the fail-open/fail-closed policy.
	healthy atomic.Bool

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type shard struct {
	mu      sync.Mutex
	buckets map[Key]*bucket
}

// NewLimiter creates a limiter. backend and recorder may be nil; a nil
// backend disables persistence (and the fail policy never applies), a
// nil recorder disables violation events.
//
// When a backend is present, previously persisted bucket state for
// still-configured scopes is restored so restarts do not reset quotas.
func NewLimiter(config *Config, backend storage.Backend, recorder ViolationRecorder) (*Limiter, error) {
	if config == nil {
		config = DefaultConfig()
	}
	config.applyDefaults()

	l := &Limiter{
		config:   config,
		backend:  backend,
		recorder: recorder,
		logger:   slog.Default().With("component", "ratelimit"),
		done:     make(chan struct{}),
	}
	l.healthy.Store(true)

	for i := range l.shards {
		l.shards[i] = &shard{buckets: make(map[Key]*bucket)}
	}

	if backend != nil {
		if err := l.restore(context.Background()); err != nil {
			return nil, err
		}
	}

	l.wg.Add(1)
	go l.sweepLoop()

	if backend != nil {
		l.wg.Add(1)
		go l.persistLoop()
	}

	return l, nil
}

// Check attempts to consume n tokens from the bucket for key. A scope
// with no configured limit always allows.
//
// The refill and subtraction for one key are atomic: concurrent checks
// on the same key cannot double-spend tokens. Denials are recorded as
// rate_limit events for audit and alerting; recording never blocks the
// check.
func (l *Limiter) Check(key Key, n int64) *CheckResult {
	limit, ok := l.config.Limits[key.Scope]
	if !ok {
		return &CheckResult{Allowed: true, Remaining: -1}
	}

	if l.backend != nil && !l.healthy.Load() && !l.config.FailOpen {
		l.recordViolation(key)
		return &CheckResult{Allowed: false, Limit: limit.Limit}
	}

	now := time.Now()
	b := l.getOrCreate(key, limit, now)
	allowed, remaining, retryAfter := b.take(now, n)

	if !allowed {
		l.recordViolation(key)
	}

	return &CheckResult{
		Allowed:    allowed,
		Remaining:  remaining,
		RetryAfter: retryAfter,
		Limit:      limit.Limit,
	}
}

// Remaining returns the whole tokens currently available for key
// without consuming any. Returns -1 for unlimited scopes.
func (l *Limiter) Remaining(key Key) int64 {
	limit, ok := l.config.Limits[key.Scope]
	if !ok {
		return -1
	}
	now := time.Now()
	b := l.getOrCreate(key, limit, now)
	_, remaining, _ := b.take(now, 0)
	return remaining
}

// BucketCount returns the number of live buckets across all shards.
func (l *Limiter) BucketCount() int {
	total := 0
	for _, s := range l.shards {
		s.mu.Lock()
		total += len(s.buckets)
		s.mu.Unlock()
	}
	return total
}

// Close stops the background loops and, when a backend is configured,
// writes a final state snapshot.
func (l *Limiter) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
		if l.backend != nil {
			err = l.persist(context.Background())
		}
	})
	return err
}

// getOrCreate returns the bucket for key, creating it if absent. The
// lookup-or-create and the lastUsed touch happen under the shard lock,
// so a concurrent eviction sweep cannot remove a bucket between lookup
// and use.
func (l *Limiter) getOrCreate(key Key, limit ScopeLimit, now time.Time) *bucket {
	s := l.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		b = newBucket(limit, now)
		s.buckets[key] = b
	}
	b.mu.Lock()
	b.lastUsed = now
	b.mu.Unlock()
	return b
}

func (l *Limiter) shardFor(key Key) *shard {
	h := fnv.New32a()
	h.Write([]byte(key.Scope))
	h.Write([]byte{0})
	h.Write([]byte(key.ID))
	return l.shards[h.Sum32()&(shardCount-1)]
}

// recordViolation emits a rate_limit denial event.
func (l *Limiter) recordViolation(key Key) {
	if l.recorder == nil {
		return
	}
	l.recorder.Record(&metrics.MetricEvent{
		Timestamp: time.Now(),
		Kind:      metrics.KindRateLimit,
		Scope:     string(key.Scope),
		ScopeKey:  key.ID,
	})
}

// sweepLoop periodically evicts idle buckets.
func (l *Limiter) sweepLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			evicted := l.sweep(time.Now())
			if evicted > 0 {
				l.logger.Debug("evicted idle buckets", "count", evicted)
			}
		}
	}
}

// sweep removes buckets unused since the idle cutoff. Holding the
// shard lock while checking lastUsed guarantees no check is admitted
// to an evicted bucket.
func (l *Limiter) sweep(now time.Time) int {
	cutoff := now.Add(-l.config.IdleEviction)
	evicted := 0

	for _, s := range l.shards {
		s.mu.Lock()
		for key, b := range s.buckets {
			if b.idleSince(cutoff) {
				delete(s.buckets, key)
				evicted++
				if l.backend != nil {
					if err := l.backend.DeleteState(context.Background(), string(key.Scope), key.ID); err != nil {
						l.logger.Warn("failed to delete persisted bucket state",
							"scope", key.Scope, "key", key.ID, "error", err)
					}
				}
			}
		}
		s.mu.Unlock()
	}
	return evicted
}

// persistLoop periodically snapshots bucket state to the backend.
func (l *Limiter) persistLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.PersistInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			if err := l.persist(context.Background()); err != nil {
				l.logger.Error("bucket state snapshot failed", "error", err)
			}
		}
	}
}

// persist writes the current bucket states and updates the health
// flag that drives the fail-open/fail-closed policy.
func (l *Limiter) persist(ctx context.Context) error {
	now := time.Now()
	var states []*storage.BucketState

	for _, s := range l.shards {
		s.mu.Lock()
		for key, b := range s.buckets {
			tokens, lastRefill := b.snapshot()
			states = append(states, &storage.BucketState{
				Scope:      string(key.Scope),
				Key:        key.ID,
				Tokens:     tokens,
				LastRefill: lastRefill,
				UpdatedAt:  now,
			})
		}
		s.mu.Unlock()
	}

	err := l.backend.SaveStates(ctx, states)
	l.healthy.Store(err == nil)
	return err
}

// restore rebuilds buckets from persisted state. States for scopes no
// longer configured are skipped.
func (l *Limiter) restore(ctx context.Context) error {
	states, err := l.backend.LoadStates(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	restored := 0
	for _, st := range states {
		limit, ok := l.config.Limits[Scope(st.Scope)]
		if !ok {
			continue
		}
		key := Key{Scope: Scope(st.Scope), ID: st.Key}
		b := newBucket(limit, now)
		b.restore(st.Tokens, st.LastRefill)
		s := l.shardFor(key)
		s.mu.Lock()
		s.buckets[key] = b
		s.mu.Unlock()
		restored++
	}

	if restored > 0 {
		l.logger.Info("restored bucket state", "buckets", restored)
	}
	return nil
}
