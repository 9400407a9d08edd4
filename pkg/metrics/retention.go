package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetentionConfig controls how long data is kept at each resolution.
type RetentionConfig struct {
	// RawEvents is the raw event retention. Default: 7 days.
	RawEvents time.Duration

	// Minute is the 1-minute bucket retention. Default: 30 days.
	Minute time.Duration

	// Hour is the 1-hour bucket retention. Default: 90 days.
	Hour time.Duration

	// Day is the 1-day bucket retention. Default: 365 days.
	Day time.Duration
}

// DefaultRetentionConfig returns the default retention windows.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		RawEvents: 7 * 24 * time.Hour,
		Minute:    30 * 24 * time.Hour,
		Hour:      90 * 24 * time.Hour,
		Day:       365 * 24 * time.Hour,
	}
}

// Pruner enforces retention on raw events and aggregate buckets.
// Purging is idempotent and safe to run concurrently with reads; it
// only ever deletes data past the retention horizon, which no live
// query window should reach.
type Pruner struct {
	backend Backend
	config  *RetentionConfig
	logger  *slog.Logger
}

// NewPruner creates a retention pruner.
func NewPruner(backend Backend, config *RetentionConfig) *Pruner {
	if config == nil {
		config = DefaultRetentionConfig()
	}
	return &Pruner{
		backend: backend,
		config:  config,
		logger:  slog.Default().With("component", "metrics.retention"),
	}
}

// Prune deletes everything past its retention window. Raw events are
// only purged once rolled up, which is guaranteed by the raw retention
// (7d) far exceeding the rollup cadence (1m). Returns the total number
// of rows deleted.
func (p *Pruner) Prune(ctx context.Context, now time.Time) (int64, error) {
	var total int64

	deleted, err := p.backend.PurgeEvents(ctx, now.Add(-p.config.RawEvents))
	if err != nil {
		return total, fmt.Errorf("purge raw events: %w", err)
	}
	total += deleted

	for _, step := range []struct {
		res Resolution
		ttl time.Duration
	}{
		{ResolutionMinute, p.config.Minute},
		{ResolutionHour, p.config.Hour},
		{ResolutionDay, p.config.Day},
	} {
		deleted, err := p.backend.PurgeBuckets(ctx, step.res, now.Add(-step.ttl))
		if err != nil {
			return total, fmt.Errorf("purge %s buckets: %w", step.res, err)
		}
		total += deleted
	}

	if total > 0 {
		p.logger.Info("retention purge completed", "deleted", total)
	}
	return total, nil
}
