package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"mercator-hq/ganymede/pkg/metrics"
)

// errInjectedFailure is returned by test hooks that simulate storage
// failure.
var errInjectedFailure = errors.New("injected storage failure")

// SQLiteConfig contains configuration for the SQLite backend.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int

	// WALMode enables Write-Ahead Logging for better concurrency.
	// Default: true
	WALMode bool

	// BusyTimeout is the wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/metrics.db",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteBackend implements metrics.Backend using SQLite. Purges run in
// single DELETE statements, so they are atomic with respect to
// concurrent reads.
type SQLiteBackend struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger
}

// NewSQLiteBackend opens (or creates) the database and initializes the
// schema.
func NewSQLiteBackend(config *SQLiteConfig) (*SQLiteBackend, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}

	logger := slog.Default().With("component", "metrics.storage.sqlite")

	db, err := sql.Open("sqlite", config.Path)
	if err != nil {
		return nil, fmt.Errorf("open metrics database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)

	b := &SQLiteBackend{
		db:     db,
		config: config,
		logger: logger,
	}

	if err := b.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite metrics storage initialized",
		"path", config.Path,
		"wal_mode", config.WALMode,
	)
	return b, nil
}

// initialize sets pragmas and creates the schema.
func (b *SQLiteBackend) initialize() error {
	if b.config.WALMode {
		if _, err := b.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("enable WAL: %w", err)
		}
	}
	if _, err := b.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", b.config.BusyTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := b.db.Exec(Schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := b.db.Exec("INSERT OR IGNORE INTO schema_version (version) VALUES (?)", SchemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return nil
}

// InsertEvents persists a batch of events in one transaction.
func (b *SQLiteBackend) InsertEvents(ctx context.Context, events []*metrics.MetricEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO metric_events
		(id, timestamp, kind, provider, model, latency_ms, success,
		 input_tokens, output_tokens, cost, cache_hit, scope, scope_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		_, err := stmt.ExecContext(ctx,
			e.ID, e.Timestamp.UnixMilli(), string(e.Kind), e.Provider, e.Model,
			e.Latency.Milliseconds(), boolToInt(e.Success),
			e.InputTokens, e.OutputTokens, e.Cost,
			boolToInt(e.CacheHit), e.Scope, e.ScopeKey)
		if err != nil {
			return fmt.Errorf("insert event %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

// QueryEvents returns events in [start, end) matching the filters,
// ordered by timestamp.
func (b *SQLiteBackend) QueryEvents(ctx context.Context, start, end time.Time, f metrics.Filters) ([]*metrics.MetricEvent, error) {
	query := `
		SELECT id, timestamp, kind, provider, model, latency_ms, success,
		       input_tokens, output_tokens, cost, cache_hit, scope, scope_key
		FROM metric_events
		WHERE timestamp >= ? AND timestamp < ?`
	args := []any{start.UnixMilli(), end.UnixMilli()}

	if f.Provider != "" {
		query += " AND provider = ?"
		args = append(args, f.Provider)
	}
	if f.Model != "" {
		query += " AND model = ?"
		args = append(args, f.Model)
	}
	query += " ORDER BY timestamp"

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []*metrics.MetricEvent
	for rows.Next() {
		var e metrics.MetricEvent
		var ts, latencyMs int64
		var success, cacheHit int
		var kind string
		if err := rows.Scan(&e.ID, &ts, &kind, &e.Provider, &e.Model,
			&latencyMs, &success, &e.InputTokens, &e.OutputTokens,
			&e.Cost, &cacheHit, &e.Scope, &e.ScopeKey); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts)
		e.Kind = metrics.EventKind(kind)
		e.Latency = time.Duration(latencyMs) * time.Millisecond
		e.Success = success != 0
		e.CacheHit = cacheHit != 0
		out = append(out, &e)
	}
	return out, rows.Err()
}

// UpsertBuckets inserts or replaces aggregate buckets in one
// transaction.
func (b *SQLiteBackend) UpsertBuckets(ctx context.Context, buckets []*metrics.AggregateBucket) error {
	if len(buckets) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO aggregate_buckets
		(metric, resolution, start, provider, model,
		 count, sum, min, max, p50, p95, p99, samples)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, bk := range buckets {
		samples, err := json.Marshal(bk.Samples)
		if err != nil {
			return fmt.Errorf("marshal samples: %w", err)
		}
		_, err = stmt.ExecContext(ctx,
			bk.Metric, string(bk.Resolution), bk.Start.UnixMilli(),
			bk.Provider, bk.Model,
			bk.Count, bk.Sum, bk.Min, bk.Max, bk.P50, bk.P95, bk.P99,
			string(samples))
		if err != nil {
			return fmt.Errorf("upsert bucket %s/%s: %w", bk.Metric, bk.Resolution, err)
		}
	}

	return tx.Commit()
}

// QueryBuckets returns buckets for metric/resolution in [start, end),
// matching the filters, ordered by start.
func (b *SQLiteBackend) QueryBuckets(ctx context.Context, metric string, res metrics.Resolution, start, end time.Time, f metrics.Filters) ([]*metrics.AggregateBucket, error) {
	query := `
		SELECT metric, resolution, start, provider, model,
		       count, sum, min, max, p50, p95, p99, samples
		FROM aggregate_buckets
		WHERE metric = ? AND resolution = ? AND start >= ? AND start < ?`
	args := []any{metric, string(res), start.UnixMilli(), end.UnixMilli()}

	if f.Provider != "" {
		query += " AND provider = ?"
		args = append(args, f.Provider)
	}
	if f.Model != "" {
		query += " AND model = ?"
		args = append(args, f.Model)
	}
	query += " ORDER BY start"

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query buckets: %w", err)
	}
	defer rows.Close()

	var out []*metrics.AggregateBucket
	for rows.Next() {
		var bk metrics.AggregateBucket
		var startMs int64
		var resolution, samples string
		if err := rows.Scan(&bk.Metric, &resolution, &startMs, &bk.Provider, &bk.Model,
			&bk.Count, &bk.Sum, &bk.Min, &bk.Max, &bk.P50, &bk.P95, &bk.P99,
			&samples); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		bk.Resolution = metrics.Resolution(resolution)
		bk.Start = time.UnixMilli(startMs)
		if err := json.Unmarshal([]byte(samples), &bk.Samples); err != nil {
			return nil, fmt.Errorf("unmarshal samples: %w", err)
		}
		out = append(out, &bk)
	}
	return out, rows.Err()
}

// PurgeEvents deletes events older than the cutoff.
func (b *SQLiteBackend) PurgeEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := b.db.ExecContext(ctx,
		"DELETE FROM metric_events WHERE timestamp < ?", olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge events: %w", err)
	}
	return res.RowsAffected()
}

// PurgeBuckets deletes buckets of a resolution older than the cutoff.
func (b *SQLiteBackend) PurgeBuckets(ctx context.Context, res metrics.Resolution, olderThan time.Time) (int64, error) {
	result, err := b.db.ExecContext(ctx,
		"DELETE FROM aggregate_buckets WHERE resolution = ? AND start < ?",
		string(res), olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge buckets: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// boolToInt converts a bool to its SQLite integer form.
func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// compile-time interface checks
var (
	_ metrics.Backend = (*SQLiteBackend)(nil)
	_ metrics.Backend = (*MemoryBackend)(nil)
)
