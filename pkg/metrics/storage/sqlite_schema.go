package storage

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema contains the SQL statements to create the metrics database
// schema. Timestamps are stored as Unix milliseconds; bucket sample
// reservoirs are stored as JSON arrays.
const Schema = `
-- Raw metric events (append-only)
CREATE TABLE IF NOT EXISTS metric_events (
    id TEXT PRIMARY KEY,
    timestamp INTEGER NOT NULL,
    kind TEXT NOT NULL,
    provider TEXT NOT NULL DEFAULT '',
    model TEXT NOT NULL DEFAULT '',
    latency_ms INTEGER NOT NULL DEFAULT 0,
    success INTEGER NOT NULL DEFAULT 0,
    input_tokens INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    cost REAL NOT NULL DEFAULT 0,
    cache_hit INTEGER NOT NULL DEFAULT 0,
    scope TEXT NOT NULL DEFAULT '',
    scope_key TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_metric_events_timestamp
    ON metric_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_metric_events_provider_model
    ON metric_events(provider, model, timestamp);

-- Time-bucketed aggregates at 1m/1h/1d resolutions
CREATE TABLE IF NOT EXISTS aggregate_buckets (
    metric TEXT NOT NULL,
    resolution TEXT NOT NULL,
    start INTEGER NOT NULL,
    provider TEXT NOT NULL DEFAULT '',
    model TEXT NOT NULL DEFAULT '',
    count INTEGER NOT NULL,
    sum REAL NOT NULL,
    min REAL NOT NULL,
    max REAL NOT NULL,
    p50 REAL NOT NULL,
    p95 REAL NOT NULL,
    p99 REAL NOT NULL,
    samples TEXT NOT NULL DEFAULT '[]',
    PRIMARY KEY (metric, resolution, start, provider, model)
);

CREATE INDEX IF NOT EXISTS idx_aggregate_buckets_lookup
    ON aggregate_buckets(metric, resolution, start);

-- Schema version table
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY
);
`
