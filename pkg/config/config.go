package config

import "time"

// Config is the root configuration structure for Ganymede.
// It contains all configuration sections for the provider registry,
// metrics store, rate limiter, router, alert manager, operator server,
// and telemetry settings.
type Config struct {
	// Registry contains configuration for the provider/pricing registry
	// including the candidate file path and hot-reload settings.
	Registry RegistryConfig `yaml:"registry"`

	// Metrics contains configuration for the metrics store including
	// buffering, flush behavior, rollups, and retention.
	Metrics MetricsConfig `yaml:"metrics"`

	// RateLimit contains configuration for admission control including
	// per-scope limits and bucket eviction.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Routing contains configuration for the routing engine including
	// the default strategy, eligibility floors, and snapshot caching.
	Routing RoutingConfig `yaml:"routing"`

	// Alerting contains configuration for alert rule evaluation.
	Alerting AlertingConfig `yaml:"alerting"`

	// Server contains configuration for the operator HTTP server.
	Server ServerConfig `yaml:"server"`

	// Telemetry contains configuration for logging and Prometheus metrics.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// RegistryConfig contains configuration for the provider candidate registry.
type RegistryConfig struct {
	// Path is the YAML file holding provider/model candidates.
	// Default: "config/providers.yaml"
	Path string `yaml:"path"`

	// Watch enables hot reload of the candidate file via fsnotify.
	// Default: true
	Watch bool `yaml:"watch"`

	// ReloadDebounce is how long to wait after a file event before
	// reloading, coalescing editor write bursts.
	// Default: 500ms
	ReloadDebounce time.Duration `yaml:"reload_debounce"`
}

// MetricsConfig contains configuration for the metrics store.
type MetricsConfig struct {
	// StoragePath is the SQLite database file for events and aggregates.
	// An empty path selects the in-memory backend, losing history on
	// restart.
	StoragePath string `yaml:"storage_path"`

	// BufferSize is the maximum number of events held in memory before
	// the oldest are dropped.
	// Default: 4096
	BufferSize int `yaml:"buffer_size"`

	// FlushSize is the number of buffered events that triggers a flush.
	// Default: 100
	FlushSize int `yaml:"flush_size"`

	// FlushInterval is the maximum time between flushes.
	// Default: 5s
	FlushInterval time.Duration `yaml:"flush_interval"`

	// FlushRetryMax is the maximum number of retries for a failed flush.
	// Default: 5
	FlushRetryMax int `yaml:"flush_retry_max"`

	// RollupSchedule is the cron expression driving 1-minute rollups.
	// Coarser rollups and retention purges run from the same scheduler.
	// Default: "* * * * *" (every minute)
	RollupSchedule string `yaml:"rollup_schedule"`

	// Retention controls how long data is kept at each resolution.
	Retention RetentionConfig `yaml:"retention"`
}

// RetentionConfig controls retention per resolution. Zero values fall
// back to defaults; retention never disables itself.
type RetentionConfig struct {
	// RawEvents is how long raw events are kept. Default: 168h (7d)
	RawEvents time.Duration `yaml:"raw_events"`

	// Minute is how long 1-minute buckets are kept. Default: 720h (30d)
	Minute time.Duration `yaml:"minute"`

	// Hour is how long 1-hour buckets are kept. Default: 2160h (90d)
	Hour time.Duration `yaml:"hour"`

	// Day is how long 1-day buckets are kept. Default: 8760h (365d)
	Day time.Duration `yaml:"day"`
}

// RateLimitConfig contains configuration for the rate limiter.
type RateLimitConfig struct {
	// Scopes maps scope types (user, provider, ip, global) to limits.
	Scopes map[string]ScopeLimitConfig `yaml:"scopes"`

	// IdleEviction is how long an untouched bucket survives before the
	// sweep removes it.
	// Default: 24h
	IdleEviction time.Duration `yaml:"idle_eviction"`

	// SweepInterval is how often the eviction sweep runs.
	// Default: 10m
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// FailOpen allows requests when bucket state persistence fails.
	// Default: false (fail-closed, deny)
	FailOpen bool `yaml:"fail_open"`

	// StoragePath is the SQLite database file for bucket state snapshots.
	// Empty disables persistence (buckets are rebuilt full on restart).
	StoragePath string `yaml:"storage_path"`

	// PersistInterval is how often live bucket state is snapshotted.
	// Default: 30s
	PersistInterval time.Duration `yaml:"persist_interval"`
}

// ScopeLimitConfig is the token bucket shape for one scope type.
type ScopeLimitConfig struct {
	// Limit is the number of requests allowed per window.
	Limit int64 `yaml:"limit"`

	// Window is the refill window. Refill rate = Limit / Window.
	// Default: 1m
	Window time.Duration `yaml:"window"`

	// Burst is extra capacity above Limit. Capacity = Limit + Burst.
	Burst int64 `yaml:"burst"`
}

// RoutingConfig contains configuration for the routing engine.
type RoutingConfig struct {
	// DefaultStrategy is used when a request has no strategy override.
	// Values: "latency", "cost", "weighted", "model-rules",
	// "round-robin", "failover".
	// Default: "weighted"
	DefaultStrategy string `yaml:"default_strategy"`

	// SuccessRateFloor excludes candidates whose rolling success rate is
	// below this value. Candidates without samples are not excluded.
	// Default: 0.8
	SuccessRateFloor float64 `yaml:"success_rate_floor"`

	// SnapshotTTL is the freshness window for provider metric snapshots.
	// Default: 60s
	SnapshotTTL time.Duration `yaml:"snapshot_ttl"`

	// SnapshotWindow is the metrics lookback used to build snapshots.
	// Default: 15m
	SnapshotWindow time.Duration `yaml:"snapshot_window"`

	// MinSampleSize is the request count at which routing confidence
	// reaches 1.0.
	// Default: 50
	MinSampleSize int64 `yaml:"min_sample_size"`

	// Weighted contains weights for the weighted strategy.
	Weighted WeightedConfig `yaml:"weighted"`

	// ModelRules contains the rule list for the model-rules strategy,
	// evaluated in priority order.
	ModelRules []ModelRuleConfig `yaml:"model_rules"`

	// Failover contains the provider preference chain for the failover
	// strategy.
	Failover FailoverConfig `yaml:"failover"`
}

// WeightedConfig holds the percentage weights for the weighted strategy.
// LatencyWeight + CostWeight must sum to 100.
type WeightedConfig struct {
	// LatencyWeight is the percentage weight of normalized P95 latency.
	// Default: 50
	LatencyWeight int `yaml:"latency_weight"`

	// CostWeight is the percentage weight of normalized estimated cost.
	// Default: 50
	CostWeight int `yaml:"cost_weight"`
}

// ModelRuleConfig is one rule for the model-rules strategy. The first
// rule whose condition matches the request wins.
type ModelRuleConfig struct {
	// Name identifies the rule in logs and decisions.
	Name string `yaml:"name"`

	// Priority orders rules; lower evaluates first.
	Priority int `yaml:"priority"`

	// MaxCost matches requests whose MaxCost ceiling is at or below
	// this value. Zero disables the condition.
	MaxCost float64 `yaml:"max_cost"`

	// MaxLatency matches requests whose MaxLatency ceiling is at or
	// below this value. Zero disables the condition.
	MaxLatency time.Duration `yaml:"max_latency"`

	// RequiresVision matches requests that require vision support.
	RequiresVision bool `yaml:"requires_vision"`

	// MaxTokens matches requests needing at least this many output
	// tokens. Zero disables the condition.
	MaxTokens int `yaml:"max_tokens"`

	// Providers maps preferred provider IDs to weights used to build
	// the sub-ranking when this rule wins.
	Providers map[string]int `yaml:"providers"`
}

// FailoverConfig configures the failover strategy.
type FailoverConfig struct {
	// Chain is the ordered provider preference list; the first entry is
	// the primary.
	Chain []string `yaml:"chain"`

	// FailureThreshold is the number of consecutive reported failures
	// before the active provider is demoted to the next in the chain.
	// Default: 3
	FailureThreshold int `yaml:"failure_threshold"`
}

// AlertingConfig contains configuration for the alert manager.
type AlertingConfig struct {
	// EvaluationInterval is how often enabled rules are evaluated.
	// Default: 60s
	EvaluationInterval time.Duration `yaml:"evaluation_interval"`

	// Epsilon is the tolerance applied to equality operators.
	// Default: 1e-9
	Epsilon float64 `yaml:"epsilon"`

	// FeedBuffer is the per-subscriber buffer for the alert event feed.
	// Default: 64
	FeedBuffer int `yaml:"feed_buffer"`
}

// ServerConfig contains configuration for the operator HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:8090"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading a request.
	// Default: 15s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration for writing a response.
	// Default: 15s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ShutdownTimeout is the maximum duration for graceful shutdown.
	// Default: 10s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TelemetryConfig contains configuration for logging and metrics export.
type TelemetryConfig struct {
	// Logging configures the structured logger.
	Logging LoggingConfig `yaml:"logging"`

	// Prometheus configures the Prometheus exposition.
	Prometheus PrometheusConfig `yaml:"prometheus"`
}

// LoggingConfig configures the slog-based logger.
type LoggingConfig struct {
	// Level is the minimum log level ("debug", "info", "warn", "error").
	// Default: "info"
	Level string `yaml:"level"`

	// Format is the output format ("json", "text").
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file:line in log records.
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// PrometheusConfig configures Prometheus metric exposition.
type PrometheusConfig struct {
	// Enabled controls whether collectors are registered and /metrics
	// is served.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Namespace is the metric name prefix.
	// Default: "ganymede"
	Namespace string `yaml:"namespace"`
}
