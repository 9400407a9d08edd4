package config

import "time"

// ApplyDefaults fills in default values for any zero-valued configuration
// fields. It modifies the config in place and is safe to call multiple
// times (idempotent).
func ApplyDefaults(cfg *Config) {
	// Registry defaults
	if cfg.Registry.Path == "" {
		cfg.Registry.Path = "config/providers.yaml"
	}
	if cfg.Registry.ReloadDebounce == 0 {
		cfg.Registry.ReloadDebounce = 500 * time.Millisecond
	}

	// Metrics defaults. StoragePath stays empty unless configured; an
	// empty path selects the in-memory backend.
	if cfg.Metrics.BufferSize == 0 {
		cfg.Metrics.BufferSize = 4096
	}
	if cfg.Metrics.FlushSize == 0 {
		cfg.Metrics.FlushSize = 100
	}
	if cfg.Metrics.FlushInterval == 0 {
		cfg.Metrics.FlushInterval = 5 * time.Second
	}
	if cfg.Metrics.FlushRetryMax == 0 {
		cfg.Metrics.FlushRetryMax = 5
	}
	if cfg.Metrics.RollupSchedule == "" {
		cfg.Metrics.RollupSchedule = "* * * * *"
	}
	if cfg.Metrics.Retention.RawEvents == 0 {
		cfg.Metrics.Retention.RawEvents = 7 * 24 * time.Hour
	}
	if cfg.Metrics.Retention.Minute == 0 {
		cfg.Metrics.Retention.Minute = 30 * 24 * time.Hour
	}
	if cfg.Metrics.Retention.Hour == 0 {
		cfg.Metrics.Retention.Hour = 90 * 24 * time.Hour
	}
	if cfg.Metrics.Retention.Day == 0 {
		cfg.Metrics.Retention.Day = 365 * 24 * time.Hour
	}

	// Rate limit defaults
	if cfg.RateLimit.IdleEviction == 0 {
		cfg.RateLimit.IdleEviction = 24 * time.Hour
	}
	if cfg.RateLimit.SweepInterval == 0 {
		cfg.RateLimit.SweepInterval = 10 * time.Minute
	}
	if cfg.RateLimit.PersistInterval == 0 {
		cfg.RateLimit.PersistInterval = 30 * time.Second
	}
	for scope, sc := range cfg.RateLimit.Scopes {
		if sc.Window == 0 {
			sc.Window = time.Minute
			cfg.RateLimit.Scopes[scope] = sc
		}
	}

	// Routing defaults
	if cfg.Routing.DefaultStrategy == "" {
		cfg.Routing.DefaultStrategy = "weighted"
	}
	if cfg.Routing.SuccessRateFloor == 0 {
		cfg.Routing.SuccessRateFloor = 0.8
	}
	if cfg.Routing.SnapshotTTL == 0 {
		cfg.Routing.SnapshotTTL = 60 * time.Second
	}
	if cfg.Routing.SnapshotWindow == 0 {
		cfg.Routing.SnapshotWindow = 15 * time.Minute
	}
	if cfg.Routing.MinSampleSize == 0 {
		cfg.Routing.MinSampleSize = 50
	}
	if cfg.Routing.Weighted.LatencyWeight == 0 && cfg.Routing.Weighted.CostWeight == 0 {
		cfg.Routing.Weighted.LatencyWeight = 50
		cfg.Routing.Weighted.CostWeight = 50
	}
	if cfg.Routing.Failover.FailureThreshold == 0 {
		cfg.Routing.Failover.FailureThreshold = 3
	}

	// Alerting defaults
	if cfg.Alerting.EvaluationInterval == 0 {
		cfg.Alerting.EvaluationInterval = 60 * time.Second
	}
	if cfg.Alerting.Epsilon == 0 {
		cfg.Alerting.Epsilon = 1e-9
	}
	if cfg.Alerting.FeedBuffer == 0 {
		cfg.Alerting.FeedBuffer = 64
	}

	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = "127.0.0.1:8090"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = "info"
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = "json"
	}
	if cfg.Telemetry.Prometheus.Namespace == "" {
		cfg.Telemetry.Prometheus.Namespace = "ganymede"
	}
}

// DefaultConfig returns a fully defaulted configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		Telemetry: TelemetryConfig{
			Prometheus: PrometheusConfig{Enabled: true},
		},
		Registry: RegistryConfig{Watch: true},
	}
	ApplyDefaults(cfg)
	return cfg
}
