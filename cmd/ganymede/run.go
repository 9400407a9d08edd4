package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"mercator-hq/ganymede/pkg/alerting"
	"mercator-hq/ganymede/pkg/config"
	"mercator-hq/ganymede/pkg/gateway"
	"mercator-hq/ganymede/pkg/metrics"
	metricstorage "mercator-hq/ganymede/pkg/metrics/storage"
	"mercator-hq/ganymede/pkg/ratelimit"
	ratelimitstorage "mercator-hq/ganymede/pkg/ratelimit/storage"
	"mercator-hq/ganymede/pkg/registry"
	"mercator-hq/ganymede/pkg/routing"
	"mercator-hq/ganymede/pkg/routing/strategies"
	"mercator-hq/ganymede/pkg/server"
	"mercator-hq/ganymede/pkg/telemetry/logging"
	telemetrymetrics "mercator-hq/ganymede/pkg/telemetry/metrics"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Ganymede gateway",
	Long: `Start the Ganymede gateway with the specified configuration.

The gateway loads the provider registry, restores rate limit state,
starts the metrics scheduler and alert evaluation loop, and serves the
operator API on the configured address.

Examples:
  # Start with default config
  ganymede run

  # Start with custom config
  ganymede run --config /etc/ganymede/config.yaml

  # Override listen address
  ganymede run --listen 0.0.0.0:8090

  # Validate config without starting
  ganymede run --dry-run`,
	RunE: runGateway,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting")
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	if _, err := logging.Setup(logging.Config{
		Level:     cfg.Telemetry.Logging.Level,
		Format:    cfg.Telemetry.Logging.Format,
		AddSource: cfg.Telemetry.Logging.AddSource,
	}); err != nil {
		return err
	}

	if runFlags.dryRun {
		fmt.Println("✓ Configuration valid")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Provider registry, with optional hot reload.
	reg, err := registry.NewRegistry(cfg.Registry.Path)
	if err != nil {
		return fmt.Errorf("failed to load provider registry: %w", err)
	}
	fmt.Printf("✓ Registry loaded (%d candidates)\n", reg.Len())

	if cfg.Registry.Watch {
		watcher := registry.NewWatcher(reg, cfg.Registry.ReloadDebounce)
		go func() {
			if err := watcher.Watch(ctx); err != nil {
				slog.Warn("registry watcher exited", "error", err)
			}
		}()
	}

	// Metrics store and rollup scheduler.
	var metricsBackend metrics.Backend
	if cfg.Metrics.StoragePath != "" {
		sqliteCfg := metricstorage.DefaultSQLiteConfig()
		sqliteCfg.Path = cfg.Metrics.StoragePath
		metricsBackend, err = metricstorage.NewSQLiteBackend(sqliteCfg)
		if err != nil {
			return fmt.Errorf("failed to open metrics storage: %w", err)
		}
	} else {
		slog.Warn("no metrics storage path configured, using in-memory backend")
		metricsBackend = metricstorage.NewMemoryBackend()
	}

	store := metrics.NewStore(metricsBackend,
		&metrics.RecorderConfig{
			BufferSize:    cfg.Metrics.BufferSize,
			FlushSize:     cfg.Metrics.FlushSize,
			FlushInterval: cfg.Metrics.FlushInterval,
			RetryMax:      cfg.Metrics.FlushRetryMax,
		},
		&metrics.RetentionConfig{
			RawEvents: cfg.Metrics.Retention.RawEvents,
			Minute:    cfg.Metrics.Retention.Minute,
			Hour:      cfg.Metrics.Retention.Hour,
			Day:       cfg.Metrics.Retention.Day,
		})
	defer store.Close()

	scheduler := metrics.NewScheduler(store, cfg.Metrics.RollupSchedule)
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start metrics scheduler: %w", err)
	}
	defer scheduler.Stop()
	fmt.Println("✓ Metrics store initialized")

	// Rate limiter, with optional bucket state persistence.
	var limitBackend ratelimitstorage.Backend
	if cfg.RateLimit.StoragePath != "" {
		limitBackend, err = ratelimitstorage.NewSQLiteBackend(cfg.RateLimit.StoragePath)
		if err != nil {
			return fmt.Errorf("failed to open rate limit storage: %w", err)
		}
	}

	limits := make(map[ratelimit.Scope]ratelimit.ScopeLimit, len(cfg.RateLimit.Scopes))
	for scope, sl := range cfg.RateLimit.Scopes {
		limits[ratelimit.Scope(scope)] = ratelimit.ScopeLimit{
			Limit:  sl.Limit,
			Window: sl.Window,
			Burst:  sl.Burst,
		}
	}
	limiter, err := ratelimit.NewLimiter(&ratelimit.Config{
		Limits:          limits,
		IdleEviction:    cfg.RateLimit.IdleEviction,
		SweepInterval:   cfg.RateLimit.SweepInterval,
		PersistInterval: cfg.RateLimit.PersistInterval,
		FailOpen:        cfg.RateLimit.FailOpen,
	}, limitBackend, store)
	if err != nil {
		return fmt.Errorf("failed to create rate limiter: %w", err)
	}
	defer limiter.Close()
	fmt.Printf("✓ Rate limiter initialized (%d scopes)\n", len(limits))

	// Router with the full strategy set.
	router, err := buildRouter(cfg, reg, store)
	if err != nil {
		return fmt.Errorf("failed to create router: %w", err)
	}
	fmt.Printf("✓ Router initialized (default strategy: %s)\n", cfg.Routing.DefaultStrategy)

	// Alert manager.
	alerts := alerting.NewManager(&alerting.Config{
		EvaluationInterval: cfg.Alerting.EvaluationInterval,
		Epsilon:            cfg.Alerting.Epsilon,
		FeedBuffer:         cfg.Alerting.FeedBuffer,
	}, store)
	if err := alerts.Start(ctx); err != nil {
		return fmt.Errorf("failed to start alert manager: %w", err)
	}
	defer alerts.Stop()
	fmt.Println("✓ Alert manager started")

	// Operational metrics.
	var collector *telemetrymetrics.Collector
	if cfg.Telemetry.Prometheus.Enabled {
		collector = telemetrymetrics.NewCollector(cfg.Telemetry.Prometheus.Namespace, store)
		go countAlertTransitions(ctx, alerts, collector)
	}

	gw := gateway.New(reg, store, limiter, router, alerts, collector)
	srv := server.NewServer(&cfg.Server, gw)

	fmt.Println()
	fmt.Printf("✓ Operator API listening on %s\n", cfg.Server.ListenAddress)
	if collector != nil {
		fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", cfg.Server.ListenAddress)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	// Blocks until a shutdown signal or server error.
	return srv.Start(ctx)
}

// buildRouter assembles the strategy set from configuration.
func buildRouter(cfg *config.Config, reg *registry.Registry, store *metrics.Store) (*routing.Router, error) {
	weighted, err := strategies.NewWeightedStrategy(
		cfg.Routing.Weighted.LatencyWeight,
		cfg.Routing.Weighted.CostWeight,
	)
	if err != nil {
		return nil, err
	}

	rules := make([]strategies.ModelRule, 0, len(cfg.Routing.ModelRules))
	for _, rc := range cfg.Routing.ModelRules {
		rules = append(rules, strategies.ModelRule{
			Name:           rc.Name,
			Priority:       rc.Priority,
			MaxCost:        rc.MaxCost,
			MaxLatency:     rc.MaxLatency,
			RequiresVision: rc.RequiresVision,
			MaxTokens:      rc.MaxTokens,
			Providers:      rc.Providers,
		})
	}

	strategySet := map[string]routing.Strategy{
		"latency":     strategies.NewLatencyStrategy(),
		"cost":        strategies.NewCostStrategy(),
		"weighted":    weighted,
		"round-robin": strategies.NewRoundRobinStrategy(),
		"failover": strategies.NewFailoverStrategy(
			cfg.Routing.Failover.Chain,
			cfg.Routing.Failover.FailureThreshold,
		),
		"model-rules": strategies.NewModelRulesStrategy(rules, weighted),
	}

	return routing.NewRouter(&routing.Config{
		DefaultStrategy:  cfg.Routing.DefaultStrategy,
		SuccessRateFloor: cfg.Routing.SuccessRateFloor,
		SnapshotTTL:      cfg.Routing.SnapshotTTL,
		SnapshotWindow:   cfg.Routing.SnapshotWindow,
		MinSampleSize:    int(cfg.Routing.MinSampleSize),
	}, reg, store, strategySet)
}

// countAlertTransitions forwards alert lifecycle transitions from the
// feed into the Prometheus collector.
func countAlertTransitions(ctx context.Context, alerts *alerting.Manager, collector *telemetrymetrics.Collector) {
	transitions, cancel := alerts.Feed().Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case tr, ok := <-transitions:
			if !ok {
				return
			}
			collector.RecordAlertTransition(string(tr.Type), string(tr.Alert.Severity))
		}
	}
}
