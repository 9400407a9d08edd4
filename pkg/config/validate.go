package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// validStrategies are the routing strategy names accepted in configuration
// and per-request overrides.
var validStrategies = map[string]bool{
	"latency":     true,
	"cost":        true,
	"weighted":    true,
	"model-rules": true,
	"round-robin": true,
	"failover":    true,
}

// validScopes are the rate limit scope types accepted in configuration.
var validScopes = map[string]bool{
	"user":     true,
	"provider": true,
	"ip":       true,
	"global":   true,
}

// Validate checks the configuration for errors and returns a combined
// error describing every problem found, or nil if valid.
func Validate(cfg *Config) error {
	var errs []string

	// Routing
	if !validStrategies[cfg.Routing.DefaultStrategy] {
		errs = append(errs, fmt.Sprintf(
			"routing.default_strategy: unknown strategy %q", cfg.Routing.DefaultStrategy))
	}
	if cfg.Routing.SuccessRateFloor < 0 || cfg.Routing.SuccessRateFloor > 1 {
		errs = append(errs, fmt.Sprintf(
			"routing.success_rate_floor: must be in [0,1], got %v", cfg.Routing.SuccessRateFloor))
	}
	if sum := cfg.Routing.Weighted.LatencyWeight + cfg.Routing.Weighted.CostWeight; sum != 100 {
		errs = append(errs, fmt.Sprintf(
			"routing.weighted: latency_weight + cost_weight must sum to 100, got %d", sum))
	}
	if cfg.Routing.MinSampleSize < 1 {
		errs = append(errs, fmt.Sprintf(
			"routing.min_sample_size: must be >= 1, got %d", cfg.Routing.MinSampleSize))
	}
	if cfg.Routing.DefaultStrategy == "failover" && len(cfg.Routing.Failover.Chain) == 0 {
		errs = append(errs, "routing.failover.chain: required when default strategy is failover")
	}
	for i, rule := range cfg.Routing.ModelRules {
		if rule.Name == "" {
			errs = append(errs, fmt.Sprintf("routing.model_rules[%d]: name is required", i))
		}
		if len(rule.Providers) == 0 {
			errs = append(errs, fmt.Sprintf(
				"routing.model_rules[%d] (%s): providers map is required", i, rule.Name))
		}
		for provider, weight := range rule.Providers {
			if weight <= 0 {
				errs = append(errs, fmt.Sprintf(
					"routing.model_rules[%d] (%s): weight for %q must be > 0", i, rule.Name, provider))
			}
		}
	}

	// Rate limits
	for scope, sc := range cfg.RateLimit.Scopes {
		if !validScopes[scope] {
			errs = append(errs, fmt.Sprintf("rate_limit.scopes: unknown scope type %q", scope))
		}
		if sc.Limit <= 0 {
			errs = append(errs, fmt.Sprintf(
				"rate_limit.scopes.%s.limit: must be > 0, got %d", scope, sc.Limit))
		}
		if sc.Window <= 0 {
			errs = append(errs, fmt.Sprintf(
				"rate_limit.scopes.%s.window: must be > 0, got %v", scope, sc.Window))
		}
		if sc.Burst < 0 {
			errs = append(errs, fmt.Sprintf(
				"rate_limit.scopes.%s.burst: must be >= 0, got %d", scope, sc.Burst))
		}
	}

	// Metrics
	if cfg.Metrics.FlushSize > cfg.Metrics.BufferSize {
		errs = append(errs, fmt.Sprintf(
			"metrics.flush_size (%d) must not exceed metrics.buffer_size (%d)",
			cfg.Metrics.FlushSize, cfg.Metrics.BufferSize))
	}
	if _, err := cron.ParseStandard(cfg.Metrics.RollupSchedule); err != nil {
		errs = append(errs, fmt.Sprintf(
			"metrics.rollup_schedule: invalid cron expression %q: %v",
			cfg.Metrics.RollupSchedule, err))
	}

	// Alerting
	if cfg.Alerting.Epsilon < 0 {
		errs = append(errs, fmt.Sprintf(
			"alerting.epsilon: must be >= 0, got %v", cfg.Alerting.Epsilon))
	}

	// Logging
	switch cfg.Telemetry.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf(
			"telemetry.logging.level: unknown level %q", cfg.Telemetry.Logging.Level))
	}
	switch cfg.Telemetry.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf(
			"telemetry.logging.format: unknown format %q", cfg.Telemetry.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%d configuration error(s):\n  - %s",
			len(errs), strings.Join(errs, "\n  - "))
	}
	return nil
}

// IsValidStrategy reports whether name is a known routing strategy.
func IsValidStrategy(name string) bool {
	return validStrategies[name]
}

// IsValidScope reports whether name is a known rate limit scope type.
func IsValidScope(name string) bool {
	return validScopes[name]
}
