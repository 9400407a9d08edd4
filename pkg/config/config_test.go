package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Routing.DefaultStrategy != "weighted" {
		t.Errorf("Expected default strategy weighted, got %q", cfg.Routing.DefaultStrategy)
	}
	if cfg.Routing.SuccessRateFloor != 0.8 {
		t.Errorf("Expected success rate floor 0.8, got %v", cfg.Routing.SuccessRateFloor)
	}
	if cfg.Routing.SnapshotTTL != 60*time.Second {
		t.Errorf("Expected snapshot TTL 60s, got %v", cfg.Routing.SnapshotTTL)
	}
	if cfg.RateLimit.IdleEviction != 24*time.Hour {
		t.Errorf("Expected idle eviction 24h, got %v", cfg.RateLimit.IdleEviction)
	}
	if cfg.Metrics.Retention.RawEvents != 7*24*time.Hour {
		t.Errorf("Expected raw retention 7d, got %v", cfg.Metrics.Retention.RawEvents)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t, `
routing:
  default_strategy: cost
  min_sample_size: 10
rate_limit:
  scopes:
    user:
      limit: 100
      window: 1m
      burst: 10
server:
  listen_address: "0.0.0.0:9999"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Routing.DefaultStrategy != "cost" {
		t.Errorf("Expected strategy cost, got %q", cfg.Routing.DefaultStrategy)
	}
	if cfg.Routing.MinSampleSize != 10 {
		t.Errorf("Expected min sample size 10, got %d", cfg.Routing.MinSampleSize)
	}
	if cfg.Server.ListenAddress != "0.0.0.0:9999" {
		t.Errorf("Expected listen address override, got %q", cfg.Server.ListenAddress)
	}

	// Defaults fill unspecified fields.
	if cfg.Metrics.FlushSize != 100 {
		t.Errorf("Expected default flush size 100, got %d", cfg.Metrics.FlushSize)
	}

	user := cfg.RateLimit.Scopes["user"]
	if user.Limit != 100 || user.Burst != 10 || user.Window != time.Minute {
		t.Errorf("Unexpected user scope config: %+v", user)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("Expected error for missing file")
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "unknown strategy",
			mutate:  func(c *Config) { c.Routing.DefaultStrategy = "magic" },
			wantSub: "unknown strategy",
		},
		{
			name:    "weights must sum to 100",
			mutate:  func(c *Config) { c.Routing.Weighted.LatencyWeight = 70 },
			wantSub: "sum to 100",
		},
		{
			name: "unknown scope",
			mutate: func(c *Config) {
				c.RateLimit.Scopes = map[string]ScopeLimitConfig{
					"tenant": {Limit: 10, Window: time.Minute},
				}
			},
			wantSub: "unknown scope type",
		},
		{
			name: "non-positive limit",
			mutate: func(c *Config) {
				c.RateLimit.Scopes = map[string]ScopeLimitConfig{
					"user": {Limit: 0, Window: time.Minute},
				}
			},
			wantSub: "limit: must be > 0",
		},
		{
			name:    "bad cron schedule",
			mutate:  func(c *Config) { c.Metrics.RollupSchedule = "not-cron" },
			wantSub: "invalid cron expression",
		},
		{
			name: "model rule without providers",
			mutate: func(c *Config) {
				c.Routing.ModelRules = []ModelRuleConfig{{Name: "cheap"}}
			},
			wantSub: "providers map is required",
		},
		{
			name: "failover without chain",
			mutate: func(c *Config) {
				c.Routing.DefaultStrategy = "failover"
			},
			wantSub: "failover.chain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantSub, err)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, "server:\n  listen_address: \"127.0.0.1:8090\"\n")

	t.Setenv("GANYMEDE_SERVER_LISTEN_ADDRESS", "0.0.0.0:7070")
	t.Setenv("GANYMEDE_ROUTING_DEFAULT_STRATEGY", "latency")
	t.Setenv("GANYMEDE_RATE_LIMIT_FAIL_OPEN", "true")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides failed: %v", err)
	}

	if cfg.Server.ListenAddress != "0.0.0.0:7070" {
		t.Errorf("Expected env override for listen address, got %q", cfg.Server.ListenAddress)
	}
	if cfg.Routing.DefaultStrategy != "latency" {
		t.Errorf("Expected env override for strategy, got %q", cfg.Routing.DefaultStrategy)
	}
	if !cfg.RateLimit.FailOpen {
		t.Error("Expected fail_open override to apply")
	}
}
