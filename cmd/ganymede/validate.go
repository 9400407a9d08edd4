package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/ganymede/pkg/config"
	"mercator-hq/ganymede/pkg/registry"
)

var validateFlags struct {
	checkRegistry bool
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Validate a Ganymede configuration file without starting the gateway.

Checks YAML syntax, applies defaults, and runs the same validation the
run command performs at startup. With --registry, the provider
candidate file is also loaded and checked.

Examples:
  # Validate the default config
  ganymede validate

  # Validate a specific config and its registry file
  ganymede validate --config /etc/ganymede/config.yaml --registry`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateFlags.checkRegistry, "registry", false, "also load and validate the provider registry file")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Configuration valid: %s\n", cfgFile)

	if validateFlags.checkRegistry {
		reg, err := registry.NewRegistry(cfg.Registry.Path)
		if err != nil {
			return fmt.Errorf("registry validation failed: %w", err)
		}
		fmt.Printf("✓ Registry valid: %s (%d candidates)\n", cfg.Registry.Path, reg.Len())
	}

	fmt.Printf("  server:   %s\n", cfg.Server.ListenAddress)
	fmt.Printf("  routing:  %s\n", cfg.Routing.DefaultStrategy)
	fmt.Printf("  metrics:  %s\n", cfg.Metrics.StoragePath)
	fmt.Printf("  scopes:   %d rate limit scopes\n", len(cfg.RateLimit.Scopes))
	return nil
}
