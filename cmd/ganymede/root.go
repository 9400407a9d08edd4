package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "ganymede",
	Short: "Ganymede - AI provider dispatch and governance gateway",
	Long: `Ganymede is a request-dispatch and governance gateway that sits in
front of a fleet of AI provider backends.

It provides:
  - Metrics-driven provider routing with pluggable strategies
  - Multi-scope token bucket admission control
  - A buffered metrics store with multi-resolution rollups
  - Threshold alerting over metric aggregates`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
