// Package config provides configuration loading, validation, and default
// management for Ganymede.
//
// Configuration is loaded from YAML files with support for environment
// variable overrides (GANYMEDE_* prefix). All sections have sensible
// defaults so a minimal file, or no file at all, yields a working setup.
//
// Example usage:
//
//	cfg, err := config.LoadConfigWithEnvOverrides("config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Server.ListenAddress)
package config
