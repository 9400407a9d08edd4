// Ganymede is a request-dispatch and governance gateway for
// multi-backend AI provider fleets.
//
// It provides:
//   - Metrics-driven provider routing (latency, cost, weighted,
//     model rules, round-robin, failover)
//   - Multi-scope token bucket admission control
//   - A buffered metrics store with multi-resolution rollups
//   - Threshold alerting over metric aggregates
//
// Usage:
//
//	# Start the gateway with default configuration
//	ganymede run
//
//	# Start with a custom configuration file
//	ganymede run --config /path/to/config.yaml
//
//	# Validate a configuration file without starting
//	ganymede validate --config /path/to/config.yaml
//
//	# Show version information
//	ganymede version
package main

func main() {
	Execute()
}
