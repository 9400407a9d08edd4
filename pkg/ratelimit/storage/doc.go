// Package storage persists token bucket state across restarts: a
// SQLite implementation for durable deployments and an in-memory
// implementation for tests.
package storage
