// Package storage provides the durable backends for the metrics store:
// a SQLite implementation for production (WAL mode, batched transactional
// writes) and an in-memory implementation for tests.
package storage
