// Package metrics implements the metrics store: an append-only event log
// with buffered fire-and-forget recording, multi-resolution time-bucketed
// aggregates, and retention enforcement.
//
// # Write path
//
// Record buffers events in memory and returns immediately; a worker
// flushes batches to the storage backend on a size or time trigger with
// bounded exponential backoff. On overflow the oldest events are dropped
// and counted; recording never blocks or fails the caller.
//
// # Aggregation
//
// A scheduled rollup derives 1-minute buckets from raw events (exact
// sorted percentiles), then merges them into 1-hour and 1-day buckets.
// Each bucket retains a bounded uniform sample so coarser percentiles
// are re-derived from merged samples, not combined from finer buckets'
// percentile values. Queries over short ranges stream raw events through
// P-squared estimators; longer ranges combine stored buckets.
//
// # Consistency
//
// The store is a write-through cache: reads may lag writes by at most
// the flush interval plus one rollup period. Consumers (router
// snapshots, alert evaluation) are designed around that window.
package metrics
