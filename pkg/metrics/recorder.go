package metrics

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// RecorderConfig contains configuration for the event recorder.
type RecorderConfig struct {
	// BufferSize is the maximum number of events held in memory.
	// When full, the oldest unflushed events are dropped.
	// Default: 4096
	BufferSize int

	// FlushSize is the buffered-event count that triggers a flush.
	// Default: 100
	FlushSize int

	// FlushInterval is the maximum time between flushes.
	// Default: 5 seconds
	FlushInterval time.Duration

	// RetryMax is the maximum number of backoff retries for one flush.
	// Default: 5
	RetryMax int
}

// DefaultRecorderConfig returns the default recorder configuration.
func DefaultRecorderConfig() *RecorderConfig {
	return &RecorderConfig{
		BufferSize:    4096,
		FlushSize:     100,
		FlushInterval: 5 * time.Second,
		RetryMax:      5,
	}
}

// Recorder buffers metric events and flushes them to the backend in
// batches. Record is fire-and-forget: it appends to an in-memory buffer
// under a short mutex and never blocks on storage, so it adds negligible
// latency to the request path.
//
// When the buffer is full the oldest events are dropped and a counter is
// incremented; recording never fails and never propagates errors to the
// caller. Flushes are triggered by size or by interval, whichever comes
// first, and retried with bounded exponential backoff on failure.
type Recorder struct {
	backend Backend
	config  *RecorderConfig
	logger  *slog.Logger

	mu     sync.Mutex
	buffer []*MetricEvent

	dropped atomic.Int64
	flushed atomic.Int64

	kick chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// NewRecorder creates a recorder and starts its flush worker.
func NewRecorder(backend Backend, config *RecorderConfig) *Recorder {
	if config == nil {
		config = DefaultRecorderConfig()
	}

	r := &Recorder{
		backend: backend,
		config:  config,
		logger:  slog.Default().With("component", "metrics.recorder"),
		buffer:  make([]*MetricEvent, 0, config.BufferSize),
		kick:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	r.wg.Add(1)
	go r.worker()

	return r
}

// Record buffers an event for asynchronous persistence. An empty ID is
// assigned a UUID; a zero timestamp is assigned the current time.
func (r *Recorder) Record(event *MetricEvent) {
	if event == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	r.mu.Lock()
	if len(r.buffer) >= r.config.BufferSize {
		// Drop-oldest keeps the newest telemetry, which is what the
		// router and alert rules act on.
		drop := len(r.buffer) - r.config.BufferSize + 1
		r.buffer = r.buffer[drop:]
		r.dropped.Add(int64(drop))
	}
	r.buffer = append(r.buffer, event)
	full := len(r.buffer) >= r.config.FlushSize
	r.mu.Unlock()

	if full {
		select {
		case r.kick <- struct{}{}:
		default:
		}
	}
}

// DroppedCount returns the number of events dropped due to overflow.
func (r *Recorder) DroppedCount() int64 {
	return r.dropped.Load()
}

// FlushedCount returns the number of events persisted so far.
func (r *Recorder) FlushedCount() int64 {
	return r.flushed.Load()
}

// Pending returns the number of buffered, unflushed events.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffer)
}

// Flush synchronously persists all buffered events. Used on shutdown and
// in tests; the request path never calls it.
func (r *Recorder) Flush(ctx context.Context) error {
	return r.flush(ctx)
}

// Close stops the worker after a final flush attempt.
func (r *Recorder) Close() error {
	close(r.done)
	r.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.flush(ctx)
}

// worker drains the buffer on the flush interval or when kicked by a
// size trigger.
func (r *Recorder) worker() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
		case <-r.kick:
		}

		if err := r.flush(context.Background()); err != nil {
			r.logger.Warn("metric flush failed, events retained for retry",
				"error", err,
				"pending", r.Pending(),
			)
		}
	}
}

// flush writes the current batch with bounded exponential backoff.
// Events stay in the buffer until a write succeeds; if the buffer
// overflows in the meantime, Record drops the oldest.
func (r *Recorder) flush(ctx context.Context) error {
	r.mu.Lock()
	if len(r.buffer) == 0 {
		r.mu.Unlock()
		return nil
	}
	batch := make([]*MetricEvent, len(r.buffer))
	copy(batch, r.buffer)
	r.mu.Unlock()

	var err error
	backoff := 100 * time.Millisecond
	for attempt := 0; attempt <= r.config.RetryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		if err = r.backend.InsertEvents(ctx, batch); err == nil {
			r.removeFlushed(batch)
			r.flushed.Add(int64(len(batch)))
			return nil
		}
	}
	return err
}

// removeFlushed drops the persisted batch prefix from the buffer.
// Record only appends and drop-oldest only trims the front, so the batch
// is always a prefix of whatever remains (possibly already shortened).
func (r *Recorder) removeFlushed(batch []*MetricEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	flushedSet := make(map[string]bool, len(batch))
	for _, e := range batch {
		flushedSet[e.ID] = true
	}

	kept := r.buffer[:0]
	for _, e := range r.buffer {
		if !flushedSet[e.ID] {
			kept = append(kept, e)
		}
	}
	r.buffer = kept
}
