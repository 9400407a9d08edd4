package alerting

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// TransitionType labels an alert state change on the feed.
type TransitionType string

const (
	TransitionFiring       TransitionType = "firing"
	TransitionAcknowledged TransitionType = "acknowledged"
	TransitionResolved     TransitionType = "resolved"
)

// Transition is one alert state change delivered to subscribers.
type Transition struct {
	Type      TransitionType `json:"type"`
	Alert     Alert          `json:"alert"`
	RuleName  string         `json:"rule_name"`
	Timestamp time.Time      `json:"timestamp"`
}

// Feed fans alert transitions out to subscribers over buffered
// channels.
//
// Delivery is at-least-once for subscribers that keep up. Publishing
// never blocks: a transition that would block on a full subscriber
// buffer is dropped for that subscriber and counted.
type Feed struct {
	mu      sync.Mutex
	subs    map[int]chan Transition
	nextID  int
	buffer  int
	dropped atomic.Int64
	logger  *slog.Logger
}

// NewFeed creates a feed. buffer is the per-subscriber channel depth;
// zero uses 64.
func NewFeed(buffer int) *Feed {
	if buffer <= 0 {
		buffer = 64
	}
	return &Feed{
		subs:   make(map[int]chan Transition),
		buffer: buffer,
		logger: slog.Default().With("component", "alerting.feed"),
	}
}

// Subscribe registers a new subscriber. The returned cancel function
// unsubscribes and closes the channel; it is safe to call more than
// once.
func (f *Feed) Subscribe() (<-chan Transition, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	ch := make(chan Transition, f.buffer)
	f.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if c, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

// Publish delivers a transition to every subscriber without blocking.
func (f *Feed) Publish(t Transition) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ch := range f.subs {
		select {
		case ch <- t:
		default:
			f.dropped.Add(1)
			f.logger.Warn("slow subscriber, transition dropped",
				"type", t.Type, "alert_id", t.Alert.ID)
		}
	}
}

// DroppedCount returns the number of transitions dropped on full
// subscriber buffers.
func (f *Feed) DroppedCount() int64 {
	return f.dropped.Load()
}

// SubscriberCount returns the number of active subscribers.
func (f *Feed) SubscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
