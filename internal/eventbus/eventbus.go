// Package eventbus multicasts scoring results to live subscribers without ever
// blocking the publisher.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"AegisNet/internal/metrics"
	"AegisNet/internal/resultlog"

	"github.com/google/uuid"
)

// DefaultQueueSize is the per-subscriber queue length when none is configured.
const DefaultQueueSize = 256

var (
	// ErrDropped is returned by Next once a subscriber that fell behind has drained its queue.
	ErrDropped = errors.New("eventbus: subscriber dropped after queue overflow")
	// ErrClosed is returned by Next once an unsubscribed subscriber has drained its queue.
	ErrClosed = errors.New("eventbus: subscription closed")
)

// EventType discriminates bus events on the wire.
type EventType string

const (
	EventConnected EventType = "connected"
	EventResult    EventType = "result"
)

// Event is one message delivered to subscribers.
type Event struct {
	Type   EventType         `json:"type"`
	Entry  *resultlog.Entry  `json:"entry,omitempty"`
	Recent []resultlog.Entry `json:"recent,omitempty"`
}

// MarshalJSON renders connected events as {"type","recent"} and result events
// as {"type","entry"}.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Type == EventConnected {
		recent := e.Recent
		if recent == nil {
			recent = []resultlog.Entry{}
		}
		return json.Marshal(struct {
			Type   EventType         `json:"type"`
			Recent []resultlog.Entry `json:"recent"`
		}{e.Type, recent})
	}
	return json.Marshal(struct {
		Type  EventType        `json:"type"`
		Entry *resultlog.Entry `json:"entry"`
	}{e.Type, e.Entry})
}

// ResultEvent wraps a log entry for publication.
func ResultEvent(e resultlog.Entry) Event {
	return Event{Type: EventResult, Entry: &e}
}

// Subscription is a registered subscriber queue.
type Subscription struct {
	ID string

	ch  chan Event
	err error // set before ch is closed
}

// Next blocks until an event is queued, the subscription ends or ctx is done.
// Queued events are delivered before ErrDropped or ErrClosed.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	select {
	case ev, ok := <-s.ch:
		if !ok {
			return Event{}, s.err
		}
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Bus fans events out to every subscriber.
type Bus struct {
	queueSize int
	snapshot  func() []resultlog.Entry
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu   sync.Mutex
	subs map[string]*Subscription
}

// NewBus creates a Bus. snapshot, if set, supplies the history sent to each new subscriber.
func NewBus(queueSize int, snapshot func() []resultlog.Entry, m *metrics.Metrics, logger *slog.Logger) *Bus {
	if queueSize < 2 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		queueSize: queueSize,
		snapshot:  snapshot,
		metrics:   m,
		logger:    logger.With("component", "eventbus"),
		subs:      make(map[string]*Subscription),
	}
}

// Subscribe registers a new subscriber whose queue starts with a connected
// event carrying the current history. Results appended to the log while the
// subscriber registers may appear both in that history and as live events.
func (b *Bus) Subscribe() *Subscription {
	s := &Subscription{
		ID: uuid.NewString(),
		ch: make(chan Event, b.queueSize),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	hello := Event{Type: EventConnected, Recent: []resultlog.Entry{}}
	if b.snapshot != nil {
		hello.Recent = b.snapshot()
	}
	s.ch <- hello
	b.subs[s.ID] = s
	b.metrics.BusSubscribers.Set(float64(len(b.subs)))
	b.logger.Debug("subscriber added", "subscriber", s.ID, "subscribers", len(b.subs))
	return s
}

// Publish enqueues ev for every subscriber without blocking. A subscriber
// whose queue is full is dropped.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.metrics.BusPublished.Inc()
	for id, s := range b.subs {
		select {
		case s.ch <- ev:
		default:
			b.removeLocked(id, s, ErrDropped)
			b.metrics.BusDroppedSubscribers.Inc()
			b.logger.Warn("dropping slow subscriber", "subscriber", id, "queue_size", b.queueSize)
		}
	}
}

// Unsubscribe removes s. Calling it more than once is harmless.
func (b *Bus) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.subs[s.ID]; ok && cur == s {
		b.removeLocked(s.ID, s, ErrClosed)
	}
}

// Close removes every subscriber.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, s := range b.subs {
		b.removeLocked(id, s, ErrClosed)
	}
}

// Len returns the number of live subscribers.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Bus) removeLocked(id string, s *Subscription, reason error) {
	delete(b.subs, id)
	s.err = reason
	close(s.ch)
	b.metrics.BusSubscribers.Set(float64(len(b.subs)))
}
