package events

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mentora/engine/internal/infrastructure/logging"
	"github.com/mentora/engine/internal/infrastructure/monitoring"
	"github.com/mentora/engine/internal/shared/id"
)

const defaultCapacity = 256

// Bus delivers every published event to every subscriber. Publish never
// blocks: a subscriber whose buffer is full loses its oldest event.
type Bus struct {
	mu       sync.RWMutex
	subs     map[*subscriber]struct{}
	capacity int
	closed   bool

	now     func() time.Time
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// Subscription is a live subscriber.
type Subscription struct {
	// Events is closed when the subscription or the bus is closed.
	Events <-chan Event
	cancel func()
}

// Close unsubscribes.
func (s Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

type subscriber struct {
	name string
	ch   chan Event
}

// NewBus creates a bus with the given per-subscriber buffer.
func NewBus(capacity int, logger *logging.Logger) *Bus {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Bus{
		subs:     make(map[*subscriber]struct{}),
		capacity: capacity,
		now:      time.Now,
		logger:   logging.OrNop(logger).Named("events"),
	}
}

// WithMetrics enables metrics.
func (b *Bus) WithMetrics(m *monitoring.Metrics) *Bus {
	b.metrics = m
	return b
}

// WithClock replaces the clock used to stamp events.
func (b *Bus) WithClock(now func() time.Time) *Bus {
	b.now = now
	return b
}

// Subscribe registers a named subscriber.
func (b *Bus) Subscribe(name string) Subscription {
	sub := &subscriber{name: name, ch: make(chan Event, b.capacity)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return Subscription{Events: sub.ch}
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return Subscription{
		Events: sub.ch,
		cancel: func() { b.remove(sub) },
	}
}

func (b *Bus) remove(sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// Publish stamps e with an id and time when missing and delivers it.
func (b *Bus) Publish(e Event) {
	if e.ID == "" {
		e.ID = id.NewEventID().String()
	}
	if e.At.IsZero() {
		e.At = b.now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.metrics.RecordEvent(string(e.Type))
	for sub := range b.subs {
		b.deliver(sub, e)
	}
}

func (b *Bus) deliver(sub *subscriber, e Event) {
	for {
		select {
		case sub.ch <- e:
			return
		default:
		}
		select {
		case dropped := <-sub.ch:
			b.metrics.RecordEventDropped(sub.name)
			b.logger.Warn("Subscriber queue full, dropping oldest event",
				zap.String("subscriber", sub.name),
				zap.String("event_type", string(dropped.Type)),
				zap.String("event_id", dropped.ID),
			)
		default:
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription. Later publishes are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
		delete(b.subs, sub)
	}
}
