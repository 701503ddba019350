// Package bus broadcasts store change events to UI listeners.
// Delivery is lossy under backpressure: listeners treat any event as
// a hint to re-fetch, so a dropped event is recovered by the next one.
package bus

import (
	"log/slog"
	"sync"

	"spiegel/internal/domain"
)

const subscriberBuffer = 16

// Bus is a bounded publish/subscribe channel for domain events.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan domain.Event
	nextID int
	closed bool
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[int]chan domain.Event)}
}

// Subscribe registers a listener and returns its event channel plus a
// cancel function. The channel is closed on cancel or bus shutdown.
func (b *Bus) Subscribe() (<-chan domain.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan domain.Event)
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	ch := make(chan domain.Event, subscriberBuffer)
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

// Publish delivers an event to every subscriber without blocking the
// writer. A full subscriber drops the event.
func (b *Bus) Publish(ev domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			slog.Debug("bus subscriber full, dropping event", "type", ev.Type)
		}
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
