package events

import (
	"fmt"
	"log/slog"
	"sync"
)

// Handler receives one event.
type Handler func(Event)

// Subscription identifies a registered handler for Unsubscribe.
type Subscription struct {
	kind Kind
	id   uint64
}

type entry struct {
	id uint64
	fn Handler
}

// Bus fans events out to handlers in registration order. A panicking
// handler is logged and skipped; the others still run.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[Kind][]entry
	logger   *slog.Logger
}

// NewBus creates a bus. A nil logger discards panic reports.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bus{handlers: make(map[Kind][]entry), logger: logger}
}

// Subscribe registers fn for kind, or for every event with KindAll.
func (b *Bus) Subscribe(kind Kind, fn Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.handlers[kind] = append(b.handlers[kind], entry{id: b.nextID, fn: fn})
	return Subscription{kind: kind, id: b.nextID}
}

// Unsubscribe removes a handler. It reports whether one was removed.
func (b *Bus) Unsubscribe(sub Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.handlers[sub.kind]
	for i, e := range list {
		if e.id == sub.id {
			next := make([]entry, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			b.handlers[sub.kind] = next
			return true
		}
	}
	return false
}

// Publish delivers ev to the handlers for its kind, then to KindAll handlers.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	specific := b.handlers[ev.Kind()]
	all := b.handlers[KindAll]
	b.mu.RUnlock()

	for _, e := range specific {
		b.call(e.fn, ev)
	}
	for _, e := range all {
		b.call(e.fn, ev)
	}
}

// Len reports how many handlers are registered for kind.
func (b *Bus) Len(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[kind])
}

func (b *Bus) call(fn Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("event handler panic", "event", ev.Kind(), "panic", fmt.Sprint(r))
		}
	}()
	fn(ev)
}

// Handle subscribes a handler typed to one variant.
//
//	events.Handle(bus, func(e events.StreamChunk) { fmt.Print(e.Text) })
func Handle[T Event](b *Bus, fn func(T)) Subscription {
	var zero T
	return b.Subscribe(zero.Kind(), func(ev Event) {
		if typed, ok := ev.(T); ok {
			fn(typed)
		}
	})
}
