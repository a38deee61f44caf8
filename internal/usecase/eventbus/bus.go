// Package eventbus fans orchestrator events out to several projections.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"aichat/internal/domain"
)

var _ domain.Projection = (*Bus)(nil)

// Handler receives one event.
type Handler func(ctx context.Context, event domain.Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is an in-process, goroutine-safe event bus. Publish delivers to every
// matching handler on the caller's goroutine: typed subscribers first, then
// all-event subscribers, each group in subscription order.
type Bus struct {
	mu      sync.RWMutex
	typed   map[domain.EventType][]subscription
	allSubs []subscription
	nextID  atomic.Uint64
	logger  *slog.Logger
	closed  atomic.Bool

	// publishMu serializes Publish so that two publishers never interleave
	// their events within one handler.
	publishMu sync.Mutex
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bus{
		typed:  make(map[domain.EventType][]subscription),
		logger: logger,
	}
}

// Publish delivers event to matching subscribers and returns once all of
// them have run. Panicking handlers are recovered and logged. Handlers must
// not call Publish.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	subs := make([]subscription, 0, len(b.typed[event.Type])+len(b.allSubs))
	subs = append(subs, b.typed[event.Type]...)
	subs = append(subs, b.allSubs...)
	b.mu.RUnlock()

	b.publishMu.Lock()
	defer b.publishMu.Unlock()
	for _, sub := range subs {
		b.dispatch(ctx, event, sub)
	}
}

// Apply implements domain.Projection.
func (b *Bus) Apply(ctx context.Context, event domain.Event) { b.Publish(ctx, event) }

func (b *Bus) dispatch(ctx context.Context, event domain.Event, sub subscription) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(event.Type),
				"panic", r,
			)
		}
	}()
	sub.handler(ctx, event)
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler Handler) func() {
	id := b.nextID.Add(1)
	sub := subscription{id: id, handler: handler}

	b.mu.Lock()
	b.typed[eventType] = append(b.typed[eventType], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.typed[eventType] = without(b.typed[eventType], id)
	}
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler Handler) func() {
	id := b.nextID.Add(1)
	sub := subscription{id: id, handler: handler}

	b.mu.Lock()
	b.allSubs = append(b.allSubs, sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.allSubs = without(b.allSubs, id)
	}
}

// Attach subscribes a projection to every event.
func (b *Bus) Attach(p domain.Projection) func() {
	return b.SubscribeAll(p.Apply)
}

// without returns subs minus the subscription with id. It copies so that a
// Publish iterating an older snapshot is unaffected.
func without(subs []subscription, id uint64) []subscription {
	out := make([]subscription, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// Close stops delivery of further events. A Publish already running finishes.
func (b *Bus) Close() {
	b.closed.Store(true)
	b.publishMu.Lock()
	b.publishMu.Unlock()
}
