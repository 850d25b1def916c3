// Package eventbus is an in-process, named, typed publish/subscribe bus.
// It replaces the teacher's ad-hoc per-consumer channels (engine.go's
// notificationChan, positionUpdates) with one place that owns delivery
// order and subscriber isolation, per the "event bus with string keys"
// design note: the stable name set lives in names.go as a central
// enumeration, and each subscriber is handed the event as a concrete Go
// value rather than a map[string]interface{}.
package eventbus

import (
	"sync"

	"go.uber.org/zap"
)

// EventHeader is embedded in every event payload so a correlation ID
// survives from the originating scheduler tick or operator call through
// every order, event and log line it produces.
type EventHeader struct {
	Timestamp     int64 // unix nanos; caller-supplied, never time.Now() inside the bus
	CorrelationID string
}

// Handler receives one event value. Handlers must not block indefinitely:
// delivery is synchronous within the publisher's goroutine.
type Handler func(event interface{})

// Bus is a named pub/sub bus. Each subscriber registered for a Name
// receives exactly one call per Publish to that name (exact-once per
// subscriber, per spec §2).
type Bus struct {
	mu   sync.RWMutex
	subs map[Name][]Handler
	log  *zap.Logger
}

// New creates an empty Bus.
func New(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{subs: make(map[Name][]Handler), log: log}
}

// Subscribe registers a handler for the given event name. Handlers are
// invoked in registration order.
func (b *Bus) Subscribe(name Name, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[name] = append(b.subs[name], h)
}

// Publish delivers event to every subscriber of name, synchronously, in
// the calling goroutine. A panicking handler is recovered and logged so
// one bad subscriber cannot take down the publisher (mirrors the
// teacher's middleware.Recovery isolation at the HTTP layer, applied here
// to in-process fan-out).
func (b *Bus) Publish(name Name, event interface{}) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.subs[name]))
	copy(handlers, b.subs[name])
	b.mu.RUnlock()

	for _, h := range handlers {
		b.invoke(name, h, event)
	}
}

func (b *Bus) invoke(name Name, h Handler, event interface{}) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked", zap.String("event", string(name)), zap.Any("recover", r))
		}
	}()
	h(event)
}
