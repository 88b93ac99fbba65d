// Package events provides the process-wide publish/subscribe event bus.
// Domain events flow from components (webhook handlers, the dispatcher,
// the orchestrator) to subscribers (the WebSocket hub, capabilities that
// read recent camera activity). Delivery is synchronous and ordered:
// subscribers for the exact event type run first, then wildcard
// subscribers, each in registration order. A panicking subscriber is
// recovered and logged without disturbing the rest.
//
// The bus also keeps a bounded FIFO history of recent events so late
// joiners (live clients, the camera_events capability) can catch up.
package events

import (
	"log/slog"
	"sync"
	"time"
	"unsafe"
)

// Event type constants.
const (
	// TypeDoorbell signals a doorbell ring from a camera.
	TypeDoorbell = "doorbell"
	// TypeMotion signals motion (or a smart detection) from a camera.
	TypeMotion = "motion"
	// TypeAlert is a general alert with a severity level.
	TypeAlert = "alert"
	// TypeResponse carries a completed assistant response.
	TypeResponse = "response"
	// TypeToolExecution tracks capability invocation start/completion.
	TypeToolExecution = "tool_execution"
	// TypeSystem covers lifecycle notices (startup, connect acks).
	TypeSystem = "system"
)

// Types lists every event type the bus recognizes, in a stable order.
func Types() []string {
	return []string{
		TypeDoorbell,
		TypeMotion,
		TypeAlert,
		TypeResponse,
		TypeToolExecution,
		TypeSystem,
	}
}

// DefaultHistorySize is the capacity of the bus's event history buffer.
const DefaultHistorySize = 100

// Event is a single immutable domain event.
type Event struct {
	// Type is one of the Type* constants.
	Type string `json:"type"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data"`
	// Timestamp is when the event was published.
	Timestamp time.Time `json:"timestamp"`
	// Source identifies the component that published the event.
	Source string `json:"source,omitempty"`
}

// Handler receives published events. Handlers run synchronously on the
// publisher's goroutine; long-running work should hand off internally.
type Handler func(Event)

// subscriber pairs a handler with its identity key for idempotent
// subscribe/unsubscribe.
type subscriber struct {
	key uintptr
	fn  Handler
}

// handlerKey returns an identity for a handler. Function values are not
// comparable in Go, so identity is the func value's underlying pointer:
// a named func is a static symbol (re-subscribing it is a no-op), and
// each closure or method value is its own object, so method values bound
// to different receivers are distinct subscribers. The code pointer
// alone would not do: methods on two instances share code. Callers that
// want to unsubscribe a closure or method value must hold on to the
// exact value they subscribed.
func handlerKey(fn Handler) uintptr {
	return uintptr(*(*unsafe.Pointer)(unsafe.Pointer(&fn)))
}

// Bus is the event bus. Construct with New and inject it; there is no
// package-level instance.
type Bus struct {
	logger *slog.Logger

	mu       sync.Mutex
	subs     map[string][]subscriber
	wildcard []subscriber
	history  []Event
	maxHist  int
}

// New creates an event bus with the default history capacity.
func New(logger *slog.Logger) *Bus {
	return NewWithHistory(logger, DefaultHistorySize)
}

// NewWithHistory creates an event bus with a custom history capacity.
func NewWithHistory(logger *slog.Logger, maxHistory int) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if maxHistory <= 0 {
		maxHistory = DefaultHistorySize
	}
	return &Bus{
		logger:  logger.With("component", "events"),
		subs:    make(map[string][]subscriber),
		maxHist: maxHistory,
	}
}

// Subscribe registers fn for events of the given type. Subscribing the
// same function to the same type twice is a no-op.
func (b *Bus) Subscribe(eventType string, fn Handler) {
	key := handlerKey(fn)
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.subs[eventType] {
		if s.key == key {
			return
		}
	}
	b.subs[eventType] = append(b.subs[eventType], subscriber{key: key, fn: fn})
	b.logger.Debug("subscribed", "type", eventType)
}

// SubscribeAll registers fn for every event regardless of type.
// Idempotent like Subscribe.
func (b *Bus) SubscribeAll(fn Handler) {
	key := handlerKey(fn)
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.wildcard {
		if s.key == key {
			return
		}
	}
	b.wildcard = append(b.wildcard, subscriber{key: key, fn: fn})
	b.logger.Debug("subscribed to all events")
}

// Unsubscribe removes fn from the given type's subscriber list.
// A no-op if fn was not subscribed.
func (b *Bus) Unsubscribe(eventType string, fn Handler) {
	key := handlerKey(fn)
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[eventType]
	for i, s := range list {
		if s.key == key {
			b.subs[eventType] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// UnsubscribeAll removes fn from the wildcard subscriber list.
func (b *Bus) UnsubscribeAll(fn Handler) {
	key := handlerKey(fn)
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.wildcard {
		if s.key == key {
			b.wildcard = append(b.wildcard[:i:i], b.wildcard[i+1:]...)
			return
		}
	}
}

// Publish constructs an Event with the current timestamp, records it in
// history, and delivers it to every subscriber for the exact type and
// then every wildcard subscriber, in registration order. Publish never
// fails; a panicking subscriber only loses its own delivery.
func (b *Bus) Publish(eventType string, data map[string]any, source string) {
	evt := Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
		Source:    source,
	}

	b.mu.Lock()
	b.history = append(b.history, evt)
	if len(b.history) > b.maxHist {
		b.history = b.history[len(b.history)-b.maxHist:]
	}
	// Snapshot under lock so concurrent (un)subscribes cannot disturb
	// this delivery. Handlers run outside the lock and may themselves
	// subscribe or publish without deadlocking.
	exact := make([]subscriber, len(b.subs[eventType]))
	copy(exact, b.subs[eventType])
	wild := make([]subscriber, len(b.wildcard))
	copy(wild, b.wildcard)
	b.mu.Unlock()

	b.logger.Debug("publishing event", "type", eventType, "source", source)

	for _, s := range exact {
		b.deliver(s, evt)
	}
	for _, s := range wild {
		b.deliver(s, evt)
	}
}

// deliver invokes one handler, converting a panic into a log entry.
func (b *Bus) deliver(s subscriber, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked",
				"type", evt.Type,
				"source", evt.Source,
				"panic", r,
			)
		}
	}()
	s.fn(evt)
}

// History returns up to limit of the most recent events, oldest-first.
// The buffer is not mutated.
func (b *Bus) History(limit int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if limit <= 0 || limit > len(b.history) {
		limit = len(b.history)
	}
	out := make([]Event, limit)
	copy(out, b.history[len(b.history)-limit:])
	return out
}

// ClearHistory empties the event history buffer.
func (b *Bus) ClearHistory() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = nil
	b.logger.Info("event history cleared")
}

// SubscriberCounts returns the number of subscribers per event type.
// Wildcard subscribers are reported under "*".
func (b *Bus) SubscriberCounts() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()

	counts := make(map[string]int, len(b.subs)+1)
	for typ, list := range b.subs {
		counts[typ] = len(list)
	}
	if len(b.wildcard) > 0 {
		counts["*"] = len(b.wildcard)
	}
	return counts
}
