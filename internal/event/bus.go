// Package event provides the host message pipeline as a pub/sub bus using
// watermill.
package event

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/botwire/botwire/internal/trace"
)

// EventType represents the type of event.
type EventType string

const (
	MessageReceived EventType = "message.received"
	MessageSent     EventType = "message.sent"
	BridgeReloaded  EventType = "bridge.reloaded"
)

// Event represents an event flowing through the pipeline.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// Subscriber receives events. The context carries the ambient trace scope of
// the operation that published the event; handlers must pass it through to
// any sends they trigger.
type Subscriber func(ctx context.Context, event Event)

type subscriberEntry struct {
	id uint64
	fn Subscriber
}

// Bus is the event bus that manages pub/sub using watermill.
// It uses watermill's gochannel for infrastructure while dispatching to
// subscribers directly so the context (and with it the trace scope) survives
// the async hop.
type Bus struct {
	mu sync.RWMutex

	pubsub *gochannel.GoChannel

	subscribers map[EventType][]subscriberEntry
	global      []subscriberEntry

	nextID uint64
	closed bool
}

const traceMetadataKey = "trace_id"

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
		subscribers: make(map[EventType][]subscriberEntry),
	}
}

func (b *Bus) newID() uint64 {
	return atomic.AddUint64(&b.nextID, 1)
}

// Subscribe registers a subscriber for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriberEntry{id: id, fn: fn})

	return func() {
		b.unsubscribe(eventType, id)
	}
}

// SubscribeAll registers a subscriber for all events.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.global = append(b.global, subscriberEntry{id: id, fn: fn})

	return func() {
		b.unsubscribeGlobal(id)
	}
}

func (b *Bus) unsubscribe(eventType EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[eventType]
	for i, entry := range subs {
		if entry.id == id {
			b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

func (b *Bus) unsubscribeGlobal(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, entry := range b.global {
		if entry.id == id {
			b.global = append(b.global[:i], b.global[i+1:]...)
			break
		}
	}
}

func (b *Bus) collect(eventType EventType) ([]Subscriber, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, false
	}

	subs := make([]Subscriber, 0, len(b.subscribers[eventType])+len(b.global))
	for _, entry := range b.subscribers[eventType] {
		subs = append(subs, entry.fn)
	}
	for _, entry := range b.global {
		subs = append(subs, entry.fn)
	}
	return subs, true
}

// Publish sends an event to all subscribers asynchronously. Each subscriber
// runs in its own goroutine with the caller's context, so sends performed by
// handlers inherit the ambient trace scope.
func (b *Bus) Publish(ctx context.Context, event Event) {
	subs, ok := b.collect(event.Type)
	if !ok {
		return
	}

	b.mirror(ctx, event)

	for _, sub := range subs {
		go sub(ctx, event)
	}
}

// PublishSync sends an event to all subscribers in the current goroutine.
func (b *Bus) PublishSync(ctx context.Context, event Event) {
	subs, ok := b.collect(event.Type)
	if !ok {
		return
	}

	b.mirror(ctx, event)

	for _, sub := range subs {
		sub(ctx, event)
	}
}

// mirror publishes the event onto the watermill topic with the trace id in
// message metadata, for middleware or a future distributed backend.
func (b *Bus) mirror(ctx context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if traceID, ok := trace.FromContext(ctx); ok {
		msg.Metadata.Set(traceMetadataKey, traceID)
	}
	_ = b.pubsub.Publish(string(event.Type), msg)
}

// Close closes the bus and drops all subscribers.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subscribers = make(map[EventType][]subscriberEntry)
	b.global = nil
	b.mu.Unlock()

	return b.pubsub.Close()
}

// PubSub returns the underlying watermill GoChannel for advanced use cases.
func (b *Bus) PubSub() *gochannel.GoChannel {
	return b.pubsub
}
