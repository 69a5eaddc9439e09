package event

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botwire/botwire/internal/trace"
)

func TestPublishDeliversToTypeAndGlobalSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	typed := make(chan Event, 1)
	global := make(chan Event, 1)
	bus.Subscribe(MessageReceived, func(ctx context.Context, ev Event) { typed <- ev })
	bus.SubscribeAll(func(ctx context.Context, ev Event) { global <- ev })

	bus.Publish(context.Background(), Event{Type: MessageReceived, Data: "hi"})

	select {
	case ev := <-typed:
		assert.Equal(t, "hi", ev.Data)
	case <-time.After(time.Second):
		t.Fatal("typed subscriber not called")
	}
	select {
	case ev := <-global:
		assert.Equal(t, MessageReceived, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("global subscriber not called")
	}
}

func TestPublishSkipsOtherTypes(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var calls atomic.Int32
	bus.Subscribe(MessageSent, func(ctx context.Context, ev Event) { calls.Add(1) })

	bus.PublishSync(context.Background(), Event{Type: MessageReceived})
	assert.EqualValues(t, 0, calls.Load())
}

func TestPublishPreservesTraceScope(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	got := make(chan string, 1)
	bus.Subscribe(MessageReceived, func(ctx context.Context, ev Event) {
		id, _ := trace.FromContext(ctx)
		got <- id
	})

	ctx := trace.WithTrace(context.Background(), "trace-42")
	bus.Publish(ctx, Event{Type: MessageReceived})

	select {
	case id := <-got:
		assert.Equal(t, "trace-42", id)
	case <-time.After(time.Second):
		t.Fatal("subscriber not called")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var calls atomic.Int32
	off := bus.Subscribe(MessageReceived, func(ctx context.Context, ev Event) { calls.Add(1) })

	bus.PublishSync(context.Background(), Event{Type: MessageReceived})
	off()
	bus.PublishSync(context.Background(), Event{Type: MessageReceived})

	assert.EqualValues(t, 1, calls.Load())
}

func TestMirrorCarriesTraceMetadata(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msgs, err := bus.PubSub().Subscribe(ctx, string(MessageSent))
	require.NoError(t, err)

	bus.Publish(trace.WithTrace(context.Background(), "trace-7"), Event{Type: MessageSent, Data: "x"})

	select {
	case msg := <-msgs:
		assert.Equal(t, "trace-7", msg.Metadata.Get("trace_id"))
		msg.Ack()
	case <-ctx.Done():
		t.Fatal("watermill mirror message not received")
	}
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	bus := NewBus()

	var calls atomic.Int32
	bus.Subscribe(MessageReceived, func(ctx context.Context, ev Event) { calls.Add(1) })
	require.NoError(t, bus.Close())

	bus.PublishSync(context.Background(), Event{Type: MessageReceived})
	assert.EqualValues(t, 0, calls.Load())

	off := bus.Subscribe(MessageReceived, func(ctx context.Context, ev Event) { calls.Add(1) })
	off()
	assert.EqualValues(t, 0, calls.Load())
}
