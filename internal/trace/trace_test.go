package trace

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botwire/botwire/pkg/types"
)

func TestContextPropagation(t *testing.T) {
	ctx := context.Background()

	_, ok := FromContext(ctx)
	assert.False(t, ok)

	ctx = WithTrace(ctx, "t-1")
	traceID, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "t-1", traceID)

	// Derived contexts keep the scope.
	child, cancel := context.WithCancel(ctx)
	defer cancel()
	traceID, ok = FromContext(child)
	require.True(t, ok)
	assert.Equal(t, "t-1", traceID)
}

func TestContextPropagationAcrossGoroutine(t *testing.T) {
	ctx := WithTrace(context.Background(), "t-2")

	got := make(chan string, 1)
	go func() {
		traceID, _ := FromContext(ctx)
		got <- traceID
	}()

	assert.Equal(t, "t-2", <-got)
}

func TestStoreAppendAndGet(t *testing.T) {
	store := NewStore()
	request := types.Record{Direction: types.DirectionIn, MessageID: "m-1"}

	store.Register("t-1", request)
	assert.Equal(t, 1, store.Len())

	ok := store.Append("t-1", types.Record{Direction: types.DirectionOut, MessageID: "m-2"})
	assert.True(t, ok)
	ok = store.Append("t-1", types.Record{Direction: types.DirectionOut, MessageID: "m-3"})
	assert.True(t, ok)

	entry, found := store.Get("t-1")
	require.True(t, found)
	assert.Equal(t, "m-1", entry.Request.MessageID)
	require.Len(t, entry.Responses, 2)
	// Append order is preserved.
	assert.Equal(t, "m-2", entry.Responses[0].MessageID)
	assert.Equal(t, "m-3", entry.Responses[1].MessageID)
}

func TestAppendToUnknownTraceIsOrphaned(t *testing.T) {
	store := NewStore()
	assert.False(t, store.Append("missing", types.Record{}))
}

func TestGetReturnsSnapshot(t *testing.T) {
	store := NewStore()
	store.Register("t-1", types.Record{})
	store.Append("t-1", types.Record{MessageID: "m-1"})

	entry, _ := store.Get("t-1")
	store.Append("t-1", types.Record{MessageID: "m-2"})

	assert.Len(t, entry.Responses, 1)
}

func TestScheduleEviction(t *testing.T) {
	store := NewStore()
	store.Register("t-1", types.Record{})
	store.ScheduleEviction("t-1", 20*time.Millisecond)

	assert.Eventually(t, func() bool {
		_, found := store.Get("t-1")
		return !found
	}, time.Second, 10*time.Millisecond)
}
