package adapter

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botwire/botwire/internal/trace"
	"github.com/botwire/botwire/pkg/types"
)

func TestSendMessageWithinTraceScope(t *testing.T) {
	traces := trace.NewStore()
	a := New(traces, 10)

	traces.Register("t-1", types.Record{Direction: types.DirectionIn})
	ctx := trace.WithTrace(context.Background(), "t-1")

	contact := types.Contact{Scene: types.SceneFriend, Peer: "u-1"}
	ack, err := a.SendMessage(ctx, contact, []types.Element{types.TextElement("pong")})
	require.NoError(t, err)
	assert.NotEmpty(t, ack.MessageID)
	assert.NotZero(t, ack.Time)

	entry, ok := traces.Get("t-1")
	require.True(t, ok)
	require.Len(t, entry.Responses, 1)
	assert.Equal(t, "pong", entry.Responses[0].Message)
	assert.Equal(t, "t-1", entry.Responses[0].TraceID)
	assert.Equal(t, types.DirectionOut, entry.Responses[0].Direction)

	assert.Equal(t, 1, len(a.Outbox(0)))
}

func TestSendWithoutTraceIsOrphanedNotError(t *testing.T) {
	traces := trace.NewStore()
	a := New(traces, 10)

	ack, err := a.SendMessage(context.Background(), types.Contact{Scene: types.SceneFriend, Peer: "u-1"}, []types.Element{types.TextElement("unsolicited")})
	require.NoError(t, err)
	assert.NotEmpty(t, ack.MessageID)

	out := a.Outbox(0)
	require.Len(t, out, 1)
	assert.Empty(t, out[0].TraceID)
}

func TestSendForwardKind(t *testing.T) {
	traces := trace.NewStore()
	a := New(traces, 10)
	traces.Register("t-1", types.Record{})
	ctx := trace.WithTrace(context.Background(), "t-1")

	ack, err := a.SendForward(ctx, types.Contact{Scene: types.SceneGroup, Peer: "g-1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, ack.MessageID, ack.ForwardID)

	entry, _ := traces.Get("t-1")
	require.Len(t, entry.Responses, 1)
	assert.Equal(t, "forward", entry.Responses[0].Kind)
}

func TestRingTrimsToMaxMostRecentFirst(t *testing.T) {
	const maxHistory = 20
	ring := NewRing(maxHistory)

	total := maxHistory + 5
	for i := 0; i < total; i++ {
		ring.Push(types.Record{MessageID: fmt.Sprintf("m-%d", i)})
	}

	snap := ring.Snapshot(0)
	require.Len(t, snap, maxHistory)
	// Most recent first, insertion order preserved.
	for i := 0; i < maxHistory; i++ {
		assert.Equal(t, fmt.Sprintf("m-%d", total-1-i), snap[i].MessageID)
	}
}

func TestRingSnapshotLimit(t *testing.T) {
	ring := NewRing(10)
	for i := 0; i < 5; i++ {
		ring.Push(types.Record{MessageID: fmt.Sprintf("m-%d", i)})
	}
	assert.Len(t, ring.Snapshot(3), 3)
	assert.Len(t, ring.Snapshot(0), 5)
	assert.Len(t, ring.Snapshot(100), 5)
}

func TestMessageIDsAreDiscriminable(t *testing.T) {
	seen := make(map[string]bool)
	a := New(trace.NewStore(), 300)
	for i := 0; i < 200; i++ {
		ack, _ := a.SendMessage(context.Background(), types.Contact{}, nil)
		assert.False(t, seen[ack.MessageID], "duplicate message id %s", ack.MessageID)
		seen[ack.MessageID] = true
	}
}
