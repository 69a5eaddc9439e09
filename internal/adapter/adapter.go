// Package adapter implements the synthetic bot adapter: a fake chat-network
// connection that records every outbound send instead of delivering it.
package adapter

import (
	"context"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/botwire/botwire/internal/trace"
	"github.com/botwire/botwire/pkg/types"
)

// SelfID is the synthetic bot account id.
const SelfID = "mcp"

// Adapter captures sends into the outbox ring and, when an ambient trace is
// active, appends them to that trace's response list.
type Adapter struct {
	Name string

	traces *trace.Store
	inbox  *Ring
	outbox *Ring
}

// New creates an adapter bound to the given trace store and history cap.
func New(traces *trace.Store, maxHistory int) *Adapter {
	return &Adapter{
		Name:   "botwire-mcp",
		traces: traces,
		inbox:  NewRing(maxHistory),
		outbox: NewRing(maxHistory),
	}
}

// newMessageID generates a monotonically-discriminable id: a ULID carries a
// millisecond timestamp prefix and a random suffix.
func newMessageID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}

// SendMessage records an outbound send and returns an acknowledgement the way
// a real chat adapter would. It never fails for normal sends; sends outside
// any trace scope are recorded in the outbox but stay orphaned.
func (a *Adapter) SendMessage(ctx context.Context, contact types.Contact, elements []types.Element) (types.Ack, error) {
	return a.record(ctx, "", contact, elements), nil
}

// SendForward records a forward (batch/card) send using the same correlation
// mechanism, discriminated by kind "forward".
func (a *Adapter) SendForward(ctx context.Context, contact types.Contact, elements []types.Element) (types.Ack, error) {
	ack := a.record(ctx, "forward", contact, elements)
	ack.ForwardID = ack.MessageID
	return ack, nil
}

func (a *Adapter) record(ctx context.Context, kind string, contact types.Contact, elements []types.Element) types.Ack {
	now := time.Now()
	messageID := newMessageID(now)

	traceID, _ := trace.FromContext(ctx)

	rec := types.Record{
		Direction: types.DirectionOut,
		Kind:      kind,
		TraceID:   traceID,
		Time:      now.UnixMilli(),
		MessageID: messageID,
		Contact:   &contact,
		Elements:  elements,
		Message:   types.RenderText(elements),
	}

	a.outbox.Push(rec)

	if traceID != "" {
		a.traces.Append(traceID, rec)
	}

	return types.Ack{MessageID: messageID, Time: rec.Time}
}

// RecordInbound pushes an injected inbound message into the inbox ring.
func (a *Adapter) RecordInbound(rec types.Record) {
	a.inbox.Push(rec)
}

// NewInboundRecord builds the record for an injected message.
func (a *Adapter) NewInboundRecord(traceID, message, userID, groupID, nickname, role string) types.Record {
	now := time.Now()
	seq := rand.Int63n(1_000_000_000)

	rec := types.Record{
		Direction:  types.DirectionIn,
		TraceID:    traceID,
		Time:       now.UnixMilli(),
		MessageID:  newMessageID(now),
		MessageSeq: seq,
		UserID:     userID,
		GroupID:    groupID,
		Nickname:   nickname,
		Message:    message,
	}
	if groupID != "" {
		rec.Role = role
	}
	return rec
}

// Inbox returns up to limit inbound records, most recent first.
func (a *Adapter) Inbox(limit int) []types.Record {
	return a.inbox.Snapshot(limit)
}

// Outbox returns up to limit outbound records, most recent first.
func (a *Adapter) Outbox(limit int) []types.Record {
	return a.outbox.Snapshot(limit)
}

// Stats reports buffer sizes for diagnostics.
func (a *Adapter) Stats() (inbox, outbox int) {
	return a.inbox.Len(), a.outbox.Len()
}
