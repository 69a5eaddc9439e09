package bridge

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/botwire/botwire/internal/config"
	"github.com/botwire/botwire/internal/event"
	"github.com/botwire/botwire/internal/ratelimit"
	"github.com/botwire/botwire/internal/records"
	"github.com/botwire/botwire/internal/trace"
)

// actionInjectMessage simulates an inbound chat event and returns whatever
// replies accumulated on its trace within the bounded wait.
func (b *Bridge) actionInjectMessage(ctx context.Context, data map[string]any) (any, *ActionError) {
	message := stringField(data, "message")
	userID := stringField(data, "user_id")
	groupID := stringField(data, "group_id")
	nickname := stringField(data, "nickname")
	role := stringField(data, "role")
	traceID := stringField(data, "traceId")

	if message == "" {
		return nil, errBadRequest("message is required")
	}
	if userID == "" {
		return nil, errBadRequest("user_id is required")
	}

	waitMs := intField(data, "waitMs", b.defaultWaitMs())
	if waitMs < 0 {
		waitMs = 0
	}
	if waitMs > config.MaxWaitMs {
		waitMs = config.MaxWaitMs
	}

	release, rej := b.acquireLimits(userID, groupID)
	if rej != nil {
		return nil, errRateLimited(string(rej.Reason), rej.RetryAfter.Milliseconds())
	}
	defer release()

	if traceID == "" {
		traceID = uuid.NewString()
	}

	rec := b.adapter.NewInboundRecord(traceID, message, userID, groupID, nickname, role)

	// Register before dispatch so a fast reply cannot race the trace entry.
	b.traces.Register(traceID, rec)
	b.traces.ScheduleEviction(traceID, b.cfg.TraceTTL())
	b.adapter.RecordInbound(rec)

	traceCtx := trace.WithTrace(ctx, traceID)
	b.bus.Publish(traceCtx, event.Event{Type: event.MessageReceived, Data: rec})

	// Bounded sleep, then read whatever accumulated. The pipeline gives no
	// completion signal, so partial results after waitMs are the contract.
	if waitMs > 0 {
		select {
		case <-time.After(time.Duration(waitMs) * time.Millisecond):
		case <-ctx.Done():
		}
	}

	entry, _ := b.traces.Get(traceID)

	replies := make([]map[string]any, 0, len(entry.Responses))
	for _, resp := range entry.Responses {
		replies = append(replies, map[string]any{
			"messageId": resp.MessageID,
			"time":      resp.Time,
			"message":   resp.Message,
			"elements":  resp.Elements,
		})
	}

	b.persistExchange(traceID, entry, waitMs)

	return map[string]any{
		"traceId":    traceID,
		"waitMs":     waitMs,
		"replies":    replies,
		"replyCount": len(replies),
	}, nil
}

func (b *Bridge) defaultWaitMs() int {
	if b.cfg.Defaults.WaitMs > 0 {
		return b.cfg.Defaults.WaitMs
	}
	return config.DefaultWaitMs
}

// acquireLimits takes the user slot and, when present, the group slot. Both
// are released together; a group rejection rolls the user slot back.
func (b *Bridge) acquireLimits(userID, groupID string) (func(), *ratelimit.Rejection) {
	if !b.cfg.Limits.Enabled {
		return func() {}, nil
	}

	userRelease, rej := b.limiter.Acquire("user:"+userID, toRule(b.cfg.Limits.User))
	if rej != nil {
		return nil, rej
	}
	if groupID == "" {
		return userRelease, nil
	}

	groupRelease, rej := b.limiter.Acquire("group:"+groupID, toRule(b.cfg.Limits.Group))
	if rej != nil {
		userRelease()
		return nil, rej
	}
	return func() {
		groupRelease()
		userRelease()
	}, nil
}

func toRule(r config.LimitRule) ratelimit.Rule {
	return ratelimit.Rule{MaxConcurrent: r.MaxConcurrent, RPS: r.RPS, Burst: r.Burst}
}

// persistExchange writes the trace file and session line. Best effort: record
// failures never surface to the caller.
func (b *Bridge) persistExchange(traceID string, entry trace.Entry, waitMs int) {
	responses := make([]any, 0, len(entry.Responses))
	for _, r := range entry.Responses {
		responses = append(responses, r)
	}
	recordedAt := entry.Request.Time
	if recordedAt == 0 {
		recordedAt = time.Now().UnixMilli()
	}
	rec := records.TraceRecord{
		TraceID:    traceID,
		Time:       recordedAt,
		Action:     "mock.incoming.message",
		Request:    entry.Request,
		Responses:  responses,
		DurationMs: int64(waitMs),
	}
	if file, err := b.store.WriteTrace(rec); err == nil {
		rec.TraceFile = file
	}
	b.store.RecordSession(rec)
}
