package records

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botwire/botwire/pkg/types"
)

func TestWriteAndGetTraceRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())
	now := time.Now().UnixMilli()

	request := types.Record{
		Direction: types.DirectionIn,
		TraceID:   "trace-abc",
		Time:      now,
		MessageID: "m-1",
		UserID:    "u-1",
		Message:   "ping",
	}
	response := types.Record{
		Direction: types.DirectionOut,
		TraceID:   "trace-abc",
		Time:      now + 5,
		MessageID: "m-2",
		Message:   "pong",
	}

	file, err := store.WriteTrace(TraceRecord{
		TraceID:   "trace-abc",
		Time:      now,
		Action:    "mock.incoming.message",
		Request:   request,
		Responses: []any{response},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(file, "trace-trace-abc-"))

	// Lookup by trace id.
	lookup := store.GetTrace("", "", "trace-abc")
	require.NotNil(t, lookup)
	assert.Equal(t, file, lookup.File)

	data, ok := lookup.Data.(map[string]any)
	require.True(t, ok)
	req, ok := data["request"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ping", req["message"])
	assert.Equal(t, "m-1", req["messageId"])

	responses, ok := data["responses"].([]any)
	require.True(t, ok)
	require.Len(t, responses, 1)
	assert.Equal(t, "pong", responses[0].(map[string]any)["message"])

	// Lookup by (date, file) matches.
	date := time.UnixMilli(now).UTC().Format("2006-01-02")
	byFile := store.GetTrace(date, file, "")
	require.NotNil(t, byFile)
	assert.Equal(t, lookup.Data, byFile.Data)
}

func TestGetTraceRejectsPathTraversal(t *testing.T) {
	store := NewStore(t.TempDir())
	assert.Nil(t, store.GetTrace("2026-01-01", "../../etc/passwd", ""))
}

func TestMalformedDatesNeverLeaveTheStore(t *testing.T) {
	base := t.TempDir()
	store := NewStore(filepath.Join(base, "data"))

	// A trace-shaped file two levels above traceDir, where date "../.." would
	// have pointed lookups.
	outside := filepath.Join(base, "trace-leak-001.json")
	require.NoError(t, os.WriteFile(outside, []byte(`{"traceId":"leak"}`), 0o644))

	for _, date := range []string{"../..", "..", "2026-01-01/..", "x", "2026-1-1"} {
		assert.Empty(t, store.TailHTTP(date, 10).Items, "date %q", date)
		assert.Empty(t, store.TailSession(date, 10, "").Items, "date %q", date)
		assert.Nil(t, store.GetTrace(date, "", "leak"), "date %q", date)
		assert.Empty(t, store.List(date, 10).Traces, "date %q", date)
	}
}

func TestHTTPLogAppendAndTail(t *testing.T) {
	store := NewStore(t.TempDir())
	now := time.Now().UnixMilli()

	for i := 0; i < 3; i++ {
		store.RecordHTTP(HTTPRecord{
			ID:     NewSessionID(),
			Time:   now,
			Action: "bot.status",
			Method: "POST",
			IP:     "127.0.0.1",
			Status: 200,
			OK:     true,
		})
	}

	tail := store.TailHTTP("", 2)
	assert.Len(t, tail.Items, 2)

	listing := store.List("", 10)
	require.Len(t, listing.HTTP, 1)
	assert.True(t, strings.HasSuffix(listing.HTTP[0].File, ".jsonl"))
}

func TestSessionTailFiltersByTraceID(t *testing.T) {
	store := NewStore(t.TempDir())
	now := time.Now().UnixMilli()

	store.RecordSession(TraceRecord{TraceID: "t-1", Time: now, Action: "mock.incoming.message"})
	store.RecordSession(TraceRecord{TraceID: "t-2", Time: now, Action: "mock.incoming.message"})

	tail := store.TailSession("", 10, "t-2")
	require.Len(t, tail.Items, 1)
	item := tail.Items[0].(map[string]any)
	assert.Equal(t, "t-2", item["traceId"])
}

func TestWriteRunRecord(t *testing.T) {
	store := NewStore(t.TempDir())
	now := time.Now().UnixMilli()

	file, err := store.WriteRun(RunRecord{
		SessionID:  "session-1",
		Time:       now,
		Kind:       RunKindScenario,
		OK:         true,
		DurationMs: 42,
		Data:       map[string]any{"scenarioId": "core.status"},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(file, "run-session-1-"))

	date := time.UnixMilli(now).UTC().Format("2006-01-02")
	raw, err := os.ReadFile(filepath.Join(store.BaseDir(), "runs", date, file))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "core.status")
}

func TestSafeValueBounds(t *testing.T) {
	long := strings.Repeat("x", 5000)
	v := SafeValue(map[string]any{
		"s":    long,
		"deep": map[string]any{"a": map[string]any{"b": map[string]any{"c": map[string]any{"d": map[string]any{"e": "too deep"}}}}},
	}).(map[string]any)

	assert.Less(t, len(v["s"].(string)), 2100)

	big := make([]any, 100)
	for i := range big {
		big[i] = i
	}
	arr := SafeValue(big).([]any)
	assert.Len(t, arr, 50)
}

func TestSafeValueNormalizesStructs(t *testing.T) {
	rec := types.Record{Direction: types.DirectionOut, MessageID: "m-1", Message: "hi"}
	v, ok := SafeValue(rec).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "m-1", v["messageId"])
}
