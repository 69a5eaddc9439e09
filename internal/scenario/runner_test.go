package scenario

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botwire/botwire/internal/records"
)

func envelope(w http.ResponseWriter, status int, data map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": status < 400,
		"data":    data,
		"time":    1,
	})
}

func TestRunCapturesTraceIDAndSubstitutes(t *testing.T) {
	var gotPath atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/mcp/api/mock.incoming.message":
			envelope(w, http.StatusOK, map[string]any{
				"traceId": "trace-abc",
				"replies": []any{map[string]any{"message": "pong"}},
			})
		case "/mcp/api/test.trace.get":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			gotPath.Store(body["traceId"])
			envelope(w, http.StatusOK, map[string]any{"found": true})
		default:
			envelope(w, http.StatusNotFound, nil)
		}
	}))
	defer srv.Close()

	r := NewRunner(srv.URL+"/mcp", nil)
	sc := &Scenario{
		ID: "t",
		Steps: []Step{
			{Name: "send", Kind: "api", Action: "mock.incoming.message", Data: map[string]any{"message": "ping"}},
			{Name: "trace", Kind: "api", Action: "test.trace.get", Data: map[string]any{"traceId": "{{lastTraceId}}"}},
		},
	}
	res := r.Run(context.Background(), sc)
	require.Len(t, res.Steps, 2)
	assert.True(t, res.OK)
	assert.Equal(t, "trace-abc", res.Steps[0].TraceID)
	assert.Equal(t, "trace-abc", gotPath.Load())
}

func TestRunAllStepsRunAfterFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		envelope(w, http.StatusInternalServerError, nil)
	}))
	defer srv.Close()

	r := NewRunner(srv.URL, nil)
	sc := &Scenario{ID: "t", Steps: []Step{
		{Name: "a", Kind: "api", Action: "bot.status"},
		{Name: "b", Kind: "api", Action: "bot.status"},
		{Name: "c", Kind: "api", Action: "bot.status"},
	}}
	res := r.Run(context.Background(), sc)
	assert.False(t, res.OK)
	assert.Len(t, res.Steps, 3)
	assert.EqualValues(t, 3, calls.Load())
	for _, s := range res.Steps {
		assert.False(t, s.OK)
		assert.Equal(t, http.StatusInternalServerError, s.Status)
	}
}

func TestRunExpectedStatusSet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		envelope(w, http.StatusTooManyRequests, nil)
	}))
	defer srv.Close()

	r := NewRunner(srv.URL, nil)
	sc := &Scenario{ID: "t", Steps: []Step{
		{Name: "burst", Kind: "api", Action: "mock.incoming.message", ExpectStatus: []int{200, 429}},
	}}
	res := r.Run(context.Background(), sc)
	assert.True(t, res.OK)
	assert.Equal(t, http.StatusTooManyRequests, res.Steps[0].Status)
}

func TestRunHTTPStepUsesRenderFilename(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/render.screenshot":
			envelope(w, http.StatusOK, map[string]any{"filename": "shot.png", "fileUrl": "/files/shot.png"})
		case "/files/shot.png":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	r := NewRunner(srv.URL, nil)
	sc := &Scenario{ID: "t", Steps: []Step{
		{Name: "render", Kind: "api", Action: "render.screenshot", Data: map[string]any{"file": "<p>x</p>"}},
		{Name: "fetch", Kind: "http", Method: "GET", Path: "/files/{{renderFilename}}"},
	}}
	res := r.Run(context.Background(), sc)
	assert.True(t, res.OK)
	assert.Equal(t, "/files/shot.png", res.Steps[1].Path)
}

func TestRunWritesRunRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		envelope(w, http.StatusOK, map[string]any{"traceId": "t1"})
	}))
	defer srv.Close()

	store := records.NewStore(t.TempDir())
	r := NewRunner(srv.URL, store)
	res := r.Run(context.Background(), &Scenario{ID: "t", Steps: []Step{
		{Name: "a", Kind: "api", Action: "bot.status"},
	}})
	assert.True(t, res.OK)
	assert.NotEmpty(t, res.RecordFile)
}

func TestBuiltinScenariosWellFormed(t *testing.T) {
	seen := map[string]bool{}
	for _, sc := range Builtin {
		require.NotEmpty(t, sc.ID)
		assert.False(t, seen[sc.ID], "duplicate scenario id %s", sc.ID)
		seen[sc.ID] = true
		require.NotEmpty(t, sc.Steps, "scenario %s has no steps", sc.ID)
		for _, st := range sc.Steps {
			switch st.Kind {
			case "api":
				assert.NotEmpty(t, st.Action)
			case "http":
				assert.NotEmpty(t, st.Path)
			default:
				t.Fatalf("scenario %s: unknown step kind %q", sc.ID, st.Kind)
			}
		}
	}
	assert.NotNil(t, Get("core.status"))
	assert.Nil(t, Get("nope"))
	assert.Len(t, List(), len(Builtin))
}
