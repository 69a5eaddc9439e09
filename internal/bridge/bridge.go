// Package bridge provides the HTTP surface of the bot: an action dispatcher
// with a uniform response envelope, message-injection with trace correlation,
// rate limiting, rendering, scenario execution, and record inspection.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/botwire/botwire/internal/adapter"
	"github.com/botwire/botwire/internal/config"
	"github.com/botwire/botwire/internal/event"
	"github.com/botwire/botwire/internal/logging"
	"github.com/botwire/botwire/internal/ratelimit"
	"github.com/botwire/botwire/internal/records"
	"github.com/botwire/botwire/internal/scenario"
	"github.com/botwire/botwire/internal/trace"
)

// Options configures a Bridge instance.
type Options struct {
	Config *config.Config
	// Registry survives rebuilds so extension actions persist across
	// mount-path changes. Optional; a fresh one is created when nil.
	Registry *Registry
	// Renderer produces screenshot artifacts. Optional; defaults to the
	// file-writing stub renderer.
	Renderer Renderer
	// Bus is the host message pipeline. Optional; a private bus is created
	// when nil.
	Bus *event.Bus
	// Supervisor manages the stdio server child process. Optional.
	Supervisor *Supervisor
	// BaseURL overrides the loopback URL scenarios use to call back into the
	// bridge. Defaults to http://127.0.0.1:<port><mcpPath>.
	BaseURL string
	// FileURL maps a rendered artifact name to an externally served URL.
	// Optional; the local /files/ route is the fallback.
	FileURL func(filename string) string
}

// Bridge is one fully wired bridge instance. All mutable state (traces, ring
// buffers, limiter buckets) belongs to the instance and dies with it on
// Dispose; reconfiguration builds a new instance rather than mutating a live
// one.
type Bridge struct {
	cfg         *config.Config
	traces      *trace.Store
	adapter     *adapter.Adapter
	limiter     *ratelimit.Limiter
	store       *records.Store
	bus         *event.Bus
	registry    *Registry
	renderer    Renderer
	supervisor  *Supervisor
	allow       *allowlist
	runner      *scenario.Runner
	fileURLHook func(filename string) string

	router    chi.Router
	startedAt time.Time
	ownsBus   bool

	builtins map[string]Handler
}

// New builds a bridge instance from options.
func New(opts Options) *Bridge {
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.Config{}
	}

	traces := trace.NewStore()
	bus := opts.Bus
	ownsBus := false
	if bus == nil {
		bus = event.NewBus()
		ownsBus = true
	}
	registry := opts.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	renderer := opts.Renderer
	if renderer == nil {
		renderer = NewStubRenderer()
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://127.0.0.1:%d%s", cfg.Port, cfg.MCPPath)
	}
	store := records.NewStore(cfg.DataDir)

	b := &Bridge{
		cfg:         cfg,
		traces:      traces,
		adapter:     adapter.New(traces, cfg.MaxHistory),
		limiter:     ratelimit.NewLimiter(),
		store:       store,
		bus:         bus,
		registry:    registry,
		renderer:    renderer,
		supervisor:  opts.Supervisor,
		allow:       newAllowlist(cfg.IPAllowlist),
		runner:      scenario.NewRunner(baseURL, store),
		fileURLHook: opts.FileURL,
		startedAt:   time.Now(),
		ownsBus:     ownsBus,
	}
	b.builtins = b.builtinActions()
	b.router = b.buildRouter()
	return b
}

// Config returns the instance configuration.
func (b *Bridge) Config() *config.Config { return b.cfg }

// Bus returns the host event bus.
func (b *Bridge) Bus() *event.Bus { return b.bus }

// Adapter returns the synthetic adapter.
func (b *Bridge) Adapter() *adapter.Adapter { return b.adapter }

// Traces returns the trace store.
func (b *Bridge) Traces() *trace.Store { return b.traces }

// Registry returns the extension action registry.
func (b *Bridge) Registry() *Registry { return b.registry }

// Router returns the instance's HTTP handler, rooted at the mount path.
func (b *Bridge) Router() http.Handler { return b.router }

// Dispose tears the instance down: stops the supervised child process and
// closes a privately owned bus. Trace and ring-buffer state is simply dropped.
func (b *Bridge) Dispose() {
	if b.supervisor != nil {
		b.supervisor.Stop()
	}
	if b.ownsBus {
		_ = b.bus.Close()
	}
}

func (b *Bridge) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(b.authorize)

	r.Get("/health", b.handleHealth)
	r.Get("/files/{filename}", b.handleFile)
	r.HandleFunc("/api/{action}", b.handleAction)

	return r
}

// authorize rejects remote addresses outside the allowlist before any
// handler, rate limiting, or other side effect runs. Rejections still get an
// audit line.
func (b *Bridge) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.allow.Allowed(r.RemoteAddr) {
			next.ServeHTTP(w, r)
			return
		}
		action := chi.URLParam(r, "action")
		aerr := errForbidden("IP not allowed")
		b.audit(records.HTTPRecord{
			ID:     uuid.NewString(),
			Time:   time.Now().UnixMilli(),
			Action: action,
			Method: r.Method,
			IP:     r.RemoteAddr,
			Status: aerr.Status,
			OK:     false,
			ResponseSummary: map[string]any{
				"error": aerr.Message,
				"path":  r.URL.Path,
			},
		})
		writeActionError(w, action, aerr)
	})
}

func (b *Bridge) handleHealth(w http.ResponseWriter, r *http.Request) {
	inbox, outbox := b.adapter.Stats()
	data := map[string]any{
		"status":  "ok",
		"plugin":  b.adapter.Name,
		"mcpPath": b.cfg.MCPPath,
		"mcpServer": map[string]any{
			"running": b.supervisor.Running(),
			"pid":     b.supervisor.PID(),
		},
		"adapter": map[string]any{
			"selfId": adapter.SelfID,
			"index":  0,
		},
		"counts": map[string]any{
			"inbox":  inbox,
			"outbox": outbox,
			"traces": b.traces.Len(),
		},
	}
	writeSuccess(w, "health", data)
}

// handleFile serves a rendered artifact by bare file name. Anything that is
// not its own basename is a traversal attempt.
func (b *Bridge) handleFile(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "filename"))
	if err != nil {
		writeActionError(w, "", errBadRequest("invalid filename"))
		return
	}
	if name == "" || filepath.Base(name) != name || strings.ContainsAny(name, "\\") {
		writeActionError(w, "", errBadRequest("invalid filename"))
		return
	}
	http.ServeFile(w, r, filepath.Join(b.cfg.RenderDir, name))
}

// Meta carries transport facts into Dispatch for auditing.
type Meta struct {
	Method string
	IP     string
}

func (b *Bridge) handleAction(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")

	data, err := readActionData(r)
	if err != nil {
		writeActionError(w, action, errBadRequest("invalid JSON body: "+err.Error()))
		return
	}

	status, env := b.Dispatch(r.Context(), action, data, Meta{Method: r.Method, IP: r.RemoteAddr})
	writeJSON(w, status, env)
}

// readActionData parses the request payload: the query string for GET,
// otherwise a JSON object body (empty body allowed).
func readActionData(r *http.Request) (map[string]any, error) {
	if r.Method == http.MethodGet {
		data := make(map[string]any)
		for key, values := range r.URL.Query() {
			if len(values) > 0 {
				data[key] = values[0]
			}
		}
		return data, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return map[string]any{}, nil
	}
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

// Dispatch routes an action to its builtin or extension handler and returns
// the HTTP status plus the uniform envelope. Every call, success or not, is
// audited.
func (b *Bridge) Dispatch(ctx context.Context, action string, data map[string]any, meta Meta) (int, Envelope) {
	start := time.Now()

	status, env := b.dispatch(ctx, action, data)

	rec := records.HTTPRecord{
		ID:         uuid.NewString(),
		Time:       start.UnixMilli(),
		Action:     action,
		Method:     meta.Method,
		IP:         meta.IP,
		Status:     status,
		OK:         env.Success,
		DurationMs: time.Since(start).Milliseconds(),
		Request:    data,
	}
	if env.Success {
		rec.ResponseSummary = summarizeResponse(action, env.Data)
	} else {
		rec.ResponseSummary = map[string]any{"error": env.Error}
	}
	if dataMap, ok := env.Data.(map[string]any); ok {
		if tid, ok := dataMap["traceId"].(string); ok {
			rec.TraceID = tid
		}
	}
	b.audit(rec)

	return status, env
}

func (b *Bridge) dispatch(ctx context.Context, action string, data map[string]any) (int, Envelope) {
	now := func() int64 { return time.Now().UnixMilli() }

	handler, ok := b.builtins[action]
	if !ok {
		if ext := b.registry.Get(action); ext != nil {
			handler = wrapExtension(ext)
		}
	}
	if handler == nil {
		return http.StatusNotFound, Envelope{
			Success: false,
			Action:  action,
			Error:   "Unknown action: " + action,
			Time:    now(),
		}
	}

	result, aerr := safeInvoke(ctx, handler, data)
	if aerr != nil {
		env := Envelope{Success: false, Action: action, Error: aerr.Message, Time: now()}
		if len(aerr.Data) > 0 {
			env.Data = aerr.Data
		}
		return aerr.Status, env
	}
	return http.StatusOK, Envelope{Success: true, Action: action, Data: result, Time: now()}
}

// safeInvoke shields the dispatcher from handler panics.
func safeInvoke(ctx context.Context, handler Handler, data map[string]any) (result any, aerr *ActionError) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Any("panic", r).Msg("action handler panicked")
			result = nil
			aerr = errInternal("internal error")
		}
	}()
	return handler(ctx, data)
}

func wrapExtension(ext *Action) Handler {
	return func(ctx context.Context, data map[string]any) (any, *ActionError) {
		if err := ext.Schema.Validate(data); err != nil {
			return nil, errBadRequest(err.Error())
		}
		return ext.Handler(ctx, data)
	}
}

func (b *Bridge) audit(rec records.HTTPRecord) {
	b.store.RecordHTTP(rec)
}

// summarizeResponse keeps audit lines compact per action family. Data is
// normalized to generic JSON shapes first so typed handler results summarize
// the same way as maps.
func summarizeResponse(action string, data any) any {
	safe := records.SafeValue(data)
	m, ok := safe.(map[string]any)
	if !ok {
		return safe
	}
	switch action {
	case "mock.incoming.message":
		out := map[string]any{"traceId": m["traceId"]}
		if replies, ok := m["replies"].([]any); ok {
			out["replyCount"] = len(replies)
		}
		return out
	case "mock.history":
		if items, ok := m["items"].([]any); ok {
			return map[string]any{"type": m["type"], "count": len(items)}
		}
	case "render.screenshot":
		return map[string]any{"filename": m["filename"], "count": m["count"]}
	case "config.get":
		return map[string]any{"redacted": true}
	}
	return records.SafeValue(m)
}
