package scenario

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/botwire/botwire/internal/logging"
	"github.com/botwire/botwire/internal/records"
)

// StepResult is the outcome of one executed step.
type StepResult struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Action   string `json:"action,omitempty"`
	Path     string `json:"path,omitempty"`
	Status   int    `json:"status"`
	OK       bool   `json:"ok"`
	DurMs    int64  `json:"durMs"`
	TraceID  string `json:"traceId,omitempty"`
	Summary  any    `json:"summary,omitempty"`
	ErrorMsg string `json:"error,omitempty"`
}

// Result is the outcome of a full scenario run.
type Result struct {
	ScenarioID string       `json:"scenarioId"`
	SessionID  string       `json:"sessionId"`
	OK         bool         `json:"ok"`
	StartedAt  int64        `json:"startedAt"`
	DurMs      int64        `json:"durMs"`
	Steps      []StepResult `json:"steps"`
	RecordFile string       `json:"recordFile,omitempty"`
}

// SuiteResult is the outcome of running every scenario in sequence.
type SuiteResult struct {
	SessionID  string   `json:"sessionId"`
	OK         bool     `json:"ok"`
	StartedAt  int64    `json:"startedAt"`
	DurMs      int64    `json:"durMs"`
	Results    []Result `json:"results"`
	RecordFile string   `json:"recordFile,omitempty"`
}

// Runner executes scenarios against a mounted bridge over plain HTTP.
// Requests go through the real HTTP surface so status-code expectations
// (429, 403, 410) assert what external callers observe.
type Runner struct {
	mcpURL string
	client *http.Client
	store  *records.Store
}

// NewRunner returns a runner that targets mcpURL (scheme://host:port<mcpPath>).
func NewRunner(mcpURL string, store *records.Store) *Runner {
	return &Runner{
		mcpURL: strings.TrimRight(mcpURL, "/"),
		client: &http.Client{Timeout: 90 * time.Second},
		store:  store,
	}
}

var varPattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

func substitute(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(m string) string {
		key := varPattern.FindStringSubmatch(m)[1]
		if v, ok := vars[key]; ok {
			return v
		}
		return m
	})
}

func substituteValue(v any, vars map[string]string) any {
	switch t := v.(type) {
	case string:
		return substitute(t, vars)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = substituteValue(val, vars)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = substituteValue(val, vars)
		}
		return out
	default:
		return v
	}
}

// Run executes one scenario. Every step runs even after failures; the
// scenario is OK only when all steps are.
func (r *Runner) Run(ctx context.Context, sc *Scenario) Result {
	sessionID := records.NewSessionID()
	start := time.Now()
	vars := map[string]string{"sessionId": sessionID}

	res := Result{
		ScenarioID: sc.ID,
		SessionID:  sessionID,
		OK:         true,
		StartedAt:  start.UnixMilli(),
	}
	for i := range sc.Steps {
		sr := r.runStep(ctx, &sc.Steps[i], vars)
		if !sr.OK {
			res.OK = false
		}
		res.Steps = append(res.Steps, sr)
	}
	res.DurMs = time.Since(start).Milliseconds()

	if r.store != nil {
		rec := records.RunRecord{
			SessionID:  sessionID,
			Time:       res.StartedAt,
			Kind:       records.RunKindScenario,
			OK:         res.OK,
			DurationMs: res.DurMs,
			Data:       res,
		}
		if file, err := r.store.WriteRun(rec); err == nil {
			res.RecordFile = file
		}
	}
	return res
}

// RunAll executes every built-in scenario in order.
func (r *Runner) RunAll(ctx context.Context) SuiteResult {
	sessionID := records.NewSessionID()
	start := time.Now()
	suite := SuiteResult{SessionID: sessionID, OK: true, StartedAt: start.UnixMilli()}
	for i := range Builtin {
		res := r.Run(ctx, &Builtin[i])
		if !res.OK {
			suite.OK = false
		}
		suite.Results = append(suite.Results, res)
	}
	suite.DurMs = time.Since(start).Milliseconds()

	if r.store != nil {
		rec := records.RunRecord{
			SessionID:  sessionID,
			Time:       suite.StartedAt,
			Kind:       records.RunKindSuite,
			OK:         suite.OK,
			DurationMs: suite.DurMs,
			Data:       suite,
		}
		if file, err := r.store.WriteRun(rec); err == nil {
			suite.RecordFile = file
		}
	}
	return suite
}

func (r *Runner) runStep(ctx context.Context, step *Step, vars map[string]string) StepResult {
	start := time.Now()
	sr := StepResult{Name: step.Name, Kind: step.Kind, Action: step.Action}

	expect := step.ExpectStatus
	if len(expect) == 0 {
		expect = []int{http.StatusOK}
	}

	var (
		status int
		body   []byte
		err    error
	)
	switch step.Kind {
	case "api":
		data := substituteValue(cloneData(step.Data), vars)
		status, body, err = r.post(ctx, "/api/"+step.Action, data)
	case "http":
		path := substitute(step.Path, vars)
		sr.Path = path
		method := step.Method
		if method == "" {
			method = http.MethodGet
		}
		status, body, err = r.request(ctx, method, path, nil)
	default:
		err = fmt.Errorf("unknown step kind %q", step.Kind)
	}

	sr.DurMs = time.Since(start).Milliseconds()
	sr.Status = status
	if err != nil {
		sr.ErrorMsg = err.Error()
		sr.OK = false
		return sr
	}

	sr.OK = containsStatus(expect, status)
	if step.Kind == "api" {
		r.captureVars(step, body, vars, &sr)
	}
	return sr
}

// captureVars pulls trace ids and render filenames out of envelopes so later
// steps can reference them via {{lastTraceId}} / {{renderFilename}}.
func (r *Runner) captureVars(step *Step, body []byte, vars map[string]string, sr *StepResult) {
	var env struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
		Error   string         `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		sr.Summary = truncateBody(body)
		return
	}
	if env.Error != "" {
		sr.ErrorMsg = env.Error
	}
	if env.Data == nil {
		return
	}
	if tid, ok := env.Data["traceId"].(string); ok && tid != "" {
		vars["lastTraceId"] = tid
		sr.TraceID = tid
	}
	if fn, ok := env.Data["filename"].(string); ok && fn != "" {
		vars["renderFilename"] = fn
	}
	sr.Summary = summarize(step.Action, env.Data)
}

// summarize keeps run records small: per action, only the fields a reader
// needs to judge the step.
func summarize(action string, data map[string]any) any {
	switch action {
	case "mock.incoming.message":
		out := map[string]any{"traceId": data["traceId"]}
		if replies, ok := data["replies"].([]any); ok {
			out["replyCount"] = len(replies)
			if len(replies) > 0 {
				out["firstReply"] = records.SafeValue(replies[0])
			}
		}
		return out
	case "render.screenshot":
		return map[string]any{"filename": data["filename"], "fileUrl": data["fileUrl"]}
	case "meta.actions":
		if actions, ok := data["actions"].([]any); ok {
			return map[string]any{"count": len(actions)}
		}
		return records.SafeValue(data)
	case "test.records.list":
		if files, ok := data["files"].([]any); ok {
			return map[string]any{"count": len(files)}
		}
		return records.SafeValue(data)
	case "test.records.tail":
		if lines, ok := data["lines"].([]any); ok {
			return map[string]any{"count": len(lines)}
		}
		return records.SafeValue(data)
	default:
		return records.SafeValue(data)
	}
}

func (r *Runner) post(ctx context.Context, path string, data any) (int, []byte, error) {
	var buf bytes.Buffer
	if data == nil {
		buf.WriteString("{}")
	} else if err := json.NewEncoder(&buf).Encode(data); err != nil {
		return 0, nil, err
	}
	return r.request(ctx, http.MethodPost, path, &buf)
}

func (r *Runner) request(ctx context.Context, method, path string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, r.mcpURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		logging.Debug().Err(err).Str("path", path).Msg("scenario response read failed")
		return resp.StatusCode, nil, nil
	}
	return resp.StatusCode, b, nil
}

func cloneData(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func containsStatus(expect []int, status int) bool {
	for _, s := range expect {
		if s == status {
			return true
		}
	}
	return false
}

func truncateBody(b []byte) string {
	const max = 500
	s := string(b)
	if len(s) > max {
		return s[:max] + "…"
	}
	return s
}
