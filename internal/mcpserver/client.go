package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/botwire/botwire/internal/logging"
)

// ClientConfig tunes the bridge HTTP client.
type ClientConfig struct {
	// BridgeURL is the bridge base URL including the mount path.
	BridgeURL string
	// ReadyTimeout bounds each health check.
	ReadyTimeout time.Duration
	// Retries is the number of action-call attempts.
	Retries int
	// Backoff is the linear backoff unit: attempt n waits n*Backoff.
	Backoff time.Duration
}

// healthyWindow is how long a successful health check is trusted before
// re-polling.
const healthyWindow = 1500 * time.Millisecond

// Result is what a bridge call produces. Network and upstream failures are
// data, not errors: tool handlers always have something to serialize.
type Result struct {
	OK     bool           `json:"ok"`
	Status int            `json:"status,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Client calls bridge actions over loopback HTTP with readiness polling and
// linear-backoff retries.
type Client struct {
	cfg  ClientConfig
	http *http.Client

	mu          sync.Mutex
	lastHealthy time.Time
}

// NewClient creates a bridge client.
func NewClient(cfg ClientConfig) *Client {
	cfg.BridgeURL = strings.TrimRight(cfg.BridgeURL, "/")
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 1500 * time.Millisecond
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 300 * time.Millisecond
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 90 * time.Second},
	}
}

// linearBackOff waits unit, 2*unit, 3*unit... between attempts.
type linearBackOff struct {
	unit    time.Duration
	attempt int
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.attempt++
	return time.Duration(l.attempt) * l.unit
}

func (l *linearBackOff) Reset() { l.attempt = 0 }

// newCallBackoff builds the retry policy for one Call: linear waits, capped at
// Retries-1 retries after the first attempt, stopping early on context
// cancellation via backoff.Stop.
func (c *Client) newCallBackoff(ctx context.Context) backoff.BackOff {
	bo := &linearBackOff{unit: c.cfg.Backoff}
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.cfg.Retries-1)), ctx)
}

// goneError marks the bridge's mount path having moved; never retried.
type goneError struct {
	activePath string
}

func (e *goneError) Error() string {
	return "bridge mount path changed, active path: " + e.activePath
}

// Call invokes a bridge action. Readiness is checked before each attempt;
// transport failures and 5xx responses are retried with linear backoff, 410
// is surfaced immediately, and 4xx responses (including 429) are returned to
// the caller without retry.
func (c *Client) Call(ctx context.Context, action string, data map[string]any) Result {
	bo := c.newCallBackoff(ctx)

	var last Result
	for attempt := 1; ; attempt++ {
		if err := c.ensureReady(ctx); err != nil {
			if gone, ok := err.(*goneError); ok {
				return Result{Error: gone.Error(), Status: http.StatusGone}
			}
			last = Result{Error: "bridge not ready: " + err.Error()}
		} else {
			res, retryable := c.post(ctx, action, data)
			if !retryable {
				return res
			}
			last = res
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			if ctx.Err() != nil {
				return Result{Error: "canceled: " + ctx.Err().Error()}
			}
			return last
		}
		logging.Debug().Str("action", action).Int("attempt", attempt).
			Dur("wait", wait).Msg("bridge call retrying")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return Result{Error: "canceled: " + ctx.Err().Error()}
		}
	}
}

// ensureReady polls the health endpoint unless a recent check already
// succeeded.
func (c *Client) ensureReady(ctx context.Context) error {
	c.mu.Lock()
	recent := time.Since(c.lastHealthy) < healthyWindow
	c.mu.Unlock()
	if recent {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ReadyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BridgeURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode == http.StatusOK:
		c.mu.Lock()
		c.lastHealthy = time.Now()
		c.mu.Unlock()
		return nil
	case resp.StatusCode == http.StatusGone:
		return &goneError{activePath: activePathFrom(body)}
	default:
		return fmt.Errorf("health returned %d", resp.StatusCode)
	}
}

func activePathFrom(body []byte) string {
	var payload struct {
		ActivePath string `json:"activePath"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "unknown"
	}
	if payload.ActivePath == "" {
		return "unknown"
	}
	return payload.ActivePath
}

// post performs one action call attempt. The second return value says
// whether the failure is worth retrying.
func (c *Client) post(ctx context.Context, action string, data map[string]any) (Result, bool) {
	payload := data
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{Error: "marshal request: " + err.Error()}, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BridgeURL+"/api/"+action, bytes.NewReader(body))
	if err != nil {
		return Result{Error: err.Error()}, false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{Error: "bridge unreachable: " + err.Error()}, true
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Result{Status: resp.StatusCode, Error: "read response: " + err.Error()}, true
	}

	if resp.StatusCode == http.StatusGone {
		return Result{
			Status: resp.StatusCode,
			Error:  (&goneError{activePath: activePathFrom(raw)}).Error(),
		}, false
	}

	var env struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
		Error   string         `json:"error"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return Result{Status: resp.StatusCode, Error: "malformed bridge response"}, resp.StatusCode >= 500
	}

	if env.Success {
		return Result{OK: true, Status: resp.StatusCode, Data: env.Data}, false
	}

	res := Result{Status: resp.StatusCode, Data: env.Data, Error: env.Error}
	if res.Error == "" {
		res.Error = fmt.Sprintf("bridge returned %d", resp.StatusCode)
	}
	// Client errors, rate limits included, are the caller's problem; only
	// server-side failures are retried.
	return res, resp.StatusCode >= 500
}
