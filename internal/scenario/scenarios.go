// Package scenario defines declarative bridge smoke-test scenarios and the
// runner that executes them over HTTP.
package scenario

import "strings"

// Step is one scenario step: either a bridge action call or a raw HTTP
// request against the bridge mount.
type Step struct {
	// Name is a human readable label for the step.
	Name string `json:"name"`
	// Kind is "api" (POST /api/<action>) or "http" (request to mount + path).
	Kind   string         `json:"kind"`
	Action string         `json:"action,omitempty"`
	Method string         `json:"method,omitempty"`
	Path   string         `json:"path,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
	// ExpectStatus lists allowed status codes. Default: [200].
	ExpectStatus []int `json:"expectStatus,omitempty"`
}

// Scenario is a named sequence of steps.
type Scenario struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Steps       []Step `json:"steps"`
}

// Summary is the listing form of a scenario.
type Summary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	StepCount   int    `json:"stepCount"`
}

func api(name, action string, data map[string]any, expect ...int) Step {
	return Step{Name: name, Kind: "api", Action: action, Data: data, ExpectStatus: expect}
}

func httpGet(name, path string, expect ...int) Step {
	return Step{Name: name, Kind: "http", Method: "GET", Path: path, ExpectStatus: expect}
}

// Builtin is the built-in scenario set.
var Builtin = []Scenario{
	{
		ID:          "core.status",
		Title:       "Bot status",
		Description: "Verify the HTTP bridge is alive and the MCP server is running.",
		Steps: []Step{
			api("status", "bot.status", nil),
		},
	},
	{
		ID:          "core.actions",
		Title:       "List actions",
		Description: "Discover available HTTP actions via meta.actions.",
		Steps: []Step{
			api("actions", "meta.actions", nil),
		},
	},
	{
		ID:          "mock.friend.basic",
		Title:       "Mock friend message",
		Description: "Inject a DM message and aggregate replies by trace id.",
		Steps: []Step{
			api("send", "mock.incoming.message", map[string]any{
				"message": "ping",
				"user_id": "mcp-test-user",
				"waitMs":  1200,
			}),
		},
	},
	{
		ID:          "mock.group.basic",
		Title:       "Mock group message",
		Description: "Inject a group message (role/nickname) and aggregate replies.",
		Steps: []Step{
			api("send", "mock.incoming.message", map[string]any{
				"message":  "hello group",
				"user_id":  "mcp-test-user",
				"group_id": "mcp-test-group",
				"role":     "member",
				"waitMs":   1200,
			}),
		},
	},
	{
		ID:          "mock.rateLimit.user",
		Title:       "Rate limit (per user)",
		Description: "Burst requests quickly to exercise 429 responses (depends on limits config).",
		Steps: []Step{
			api("burst#1", "mock.incoming.message", map[string]any{"message": "burst 1", "user_id": "mcp-burst-user", "waitMs": 0}, 200, 429),
			api("burst#2", "mock.incoming.message", map[string]any{"message": "burst 2", "user_id": "mcp-burst-user", "waitMs": 0}, 200, 429),
			api("burst#3", "mock.incoming.message", map[string]any{"message": "burst 3", "user_id": "mcp-burst-user", "waitMs": 0}, 200, 429),
			api("burst#4", "mock.incoming.message", map[string]any{"message": "burst 4", "user_id": "mcp-burst-user", "waitMs": 0}, 200, 429),
			api("burst#5", "mock.incoming.message", map[string]any{"message": "burst 5", "user_id": "mcp-burst-user", "waitMs": 0}, 200, 429),
			api("burst#6", "mock.incoming.message", map[string]any{"message": "burst 6", "user_id": "mcp-burst-user", "waitMs": 0}, 200, 429),
		},
	},
	{
		ID:          "render.html.and.files",
		Title:       "Render screenshot + files endpoint",
		Description: "Render an HTML string into an image, then GET /files/<filename>.",
		Steps: []Step{
			api("render", "render.screenshot", map[string]any{
				"file_type": "htmlString",
				"type":      "png",
				"return":    "both",
				"filename":  "{{sessionId}}-render.png",
				"file":      renderTestHTML,
			}),
			httpGet("files.get", "/files/{{renderFilename}}", 200, 403),
		},
	},
	{
		ID:          "config.get",
		Title:       "Config get (optional)",
		Description: "config.get depends on mcpTools.configRead.",
		Steps: []Step{
			api("config", "config.get", nil, 200, 403),
		},
	},
	{
		ID:          "test.records",
		Title:       "Test records endpoints",
		Description: "List and tail records to validate JSONL/trace recording.",
		Steps: []Step{
			api("records.list", "test.records.list", map[string]any{"limit": 20}),
			api("records.tail", "test.records.tail", map[string]any{"limit": 10}),
		},
	},
}

var renderTestHTML = strings.Join([]string{
	`<!doctype html>`,
	`<html><head><meta charset="utf-8" />`,
	`<style>body{margin:0;font-family:system-ui;background:#0b1020;color:#e5e7eb;}`,
	`.wrap{display:flex;align-items:center;justify-content:center;height:100vh;}`,
	`.card{width:1200px;border-radius:24px;padding:48px;background:linear-gradient(135deg,#111827,#0b1020);}`,
	`.title{font-size:48px;font-weight:800;margin:0 0 12px;}`,
	`.sub{opacity:.8;font-size:20px;margin:0;}`,
	`</style></head><body><div class="wrap"><div class="card">`,
	`<p class="sub">botwire</p>`,
	`<h1 class="title">Render Test</h1>`,
	`<p class="sub">Bridge render smoke test.</p>`,
	`</div></div></body></html>`,
}, "")

// List returns summaries of all built-in scenarios.
func List() []Summary {
	out := make([]Summary, 0, len(Builtin))
	for _, s := range Builtin {
		out = append(out, Summary{ID: s.ID, Title: s.Title, Description: s.Description, StepCount: len(s.Steps)})
	}
	return out
}

// Get returns the scenario with the given id, or nil.
func Get(id string) *Scenario {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	for i := range Builtin {
		if Builtin[i].ID == id {
			return &Builtin[i]
		}
	}
	return nil
}
