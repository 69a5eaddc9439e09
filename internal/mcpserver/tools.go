package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type toolHandler func(ctx context.Context, args map[string]any) (any, error)

type toolEntry struct {
	spec    Tool
	handler toolHandler
}

func schema(s string) json.RawMessage { return json.RawMessage(s) }

// buildTools assembles the tool table. Order is the order tools/list reports.
func (s *Server) buildTools() []toolEntry {
	tools := []toolEntry{
		{
			spec: Tool{
				Name:        "bot_status",
				Description: "Get bot and bridge status: uptime, counters, child process state.",
				InputSchema: schema(`{"type":"object","properties":{}}`),
			},
			handler: s.toolBotStatus,
		},
		{
			spec: Tool{
				Name:        "send_message",
				Description: "Inject a synthetic inbound chat message and collect the bot's replies.",
				InputSchema: schema(`{
					"type": "object",
					"properties": {
						"message": {"type": "string", "description": "Message text to inject"},
						"user_id": {"type": "string", "description": "Sender user id (defaults to the test user)"},
						"group_id": {"type": "string", "description": "Group id; omit for a DM"},
						"nickname": {"type": "string"},
						"role": {"type": "string", "enum": ["member", "admin", "owner"]},
						"waitMs": {"type": "number", "description": "How long to wait for replies (max 60000)"},
						"traceId": {"type": "string", "description": "Correlation id (auto-generated when omitted)"}
					},
					"required": ["message"]
				}`),
			},
			handler: s.toolSendMessage,
		},
		{
			spec: Tool{
				Name:        "mock_status",
				Description: "Get synthetic adapter counters and rate limiter state.",
				InputSchema: schema(`{"type":"object","properties":{}}`),
			},
			handler: s.bridgeTool("mock.status", nil),
		},
		{
			spec: Tool{
				Name:        "mock_history",
				Description: "Read the inbox or outbox ring buffer, most recent first.",
				InputSchema: schema(`{
					"type": "object",
					"properties": {
						"type": {"type": "string", "enum": ["inbox", "outbox"]},
						"limit": {"type": "number"}
					}
				}`),
			},
			handler: s.bridgeTool("mock.history", nil),
		},
		{
			spec: Tool{
				Name:        "render_screenshot",
				Description: "Render a URL, file path, or inline HTML string into an image.",
				InputSchema: schema(`{
					"type": "object",
					"properties": {
						"file": {"type": "string", "description": "URL, path, or HTML string"},
						"file_type": {"type": "string", "enum": ["url", "path", "htmlString"]},
						"type": {"type": "string", "enum": ["png", "jpeg", "webp"]},
						"filename": {"type": "string"}
					},
					"required": ["file"]
				}`),
			},
			handler: s.bridgeTool("render.screenshot", nil),
		},
		{
			spec: Tool{
				Name:        "list_scenarios",
				Description: "List the built-in bridge smoke-test scenarios.",
				InputSchema: schema(`{"type":"object","properties":{}}`),
			},
			handler: s.bridgeTool("test.scenarios.list", nil),
		},
		{
			spec: Tool{
				Name:        "run_scenario",
				Description: "Run one smoke-test scenario by id, or all of them when id is omitted.",
				InputSchema: schema(`{
					"type": "object",
					"properties": {
						"id": {"type": "string", "description": "Scenario id; omit to run the full suite"}
					}
				}`),
			},
			handler: s.toolRunScenario,
		},
		{
			spec: Tool{
				Name:        "get_trace",
				Description: "Fetch one trace (injected request plus captured replies) by id.",
				InputSchema: schema(`{
					"type": "object",
					"properties": {
						"traceId": {"type": "string"},
						"date": {"type": "string", "description": "UTC date (YYYY-MM-DD) to search"},
						"file": {"type": "string", "description": "Exact trace file name"}
					}
				}`),
			},
			handler: s.bridgeTool("test.trace.get", nil),
		},
	}

	if s.opts.ConfigRead {
		tools = append(tools, toolEntry{
			spec: Tool{
				Name:        "get_config",
				Description: "Read the effective bridge configuration (redacted).",
				InputSchema: schema(`{"type":"object","properties":{}}`),
			},
			handler: s.bridgeTool("config.get", nil),
		})
	}
	return tools
}

// bridgeTool forwards tool arguments to a bridge action unchanged, with
// optional fixed defaults merged in.
func (s *Server) bridgeTool(action string, defaults map[string]any) toolHandler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		data := make(map[string]any, len(args)+len(defaults))
		for k, v := range defaults {
			data[k] = v
		}
		for k, v := range args {
			data[k] = v
		}
		res := s.client.Call(ctx, action, data)
		if !res.OK {
			return res, nil
		}
		return res.Data, nil
	}
}

func (s *Server) toolBotStatus(ctx context.Context, args map[string]any) (any, error) {
	res := s.client.Call(ctx, "bot.status", nil)
	if !res.OK {
		return res, nil
	}
	return res.Data, nil
}

// toolSendMessage injects a message with defaults filled in and compacts the
// reply records down to plain strings to keep token volume low.
func (s *Server) toolSendMessage(ctx context.Context, args map[string]any) (any, error) {
	message, _ := args["message"].(string)
	if message == "" {
		return nil, fmt.Errorf("message is required")
	}

	data := make(map[string]any, len(args)+3)
	for k, v := range args {
		data[k] = v
	}
	if _, ok := data["user_id"]; !ok {
		data["user_id"] = s.opts.DefaultUserID
	}
	if _, ok := data["nickname"]; !ok {
		data["nickname"] = s.opts.DefaultNickname
	}
	traceID, _ := data["traceId"].(string)
	if traceID == "" {
		traceID = uuid.NewString()
		data["traceId"] = traceID
	}

	res := s.client.Call(ctx, "mock.incoming.message", data)
	if !res.OK {
		return res, nil
	}

	replies := []string{}
	if list, ok := res.Data["replies"].([]any); ok {
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				if text, ok := m["message"].(string); ok {
					replies = append(replies, text)
				}
			}
		}
	}
	return map[string]any{
		"traceId": traceID,
		"replies": replies,
	}, nil
}

func (s *Server) toolRunScenario(ctx context.Context, args map[string]any) (any, error) {
	id, _ := args["id"].(string)
	action := "test.scenarios.runAll"
	data := map[string]any{}
	if id != "" {
		action = "test.scenario.run"
		data["id"] = id
	}
	res := s.client.Call(ctx, action, data)
	if !res.OK {
		return res, nil
	}
	return res.Data, nil
}

// buildResources assembles the resource table. Bodies are fetched lazily on
// read.
func (s *Server) buildResources() []Resource {
	return []Resource{
		{
			URI:         "botwire://status",
			Name:        "Bridge status",
			Description: "Live bot and bridge status.",
			MimeType:    "application/json",
		},
		{
			URI:         "botwire://scenarios",
			Name:        "Smoke-test scenarios",
			Description: "The built-in scenario catalog.",
			MimeType:    "application/json",
		},
	}
}

func (s *Server) readResource(ctx context.Context, uri string) (*ResourceContent, error) {
	var action string
	switch uri {
	case "botwire://status":
		action = "bot.status"
	case "botwire://scenarios":
		action = "test.scenarios.list"
	default:
		return nil, fmt.Errorf("unknown resource: %s", uri)
	}

	res := s.client.Call(ctx, action, nil)
	var body any = res.Data
	if !res.OK {
		body = res
	}
	text, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return nil, err
	}
	return &ResourceContent{URI: uri, MimeType: "application/json", Text: string(text)}, nil
}

// buildPrompts assembles the prompt table.
func (s *Server) buildPrompts() []Prompt {
	return []Prompt{
		{
			Name:        "smoke_test",
			Description: "Run the full smoke-test suite and report failures.",
		},
		{
			Name:        "inject_and_check",
			Description: "Inject a message and verify the bot's reply.",
			Arguments: []PromptArgument{
				{Name: "message", Description: "Message text to inject", Required: true},
				{Name: "expected", Description: "Substring the reply should contain"},
			},
		},
	}
}

func (s *Server) getPrompt(name string, args map[string]string) (*GetPromptResult, error) {
	switch name {
	case "smoke_test":
		return &GetPromptResult{
			Description: "Run the full smoke-test suite and report failures.",
			Messages: []PromptMessage{{
				Role: "user",
				Content: Content{
					Type: "text",
					Text: "Run the run_scenario tool with no id to execute every scenario. " +
						"Summarize which scenarios passed and, for each failure, name the failing step and its status code.",
				},
			}},
		}, nil
	case "inject_and_check":
		message := args["message"]
		if message == "" {
			message = "ping"
		}
		expected := args["expected"]
		text := fmt.Sprintf("Use send_message to inject %q, then inspect the replies.", message)
		if expected != "" {
			text += fmt.Sprintf(" Verify at least one reply contains %q and report the result.", expected)
		} else {
			text += " Report every reply the bot produced, or state that none arrived."
		}
		return &GetPromptResult{
			Description: "Inject a message and verify the bot's reply.",
			Messages: []PromptMessage{{
				Role:    "user",
				Content: Content{Type: "text", Text: text},
			}},
		}, nil
	default:
		return nil, fmt.Errorf("unknown prompt: %s", name)
	}
}
