package mcpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/botwire/botwire/internal/logging"
)

// Options configures the stdio server.
type Options struct {
	// Version reported in the initialize handshake.
	Version string
	// DefaultUserID fills send_message calls that omit user_id.
	DefaultUserID string
	// DefaultNickname fills send_message calls that omit nickname.
	DefaultNickname string
	// ConfigRead exposes the get_config tool.
	ConfigRead bool
}

// Server speaks newline-delimited JSON-RPC on in/out. Diagnostics go to the
// logger only; out carries nothing but protocol messages.
type Server struct {
	opts   Options
	client *Client

	in  io.Reader
	out io.Writer

	writeMu     sync.Mutex
	initialized atomic.Bool
	inflight    sync.WaitGroup

	tools     []toolEntry
	toolIndex map[string]toolHandler
	resources []Resource
	prompts   []Prompt
}

// New creates a stdio server bound to the given streams.
func New(client *Client, opts Options, in io.Reader, out io.Writer) *Server {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.DefaultUserID == "" {
		opts.DefaultUserID = "mcp-test-user"
	}
	if opts.DefaultNickname == "" {
		opts.DefaultNickname = "MCP Tester"
	}

	s := &Server{opts: opts, client: client, in: in, out: out}
	s.tools = s.buildTools()
	s.toolIndex = make(map[string]toolHandler, len(s.tools))
	for _, t := range s.tools {
		s.toolIndex[t.spec.Name] = t.handler
	}
	s.resources = s.buildResources()
	s.prompts = s.buildPrompts()
	return s
}

// Run reads messages until end of input. Malformed lines are logged and
// skipped; end of input drains in-flight tool calls and returns nil.
func (s *Server) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			logging.Warn().Err(err).Msg("skipping malformed input line")
			continue
		}
		s.handleMessage(ctx, &req)
	}

	s.inflight.Wait()
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	logging.Info().Msg("input closed, shutting down")
	return nil
}

func (s *Server) handleMessage(ctx context.Context, req *Request) {
	if req.IsNotification() {
		switch req.Method {
		case "notifications/initialized":
			logging.Debug().Msg("client initialized")
		default:
			// Unknown notifications are ignored per protocol.
			logging.Debug().Str("method", req.Method).Msg("ignoring notification")
		}
		return
	}

	if req.Method == "initialize" {
		s.initialized.Store(true)
		s.writeResult(req.ID, InitializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities: ServerCapabilities{
				Tools:     &ToolCapability{},
				Resources: &ResourceCapability{},
				Prompts:   &PromptCapability{},
			},
			ServerInfo: ServerInfo{Name: "botwire", Version: s.opts.Version},
		})
		return
	}

	if !s.initialized.Load() {
		s.writeError(req.ID, CodeNotInitialized, "server not initialized")
		return
	}

	switch req.Method {
	case "tools/list":
		specs := make([]Tool, 0, len(s.tools))
		for _, t := range s.tools {
			specs = append(specs, t.spec)
		}
		s.writeResult(req.ID, map[string]any{"tools": specs})

	case "tools/call":
		var params CallToolParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.writeError(req.ID, CodeInvalidParams, "invalid tools/call params")
			return
		}
		handler, ok := s.toolIndex[params.Name]
		if !ok {
			s.writeError(req.ID, CodeInvalidParams, "unknown tool: "+params.Name)
			return
		}
		// Tool calls can be slow (injection waits, scenario suites); run
		// them off the read loop so other requests stay serviceable.
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			s.runTool(ctx, req.ID, params.Name, handler, params.Arguments)
		}()

	case "resources/list":
		s.writeResult(req.ID, map[string]any{"resources": s.resources})

	case "resources/read":
		var params ReadResourceParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.writeError(req.ID, CodeInvalidParams, "invalid resources/read params")
			return
		}
		content, err := s.readResource(ctx, params.URI)
		if err != nil {
			s.writeError(req.ID, CodeInvalidParams, err.Error())
			return
		}
		s.writeResult(req.ID, map[string]any{"contents": []ResourceContent{*content}})

	case "prompts/list":
		s.writeResult(req.ID, map[string]any{"prompts": s.prompts})

	case "prompts/get":
		var params GetPromptParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.writeError(req.ID, CodeInvalidParams, "invalid prompts/get params")
			return
		}
		result, err := s.getPrompt(params.Name, params.Arguments)
		if err != nil {
			s.writeError(req.ID, CodeInvalidParams, err.Error())
			return
		}
		s.writeResult(req.ID, result)

	default:
		s.writeError(req.ID, CodeMethodNotFound, "method not found: "+req.Method)
	}
}

// runTool executes one tool call and always produces a JSON-RPC reply: tool
// failures become isError results, panics become internal errors.
func (s *Server) runTool(ctx context.Context, id json.RawMessage, name string, handler toolHandler, args map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Any("panic", r).Str("tool", name).Msg("tool handler panicked")
			s.writeError(id, CodeInternalError, "internal error")
		}
	}()

	if args == nil {
		args = map[string]any{}
	}
	result, err := handler(ctx, args)
	if err != nil {
		s.writeResult(id, CallToolResult{
			Content: []Content{{Type: "text", Text: err.Error()}},
			IsError: true,
		})
		return
	}

	text, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		s.writeError(id, CodeInternalError, "serialize tool result: "+err.Error())
		return
	}
	s.writeResult(id, CallToolResult{
		Content: []Content{{Type: "text", Text: string(text)}},
	})
}

func (s *Server) writeResult(id json.RawMessage, result any) {
	s.write(Response{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) writeError(id json.RawMessage, code int, message string) {
	s.write(Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}})
}

func (s *Server) write(resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		logging.Error().Err(err).Msg("marshal response failed")
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(append(data, '\n')); err != nil {
		logging.Error().Err(err).Msg("write response failed")
	}
}
