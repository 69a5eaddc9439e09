package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runServer feeds the input lines through a server and returns its responses
// keyed by request id.
func runServer(t *testing.T, client *Client, opts Options, lines ...string) map[string]Response {
	t.Helper()
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	var out bytes.Buffer

	srv := New(client, opts, in, &out)
	require.NoError(t, srv.Run(context.Background()))

	responses := make(map[string]Response)
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var resp Response
		require.NoError(t, json.Unmarshal([]byte(line), &resp), "output line %q", line)
		responses[string(resp.ID)] = resp
	}
	return responses
}

func noopClient() *Client {
	return NewClient(ClientConfig{BridgeURL: "http://127.0.0.1:1", Retries: 1})
}

const initLine = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}`

func resultMap(t *testing.T, resp Response) map[string]any {
	t.Helper()
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func TestInitializeHandshake(t *testing.T) {
	responses := runServer(t, noopClient(), Options{Version: "1.2.3"}, initLine)

	resp, ok := responses["1"]
	require.True(t, ok)
	require.Nil(t, resp.Error)

	result := resultMap(t, resp)
	assert.Equal(t, ProtocolVersion, result["protocolVersion"])
	info := result["serverInfo"].(map[string]any)
	assert.Equal(t, "botwire", info["name"])
	assert.Equal(t, "1.2.3", info["version"])
	caps := result["capabilities"].(map[string]any)
	assert.Contains(t, caps, "tools")
	assert.Contains(t, caps, "resources")
	assert.Contains(t, caps, "prompts")
}

func TestRequestBeforeInitializeRejected(t *testing.T) {
	responses := runServer(t, noopClient(), Options{},
		`{"jsonrpc":"2.0","id":5,"method":"tools/list"}`)

	resp := responses["5"]
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeNotInitialized, resp.Error.Code)
}

func TestUnknownRequestMethodReturnsMethodNotFound(t *testing.T) {
	responses := runServer(t, noopClient(), Options{},
		initLine,
		`{"jsonrpc":"2.0","id":2,"method":"bogus/thing"}`)

	resp := responses["2"]
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "bogus/thing")
}

func TestUnknownNotificationIgnored(t *testing.T) {
	responses := runServer(t, noopClient(), Options{},
		initLine,
		`{"jsonrpc":"2.0","method":"notifications/whatever"}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`)

	// Only the initialize request produced output.
	assert.Len(t, responses, 1)
}

func TestMalformedLineSkipped(t *testing.T) {
	responses := runServer(t, noopClient(), Options{},
		`{not json at all`,
		initLine,
		`{"jsonrpc":"2.0","id":3,"method":"tools/list"}`)

	assert.Len(t, responses, 2)
	assert.Nil(t, responses["3"].Error)
}

func TestToolsListConditionalConfig(t *testing.T) {
	toolNames := func(opts Options) []string {
		responses := runServer(t, noopClient(), opts,
			initLine, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
		result := resultMap(t, responses["2"])
		var names []string
		for _, item := range result["tools"].([]any) {
			names = append(names, item.(map[string]any)["name"].(string))
		}
		return names
	}

	base := toolNames(Options{})
	assert.Contains(t, base, "send_message")
	assert.Contains(t, base, "run_scenario")
	assert.NotContains(t, base, "get_config")

	withConfig := toolNames(Options{ConfigRead: true})
	assert.Contains(t, withConfig, "get_config")
}

func TestToolsCallUnknownTool(t *testing.T) {
	responses := runServer(t, noopClient(), Options{},
		initLine,
		`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"nope"}}`)

	resp := responses["7"]
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestSendMessageCompactsReplies(t *testing.T) {
	var captured map[string]any
	bridge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			_, _ = w.Write([]byte(`{"status":"ok"}`))
			return
		}
		require.Equal(t, "/api/mock.incoming.message", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"traceId": captured["traceId"],
				"replies": []any{
					map[string]any{"messageId": "m1", "message": "pong"},
				},
			},
		})
	}))
	defer bridge.Close()

	responses := runServer(t, fastClient(bridge.URL), Options{},
		initLine,
		`{"jsonrpc":"2.0","id":9,"method":"tools/call","params":{"name":"send_message","arguments":{"message":"ping"}}}`)

	resp := responses["9"]
	require.Nil(t, resp.Error)

	result := resultMap(t, resp)
	content := result["content"].([]any)
	require.Len(t, content, 1)
	text := content[0].(map[string]any)["text"].(string)

	var compact map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &compact))
	assert.Equal(t, []any{"pong"}, compact["replies"])
	assert.NotEmpty(t, compact["traceId"])

	// Defaults were injected into the bridge call.
	assert.Equal(t, "mcp-test-user", captured["user_id"])
	assert.Equal(t, "MCP Tester", captured["nickname"])
	assert.NotEmpty(t, captured["traceId"])
}

func TestToolFailureIsInBandResult(t *testing.T) {
	// Bridge is unreachable: the tool must still return a JSON-RPC result.
	responses := runServer(t, noopClient(), Options{},
		initLine,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"bot_status"}}`)

	resp := responses["4"]
	require.Nil(t, resp.Error)
	result := resultMap(t, resp)
	text := result["content"].([]any)[0].(map[string]any)["text"].(string)
	assert.Contains(t, text, "bridge not ready")
}

func TestResourcesListAndRead(t *testing.T) {
	bridge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			_, _ = w.Write([]byte(`{"status":"ok"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"scenarios": []any{}},
		})
	}))
	defer bridge.Close()

	responses := runServer(t, fastClient(bridge.URL), Options{},
		initLine,
		`{"jsonrpc":"2.0","id":2,"method":"resources/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"resources/read","params":{"uri":"botwire://scenarios"}}`,
		`{"jsonrpc":"2.0","id":4,"method":"resources/read","params":{"uri":"botwire://junk"}}`)

	list := resultMap(t, responses["2"])
	uris := []string{}
	for _, item := range list["resources"].([]any) {
		uris = append(uris, item.(map[string]any)["uri"].(string))
	}
	assert.ElementsMatch(t, []string{"botwire://status", "botwire://scenarios"}, uris)

	read := resultMap(t, responses["3"])
	contents := read["contents"].([]any)
	require.Len(t, contents, 1)
	assert.Contains(t, contents[0].(map[string]any)["text"], "scenarios")

	require.NotNil(t, responses["4"].Error)
}

func TestPromptsListAndGet(t *testing.T) {
	responses := runServer(t, noopClient(), Options{},
		initLine,
		`{"jsonrpc":"2.0","id":2,"method":"prompts/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"prompts/get","params":{"name":"inject_and_check","arguments":{"message":"ping","expected":"pong"}}}`,
		`{"jsonrpc":"2.0","id":4,"method":"prompts/get","params":{"name":"missing"}}`)

	list := resultMap(t, responses["2"])
	assert.Len(t, list["prompts"].([]any), 2)

	got := resultMap(t, responses["3"])
	messages := got["messages"].([]any)
	require.Len(t, messages, 1)
	text := messages[0].(map[string]any)["content"].(map[string]any)["text"].(string)
	assert.Contains(t, text, `"ping"`)
	assert.Contains(t, text, `"pong"`)

	require.NotNil(t, responses["4"].Error)
	assert.Equal(t, CodeInvalidParams, responses["4"].Error.Code)
}
