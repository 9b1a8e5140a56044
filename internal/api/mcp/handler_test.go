package mcp_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/esmcp/internal/api/mcp"
	"github.com/scrypster/esmcp/internal/tools"
)

// countingTool records how often it runs.
type countingTool struct {
	name     string
	required []string
	calls    atomic.Int32
	lastArgs map[string]interface{}
	result   interface{}
	err      error
	panicVal interface{}
}

func (c *countingTool) Name() string                 { return c.name }
func (c *countingTool) Description() string          { return "counting tool " + c.name }
func (c *countingTool) RequiredParameters() []string { return c.required }
func (c *countingTool) OptionalParameters() []string { return nil }
func (c *countingTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	c.calls.Add(1)
	c.lastArgs = args
	if c.panicVal != nil {
		panic(c.panicVal)
	}
	return c.result, c.err
}

var fixedNow = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

func newHandler(ts ...tools.Tool) *mcp.Handler {
	return mcp.NewHandler(tools.NewRegistry(ts...), nil,
		mcp.WithServerInfo("esmcp-test", "9.9.9"),
		mcp.WithClock(func() time.Time { return fixedNow }))
}

type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int         `json:"code"`
		Message string      `json:"message"`
		Data    interface{} `json:"data"`
	} `json:"error"`
}

func dataOf(t *testing.T, env envelope) map[string]interface{} {
	t.Helper()
	require.NotNil(t, env.Error)
	m, ok := env.Error.Data.(map[string]interface{})
	require.True(t, ok, "error data should be an object: %v", env.Error.Data)
	return m
}

func handle(t *testing.T, h *mcp.Handler, raw string) (envelope, bool) {
	t.Helper()
	resp, notification := h.HandleMessage(context.Background(), []byte(raw), "client_1_1")
	var env envelope
	require.NoError(t, json.Unmarshal(resp, &env), "response must be valid JSON: %s", resp)
	assert.Equal(t, "2.0", env.JSONRPC)
	return env, notification
}

// ---------------------------------------------------------------------------
// Envelope validation
// ---------------------------------------------------------------------------

func TestHandleMessage_ParseError(t *testing.T) {
	env, notification := handle(t, newHandler(), `{"jsonrpc":"2.0",`)

	assert.False(t, notification)
	require.NotNil(t, env.Error)
	assert.Equal(t, mcp.ErrCodeParseError, env.Error.Code)
	assert.Equal(t, "null", string(env.ID))
}

func TestHandleMessage_InvalidVersion(t *testing.T) {
	env, _ := handle(t, newHandler(), `{"jsonrpc":"1.0","id":"abc","method":"ping"}`)

	require.NotNil(t, env.Error)
	assert.Equal(t, mcp.ErrCodeInvalidRequest, env.Error.Code)
	assert.Equal(t, `"abc"`, string(env.ID), "id is recovered")
}

func TestHandleMessage_MissingMethod(t *testing.T) {
	env, _ := handle(t, newHandler(), `{"jsonrpc":"2.0","id":7}`)

	require.NotNil(t, env.Error)
	assert.Equal(t, mcp.ErrCodeInvalidRequest, env.Error.Code)
	assert.Equal(t, "7", string(env.ID))
}

func TestHandleMessage_MethodNotFound(t *testing.T) {
	env, _ := handle(t, newHandler(), `{"jsonrpc":"2.0","id":1,"method":"initialize"}`)

	require.NotNil(t, env.Error)
	assert.Equal(t, mcp.ErrCodeMethodNotFound, env.Error.Code)
	assert.Contains(t, env.Error.Message, "initialize")
}

func TestHandleMessage_Notification(t *testing.T) {
	tool := &countingTool{name: "echo", result: "ok"}
	h := newHandler(tool)

	_, notification := h.HandleMessage(context.Background(),
		[]byte(`{"jsonrpc":"2.0","method":"tools/call","params":{"name":"echo"}}`), "c")

	assert.True(t, notification)
	assert.Equal(t, int32(1), tool.calls.Load(), "notifications are still handled")
}

func TestHandleMessage_NullIDIsNotANotification(t *testing.T) {
	env, notification := handle(t, newHandler(), `{"jsonrpc":"2.0","id":null,"method":"ping"}`)

	assert.False(t, notification)
	assert.Nil(t, env.Error)
}

// ---------------------------------------------------------------------------
// Methods
// ---------------------------------------------------------------------------

func TestHandleMessage_Ping(t *testing.T) {
	env, _ := handle(t, newHandler(), `{"jsonrpc":"2.0","id":"p1","method":"ping"}`)

	require.Nil(t, env.Error)
	var result mcp.PingResult
	require.NoError(t, json.Unmarshal(env.Result, &result))
	assert.Equal(t, "pong", result.Status)
	assert.Equal(t, "client_1_1", result.ConnectionID)
	assert.Equal(t, "2025-06-15T12:00:00Z", result.Timestamp)
	assert.Equal(t, `"p1"`, string(env.ID))
}

func TestHandleMessage_ToolsList(t *testing.T) {
	h := newHandler(
		&countingTool{name: "alpha", required: []string{"prompt"}},
		&countingTool{name: "beta"},
	)

	env, _ := handle(t, h, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	require.Nil(t, env.Error)

	var result struct {
		Tools []map[string]interface{} `json:"tools"`
		Meta  mcp.ListMeta             `json:"_meta"`
	}
	require.NoError(t, json.Unmarshal(env.Result, &result))
	require.Len(t, result.Tools, 2)
	assert.Equal(t, "alpha", result.Tools[0]["name"])
	assert.Equal(t, "counting tool alpha", result.Tools[0]["description"])
	schema := result.Tools[0]["inputSchema"].(map[string]interface{})
	assert.Equal(t, []interface{}{"prompt"}, schema["required"])

	assert.Equal(t, mcp.ListMeta{Server: "esmcp-test", Version: "9.9.9", TotalTools: 2}, result.Meta)
}

func TestHandleMessage_ToolsCallSuccess(t *testing.T) {
	tool := &countingTool{name: "echo", required: []string{"prompt"}, result: map[string]interface{}{"rows": 3}}
	h := newHandler(tool)

	env, _ := handle(t, h, `{"jsonrpc":"2.0","id":"c1","method":"tools/call","params":{"name":"echo","arguments":{"prompt":"hi","extra":1}}}`)
	require.Nil(t, env.Error)
	assert.Equal(t, int32(1), tool.calls.Load())
	assert.Equal(t, "hi", tool.lastArgs["prompt"])

	var result struct {
		Content []struct {
			Type string                 `json:"type"`
			Text string                 `json:"text"`
			Data map[string]interface{} `json:"data"`
		} `json:"content"`
	}
	require.NoError(t, json.Unmarshal(env.Result, &result))
	require.Len(t, result.Content, 3)

	assert.Equal(t, "text", result.Content[0].Type)
	assert.Equal(t, "Tool 'echo' executed successfully", result.Content[0].Text)

	assert.Equal(t, "json", result.Content[1].Type)
	assert.Equal(t, map[string]interface{}{"rows": float64(3)}, result.Content[1].Data)

	meta := result.Content[2].Data["_meta"].(map[string]interface{})
	assert.Equal(t, "echo", meta["tool"])
	assert.Equal(t, "real", meta["execution_mode"])
	assert.Equal(t, "2025-06-15T12:00:00Z", meta["timestamp"])
	assert.Equal(t, map[string]interface{}{"prompt": "hi", "extra": float64(1)}, meta["original_arguments"])
}

func TestHandleMessage_ToolsCallMissingName(t *testing.T) {
	for _, params := range []string{`{"arguments":{}}`, `null`, `"es_search"`} {
		env, _ := handle(t, newHandler(), `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":`+params+`}`)
		require.NotNil(t, env.Error, params)
		assert.Equal(t, mcp.ErrCodeInvalidParams, env.Error.Code, params)
	}

	env, _ := handle(t, newHandler(), `{"jsonrpc":"2.0","id":1,"method":"tools/call"}`)
	require.NotNil(t, env.Error)
	assert.Equal(t, mcp.ErrCodeInvalidParams, env.Error.Code)
}

func TestHandleMessage_ToolsCallBadArguments(t *testing.T) {
	tool := &countingTool{name: "echo"}
	env, _ := handle(t, newHandler(tool), `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo","arguments":"nope"}}`)

	require.NotNil(t, env.Error)
	assert.Equal(t, mcp.ErrCodeInvalidParams, env.Error.Code)
	assert.Zero(t, tool.calls.Load())
}

func TestHandleMessage_ToolNotFound(t *testing.T) {
	tool := &countingTool{name: "echo"}
	env, _ := handle(t, newHandler(tool), `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"missing"}}`)

	require.NotNil(t, env.Error)
	assert.Equal(t, mcp.ErrCodeToolNotFound, env.Error.Code)
	assert.Equal(t, "missing", dataOf(t, env)["tool"])
	assert.Zero(t, tool.calls.Load())
}

func TestHandleMessage_InvalidToolParams(t *testing.T) {
	tool := &countingTool{name: "echo", required: []string{"prompt", "schemaContext"}}
	env, _ := handle(t, newHandler(tool), `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo","arguments":{"prompt":"x"}}}`)

	require.NotNil(t, env.Error)
	assert.Equal(t, mcp.ErrCodeInvalidToolParams, env.Error.Code)
	assert.Equal(t, []interface{}{"schemaContext"}, dataOf(t, env)["missing"])
	assert.Zero(t, tool.calls.Load(), "tool must not run when validation fails")
}

func TestHandleMessage_ToolExecutionError(t *testing.T) {
	tool := &countingTool{name: "echo", err: errors.New("backend down")}
	env, _ := handle(t, newHandler(tool), `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo"}}`)

	require.NotNil(t, env.Error)
	assert.Equal(t, mcp.ErrCodeToolExecution, env.Error.Code)
	assert.Equal(t, "echo", dataOf(t, env)["tool"])
	assert.Equal(t, "backend down", dataOf(t, env)["message"])
}

func TestHandleMessage_ToolPanicIsExecutionError(t *testing.T) {
	tool := &countingTool{name: "echo", panicVal: "kaboom"}
	env, _ := handle(t, newHandler(tool), `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo"}}`)

	require.NotNil(t, env.Error)
	assert.Equal(t, mcp.ErrCodeToolExecution, env.Error.Code)
	assert.Contains(t, dataOf(t, env)["message"], "kaboom")
}

func TestHandleMessage_UnencodableResult(t *testing.T) {
	tool := &countingTool{name: "echo", result: map[string]interface{}{"ch": make(chan int)}}
	env, _ := handle(t, newHandler(tool), `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"echo"}}`)

	require.NotNil(t, env.Error)
	assert.Equal(t, mcp.ErrCodeInternalError, env.Error.Code)
	assert.Equal(t, "5", string(env.ID))
}

func TestHandleMessage_SearchToolMapping(t *testing.T) {
	// es_search requires searchSourceBuilder; a bare query string is mapped
	// into one, so validation passes and the tool runs.
	search := &countingTool{name: tools.NameSearch, required: []string{tools.ArgSearchSource, tools.ArgHost}, result: "ok"}
	env, _ := handle(t, newHandler(search), `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"es_search","arguments":{"query":"refund","esHost":"tertiary"}}}`)

	require.Nil(t, env.Error)
	require.Equal(t, int32(1), search.calls.Load())
	assert.IsType(t, &tools.SearchQuery{}, search.lastArgs[tools.ArgSearchSource])
	assert.EqualValues(t, "TERTIARY", search.lastArgs[tools.ArgHost])
}
