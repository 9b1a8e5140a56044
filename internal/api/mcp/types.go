// Package mcp implements the JSON-RPC 2.0 tool protocol: it parses request
// envelopes, dispatches tools/list, tools/call and ping, and renders every
// outcome, including failures, as a response envelope.
package mcp

import "encoding/json"

// Version is the only accepted protocol version tag.
const Version = "2.0"

// Methods.
const (
	MethodToolsList = "tools/list"
	MethodToolsCall = "tools/call"
	MethodPing      = "ping"
)

// Request is a JSON-RPC 2.0 request. ID is kept raw so it can be echoed back
// exactly; an absent ID marks a notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0
}

// Response is a JSON-RPC 2.0 response. Exactly one of Result and Error is
// set. A nil ID is rendered as null.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is the error member of a response.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Standard JSON-RPC error codes.
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal JSON-RPC error
)

// Tool protocol error codes.
const (
	ErrCodeToolNotFound      = -32000
	ErrCodeToolExecution     = -32001
	ErrCodeInvalidToolParams = -32002
	ErrCodeConnection        = -32003
)

// ToolCallParams holds the parameters of a tools/call request.
type ToolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Content is one item of a tools/call result. Text items carry Text, json
// items carry Data.
type Content struct {
	Type string      `json:"type"`
	Text string      `json:"text,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

// ToolCallResult is the result of a successful tools/call.
type ToolCallResult struct {
	Content []Content `json:"content"`
}

// ExecutionMeta describes one tool invocation.
type ExecutionMeta struct {
	Tool              string                 `json:"tool"`
	Timestamp         string                 `json:"timestamp"`
	OriginalArguments map[string]interface{} `json:"original_arguments"`
	ExecutionMode     string                 `json:"execution_mode"`
}

// ToolsListResult is the result of tools/list.
type ToolsListResult struct {
	Tools []map[string]interface{} `json:"tools"`
	Meta  ListMeta                 `json:"_meta"`
}

// ListMeta identifies the server in a tools/list result.
type ListMeta struct {
	Server     string `json:"server"`
	Version    string `json:"version"`
	TotalTools int    `json:"total_tools"`
}

// PingResult is the result of ping.
type PingResult struct {
	Status       string `json:"status"`
	ConnectionID string `json:"connectionId"`
	Timestamp    string `json:"timestamp"`
}
