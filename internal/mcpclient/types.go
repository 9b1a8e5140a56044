// Package mcpclient is a caller-side client for the esmcp tool protocol. It
// opens the server's event stream, posts JSON-RPC requests scoped to the
// stream's connection id and correlates the responses pushed back on the
// stream.
package mcpclient

import (
	"encoding/json"
	"fmt"
)

// Request is an outbound JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`          // Always "2.0"
	ID      string      `json:"id,omitempty"`     // Absent for notifications
	Method  string      `json:"method"`           // tools/list, tools/call, ping
	Params  interface{} `json:"params,omitempty"` // Method parameters
}

// Response is an inbound JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// IDString returns the response id as a plain string. String ids are
// unquoted; any other id is returned in its JSON form.
func (r *Response) IDString() string {
	var s string
	if err := json.Unmarshal(r.ID, &s); err == nil {
		return s
	}
	return string(r.ID)
}

// RPCError is a JSON-RPC error object. It implements error so protocol
// failures can be returned directly from client calls.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Tool is one entry of a tools/list result.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// ToolList is the tools/list result.
type ToolList struct {
	Tools []Tool `json:"tools"`
	Meta  struct {
		Server     string `json:"server"`
		Version    string `json:"version"`
		TotalTools int    `json:"total_tools"`
	} `json:"_meta"`
}

// Content is one item of a tools/call result.
type Content struct {
	Type string          `json:"type"`
	Text string          `json:"text,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// CallResult is the tools/call result.
type CallResult struct {
	Content []Content `json:"content"`
}

// Data returns the raw tool result, the first json content item.
func (r *CallResult) Data() json.RawMessage {
	for _, c := range r.Content {
		if c.Type == "json" {
			return c.Data
		}
	}
	return nil
}

// Pong is the ping result.
type Pong struct {
	Status       string `json:"status"`
	ConnectionID string `json:"connectionId"`
	Timestamp    string `json:"timestamp"`
}
