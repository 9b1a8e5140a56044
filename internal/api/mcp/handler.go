package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"github.com/scrypster/esmcp/internal/tools"
)

// Default server identity reported by tools/list.
const (
	DefaultServerName    = "esmcp"
	DefaultServerVersion = "1.0.0"
)

// Handler turns one raw request into one response envelope. It holds no
// per-connection state and is safe for concurrent use.
type Handler struct {
	registry *tools.Registry
	mapper   *tools.Mapper
	name     string
	version  string
	now      func() time.Time
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithServerInfo sets the identity reported by tools/list.
func WithServerInfo(name, version string) HandlerOption {
	return func(h *Handler) {
		if name != "" {
			h.name = name
		}
		if version != "" {
			h.version = version
		}
	}
}

// WithClock overrides the clock used for response timestamps.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.now = now
	}
}

// NewHandler creates a handler over registry. A nil mapper uses
// tools.NewMapper().
func NewHandler(registry *tools.Registry, mapper *tools.Mapper, opts ...HandlerOption) *Handler {
	if mapper == nil {
		mapper = tools.NewMapper()
	}
	h := &Handler{
		registry: registry,
		mapper:   mapper,
		name:     DefaultServerName,
		version:  DefaultServerVersion,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Registry returns the tool registry the handler dispatches to.
func (h *Handler) Registry() *tools.Registry {
	return h.registry
}

// ServerInfo returns the configured server name and version.
func (h *Handler) ServerInfo() (name, version string) {
	return h.name, h.version
}

// HandleMessage processes one raw request and returns the encoded response.
// notification is true when the request carried no id; the request has
// been handled but the response must not be delivered. HandleMessage never
// panics.
func (h *Handler) HandleMessage(ctx context.Context, raw []byte, connectionID string) (resp []byte, notification bool) {
	var id json.RawMessage
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: mcp: panic handling message: %v\n%s", r, debug.Stack())
			resp = h.encode(errorResponse(id, ErrCodeInternalError, "Internal error", fmt.Sprint(r)))
			notification = false
		}
	}()

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		log.Printf("mcp: parse error from %s: %v", connectionID, err)
		return h.encode(errorResponse(nil, ErrCodeParseError, "Parse error", err.Error())), false
	}
	id = req.ID

	if req.JSONRPC != Version {
		return h.encode(errorResponse(id, ErrCodeInvalidRequest, "Invalid Request", "jsonrpc must be \"2.0\"")), false
	}
	if req.Method == "" {
		return h.encode(errorResponse(id, ErrCodeInvalidRequest, "Invalid Request", "method is required")), false
	}

	out := h.dispatch(ctx, &req, connectionID)
	return h.encode(out), req.IsNotification()
}

func (h *Handler) dispatch(ctx context.Context, req *Request, connectionID string) *Response {
	switch req.Method {
	case MethodToolsList:
		return successResponse(req.ID, h.toolsList())
	case MethodToolsCall:
		return h.toolsCall(ctx, req)
	case MethodPing:
		return successResponse(req.ID, PingResult{
			Status:       "pong",
			ConnectionID: connectionID,
			Timestamp:    h.timestamp(),
		})
	default:
		return errorResponse(req.ID, ErrCodeMethodNotFound, "Method not found: "+req.Method, nil)
	}
}

func (h *Handler) toolsList() ToolsListResult {
	all := h.registry.AllMetadata()
	defs := make([]map[string]interface{}, 0, len(all))
	for _, m := range all {
		defs = append(defs, m.Definition())
	}
	return ToolsListResult{
		Tools: defs,
		Meta: ListMeta{
			Server:     h.name,
			Version:    h.version,
			TotalTools: len(defs),
		},
	}
}

// ---------------------------------------------------------------------------
// tools/call
// ---------------------------------------------------------------------------

func (h *Handler) toolsCall(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if len(req.Params) == 0 || bytes.Equal(bytes.TrimSpace(req.Params), []byte("null")) {
		return errorResponse(req.ID, ErrCodeInvalidParams, "Invalid params", "name is required")
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, ErrCodeInvalidParams, "Invalid params", err.Error())
	}
	if params.Name == "" {
		return errorResponse(req.ID, ErrCodeInvalidParams, "Invalid params", "name is required")
	}

	args := map[string]interface{}{}
	if len(params.Arguments) > 0 && !bytes.Equal(bytes.TrimSpace(params.Arguments), []byte("null")) {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return errorResponse(req.ID, ErrCodeInvalidParams, "Invalid params", "arguments must be an object")
		}
	}

	tool, ok := h.registry.Get(params.Name)
	if !ok {
		return errorResponse(req.ID, ErrCodeToolNotFound, "Tool not found: "+params.Name,
			map[string]interface{}{"tool": params.Name})
	}
	meta, _ := h.registry.Metadata(params.Name)

	// Map a copy; the originals are echoed back in the execution metadata.
	mapped := h.mapper.MapForTool(params.Name, copyArgs(args))
	if !h.mapper.Validate(params.Name, mapped, meta) {
		return errorResponse(req.ID, ErrCodeInvalidToolParams, "Invalid parameters for tool: "+params.Name,
			map[string]interface{}{
				"tool":    params.Name,
				"missing": tools.MissingParameters(mapped, meta),
			})
	}

	started := time.Now()
	result, err := execute(ctx, tool, mapped)
	if err != nil {
		log.Printf("Warning: mcp: tool %s failed after %v: %v", params.Name, time.Since(started), err)
		return errorResponse(req.ID, ErrCodeToolExecution, "Tool execution failed: "+err.Error(),
			map[string]interface{}{"tool": params.Name, "message": err.Error()})
	}
	log.Printf("mcp: tool %s completed in %v", params.Name, time.Since(started))

	return successResponse(req.ID, ToolCallResult{
		Content: []Content{
			{Type: "text", Text: fmt.Sprintf("Tool '%s' executed successfully", params.Name)},
			{Type: "json", Data: result},
			{Type: "json", Data: map[string]interface{}{
				"_meta": ExecutionMeta{
					Tool:              params.Name,
					Timestamp:         h.timestamp(),
					OriginalArguments: args,
					ExecutionMode:     "real",
				},
			}},
		},
	})
}

// execute runs the tool, converting a panic into an execution error.
func execute(ctx context.Context, tool tools.Tool, args map[string]interface{}) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: mcp: tool %s panicked: %v\n%s", tool.Name(), r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return tool.Execute(ctx, args)
}

func copyArgs(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// ---------------------------------------------------------------------------
// Envelopes
// ---------------------------------------------------------------------------

func (h *Handler) timestamp() string {
	return h.now().UTC().Format(time.RFC3339Nano)
}

func successResponse(id json.RawMessage, result interface{}) *Response {
	return &Response{JSONRPC: Version, ID: id, Result: result}
}

func errorResponse(id json.RawMessage, code int, message string, data interface{}) *Response {
	return &Response{
		JSONRPC: Version,
		ID:      id,
		Error:   &Error{Code: code, Message: message, Data: data},
	}
}

// encode marshals resp. A result that cannot be marshalled is replaced by an
// internal error so the caller always gets a well-formed envelope.
func (h *Handler) encode(resp *Response) []byte {
	data, err := json.Marshal(resp)
	if err == nil {
		return data
	}
	log.Printf("ERROR: mcp: failed to marshal response: %v", err)
	data, err = json.Marshal(errorResponse(resp.ID, ErrCodeInternalError, "Internal error", err.Error()))
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"Internal error"}}`)
	}
	return data
}

// ErrorEnvelope renders a standalone error response, for transports that
// reject a message before it reaches the handler.
func ErrorEnvelope(id json.RawMessage, code int, message string, data interface{}) []byte {
	b, err := json.Marshal(errorResponse(id, code, message, data))
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"Internal error"}}`)
	}
	return b
}
