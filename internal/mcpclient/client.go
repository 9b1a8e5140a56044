package mcpclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event names pushed by the server.
const (
	EventConnectionID = "connection-id"
	EventConnection   = "connection"
	EventResponse     = "mcp-response"
)

// ErrNotConnected is returned by calls made before Connect succeeded or after
// the stream was lost.
var ErrNotConnected = errors.New("mcpclient: not connected")

// Client talks to an esmcp server over its event stream and message endpoint.
type Client struct {
	baseURL  string
	clientID string
	http     *http.Client
	timeout  time.Duration
	corr     *Correlator
	logger   *log.Logger

	mu           sync.RWMutex
	connectionID string
	serverInfo   json.RawMessage
	cancel       context.CancelFunc
	done         chan struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. It must not set an overall
// timeout, because the event stream is long-lived.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets how long each call waits for its response.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithClientID sets the label sent when opening the stream.
func WithClientID(id string) Option {
	return func(c *Client) { c.clientID = id }
}

// WithLogger sets the client logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for the server at baseURL (e.g. http://localhost:8080).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: "client",
		http:     &http.Client{},
		timeout:  DefaultTimeout,
		corr:     NewCorrelator(),
		logger:   log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens the event stream and blocks until the server has announced
// the connection id.
func (c *Client) Connect(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(context.Background())

	u := fmt.Sprintf("%s/mcp/sse?clientId=%s", c.baseURL, url.QueryEscape(c.clientID))
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, u, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return fmt.Errorf("stream returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	ready := make(chan string, 1)
	done := make(chan struct{})

	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go c.readStream(resp.Body, ready, done)

	select {
	case id := <-ready:
		c.logger.Printf("connected as %s", id)
		return nil
	case <-done:
		return fmt.Errorf("stream closed before connection id: %w", ErrNotConnected)
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// ConnectionID returns the id assigned by the server, or "" when not
// connected.
func (c *Client) ConnectionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connectionID
}

// ServerInfo returns the payload of the server's connection event.
func (c *Client) ServerInfo() json.RawMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// Close tears down the stream and releases every pending call.
func (c *Client) Close() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// readStream parses SSE frames until the body ends, then clears all pending
// requests.
func (c *Client) readStream(body io.ReadCloser, ready chan<- string, done chan<- struct{}) {
	defer close(done)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var event string
	var data bytes.Buffer
	announced := false

	dispatch := func() {
		defer func() {
			event = ""
			data.Reset()
		}()
		if data.Len() == 0 && event == "" {
			return
		}
		payload := bytes.TrimSuffix(data.Bytes(), []byte("\n"))

		switch event {
		case EventConnectionID:
			id := string(payload)
			c.mu.Lock()
			c.connectionID = id
			c.mu.Unlock()
			if !announced {
				announced = true
				ready <- id
			}
		case EventConnection:
			c.mu.Lock()
			c.serverInfo = append(json.RawMessage(nil), payload...)
			c.mu.Unlock()
		case EventResponse:
			var resp Response
			if err := json.Unmarshal(payload, &resp); err != nil {
				c.logger.Printf("Warning: undecodable response frame: %v", err)
				return
			}
			c.corr.Resolve(resp.IDString(), &resp)
		default:
			c.logger.Printf("event %q: %s", event, payload)
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			dispatch()
		case strings.HasPrefix(line, ":"):
			// comment / heartbeat
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			data.WriteByte('\n')
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Printf("stream read error: %v", err)
	}

	c.mu.Lock()
	c.connectionID = ""
	c.mu.Unlock()
	c.corr.Clear()
}

// Call sends one request and waits for the correlated response. A JSON-RPC
// error response is returned as *RPCError.
func (c *Client) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	connID := c.ConnectionID()
	if connID == "" {
		return nil, ErrNotConnected
	}

	id := uuid.New().String()
	if err := c.corr.Register(id); err != nil {
		return nil, err
	}

	if err := c.post(ctx, connID, Request{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		c.corr.Cancel(id)
		return nil, err
	}

	resp, err := c.corr.Await(ctx, id, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// Notify sends a request without an id. The server handles it but sends no
// response.
func (c *Client) Notify(ctx context.Context, method string, params interface{}) error {
	connID := c.ConnectionID()
	if connID == "" {
		return ErrNotConnected
	}
	return c.post(ctx, connID, Request{JSONRPC: "2.0", Method: method, Params: params})
}

func (c *Client) post(ctx context.Context, connID string, r Request) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	u := fmt.Sprintf("%s/mcp/message?connectionId=%s", c.baseURL, url.QueryEscape(connID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("message endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// ---------------------------------------------------------------------------
// Protocol methods
// ---------------------------------------------------------------------------

// ListTools returns the server's tool catalogue.
func (c *Client) ListTools(ctx context.Context) (*ToolList, error) {
	raw, err := c.Call(ctx, "tools/list", map[string]interface{}{})
	if err != nil {
		return nil, err
	}
	var list ToolList
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("failed to decode tools/list result: %w", err)
	}
	return &list, nil
}

// CallTool invokes a tool by name.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (*CallResult, error) {
	if args == nil {
		args = map[string]interface{}{}
	}
	raw, err := c.Call(ctx, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, err
	}
	var result CallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode tools/call result: %w", err)
	}
	return &result, nil
}

// Ping checks liveness of the server and of this connection.
func (c *Client) Ping(ctx context.Context) (*Pong, error) {
	raw, err := c.Call(ctx, "ping", nil)
	if err != nil {
		return nil, err
	}
	var pong Pong
	if err := json.Unmarshal(raw, &pong); err != nil {
		return nil, fmt.Errorf("failed to decode ping result: %w", err)
	}
	return &pong, nil
}

// ---------------------------------------------------------------------------
// Convenience wrappers
// ---------------------------------------------------------------------------

// SearchElasticsearch runs es_search. query is the search source document,
// either a JSON string or a map.
func (c *Client) SearchElasticsearch(ctx context.Context, query interface{}, esHost string, indices []string) (*CallResult, error) {
	args := map[string]interface{}{"searchSourceBuilder": query}
	if esHost != "" {
		args["esHost"] = esHost
	}
	if len(indices) > 0 {
		args["indices"] = indices
	}
	return c.CallTool(ctx, "es_search", args)
}

// SearchWithDates runs es_search federated over the tiers covering the
// given date range.
func (c *Client) SearchWithDates(ctx context.Context, query interface{}, startDate, endDate string, indices []string) (*CallResult, error) {
	args := map[string]interface{}{"searchSourceBuilder": query}
	if startDate != "" {
		args["startDate"] = startDate
	}
	if endDate != "" {
		args["endDate"] = endDate
	}
	if len(indices) > 0 {
		args["indices"] = indices
	}
	return c.CallTool(ctx, "es_search", args)
}

// GetSchema runs es_schema.
func (c *Client) GetSchema(ctx context.Context) (*CallResult, error) {
	return c.CallTool(ctx, "es_schema", nil)
}

// SearchHosts runs es_host_search for the given date range.
func (c *Client) SearchHosts(ctx context.Context, startDate, endDate string) (*CallResult, error) {
	args := map[string]interface{}{}
	if startDate != "" {
		args["startDate"] = startDate
	}
	if endDate != "" {
		args["endDate"] = endDate
	}
	return c.CallTool(ctx, "es_host_search", args)
}
