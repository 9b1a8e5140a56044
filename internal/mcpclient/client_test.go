package mcpclient_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/esmcp/internal/mcpclient"
)

// fakeServer speaks just enough of the server side of the protocol: one
// event stream, and a message endpoint that answers through it.
type fakeServer struct {
	mu       sync.Mutex
	frames   chan string
	requests []mcpclient.Request
	// reply builds the response for a request; nil result means no reply.
	reply func(req map[string]interface{}) interface{}
}

func newFakeServer(t *testing.T, reply func(req map[string]interface{}) interface{}) *httptest.Server {
	fs := &fakeServer{frames: make(chan string, 16), reply: reply}

	mux := http.NewServeMux()
	mux.HandleFunc("/mcp/sse", func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "event: connection-id\ndata: %s_1_1\n\n", r.URL.Query().Get("clientId"))
		fmt.Fprint(w, ": heartbeat\n\n")
		fmt.Fprint(w, "event: connection\ndata: {\"server\":\"fake\"}\n\n")
		flusher.Flush()
		for {
			select {
			case f := <-fs.frames:
				fmt.Fprint(w, f)
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
	mux.HandleFunc("/mcp/message", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("connectionId") != "test_1_1" {
			http.Error(w, `{"error":"unknown connection"}`, http.StatusNotFound)
			return
		}
		var req map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"status":"accepted"}`))

		if resp := fs.reply(req); resp != nil {
			b, _ := json.Marshal(resp)
			fs.frames <- "event: mcp-response\ndata: " + string(b) + "\n\n"
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func echoResult(result interface{}) func(map[string]interface{}) interface{} {
	return func(req map[string]interface{}) interface{} {
		return map[string]interface{}{"jsonrpc": "2.0", "id": req["id"], "result": result}
	}
}

func connect(t *testing.T, srv *httptest.Server, opts ...mcpclient.Option) *mcpclient.Client {
	opts = append([]mcpclient.Option{mcpclient.WithClientID("test")}, opts...)
	c := mcpclient.New(srv.URL, opts...)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_ConnectReceivesID(t *testing.T) {
	srv := newFakeServer(t, echoResult(nil))
	c := connect(t, srv)

	assert.Equal(t, "test_1_1", c.ConnectionID())
	require.Eventually(t, func() bool { return c.ServerInfo() != nil }, time.Second, 5*time.Millisecond)
	assert.JSONEq(t, `{"server":"fake"}`, string(c.ServerInfo()))
}

func TestClient_Ping(t *testing.T) {
	srv := newFakeServer(t, echoResult(map[string]interface{}{
		"status": "pong", "connectionId": "test_1_1", "timestamp": "2024-01-01T00:00:00Z",
	}))
	c := connect(t, srv)

	pong, err := c.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pong", pong.Status)
	assert.Equal(t, "test_1_1", pong.ConnectionID)
}

func TestClient_CallToolDecodesContent(t *testing.T) {
	srv := newFakeServer(t, echoResult(map[string]interface{}{
		"content": []interface{}{
			map[string]interface{}{"type": "text", "text": "Tool 'es_schema' executed successfully"},
			map[string]interface{}{"type": "json", "data": map[string]interface{}{"fields": 3}},
		},
	}))
	c := connect(t, srv)

	res, err := c.GetSchema(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Content, 2)
	assert.JSONEq(t, `{"fields":3}`, string(res.Data()))
}

func TestClient_RPCErrorSurfaced(t *testing.T) {
	srv := newFakeServer(t, func(req map[string]interface{}) interface{} {
		return map[string]interface{}{
			"jsonrpc": "2.0", "id": req["id"],
			"error": map[string]interface{}{"code": -32000, "message": "Tool not found: nope"},
		}
	})
	c := connect(t, srv)

	_, err := c.CallTool(context.Background(), "nope", nil)
	var rpcErr *mcpclient.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32000, rpcErr.Code)
}

func TestClient_TimeoutWhenNoResponse(t *testing.T) {
	srv := newFakeServer(t, func(map[string]interface{}) interface{} { return nil })
	c := connect(t, srv, mcpclient.WithTimeout(50*time.Millisecond))

	_, err := c.Ping(context.Background())
	assert.ErrorIs(t, err, mcpclient.ErrTimeout)
}

func TestClient_CallBeforeConnect(t *testing.T) {
	c := mcpclient.New("http://127.0.0.1:1")
	_, err := c.Ping(context.Background())
	assert.ErrorIs(t, err, mcpclient.ErrNotConnected)
}

func TestClient_CloseReleasesPendingCalls(t *testing.T) {
	srv := newFakeServer(t, func(map[string]interface{}) interface{} { return nil })
	c := connect(t, srv, mcpclient.WithTimeout(5*time.Second))

	errc := make(chan error, 1)
	go func() {
		_, err := c.Ping(context.Background())
		errc <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, c.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, mcpclient.ErrDisconnected)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call was not released")
	}
}
