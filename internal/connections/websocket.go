package connections

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
)

// wsFrame is the JSON envelope used to carry a named event over a websocket.
type wsFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// WebSocketSink pushes events over a websocket connection as JSON frames of
// the form {"event": "...", "data": ...}.
type WebSocketSink struct {
	mu           sync.Mutex
	conn         *websocket.Conn //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	writeTimeout time.Duration
	done         chan struct{}
	once         sync.Once
}

// NewWebSocketSink wraps an accepted websocket connection.
func NewWebSocketSink(conn *websocket.Conn, writeTimeout time.Duration) *WebSocketSink { //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &WebSocketSink{
		conn:         conn,
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

// Send writes one frame. JSON payloads are embedded as-is, anything else
// is sent as a JSON string.
func (s *WebSocketSink) Send(event string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return ErrSinkClosed
	default:
	}

	frame := wsFrame{Event: event, Data: string(data)}
	if json.Valid(data) {
		frame.Data = json.RawMessage(data)
	}
	msg, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, msg) //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
}

// Close closes the websocket with a normal closure status.
func (s *WebSocketSink) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	})
	return err
}

// Done is closed when the sink is closed.
func (s *WebSocketSink) Done() <-chan struct{} {
	return s.done
}

// Transport names the sink kind for stats.
func (s *WebSocketSink) Transport() string {
	return "websocket"
}
