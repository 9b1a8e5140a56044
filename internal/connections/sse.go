package connections

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// ErrSinkClosed is returned when writing to a sink that has been closed.
var ErrSinkClosed = errors.New("connections: sink closed")

// SSESink writes server-sent events to an http.ResponseWriter.
type SSESink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	done    chan struct{}
	once    sync.Once
}

// NewSSESink prepares w for event streaming and writes the stream headers.
// It fails when the writer cannot flush.
func NewSSESink(w http.ResponseWriter) (*SSESink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("connections: streaming unsupported by response writer")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSESink{
		w:       w,
		flusher: flusher,
		done:    make(chan struct{}),
	}, nil
}

// Send writes one event frame. Multi-line data is split across data: lines.
func (s *SSESink) Send(event string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return ErrSinkClosed
	default:
	}

	var buf bytes.Buffer
	if event != "" {
		fmt.Fprintf(&buf, "event: %s\n", event)
	}
	for _, line := range bytes.Split(data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')

	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Comment writes an SSE comment frame, used as a keep-alive heartbeat.
func (s *SSESink) Comment(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return ErrSinkClosed
	default:
	}

	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Close marks the stream finished, after any frame being written. The HTTP
// handler owning the stream returns once Done is closed.
func (s *SSESink) Close() error {
	s.once.Do(func() {
		// The writer is unusable once the handler sees done.
		s.mu.Lock()
		defer s.mu.Unlock()
		close(s.done)
	})
	return nil
}

// Done is closed when the sink is closed.
func (s *SSESink) Done() <-chan struct{} {
	return s.done
}

// Transport names the sink kind for stats.
func (s *SSESink) Transport() string {
	return "sse"
}
