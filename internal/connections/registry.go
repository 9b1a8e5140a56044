// Package connections tracks live push-channel connections (server-sent
// event streams and websockets), assigns their ids and delivers named events
// to them. A failed write is treated as proof of a dead peer and removes the
// connection.
package connections

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ErrTooManyConnections is returned by Register when the configured
// connection ceiling has been reached.
var ErrTooManyConnections = errors.New("connections: too many open connections")

// Sink is the transport side of a connection: something that can push a
// named event and be closed. Send must only fail on transport-level write
// errors. Implementations serialise their own writes.
type Sink interface {
	Send(event string, data []byte) error
	Close() error
}

// transportNamer is implemented by sinks that report their transport kind.
type transportNamer interface {
	Transport() string
}

// Connection is a registered push channel.
type Connection struct {
	ID          string
	ClientID    string
	ConnectedAt time.Time

	sink         Sink
	messageCount atomic.Int64
	lastActivity atomic.Int64 // unix nanos
}

// ConnectionInfo is the per-connection detail reported by Stats.
type ConnectionInfo struct {
	ClientID     string    `json:"client_id"`
	ConnectedAt  time.Time `json:"connected_at"`
	MessageCount int64     `json:"message_count"`
	Transport    string    `json:"transport,omitempty"`
}

// Stats is a snapshot of the registry.
type Stats struct {
	ActiveConnections       int                       `json:"active_connections"`
	TotalConnectionsCreated int64                     `json:"total_connections_created"`
	Connections             map[string]ConnectionInfo `json:"connections"`
}

// Registry owns every live connection. The map lock is held only for
// lookup/insert/delete, never across a write to a sink, so a slow peer
// cannot block sends to unrelated connections.
type Registry struct {
	mu             sync.RWMutex
	conns          map[string]*Connection
	counter        atomic.Uint64
	totalCreated   atomic.Int64
	maxConnections int
	now            func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxConnections caps the number of simultaneously registered
// connections. Zero means unlimited.
func WithMaxConnections(n int) Option {
	return func(r *Registry) {
		r.maxConnections = n
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		conns: make(map[string]*Connection),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register stores sink under a freshly generated id and returns it.
// The id has the form <label>_<unixMillis>_<counter>; label defaults to
// "client". The counter makes ids unique even when labels and timestamps
// collide, and ids are never reused.
func (r *Registry) Register(sink Sink, label string) (string, error) {
	if label == "" {
		label = "client"
	}

	now := r.now()
	n := r.counter.Add(1)
	id := fmt.Sprintf("%s_%d_%d", label, now.UnixMilli(), n)

	conn := &Connection{
		ID:          id,
		ClientID:    label,
		ConnectedAt: now,
		sink:        sink,
	}
	conn.lastActivity.Store(now.UnixNano())

	r.mu.Lock()
	if r.maxConnections > 0 && len(r.conns) >= r.maxConnections {
		r.mu.Unlock()
		return "", ErrTooManyConnections
	}
	r.conns[id] = conn
	active := len(r.conns)
	r.mu.Unlock()

	r.totalCreated.Add(1)
	log.Printf("connections: registered %s (active: %d)", id, active)
	return id, nil
}

// Remove discards a connection. Removing an unknown id is a no-op. A known
// connection's sink is closed best-effort; close errors are swallowed.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	conn, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	active := len(r.conns)
	r.mu.Unlock()

	if !ok {
		return
	}

	if err := conn.sink.Close(); err != nil {
		log.Printf("connections: close %s: %v (ignored)", id, err)
	}
	log.Printf("connections: removed %s (active: %d)", id, active)
}

// Exists reports whether id is currently registered.
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	_, ok := r.conns[id]
	r.mu.RUnlock()
	return ok
}

// Get returns the connection for id.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	conn, ok := r.conns[id]
	r.mu.RUnlock()
	return conn, ok
}

// Send pushes a named event to one connection and reports whether it was
// delivered. payload may be a string or []byte (sent verbatim) or any value
// that marshals to JSON.
//
// A transport write failure removes the connection. Any other failure is
// logged and reported as false without removing it. Send never panics.
func (r *Registry) Send(id, event string, payload interface{}) (delivered bool) {
	conn, ok := r.Get(id)
	if !ok {
		log.Printf("connections: send %q to unknown connection %s dropped", event, id)
		return false
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("ERROR: connections: send %q to %s panicked: %v", event, id, rec)
			delivered = false
		}
	}()

	data, err := encodePayload(payload)
	if err != nil {
		log.Printf("ERROR: connections: encode %q for %s: %v", event, id, err)
		return false
	}

	if err := conn.sink.Send(event, data); err != nil {
		log.Printf("connections: write to %s failed, removing: %v", id, err)
		r.Remove(id)
		return false
	}

	conn.messageCount.Add(1)
	conn.lastActivity.Store(r.now().UnixNano())
	return true
}

// Broadcast sends the event to every live connection and returns how many
// deliveries succeeded.
func (r *Registry) Broadcast(event string, payload interface{}) int {
	delivered := 0
	for _, id := range r.IDs() {
		if r.Send(id, event, payload) {
			delivered++
		}
	}
	return delivered
}

// Touch records inbound activity on a connection so it is not reaped as idle.
func (r *Registry) Touch(id string) {
	if conn, ok := r.Get(id); ok {
		conn.lastActivity.Store(r.now().UnixNano())
	}
}

// IdleFor returns how long the connection has been without activity.
func (r *Registry) IdleFor(id string) (time.Duration, bool) {
	conn, ok := r.Get(id)
	if !ok {
		return 0, false
	}
	last := time.Unix(0, conn.lastActivity.Load())
	return r.now().Sub(last), true
}

// IDs returns the ids of all live connections in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// TotalCreated returns how many connections were ever registered.
func (r *Registry) TotalCreated() int64 {
	return r.totalCreated.Load()
}

// Stats returns a point-in-time snapshot of the registry.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	details := make(map[string]ConnectionInfo, len(r.conns))
	for id, conn := range r.conns {
		info := ConnectionInfo{
			ClientID:     conn.ClientID,
			ConnectedAt:  conn.ConnectedAt,
			MessageCount: conn.messageCount.Load(),
		}
		if tn, ok := conn.sink.(transportNamer); ok {
			info.Transport = tn.Transport()
		}
		details[id] = info
	}

	return Stats{
		ActiveConnections:       len(r.conns),
		TotalConnectionsCreated: r.totalCreated.Load(),
		Connections:             details,
	}
}

// CloseAll removes every connection. Used during graceful shutdown.
func (r *Registry) CloseAll() {
	for _, id := range r.IDs() {
		r.Remove(id)
	}
}

func encodePayload(payload interface{}) ([]byte, error) {
	switch v := payload.(type) {
	case nil:
		return []byte("null"), nil
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(v)
	}
}
