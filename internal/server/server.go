// Package server exposes the tool protocol over HTTP: event streams and
// websockets for pushing responses, a message endpoint for requests, and
// health and introspection endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/scrypster/esmcp/internal/api/mcp"
	"github.com/scrypster/esmcp/internal/audit"
	"github.com/scrypster/esmcp/internal/config"
	"github.com/scrypster/esmcp/internal/connections"
)

// Event names pushed to clients.
const (
	EventConnectionID = "connection-id"
	EventConnection   = "connection"
	EventResponse     = "mcp-response"
	EventTest         = "test"
)

// maxMessageBytes bounds one request body.
const maxMessageBytes = 4 << 20

// Defaults for stream housekeeping.
const (
	DefaultIdleTimeout       = 30 * time.Minute
	DefaultHeartbeatInterval = 15 * time.Second
)

// Server is the HTTP front of the tool protocol.
type Server struct {
	cfg      config.ServerConfig
	handler  *mcp.Handler
	conns    *connections.Registry
	store    audit.Store
	breakers func() map[string]string
	limiter  *RateLimiter
	started  time.Time

	inflight sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithAuditStore serves recorded searches on /mcp/searches.
func WithAuditStore(store audit.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

// WithBreakerStates reports circuit breaker states on /mcp/health.
func WithBreakerStates(fn func() map[string]string) Option {
	return func(s *Server) {
		s.breakers = fn
	}
}

// New creates a server. conns may be shared with other components that
// push events.
func New(cfg config.ServerConfig, handler *mcp.Handler, conns *connections.Registry, opts ...Option) *Server {
	if cfg.SSEIdleTimeout <= 0 {
		cfg.SSEIdleTimeout = DefaultIdleTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	s := &Server{
		cfg:     cfg,
		handler: handler,
		conns:   conns,
		store:   audit.Nop{},
		limiter: NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the complete handler with middleware applied.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /mcp/sse", s.handleSSE)
	mux.HandleFunc("GET /mcp/ws", s.handleWebSocket)
	mux.HandleFunc("POST /mcp/message", s.handleMessage)
	mux.HandleFunc("GET /mcp/health", s.handleHealth)
	mux.HandleFunc("GET /mcp/connections", s.handleConnections)
	mux.HandleFunc("POST /mcp/broadcast", s.handleBroadcast)
	mux.HandleFunc("GET /mcp/tools", s.handleTools)
	mux.HandleFunc("GET /mcp/searches", s.handleSearches)

	// Health endpoint, used by load balancers and monitoring
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		_, version := s.handler.ServerInfo()
		respondJSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": version})
	})

	handler := RateLimitMiddleware(mux, s.limiter)
	return securityHeadersMiddleware(handler)
}

// Start listens on the configured address and serves until ctx is
// cancelled. It returns the actual address being listened on (useful with
// port 0). On shutdown every stream is closed and in-flight tool calls are
// given the shutdown grace period to finish.
func (s *Server) Start(ctx context.Context) (string, error) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: event streams stay open for up to the idle ceiling.
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("ERROR: server: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Streams never finish on their own; close them so Shutdown can drain.
		s.conns.CloseAll()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("server: shutdown error: %v", err)
		}
		s.waitInflight(shutdownCtx)
	}()

	actual := listener.Addr().String()
	log.Printf("server: listening on %s", actual)
	return actual, nil
}

func (s *Server) waitInflight(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("Warning: server: shutdown with tool calls still running")
	}
}

// ---------------------------------------------------------------------------
// Streams
// ---------------------------------------------------------------------------

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	sink, err := connections.NewSSESink(w)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	id, err := s.conns.Register(sink, r.URL.Query().Get("clientId"))
	if err != nil {
		// Headers are already sent; report on the stream itself.
		data, _ := json.Marshal(map[string]interface{}{"code": mcp.ErrCodeConnection, "message": err.Error()})
		_ = sink.Send("error", data)
		return
	}
	defer s.conns.Remove(id)

	s.conns.Send(id, EventConnectionID, id)
	s.conns.Send(id, EventConnection, s.serverInfo(id))

	s.keepAlive(r.Context(), id, sink.Done(), func() error { return sink.Comment("heartbeat") })
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := acceptWebSocket(w, r)
	if err != nil {
		log.Printf("server: websocket accept failed: %v", err)
		return
	}
	sink := connections.NewWebSocketSink(conn, 10*time.Second)

	id, err := s.conns.Register(sink, r.URL.Query().Get("clientId"))
	if err != nil {
		_ = sink.Close()
		return
	}
	defer s.conns.Remove(id)

	s.conns.Send(id, EventConnectionID, id)
	s.conns.Send(id, EventConnection, s.serverInfo(id))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Requests may also arrive over the socket itself.
	go func() {
		defer cancel()
		for {
			msg, err := readWebSocket(ctx, conn)
			if err != nil {
				return
			}
			s.conns.Touch(id)
			s.dispatch(id, msg)
		}
	}()

	s.keepAlive(ctx, id, sink.Done(), func() error { return pingWebSocket(ctx, conn) })
}

// keepAlive blocks until the stream ends: the peer goes away, the sink is
// closed, a heartbeat fails, or the connection sits idle past the ceiling.
func (s *Server) keepAlive(ctx context.Context, id string, done <-chan struct{}, heartbeat func() error) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			idle, ok := s.conns.IdleFor(id)
			if !ok {
				return
			}
			if idle >= s.cfg.SSEIdleTimeout {
				log.Printf("server: closing %s after %v idle", id, idle.Round(time.Second))
				return
			}
			if err := heartbeat(); err != nil {
				log.Printf("server: heartbeat to %s failed: %v", id, err)
				return
			}
		}
	}
}

func (s *Server) serverInfo(id string) map[string]interface{} {
	name, version := s.handler.ServerInfo()
	return map[string]interface{}{
		"status":       "connected",
		"connectionId": id,
		"server":       name,
		"version":      version,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	}
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	connID := r.URL.Query().Get("connectionId")
	if connID == "" || !s.conns.Exists(connID) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write(mcp.ErrorEnvelope(nil, mcp.ErrCodeConnection, "Connection not found: "+connID, nil))
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxMessageBytes)
	raw, err := io.ReadAll(body)
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	var envelope struct {
		ID json.RawMessage `json:"id"`
	}
	_ = json.Unmarshal(raw, &envelope)
	id := envelope.ID
	if len(id) == 0 {
		id = json.RawMessage("null")
	}

	s.conns.Touch(connID)
	s.dispatch(connID, raw)

	respondJSON(w, http.StatusAccepted, map[string]interface{}{"status": "accepted", "id": id})
}

// dispatch handles one request in the background and pushes the response to
// the connection. The call outlives the HTTP request and the stream; only
// the final send is skipped when the connection is gone.
func (s *Server) dispatch(connID string, raw []byte) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		resp, notification := s.handler.HandleMessage(context.Background(), raw, connID)
		if notification {
			return
		}
		if !s.conns.Send(connID, EventResponse, resp) {
			log.Printf("Warning: server: response for %s could not be delivered", connID)
		}
	}()
}

// ---------------------------------------------------------------------------
// Introspection
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	name, version := s.handler.ServerInfo()
	body := map[string]interface{}{
		"status":             "UP",
		"server":             name,
		"version":            version,
		"active_connections": s.conns.Count(),
		"total_connections":  s.conns.TotalCreated(),
		"tools":              s.handler.Registry().Count(),
		"uptime_seconds":     int64(time.Since(s.started).Seconds()),
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
	}
	if s.breakers != nil {
		body["circuit_breakers"] = s.breakers()
	}
	respondJSON(w, http.StatusOK, body)
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.conns.Stats())
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Event == "" {
		req.Event = EventTest
	}
	var payload interface{} = req.Data
	if len(req.Data) == 0 {
		payload = nil
	}

	delivered := s.conns.Broadcast(req.Event, payload)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"event":     req.Event,
		"delivered": delivered,
	})
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	all := s.handler.Registry().AllMetadata()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tools": all,
		"total": len(all),
	})
}

func (s *Server) handleSearches(w http.ResponseWriter, r *http.Request) {
	limit := audit.DefaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := parsePositive(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		log.Printf("ERROR: server: failed to list searches: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to list searches")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"searches": entries,
		"count":    len(entries),
	})
}
