package esclient

import (
	"fmt"
	"log"
	"net/url"
	"sync"

	"github.com/scrypster/esmcp/internal/config"
	"github.com/scrypster/esmcp/pkg/types"
)

// ErrUnknownHost is returned for a tier with no configured host.
var ErrUnknownHost = fmt.Errorf("esclient: unknown host")

// Manager lazily creates one Client per tier and keeps it until CloseClient
// or CloseAll. Clients are never released implicitly.
type Manager struct {
	hosts    map[types.HostType]config.HostConfig
	poolSize int

	mu      sync.RWMutex
	clients map[types.HostType]*Client
}

// NewManager creates a manager over the configured tier -> host map.
func NewManager(cfg config.ElasticsearchConfig) *Manager {
	hosts := make(map[types.HostType]config.HostConfig, len(cfg.Hosts))
	for h, hc := range cfg.Hosts {
		hosts[h] = hc
	}
	return &Manager{
		hosts:    hosts,
		poolSize: cfg.PoolSize,
		clients:  make(map[types.HostType]*Client),
	}
}

// Client returns the cached client for host, creating it on first use.
func (m *Manager) Client(host types.HostType) (*Client, error) {
	m.mu.RLock()
	if c, ok := m.clients[host]; ok {
		m.mu.RUnlock()
		return c, nil
	}
	m.mu.RUnlock()

	cfg, ok := m.hosts[host]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHost, host)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Another goroutine may have won the race.
	if c, ok := m.clients[host]; ok {
		return c, nil
	}

	c, err := NewClient(host, cfg, m.poolSize)
	if err != nil {
		return nil, err
	}
	m.clients[host] = c
	log.Printf("esclient: created client for %s (%s)", host, redactURL(cfg.URL))
	return c, nil
}

// HostConfig returns the configuration for host.
func (m *Manager) HostConfig(host types.HostType) (config.HostConfig, bool) {
	cfg, ok := m.hosts[host]
	return cfg, ok
}

// Has reports whether a client for host has been created.
func (m *Manager) Has(host types.HostType) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.clients[host]
	return ok
}

// Count returns the number of live clients.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// CloseClient closes and forgets the client for host.
func (m *Manager) CloseClient(host types.HostType) error {
	m.mu.Lock()
	c, ok := m.clients[host]
	delete(m.clients, host)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return c.Close()
}

// CloseAll closes every client. Called during graceful shutdown.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[types.HostType]*Client)
	m.mu.Unlock()

	var firstErr error
	for host, c := range clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close client for %s: %w", host, err)
		}
	}
	if len(clients) > 0 {
		log.Printf("esclient: closed %d clients", len(clients))
	}
	return firstErr
}

// BreakerStates reports the breaker state of every live client.
func (m *Manager) BreakerStates() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.clients))
	for h, c := range m.clients {
		out[string(h)] = c.Breaker().State()
	}
	return out
}

// redactURL hides the password in a URL with embedded credentials.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, has := u.User.Password(); has {
		u.User = url.UserPassword(u.User.Username(), "[REDACTED]")
	}
	return u.String()
}
