// Package esclient is the direct path to the backend search clusters: one
// HTTP client per tier, wrapped in a circuit breaker and cached by Manager.
package esclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/scrypster/esmcp/internal/breaker"
	"github.com/scrypster/esmcp/internal/config"
	"github.com/scrypster/esmcp/pkg/types"
)

// Client searches one backend cluster.
type Client struct {
	host    types.HostType
	cfg     config.HostConfig
	http    *http.Client
	breaker *breaker.CircuitBreaker
}

// Hit is one search hit.
type Hit struct {
	Index  string                 `json:"_index"`
	ID     string                 `json:"_id"`
	Score  *float64               `json:"_score"`
	Source map[string]interface{} `json:"_source"`
}

// SearchResponse is the subset of the cluster's search response used here.
type SearchResponse struct {
	Took     int64 `json:"took"`
	TimedOut bool  `json:"timed_out"`
	Hits     struct {
		Total    Total    `json:"total"`
		MaxScore *float64 `json:"max_score"`
		Hits     []Hit    `json:"hits"`
	} `json:"hits"`
	Aggregations json.RawMessage `json:"aggregations,omitempty"`
}

// Total is the hit count. Clusters report it either as a number or as
// {"value": n, "relation": "eq"}.
type Total struct {
	Value    int64  `json:"value"`
	Relation string `json:"relation,omitempty"`
}

// UnmarshalJSON accepts both total encodings.
func (t *Total) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		t.Value = n
		t.Relation = "eq"
		return nil
	}
	type alias Total
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("unrecognised hits.total: %w", err)
	}
	*t = Total(a)
	return nil
}

// StatusError is returned when the cluster answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("elasticsearch returned status %d: %s", e.StatusCode, e.Body)
}

// NewClient creates a client for one tier. poolSize bounds idle
// connections kept per host.
func NewClient(host types.HostType, cfg config.HostConfig, poolSize int) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("no url configured for host %s", host)
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid url for host %s: %w", host, err)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if poolSize <= 0 {
		poolSize = 10
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = poolSize

	return &Client{
		host: host,
		cfg:  cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		breaker: breaker.New("es-" + strings.ToLower(string(host))),
	}, nil
}

// Host returns the tier this client serves.
func (c *Client) Host() types.HostType {
	return c.host
}

// URL returns the configured cluster URL.
func (c *Client) URL() string {
	return c.cfg.URL
}

// Search runs body against indices. An empty index list searches every
// index.
func (c *Client) Search(ctx context.Context, indices []string, body map[string]interface{}) (*SearchResponse, error) {
	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		return c.search(ctx, indices, body)
	})
	if err != nil {
		if errors.Is(err, breaker.ErrCircuitOpen) {
			return nil, fmt.Errorf("elasticsearch %s circuit breaker open: %w", c.host, err)
		}
		return nil, err
	}
	return result.(*SearchResponse), nil
}

func (c *Client) search(ctx context.Context, indices []string, body map[string]interface{}) (*SearchResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search body: %w", err)
	}

	target := "_all"
	if len(indices) > 0 {
		escaped := make([]string, len(indices))
		for i, idx := range indices {
			escaped[i] = url.PathEscape(idx)
		}
		target = strings.Join(escaped, ",")
	}
	endpoint := strings.TrimRight(c.cfg.URL, "/") + "/" + target + "/_search?ignore_unavailable=true&allow_no_indices=true"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", c.host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	var out SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return &out, nil
}

// Ping checks that the cluster answers.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("elasticsearch %s unreachable: %w", c.host, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}

// Breaker exposes the client's circuit breaker for health reporting.
func (c *Client) Breaker() *breaker.CircuitBreaker {
	return c.breaker
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
