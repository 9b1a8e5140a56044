package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/scrypster/esmcp/internal/breaker"
	"github.com/scrypster/esmcp/internal/config"
	"github.com/scrypster/esmcp/internal/esclient"
	"github.com/scrypster/esmcp/pkg/types"
)

var (
	// ErrJobTimeout is returned when a job is still pending after the
	// maximum number of status polls.
	ErrJobTimeout = errors.New("redash job polling timed out")

	// ErrJobFailed is returned when the intermediary reports the job failed.
	ErrJobFailed = errors.New("redash job failed")

	// ErrIntermediaryUnavailable marks failures of the intermediary itself,
	// as opposed to failures of one backend's query.
	ErrIntermediaryUnavailable = errors.New("redash unavailable")
)

// Redash job status codes.
const (
	jobQueued    = 1
	jobStarted   = 2
	jobSucceeded = 3
	jobFailed    = 4
	jobCancelled = 5
)

// JobResult is the outcome of one backend's search.
type JobResult struct {
	Host          types.HostType
	Success       bool
	ExecutionTime time.Duration
	Data          map[string]interface{} // normalised result set
	Rows          []map[string]interface{}
	Columns       []string
	Error         string
	Err           error                   // cause of a failure, for errors.Is
	Response      *esclient.SearchResponse // raw hits, direct path only
}

// JobExecutor runs a search on one backend tier.
type JobExecutor interface {
	Execute(ctx context.Context, query map[string]interface{}, indices []string, cov types.HostCoverage) (*JobResult, error)
}

// RedashClient runs searches through a Redash-style job system.
type RedashClient struct {
	baseURL         string
	apiKey          string
	http            *http.Client
	breaker         *breaker.CircuitBreaker
	pollInterval    time.Duration
	maxPollInterval time.Duration
	maxPollAttempts int
	sleep           func(ctx context.Context, d time.Duration) error
	now             func() time.Time
}

// RedashOption configures a RedashClient.
type RedashOption func(*RedashClient)

// WithSleeper replaces the wait between status polls.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) RedashOption {
	return func(c *RedashClient) {
		c.sleep = sleep
	}
}

// WithRedashHTTPClient replaces the HTTP client.
func WithRedashHTTPClient(hc *http.Client) RedashOption {
	return func(c *RedashClient) {
		c.http = hc
	}
}

// WithRedashClock replaces the clock used for elapsed times and query names.
func WithRedashClock(now func() time.Time) RedashOption {
	return func(c *RedashClient) {
		c.now = now
	}
}

// NewRedashClient creates a client from cfg.
func NewRedashClient(cfg config.RedashConfig, opts ...RedashOption) *RedashClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext

	c := &RedashClient{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:          cfg.APIKey,
		http:            &http.Client{Timeout: cfg.ReadTimeout, Transport: transport},
		breaker:         breaker.New("redash"),
		pollInterval:    cfg.PollInterval,
		maxPollInterval: cfg.MaxPollInterval,
		maxPollAttempts: cfg.MaxPollAttempts,
		sleep:           sleepContext,
		now:             time.Now,
	}
	if c.pollInterval <= 0 {
		c.pollInterval = 2 * time.Second
	}
	if c.maxPollInterval < c.pollInterval {
		c.maxPollInterval = max(10*time.Second, c.pollInterval)
	}
	if c.maxPollAttempts <= 0 {
		c.maxPollAttempts = 15
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Breaker exposes the client's circuit breaker for health reporting.
func (c *RedashClient) Breaker() *breaker.CircuitBreaker {
	return c.breaker
}

// Execute creates a query for cov's data source, runs it and returns the
// normalised rows. On failure the returned JobResult is still populated
// with the host, elapsed time and error text.
func (c *RedashClient) Execute(ctx context.Context, query map[string]interface{}, indices []string, cov types.HostCoverage) (*JobResult, error) {
	started := c.now()
	result := &JobResult{Host: cov.Host}

	data, err := c.run(ctx, query, indices, cov)
	result.ExecutionTime = c.now().Sub(started)
	if err != nil {
		result.Error = err.Error()
		result.Err = err
		log.Printf("federation: search failed on %s after %dms: %v", cov.Host, result.ExecutionTime.Milliseconds(), err)
		return result, err
	}

	result.Success = true
	result.Data = data
	result.Rows = extractRows(data)
	result.Columns = extractColumns(data)
	return result, nil
}

func (c *RedashClient) run(ctx context.Context, query map[string]interface{}, indices []string, cov types.HostCoverage) (map[string]interface{}, error) {
	text, err := BuildQueryText(query, indices)
	if err != nil {
		return nil, err
	}

	queryID, err := c.createQuery(ctx, text, cov)
	if err != nil {
		return nil, err
	}

	var exec struct {
		Job *struct {
			ID json.RawMessage `json:"id"`
		} `json:"job"`
		QueryResult map[string]interface{} `json:"query_result"`
	}
	raw, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/queries/%d/results", queryID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query %d: %w", queryID, err)
	}
	if err := json.Unmarshal(raw, &exec); err != nil {
		return nil, fmt.Errorf("failed to decode execute response: %w", err)
	}

	switch {
	case exec.Job != nil:
		// Job ids arrive as strings or numbers; keep the literal digits.
		jobID := strings.Trim(string(exec.Job.ID), `"`)
		if jobID == "" || jobID == "null" {
			return nil, fmt.Errorf("redash returned a job without an id: %s", truncate(string(raw), 200))
		}
		resultID, err := c.pollJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		raw, err = c.do(ctx, http.MethodGet, fmt.Sprintf("/api/query_results/%d", resultID), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch query result %d: %w", resultID, err)
		}
	case exec.QueryResult != nil:
		// cached result, returned synchronously
	default:
		return nil, fmt.Errorf("unexpected response format from redash: %s", truncate(string(raw), 200))
	}

	return normalise(raw)
}

func (c *RedashClient) createQuery(ctx context.Context, text string, cov types.HostCoverage) (int64, error) {
	body := map[string]interface{}{
		"query":          text,
		"data_source_id": cov.DataSourceID,
		"name":           fmt.Sprintf("MCP-Search-%s-%d", cov.Host, c.now().UnixMilli()),
	}
	raw, err := c.do(ctx, http.MethodPost, "/api/queries", body)
	if err != nil {
		return 0, fmt.Errorf("failed to create redash query for %s: %w", cov.Host, err)
	}

	var created struct {
		ID *int64 `json:"id"`
	}
	if err := json.Unmarshal(raw, &created); err != nil || created.ID == nil {
		return 0, fmt.Errorf("failed to create redash query for %s: response carries no id", cov.Host)
	}
	return *created.ID, nil
}

// pollJob waits for jobID to finish and returns its query result id. The
// interval starts at pollInterval and doubles after every poll up to
// maxPollInterval.
func (c *RedashClient) pollJob(ctx context.Context, jobID string) (int64, error) {
	interval := c.pollInterval
	for attempt := 1; attempt <= c.maxPollAttempts; attempt++ {
		raw, err := c.do(ctx, http.MethodGet, "/api/jobs/"+jobID, nil)
		if err != nil {
			return 0, fmt.Errorf("failed to poll job %s: %w", jobID, err)
		}

		var status struct {
			Job struct {
				Status        int    `json:"status"`
				Error         string `json:"error"`
				QueryResultID *int64 `json:"query_result_id"`
			} `json:"job"`
		}
		if err := json.Unmarshal(raw, &status); err != nil {
			return 0, fmt.Errorf("failed to decode job %s status: %w", jobID, err)
		}

		switch status.Job.Status {
		case jobSucceeded:
			if status.Job.QueryResultID == nil {
				return 0, fmt.Errorf("job %s succeeded without a query result id", jobID)
			}
			return *status.Job.QueryResultID, nil
		case jobFailed, jobCancelled:
			return 0, fmt.Errorf("%w: %s", ErrJobFailed, status.Job.Error)
		}

		if attempt == c.maxPollAttempts {
			break
		}
		if err := c.sleep(ctx, interval); err != nil {
			return 0, fmt.Errorf("job polling interrupted: %w", err)
		}
		interval *= 2
		if interval > c.maxPollInterval {
			interval = c.maxPollInterval
		}
	}
	return 0, fmt.Errorf("%w after %d attempts", ErrJobTimeout, c.maxPollAttempts)
}

// do sends one request through the breaker and returns the response body.
func (c *RedashClient) do(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	out, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		var reader io.Reader
		if body != nil {
			b, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal request: %w", err)
			}
			reader = bytes.NewReader(b)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Key "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIntermediaryUnavailable, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read response: %v", ErrIntermediaryUnavailable, err)
		}
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: status %d: %s", ErrIntermediaryUnavailable, resp.StatusCode, truncate(string(data), 200))
		}
		if resp.StatusCode/100 != 2 {
			return nil, fmt.Errorf("redash returned status %d: %s", resp.StatusCode, truncate(string(data), 200))
		}
		return data, nil
	})
	if err != nil {
		if errors.Is(err, breaker.ErrCircuitOpen) {
			return nil, fmt.Errorf("%w: %v", ErrIntermediaryUnavailable, err)
		}
		return nil, err
	}
	return out.([]byte), nil
}

// BuildQueryText renders the query document the intermediary runs: the
// comma-joined index list plus the query, size, sort, aggs and _source keys
// that are present.
func BuildQueryText(query map[string]interface{}, indices []string) (string, error) {
	doc := map[string]interface{}{
		"index": strings.Join(indices, ","),
	}
	for _, key := range []string{"query", "size", "sort", "aggs", "_source"} {
		if v, ok := query[key]; ok {
			doc[key] = v
		}
	}
	if _, ok := doc["aggs"]; !ok {
		if v, ok := query["aggregations"]; ok {
			doc["aggs"] = v
		}
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to build query text: %w", err)
	}
	return string(b), nil
}

// normalise unwraps query_result.data, passing the raw document through when
// that path is absent.
func normalise(raw []byte) (map[string]interface{}, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode query result: %w", err)
	}
	if qr, ok := doc["query_result"].(map[string]interface{}); ok {
		if data, ok := qr["data"].(map[string]interface{}); ok {
			return data, nil
		}
	}
	return doc, nil
}

func extractRows(data map[string]interface{}) []map[string]interface{} {
	items, ok := data["rows"].([]interface{})
	if !ok {
		return nil
	}
	rows := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		if row, ok := item.(map[string]interface{}); ok {
			rows = append(rows, row)
		}
	}
	return rows
}

func extractColumns(data map[string]interface{}) []string {
	items, ok := data["columns"].([]interface{})
	if !ok {
		return nil
	}
	cols := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			cols = append(cols, v)
		case map[string]interface{}:
			if name, ok := v["name"].(string); ok {
				cols = append(cols, name)
			}
		}
	}
	return cols
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
