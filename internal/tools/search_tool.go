package tools

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/scrypster/esmcp/internal/audit"
	"github.com/scrypster/esmcp/internal/federation"
	"github.com/scrypster/esmcp/pkg/types"
)

// SearchBackend runs a query over a set of host coverages.
type SearchBackend interface {
	Search(ctx context.Context, query map[string]interface{}, indices []string, coverages []types.HostCoverage) (*federation.Outcome, error)
	HostURL(host types.HostType) string
}

var _ SearchBackend = (*federation.Service)(nil)

// Default search limits.
const (
	DefaultSearchSize = 100
	MaxSearchSize     = 10000
)

// SearchTool is es_search: it runs a search source over the tiers the date
// range selects, or over the single requested host when no range is given.
type SearchTool struct {
	backend        SearchBackend
	selector       *federation.Selector
	store          audit.Store
	defaultIndices []string
	defaultSize    int
	maxSize        int
}

// SearchOption configures a SearchTool.
type SearchOption func(*SearchTool)

// WithAudit records every search in store.
func WithAudit(store audit.Store) SearchOption {
	return func(t *SearchTool) {
		t.store = store
	}
}

// WithDefaultIndices sets the indices searched when the call names none.
func WithDefaultIndices(indices []string) SearchOption {
	return func(t *SearchTool) {
		if len(indices) > 0 {
			t.defaultIndices = append([]string(nil), indices...)
		}
	}
}

// WithSizeLimits sets the default and maximum page size. Non-positive values
// keep the built-in limits.
func WithSizeLimits(def, max int) SearchOption {
	return func(t *SearchTool) {
		if def > 0 {
			t.defaultSize = def
		}
		if max > 0 {
			t.maxSize = max
		}
	}
}

// NewSearchTool creates the es_search tool.
func NewSearchTool(backend SearchBackend, selector *federation.Selector, opts ...SearchOption) *SearchTool {
	t := &SearchTool{
		backend:        backend,
		selector:       selector,
		defaultIndices: []string{federation.DefaultSearchIndex},
		defaultSize:    DefaultSearchSize,
		maxSize:        MaxSearchSize,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *SearchTool) Name() string { return NameSearch }

func (t *SearchTool) Description() string {
	return "Execute Elasticsearch queries with SearchSourceBuilder"
}

func (t *SearchTool) RequiredParameters() []string {
	return []string{ArgSearchSource, ArgHost}
}

func (t *SearchTool) OptionalParameters() []string {
	return []string{ArgIndices, ArgStartDate, ArgEndDate}
}

// Execute runs the search. Backend failures come back as a structured error
// body; only unusable arguments and a missing backend are returned as errors.
func (t *SearchTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	started := time.Now()

	q, ok := args[ArgSearchSource].(*SearchQuery)
	if !ok || q == nil {
		return nil, errors.New("searchSourceBuilder must be a search source object")
	}
	host := MapHost(args[ArgHost])
	indices, _ := args[ArgIndices].([]string)
	if len(indices) == 0 {
		indices = t.defaultIndices
	}

	coverages, err := t.coverages(host, args)
	if err != nil {
		return nil, err
	}

	body := t.body(q)
	outcome, err := t.backend.Search(ctx, body, indices, coverages)
	if err != nil {
		t.record(coverages, indices, "", 0, err.Error(), started)
		return nil, fmt.Errorf("search failed: %w", err)
	}

	log.Printf("tools: %s in %v", outcome.Describe(), time.Since(started))

	var errMsg string
	if !outcome.Result.Succeeded() {
		errMsg = strings.Join(outcome.Result.Errors, "; ")
	}
	t.record(coverages, indices, outcome.Path, outcome.Result.Metadata.TotalRows, errMsg, started)

	if outcome.Path == federation.PathDirect && len(outcome.Jobs) == 1 {
		return t.directResult(outcome.Jobs[0], indices, started), nil
	}
	return federatedResult(outcome, coverages, indices), nil
}

// coverages selects tiers from the date range when one is given, otherwise
// the whole window of the requested host.
func (t *SearchTool) coverages(host types.HostType, args map[string]interface{}) ([]types.HostCoverage, error) {
	start, _ := args[ArgStartDate].(string)
	end, _ := args[ArgEndDate].(string)
	if start == "" && end == "" {
		return []types.HostCoverage{t.selector.CoverageFor(host)}, nil
	}
	coverages, err := t.selector.SelectDates(start, end)
	if err != nil {
		return nil, fmt.Errorf("invalid date range: %w", err)
	}
	if len(coverages) == 0 {
		return nil, errors.New("invalid date range: no host covers the requested dates")
	}
	return coverages, nil
}

func (t *SearchTool) body(q *SearchQuery) map[string]interface{} {
	body := q.Body()
	size := t.defaultSize
	if q.Size != nil {
		size = *q.Size
	}
	if size > t.maxSize {
		size = t.maxSize
	}
	if size < 0 {
		size = 0
	}
	body["size"] = size
	return body
}

func (t *SearchTool) record(coverages []types.HostCoverage, indices []string, path string, rows int, errMsg string, started time.Time) {
	if t.store == nil {
		return
	}
	hosts := federation.Hosts(coverages)
	names := make([]string, len(hosts))
	for i, h := range hosts {
		names[i] = string(h)
	}
	status := "success"
	if errMsg != "" {
		status = "error"
	}
	audit.RecordAsync(t.store, &audit.Entry{
		Tool:       NameSearch,
		Hosts:      names,
		Indices:    append([]string(nil), indices...),
		Path:       path,
		TotalRows:  rows,
		Status:     status,
		Error:      errMsg,
		DurationMs: time.Since(started).Milliseconds(),
	})
}

// ----------------------------------------------------------------------------
// Result shapes
// ----------------------------------------------------------------------------

func (t *SearchTool) directResult(job *federation.JobResult, indices []string, started time.Time) map[string]interface{} {
	ts := time.Now().UTC().Format(time.RFC3339)
	if !job.Success || job.Response == nil {
		return map[string]interface{}{
			"status":    "error",
			"timestamp": ts,
			"error": map[string]interface{}{
				"code":      "ES_SEARCH_FAILED",
				"message":   "Elasticsearch search failed",
				"details":   job.Error,
				"host_type": string(job.Host),
				"indices":   indices,
			},
		}
	}

	resp := job.Response
	hits := make([]map[string]interface{}, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		hits = append(hits, map[string]interface{}{
			"index":  h.Index,
			"id":     h.ID,
			"score":  h.Score,
			"source": h.Source,
		})
	}
	results := map[string]interface{}{
		"total_hits": resp.Hits.Total.Value,
		"max_score":  resp.Hits.MaxScore,
		"took_ms":    resp.Took,
		"hits":       hits,
	}
	if len(resp.Aggregations) > 0 {
		results["aggregations"] = resp.Aggregations
	}

	return map[string]interface{}{
		"status":            "success",
		"timestamp":         ts,
		"execution_time_ms": time.Since(started).Milliseconds(),
		"selected_host":     string(job.Host),
		"host_url":          t.backend.HostURL(job.Host),
		"searched_indices":  indices,
		"search_results":    results,
	}
}

type federatedOutput struct {
	Status          string   `json:"status"`
	Timestamp       string   `json:"timestamp"`
	SearchPath      string   `json:"search_path"`
	SelectedHosts   []string `json:"selected_hosts"`
	SearchedIndices []string `json:"searched_indices"`
	*federation.AggregatedResult
}

func federatedResult(outcome *federation.Outcome, coverages []types.HostCoverage, indices []string) *federatedOutput {
	status := "success"
	switch {
	case !outcome.Result.Succeeded():
		status = "error"
	case len(outcome.Result.Errors) > 0:
		status = "partial"
	}
	hosts := federation.Hosts(coverages)
	names := make([]string, len(hosts))
	for i, h := range hosts {
		names[i] = string(h)
	}
	return &federatedOutput{
		Status:           status,
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		SearchPath:       outcome.Path,
		SelectedHosts:    names,
		SearchedIndices:  indices,
		AggregatedResult: outcome.Result,
	}
}
