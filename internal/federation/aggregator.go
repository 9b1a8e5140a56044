package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scrypster/esmcp/pkg/types"
)

// SourceHostField is stamped on every merged row.
const SourceHostField = "_source_host"

// SortField is the row timestamp merged results are ordered by, newest first.
const SortField = "txnDate"

// Search type labels.
const (
	SearchTypeMultiHost  = "multi_host"
	SearchTypeSingleHost = "single_host"
)

// Host status labels.
const (
	HostStatusSuccess = "success"
	HostStatusError   = "error"
)

// AggregatedResult is the merged outcome of a federated search.
type AggregatedResult struct {
	QueryResult QueryResult   `json:"query_result"`
	HostSummary []HostSummary `json:"host_summary"`
	Metadata    Metadata      `json:"metadata"`
	Errors      []string      `json:"errors,omitempty"`
}

// QueryResult carries the merged rows. Runtime is in seconds.
type QueryResult struct {
	Data    ResultData `json:"data"`
	Runtime float64    `json:"runtime"`
}

// ResultData is the merged row set.
type ResultData struct {
	Rows    []map[string]interface{} `json:"rows"`
	Columns []string                 `json:"columns"`
}

// HostSummary reports one backend's outcome.
type HostSummary struct {
	Host            string `json:"host"`
	ExecutionTimeMs int64  `json:"executionTimeMs"`
	Status          string `json:"status"`
	RowCount        *int   `json:"rowCount,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Metadata summarises the federated search.
type Metadata struct {
	TotalRows       int    `json:"total_rows"`
	SuccessfulHosts int    `json:"successful_hosts"`
	TotalHosts      int    `json:"total_hosts"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
	SearchType      string `json:"search_type"`
}

// Succeeded reports whether at least one backend answered.
func (r *AggregatedResult) Succeeded() bool {
	return r.Metadata.SuccessfulHosts > 0
}

// Aggregator fans a search out to several backends and merges the results.
type Aggregator struct {
	executor      JobExecutor
	maxConcurrent int
}

// NewAggregator creates an aggregator that runs at most maxConcurrent
// backend searches at a time.
func NewAggregator(executor JobExecutor, maxConcurrent int) *Aggregator {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	return &Aggregator{executor: executor, maxConcurrent: maxConcurrent}
}

// FederatedSearch runs query on every coverage and merges the outcomes.
// A failing backend is recorded and never aborts the others. The per-backend
// results are returned in coverage order.
func (a *Aggregator) FederatedSearch(ctx context.Context, query map[string]interface{}, indices []string, coverages []types.HostCoverage) (*AggregatedResult, []*JobResult) {
	log.Printf("federation: executing search on %d hosts with %d indices", len(coverages), len(indices))

	results := make([]*JobResult, len(coverages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.maxConcurrent)
	for i, cov := range coverages {
		g.Go(func() error {
			started := time.Now()
			res, err := a.executor.Execute(gctx, query, indices, cov)
			if res == nil {
				res = &JobResult{Host: cov.Host, ExecutionTime: time.Since(started)}
			}
			if err != nil {
				res.Success = false
				res.Err = err
				if res.Error == "" {
					res.Error = err.Error()
				}
			}
			results[i] = res
			// Per-host failures are recorded, not propagated.
			return nil
		})
	}
	_ = g.Wait()

	return Combine(results), results
}

// Combine merges per-backend results into one envelope. Rows are stamped
// with their backend and sorted by SortField descending; rows without it
// sort last.
func Combine(results []*JobResult) *AggregatedResult {
	out := &AggregatedResult{
		HostSummary: make([]HostSummary, 0, len(results)),
	}
	rows := make([]map[string]interface{}, 0)
	var total time.Duration

	for _, res := range results {
		total += res.ExecutionTime
		summary := HostSummary{
			Host:            string(res.Host),
			ExecutionTimeMs: res.ExecutionTime.Milliseconds(),
		}

		if !res.Success {
			summary.Status = HostStatusError
			summary.Error = res.Error
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %s", res.Host, res.Error))
			out.HostSummary = append(out.HostSummary, summary)
			continue
		}

		for _, row := range res.Rows {
			stamped := make(map[string]interface{}, len(row)+1)
			for k, v := range row {
				stamped[k] = v
			}
			stamped[SourceHostField] = string(res.Host)
			rows = append(rows, stamped)
		}
		count := len(res.Rows)
		summary.Status = HostStatusSuccess
		summary.RowCount = &count
		out.Metadata.SuccessfulHosts++
		out.HostSummary = append(out.HostSummary, summary)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return newerThan(sortKeyOf(rows[i]), sortKeyOf(rows[j]))
	})

	out.QueryResult = QueryResult{
		Data: ResultData{
			Rows:    rows,
			Columns: columnNames(rows),
		},
		Runtime: float64(total.Milliseconds()) / 1000.0,
	}
	out.Metadata.TotalRows = len(rows)
	out.Metadata.TotalHosts = len(results)
	out.Metadata.ExecutionTimeMs = total.Milliseconds()
	out.Metadata.SearchType = SearchTypeSingleHost
	if len(results) > 1 {
		out.Metadata.SearchType = SearchTypeMultiHost
	}
	return out
}

// sortKey is a row's SortField value. Numeric timestamps (epoch millis)
// compare as numbers; everything else compares as text.
type sortKey struct {
	present bool
	numeric bool
	num     float64
	text    string
}

func sortKeyOf(row map[string]interface{}) sortKey {
	v, ok := row[SortField]
	if !ok || v == nil {
		return sortKey{}
	}
	switch x := v.(type) {
	case string:
		return sortKey{present: true, text: x}
	case float64:
		return numericKey(x)
	case float32:
		return numericKey(float64(x))
	case int:
		return numericKey(float64(x))
	case int64:
		return numericKey(float64(x))
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return numericKey(f)
		}
		return sortKey{present: true, text: x.String()}
	default:
		return sortKey{present: true, text: fmt.Sprint(x)}
	}
}

func numericKey(f float64) sortKey {
	return sortKey{present: true, numeric: true, num: f, text: strconv.FormatFloat(f, 'f', -1, 64)}
}

// newerThan orders a before b when a is the more recent key. Missing keys
// sort last.
func newerThan(a, b sortKey) bool {
	switch {
	case !a.present:
		return false
	case !b.present:
		return true
	case a.numeric && b.numeric:
		return a.num > b.num
	default:
		return a.text > b.text
	}
}

// columnNames returns the first row's keys in sorted order.
func columnNames(rows []map[string]interface{}) []string {
	if len(rows) == 0 {
		return []string{}
	}
	cols := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}
