package federation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/scrypster/esmcp/internal/esclient"
	"github.com/scrypster/esmcp/pkg/types"
)

// Search paths.
const (
	PathFederated = "federated"
	PathDirect    = "direct"
)

// ErrNoBackend is returned when neither search path is available.
var ErrNoBackend = errors.New("no search backend configured")

// DirectExecutor searches the backend clusters without the intermediary.
type DirectExecutor struct {
	clients *esclient.Manager
}

// NewDirectExecutor creates an executor over the cached cluster clients.
func NewDirectExecutor(clients *esclient.Manager) *DirectExecutor {
	return &DirectExecutor{clients: clients}
}

// Execute runs query on cov's cluster. Each hit becomes one row: its source
// plus _index and _id.
func (d *DirectExecutor) Execute(ctx context.Context, query map[string]interface{}, indices []string, cov types.HostCoverage) (*JobResult, error) {
	started := time.Now()
	result := &JobResult{Host: cov.Host}

	fail := func(err error) (*JobResult, error) {
		result.ExecutionTime = time.Since(started)
		result.Error = err.Error()
		result.Err = err
		return result, err
	}

	client, err := d.clients.Client(cov.Host)
	if err != nil {
		return fail(err)
	}
	resp, err := client.Search(ctx, indices, query)
	if err != nil {
		return fail(err)
	}

	rows := make([]map[string]interface{}, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		row := make(map[string]interface{}, len(hit.Source)+2)
		for k, v := range hit.Source {
			row[k] = v
		}
		row["_index"] = hit.Index
		row["_id"] = hit.ID
		rows = append(rows, row)
	}

	result.ExecutionTime = time.Since(started)
	result.Success = true
	result.Rows = rows
	result.Response = resp
	return result, nil
}

// HostURL returns the configured cluster URL of host.
func (d *DirectExecutor) HostURL(host types.HostType) string {
	cfg, _ := d.clients.HostConfig(host)
	return cfg.URL
}

// Outcome is the result of Service.Search.
type Outcome struct {
	Path   string
	Result *AggregatedResult
	Jobs   []*JobResult
}

// Service runs searches through the intermediary and falls back to the
// direct cluster path once when the intermediary itself is unavailable.
type Service struct {
	jobs   *Aggregator
	direct *Aggregator
	urls   *DirectExecutor
}

// NewService creates a search service. jobs may be nil when the
// intermediary is not configured; direct may be nil to disable the
// fallback.
func NewService(jobs JobExecutor, direct *DirectExecutor, maxConcurrent int) *Service {
	s := &Service{urls: direct}
	if jobs != nil {
		s.jobs = NewAggregator(jobs, maxConcurrent)
	}
	if direct != nil {
		s.direct = NewAggregator(direct, maxConcurrent)
	}
	return s
}

// HasDirect reports whether the direct path is available.
func (s *Service) HasDirect() bool {
	return s.direct != nil
}

// HostURL returns the direct cluster URL of host, or "".
func (s *Service) HostURL(host types.HostType) string {
	if s.urls == nil {
		return ""
	}
	return s.urls.HostURL(host)
}

// Search runs query over coverages.
func (s *Service) Search(ctx context.Context, query map[string]interface{}, indices []string, coverages []types.HostCoverage) (*Outcome, error) {
	if len(coverages) == 0 {
		return nil, errors.New("no hosts selected")
	}

	if s.jobs == nil {
		if s.direct == nil {
			return nil, ErrNoBackend
		}
		log.Printf("federation: intermediary not configured, using direct path for %d hosts", len(coverages))
		return s.run(ctx, s.direct, PathDirect, query, indices, coverages), nil
	}

	out := s.run(ctx, s.jobs, PathFederated, query, indices, coverages)
	if out.Result.Succeeded() || s.direct == nil || !intermediaryDown(out.Jobs) {
		return out, nil
	}

	log.Printf("Warning: federation: intermediary unavailable for all %d hosts, retrying through direct path", len(coverages))
	return s.run(ctx, s.direct, PathDirect, query, indices, coverages), nil
}

func (s *Service) run(ctx context.Context, agg *Aggregator, path string, query map[string]interface{}, indices []string, coverages []types.HostCoverage) *Outcome {
	result, jobs := agg.FederatedSearch(ctx, query, indices, coverages)
	return &Outcome{Path: path, Result: result, Jobs: jobs}
}

// intermediaryDown reports whether every backend failed because the
// intermediary could not be reached.
func intermediaryDown(jobs []*JobResult) bool {
	if len(jobs) == 0 {
		return false
	}
	for _, j := range jobs {
		if j.Success || !errors.Is(j.Err, ErrIntermediaryUnavailable) {
			return false
		}
	}
	return true
}

// Describe summarises an outcome for logs.
func (o *Outcome) Describe() string {
	return fmt.Sprintf("%s search: %d/%d hosts, %d rows",
		o.Path, o.Result.Metadata.SuccessfulHosts, o.Result.Metadata.TotalHosts, o.Result.Metadata.TotalRows)
}
