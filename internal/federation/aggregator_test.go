package federation_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/esmcp/internal/config"
	"github.com/scrypster/esmcp/internal/esclient"
	"github.com/scrypster/esmcp/internal/federation"
	"github.com/scrypster/esmcp/pkg/types"
)

// fakeExecutor returns scripted results per host.
type fakeExecutor struct {
	rows     map[types.HostType][]map[string]interface{}
	errs     map[types.HostType]error
	delay    time.Duration
	calls    atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeExecutor) Execute(ctx context.Context, _ map[string]interface{}, _ []string, cov types.HostCoverage) (*federation.JobResult, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	res := &federation.JobResult{Host: cov.Host, ExecutionTime: 100 * time.Millisecond}
	if err := f.errs[cov.Host]; err != nil {
		res.Error = err.Error()
		res.Err = err
		return res, err
	}
	res.Success = true
	res.Rows = f.rows[cov.Host]
	return res, nil
}

func threeHosts() []types.HostCoverage {
	return []types.HostCoverage{
		{Host: types.HostTertiary},
		{Host: types.HostSecondary},
		{Host: types.HostPrimary},
	}
}

// ----------------------------------------------------------------------------
// FederatedSearch
// ----------------------------------------------------------------------------

func TestFederatedSearch_OneHostFails(t *testing.T) {
	exec := &fakeExecutor{
		rows: map[types.HostType][]map[string]interface{}{
			types.HostTertiary: {{"txnDate": "2024-01-02", "id": "t1"}},
			types.HostPrimary:  {{"txnDate": "2024-01-05", "id": "p1"}, {"id": "p2"}},
		},
		errs: map[types.HostType]error{types.HostSecondary: errors.New("boom")},
	}
	agg := federation.NewAggregator(exec, 5)

	res, jobs := agg.FederatedSearch(context.Background(), matchAll, []string{"idx"}, threeHosts())
	require.Len(t, jobs, 3)
	assert.EqualValues(t, 3, exec.calls.Load())

	assert.Equal(t, 3, res.Metadata.TotalRows)
	assert.Equal(t, 2, res.Metadata.SuccessfulHosts)
	assert.Equal(t, 3, res.Metadata.TotalHosts)
	assert.EqualValues(t, 300, res.Metadata.ExecutionTimeMs)
	assert.Equal(t, federation.SearchTypeMultiHost, res.Metadata.SearchType)
	assert.InDelta(t, 0.3, res.QueryResult.Runtime, 1e-9)
	assert.Equal(t, []string{"SECONDARY: boom"}, res.Errors)

	rows := res.QueryResult.Data.Rows
	require.Len(t, rows, 3)
	assert.Equal(t, "2024-01-05", rows[0]["txnDate"])
	assert.Equal(t, "PRIMARY", rows[0][federation.SourceHostField])
	assert.Equal(t, "2024-01-02", rows[1]["txnDate"])
	assert.Equal(t, "TERTIARY", rows[1][federation.SourceHostField])
	assert.NotContains(t, rows[2], "txnDate")
	assert.Equal(t, []string{"_source_host", "id", "txnDate"}, res.QueryResult.Data.Columns)

	require.Len(t, res.HostSummary, 3)
	assert.Equal(t, "TERTIARY", res.HostSummary[0].Host)
	assert.Equal(t, federation.HostStatusSuccess, res.HostSummary[0].Status)
	require.NotNil(t, res.HostSummary[0].RowCount)
	assert.Equal(t, 1, *res.HostSummary[0].RowCount)
	assert.Equal(t, federation.HostStatusError, res.HostSummary[1].Status)
	assert.Equal(t, "boom", res.HostSummary[1].Error)
	assert.Nil(t, res.HostSummary[1].RowCount)
}

func TestFederatedSearch_NoErrorsKeyWhenAllSucceed(t *testing.T) {
	agg := federation.NewAggregator(&fakeExecutor{}, 5)
	res, _ := agg.FederatedSearch(context.Background(), matchAll, nil, []types.HostCoverage{{Host: types.HostPrimary}})

	b, err := json.Marshal(res)
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &doc))

	assert.NotContains(t, doc, "errors")
	assert.Equal(t, federation.SearchTypeSingleHost, res.Metadata.SearchType)
	assert.Equal(t, []string{}, res.QueryResult.Data.Columns)
	assert.NotNil(t, res.QueryResult.Data.Rows)
}

func TestFederatedSearch_BoundsConcurrency(t *testing.T) {
	exec := &fakeExecutor{delay: 20 * time.Millisecond}
	agg := federation.NewAggregator(exec, 2)

	covs := make([]types.HostCoverage, 6)
	for i := range covs {
		covs[i] = types.HostCoverage{Host: types.HostPrimary}
	}
	res, _ := agg.FederatedSearch(context.Background(), matchAll, nil, covs)

	assert.Equal(t, 6, res.Metadata.TotalHosts)
	assert.EqualValues(t, 6, exec.calls.Load())
	assert.LessOrEqual(t, exec.peak.Load(), int32(2))
}

func TestCombine_SortsMissingDatesLast(t *testing.T) {
	res := federation.Combine([]*federation.JobResult{
		{Host: types.HostPrimary, Success: true, Rows: []map[string]interface{}{
			{"id": 1},
			{"id": 2, "txnDate": "2024-01-02"},
			{"id": 3, "txnDate": "2024-01-05"},
		}},
	})
	var order []interface{}
	for _, r := range res.QueryResult.Data.Rows {
		order = append(order, r["id"])
	}
	assert.Equal(t, []interface{}{3, 2, 1}, order)
}

func TestCombine_SortsEpochMillisNumerically(t *testing.T) {
	res := federation.Combine([]*federation.JobResult{
		{Host: types.HostSecondary, Success: true, Rows: []map[string]interface{}{
			{"id": "a", "txnDate": float64(1704067200000)},
			{"id": "b", "txnDate": float64(999)},
		}},
		{Host: types.HostPrimary, Success: true, Rows: []map[string]interface{}{
			{"id": "c", "txnDate": float64(1704067200001)},
			{"id": "d", "txnDate": json.Number("1704067300000")},
			{"id": "e"},
		}},
	})
	var order []interface{}
	for _, r := range res.QueryResult.Data.Rows {
		order = append(order, r["id"])
	}
	assert.Equal(t, []interface{}{"d", "c", "a", "b", "e"}, order)
}

// ----------------------------------------------------------------------------
// Service
// ----------------------------------------------------------------------------

func newDirect(t *testing.T, hits string) (*federation.DirectExecutor, *int32) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(hits))
	}))
	t.Cleanup(srv.Close)

	m := esclient.NewManager(config.ElasticsearchConfig{Hosts: map[types.HostType]config.HostConfig{
		types.HostPrimary:   {URL: srv.URL},
		types.HostSecondary: {URL: srv.URL},
		types.HostTertiary:  {URL: srv.URL},
	}})
	t.Cleanup(func() { _ = m.CloseAll() })
	return federation.NewDirectExecutor(m), &calls
}

const directHits = `{"took":3,"hits":{"total":{"value":1},"hits":[{"_index":"i","_id":"x","_score":1,"_source":{"txnDate":"2024-02-01"}}]}}`

func TestService_FallsBackWhenIntermediaryDown(t *testing.T) {
	down := &fakeExecutor{errs: map[types.HostType]error{
		types.HostTertiary:  federation.ErrIntermediaryUnavailable,
		types.HostSecondary: federation.ErrIntermediaryUnavailable,
		types.HostPrimary:   federation.ErrIntermediaryUnavailable,
	}}
	direct, calls := newDirect(t, directHits)
	svc := federation.NewService(down, direct, 5)

	out, err := svc.Search(context.Background(), matchAll, []string{"i"}, threeHosts())
	require.NoError(t, err)
	assert.Equal(t, federation.PathDirect, out.Path)
	assert.EqualValues(t, 3, atomic.LoadInt32(calls))
	assert.Equal(t, 3, out.Result.Metadata.SuccessfulHosts)

	row := out.Result.QueryResult.Data.Rows[0]
	assert.Equal(t, "x", row["_id"])
	assert.Equal(t, "i", row["_index"])
	require.NotNil(t, out.Jobs[0].Response)
	assert.EqualValues(t, 3, out.Jobs[0].Response.Took)
}

func TestService_NoFallbackForHostSpecificFailure(t *testing.T) {
	failing := &fakeExecutor{errs: map[types.HostType]error{
		types.HostPrimary: federation.ErrJobFailed,
	}}
	direct, calls := newDirect(t, directHits)
	svc := federation.NewService(failing, direct, 5)

	out, err := svc.Search(context.Background(), matchAll, nil, []types.HostCoverage{{Host: types.HostPrimary}})
	require.NoError(t, err)
	assert.Equal(t, federation.PathFederated, out.Path)
	assert.EqualValues(t, 0, atomic.LoadInt32(calls))
	assert.Equal(t, []string{"PRIMARY: " + federation.ErrJobFailed.Error()}, out.Result.Errors)
}

func TestService_NoFallbackWhenAnyHostSucceeds(t *testing.T) {
	partial := &fakeExecutor{errs: map[types.HostType]error{
		types.HostTertiary: federation.ErrIntermediaryUnavailable,
	}}
	direct, calls := newDirect(t, directHits)
	svc := federation.NewService(partial, direct, 5)

	out, err := svc.Search(context.Background(), matchAll, nil, threeHosts())
	require.NoError(t, err)
	assert.Equal(t, federation.PathFederated, out.Path)
	assert.EqualValues(t, 0, atomic.LoadInt32(calls))
}

func TestService_DirectWhenIntermediaryNotConfigured(t *testing.T) {
	direct, calls := newDirect(t, directHits)
	svc := federation.NewService(nil, direct, 5)

	out, err := svc.Search(context.Background(), matchAll, nil, []types.HostCoverage{{Host: types.HostPrimary}})
	require.NoError(t, err)
	assert.Equal(t, federation.PathDirect, out.Path)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestService_NoBackend(t *testing.T) {
	svc := federation.NewService(nil, nil, 5)
	_, err := svc.Search(context.Background(), matchAll, nil, []types.HostCoverage{{Host: types.HostPrimary}})
	assert.ErrorIs(t, err, federation.ErrNoBackend)
}

func TestService_NoHosts(t *testing.T) {
	svc := federation.NewService(&fakeExecutor{}, nil, 5)
	_, err := svc.Search(context.Background(), matchAll, nil, nil)
	assert.Error(t, err)
}

