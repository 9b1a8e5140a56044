package mcpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PrimaryHost is the host es_search falls back to when no date range narrows
// the search.
const PrimaryHost = "PRIMARY"

// dateField is the field es_query pins date ranges to.
const dateField = "txnDate"

// SearchOutcome is the result of a prompt-driven Search along with the
// intermediate decisions that led to it.
type SearchOutcome struct {
	Prompt       string
	Query        json.RawMessage
	StartDate    string
	EndDate      string
	SelectedHost string
	Indices      []string
	Result       *CallResult
	Elapsed      time.Duration
}

// Search answers a natural-language prompt by chaining the server's tools:
// es_schema, then es_query, then either the date-routed path (es_host_search,
// es_indices, es_search over the range) or a plain es_search on the primary
// host when the generated query carries no txnDate range.
func (c *Client) Search(ctx context.Context, prompt string) (*SearchOutcome, error) {
	began := time.Now()
	out := &SearchOutcome{Prompt: prompt}

	schema, err := c.GetSchema(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}

	generated, err := c.CallTool(ctx, "es_query", map[string]interface{}{
		"prompt":        prompt,
		"schemaContext": schema.Data(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	query, err := decodeQuery(generated.Data())
	if err != nil {
		return nil, err
	}
	out.Query = generated.Data()
	out.StartDate, out.EndDate = dateRange(query)

	if out.StartDate == "" && out.EndDate == "" {
		out.SelectedHost = PrimaryHost
		out.Result, err = c.SearchElasticsearch(ctx, query, PrimaryHost, nil)
		if err != nil {
			return nil, fmt.Errorf("search failed: %w", err)
		}
		out.Elapsed = time.Since(began)
		return out, nil
	}

	hosts, err := c.SearchHosts(ctx, out.StartDate, out.EndDate)
	if err != nil {
		return nil, fmt.Errorf("host selection failed: %w", err)
	}
	var hostBody struct {
		SelectedHost string `json:"selected_host"`
	}
	if data := hosts.Data(); data != nil {
		if err := json.Unmarshal(data, &hostBody); err != nil {
			return nil, fmt.Errorf("failed to decode es_host_search result: %w", err)
		}
	}
	out.SelectedHost = hostBody.SelectedHost

	idx, err := c.CallTool(ctx, "es_indices", map[string]interface{}{
		"startDate": out.StartDate,
		"endDate":   out.EndDate,
	})
	if err != nil {
		return nil, fmt.Errorf("index resolution failed: %w", err)
	}
	var idxBody struct {
		Indices []string `json:"indices"`
	}
	if data := idx.Data(); data != nil {
		if err := json.Unmarshal(data, &idxBody); err != nil {
			return nil, fmt.Errorf("failed to decode es_indices result: %w", err)
		}
	}
	out.Indices = idxBody.Indices

	out.Result, err = c.SearchWithDates(ctx, query, out.StartDate, out.EndDate, out.Indices)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	out.Elapsed = time.Since(began)
	return out, nil
}

func decodeQuery(data json.RawMessage) (map[string]interface{}, error) {
	if data == nil {
		return nil, errors.New("es_query returned no query document")
	}
	var query map[string]interface{}
	if err := json.Unmarshal(data, &query); err != nil {
		return nil, fmt.Errorf("failed to decode es_query result: %w", err)
	}
	if status, _ := query["status"].(string); status == "error" {
		msg, _ := query["message"].(string)
		return nil, fmt.Errorf("es_query failed: %s", msg)
	}
	return query, nil
}

// dateRange finds the txnDate range filter in a generated query and renders
// its bounds as yyyy-MM-dd in local time. Missing bounds come back empty.
func dateRange(query map[string]interface{}) (start, end string) {
	rng := findRange(query)
	if rng == nil {
		return "", ""
	}
	return dateOf(rng["gte"]), dateOf(rng["lte"])
}

func findRange(node interface{}) map[string]interface{} {
	switch n := node.(type) {
	case map[string]interface{}:
		if r, ok := n["range"].(map[string]interface{}); ok {
			if field, ok := r[dateField].(map[string]interface{}); ok {
				return field
			}
		}
		for _, v := range n {
			if found := findRange(v); found != nil {
				return found
			}
		}
	case []interface{}:
		for _, v := range n {
			if found := findRange(v); found != nil {
				return found
			}
		}
	}
	return nil
}

func dateOf(v interface{}) string {
	switch b := v.(type) {
	case float64:
		return time.UnixMilli(int64(b)).Format("2006-01-02")
	case string:
		if len(b) >= 10 {
			if d, err := time.Parse("2006-01-02", b[:10]); err == nil {
				return d.Format("2006-01-02")
			}
		}
	}
	return ""
}
