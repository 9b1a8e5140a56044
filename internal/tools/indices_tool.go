package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/scrypster/esmcp/internal/federation"
)

// IndicesTool is es_indices: it lists the monthly index names covering a
// date range.
type IndicesTool struct {
	selector *federation.Selector
	pattern  string
}

// NewIndicesTool creates the es_indices tool. An empty pattern uses
// federation.DefaultIndexPattern.
func NewIndicesTool(selector *federation.Selector, pattern string) *IndicesTool {
	if pattern == "" {
		pattern = federation.DefaultIndexPattern
	}
	return &IndicesTool{selector: selector, pattern: pattern}
}

func (t *IndicesTool) Name() string { return NameIndices }

func (t *IndicesTool) Description() string {
	return "Generate monthly Elasticsearch index names for a date range"
}

func (t *IndicesTool) RequiredParameters() []string { return nil }

func (t *IndicesTool) OptionalParameters() []string {
	return []string{ArgStartDate, ArgEndDate}
}

// Execute lists one index per month from start to end inclusive. A missing
// start defaults to the first day of the current month, a missing end to now.
func (t *IndicesTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	startStr, _ := args[ArgStartDate].(string)
	endStr, _ := args[ArgEndDate].(string)

	start, end, err := t.selector.ParseRange(startStr, endStr)
	if err != nil {
		return nil, err
	}
	now := t.selector.Now()
	from, to := federation.StartOfMonth(now), now
	if start != nil {
		from = *start
	}
	if end != nil {
		to = *end
	}

	indices, err := federation.MonthlyIndices(t.pattern, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to generate indices: %w", err)
	}

	return map[string]interface{}{
		"status":     "success",
		"start_date": from.Format(time.RFC3339),
		"end_date":   to.Format(time.RFC3339),
		"pattern":    t.pattern,
		"indices":    indices,
		"count":      len(indices),
	}, nil
}
