package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/scrypster/esmcp/internal/config"
	"github.com/scrypster/esmcp/internal/federation"
	"github.com/scrypster/esmcp/pkg/types"
)

// HostSearchTool is es_host_search: it reports which tier serves a date
// range, without running a search.
type HostSearchTool struct {
	selector *federation.Selector
	hosts    map[types.HostType]config.HostConfig
}

// NewHostSearchTool creates the es_host_search tool. hosts supplies the
// connection details echoed in the result and may be nil.
func NewHostSearchTool(selector *federation.Selector, hosts map[types.HostType]config.HostConfig) *HostSearchTool {
	return &HostSearchTool{selector: selector, hosts: hosts}
}

func (t *HostSearchTool) Name() string { return NameHostSearch }

func (t *HostSearchTool) Description() string {
	return "Select the appropriate Elasticsearch host based on a date range"
}

func (t *HostSearchTool) RequiredParameters() []string { return nil }

func (t *HostSearchTool) OptionalParameters() []string {
	return []string{ArgStartDate, ArgEndDate}
}

// Execute picks the tier for the range. When the range spans several tiers
// the newest is reported; selection failures come back as an error body.
func (t *HostSearchTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	started := time.Now()
	startStr, _ := args[ArgStartDate].(string)
	endStr, _ := args[ArgEndDate].(string)

	start, end, err := t.selector.ParseRange(startStr, endStr)
	if err == nil {
		var coverages []types.HostCoverage
		coverages, err = t.selector.Select(start, end)
		if err == nil && len(coverages) == 0 {
			err = fmt.Errorf("no host covers the requested dates")
		}
		if err == nil {
			return t.result(start, end, coverages, started), nil
		}
	}

	return map[string]interface{}{
		"status":    "error",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"error": map[string]interface{}{
			"code":    "HOST_SELECTION_FAILED",
			"message": "Failed to select Elasticsearch host",
			"details": err.Error(),
			"input": map[string]interface{}{
				"start_date": nullable(startStr),
				"end_date":   nullable(endStr),
			},
		},
	}, nil
}

func (t *HostSearchTool) result(start, end *time.Time, coverages []types.HostCoverage, started time.Time) map[string]interface{} {
	selected := coverages[len(coverages)-1].Host
	reason := t.reason(start, end, coverages)

	hostConfig := map[string]interface{}{"name": string(selected)}
	var hostURL interface{}
	if hc, ok := t.hosts[selected]; ok {
		if hc.Name != "" {
			hostConfig["name"] = hc.Name
		}
		hostConfig["url"] = hc.URL
		hostConfig["timeout"] = hc.Timeout.Milliseconds()
		hostURL = hc.URL
	}

	ranges := make(map[string]interface{}, len(types.AllHostTypes))
	for _, w := range t.selector.Windows() {
		ranges[string(w.Host)] = map[string]interface{}{
			"start":       w.Start.Format(time.RFC3339),
			"end":         w.End.Format(time.RFC3339),
			"description": w.Description,
		}
	}

	coverage := make([]map[string]interface{}, 0, len(coverages))
	for _, c := range coverages {
		coverage = append(coverage, map[string]interface{}{
			"host":       string(c.Host),
			"start_date": c.Start.Format(time.RFC3339),
			"end_date":   c.End.Format(time.RFC3339),
		})
	}

	return map[string]interface{}{
		"status":            "success",
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
		"execution_time_ms": time.Since(started).Milliseconds(),
		"selected_host":     string(selected),
		"host_description":  selected.Description(),
		"selection_reason":  reason,
		"host_url":          hostURL,
		"host_config":       hostConfig,
		"input_date_range": map[string]interface{}{
			"start_date": formatOptional(start),
			"end_date":   formatOptional(end),
		},
		"host_date_ranges": ranges,
		"coverages":        coverage,
	}
}

func (t *HostSearchTool) reason(start, end *time.Time, coverages []types.HostCoverage) string {
	if start == nil && end == nil {
		return "No date range provided, defaulting to PRIMARY host"
	}
	if len(coverages) > 1 {
		return fmt.Sprintf("Date range spans multiple hosts, selected %s for most recent data coverage",
			coverages[len(coverages)-1].Host)
	}

	host := coverages[0].Host
	windows := t.selector.Windows()
	oldest, newest := windows[0], windows[len(windows)-1]
	if start != nil && start.After(newest.End) {
		return fmt.Sprintf("Date range is in the future, selected %s as default", host)
	}
	if end != nil && end.Before(oldest.Start) {
		return fmt.Sprintf("Date range is before all host coverage, selected %s for historical data", host)
	}
	return fmt.Sprintf("Date range falls entirely within %s host coverage", host)
}

func formatOptional(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
