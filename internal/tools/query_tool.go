package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/scrypster/esmcp/internal/federation"
	"github.com/scrypster/esmcp/internal/llm"
)

// es_query argument keys.
const (
	ArgPrompt              = "prompt"
	ArgSchemaContext       = "schemaContext"
	ArgMaxResults          = "maxResults"
	ArgIncludeAggregations = "includeAggregations"
	ArgSortBy              = "sortBy"
)

// Query building defaults.
const (
	DefaultQuerySize = 5
	DefaultSortBy    = "txnDate:desc"
	dateField        = "txnDate"
)

// Date placeholders the model may emit instead of concrete dates.
const (
	placeholderStartOfMonth = "START_OF_MONTH"
	placeholderNowDate      = "NOW_DATE"
)

// invalidTermValues are placeholder values the model copies from the schema
// instead of real identifiers.
var invalidTermValues = map[string]bool{
	"userid":     true,
	"customerid": true,
	"entityid":   true,
}

// QueryTool is es_query: it asks a language model for a search source
// matching a natural-language prompt and repairs the common mistakes in
// what comes back.
type QueryTool struct {
	gen llm.TextGenerator
	now func() time.Time
}

// NewQueryTool creates the es_query tool. now supplies the clock and
// location dates are resolved in; nil means time.Now.
func NewQueryTool(gen llm.TextGenerator, now func() time.Time) *QueryTool {
	if now == nil {
		now = time.Now
	}
	return &QueryTool{gen: gen, now: now}
}

func (t *QueryTool) Name() string { return NameQuery }

func (t *QueryTool) Description() string {
	return "Build an Elasticsearch query from a natural language prompt using the schema from es_schema"
}

func (t *QueryTool) RequiredParameters() []string {
	return []string{ArgPrompt, ArgSchemaContext}
}

func (t *QueryTool) OptionalParameters() []string {
	return []string{ArgMaxResults, ArgIncludeAggregations, ArgSortBy}
}

// Execute returns the generated search source, ready to pass to es_search
// as searchSourceBuilder. Failures come back as an error body with a hint.
func (t *QueryTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	doc, err := t.build(ctx, args)
	if err != nil {
		log.Printf("Warning: tools: es_query failed: %v", err)
		return map[string]interface{}{
			"error":   "Failed to build Elasticsearch query",
			"message": err.Error(),
			"status":  "error",
			"hint":    "Make sure to call es_schema tool first and pass the result as schemaContext parameter",
		}, nil
	}
	return doc, nil
}

func (t *QueryTool) build(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	prompt, _ := args[ArgPrompt].(string)
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, errors.New("prompt cannot be empty")
	}
	schema, err := schemaText(args[ArgSchemaContext])
	if err != nil {
		return nil, err
	}
	if t.gen == nil {
		return nil, errors.New("no language model configured")
	}

	text, err := t.gen.Complete(ctx, llm.QueryPrompt(prompt, schema))
	if err != nil {
		return nil, fmt.Errorf("query generation failed: %w", err)
	}
	doc, err := llm.ParseQueryResponse(text)
	if err != nil {
		return nil, err
	}

	cleanInvalidFilters(doc)
	applySize(doc, args[ArgMaxResults])
	applySort(doc, args[ArgSortBy])
	if truthy(args[ArgIncludeAggregations]) {
		applyAggregations(doc)
	}
	t.processDateFields(doc)
	return doc, nil
}

// schemaText accepts the schema either as the JSON text or as the decoded
// es_schema result.
func schemaText(v interface{}) (string, error) {
	const missing = "schema context is required - call es_schema tool first"
	switch s := v.(type) {
	case nil:
		return "", errors.New(missing)
	case string:
		if strings.TrimSpace(s) == "" {
			return "", errors.New(missing)
		}
		return s, nil
	default:
		b, err := json.Marshal(s)
		if err != nil {
			return "", fmt.Errorf("invalid schema context: %w", err)
		}
		return string(b), nil
	}
}

// ----------------------------------------------------------------------------
// Post-processing
// ----------------------------------------------------------------------------

// cleanInvalidFilters drops term filters that carry schema placeholders and
// must clauses that are really a misplaced size.
func cleanInvalidFilters(doc map[string]interface{}) {
	boolQuery := boolOf(doc)
	if boolQuery == nil {
		return
	}

	if filters, ok := boolQuery["filter"]; ok {
		kept := make([]interface{}, 0)
		for _, item := range clauseItems(filters) {
			if isPlaceholderTerm(item) {
				log.Printf("tools: dropped placeholder filter %v", item)
				continue
			}
			kept = append(kept, item)
		}
		boolQuery["filter"] = kept
	}

	if must, ok := boolQuery["must"]; ok {
		kept := make([]interface{}, 0)
		for _, item := range clauseItems(must) {
			if m, ok := item.(map[string]interface{}); ok {
				if _, isSize := m["size"]; isSize {
					continue
				}
			}
			kept = append(kept, item)
		}
		if len(kept) == 0 {
			delete(boolQuery, "must")
		} else {
			boolQuery["must"] = kept
		}
	}
}

func isPlaceholderTerm(item interface{}) bool {
	m, ok := item.(map[string]interface{})
	if !ok {
		return false
	}
	term, ok := m["term"].(map[string]interface{})
	if !ok {
		return false
	}
	for _, v := range term {
		if inner, ok := v.(map[string]interface{}); ok {
			v = inner["value"]
		}
		s := strings.ToLower(strings.TrimSpace(fmt.Sprint(v)))
		if strings.Contains(s, "user id") || invalidTermValues[s] {
			return true
		}
	}
	return false
}

func applySize(doc map[string]interface{}, maxResults interface{}) {
	if _, ok := doc["size"]; ok {
		return
	}
	size := DefaultQuerySize
	if n, ok := toInt(maxResults); ok && n > 0 {
		size = n
	}
	doc["size"] = size
}

// applySort adds a sort from sortBy ("field:order") when the model gave
// none, and rewrites {"dir": x} orders into the plain form.
func applySort(doc map[string]interface{}, sortBy interface{}) {
	existing, ok := doc["sort"]
	if !ok {
		spec, _ := sortBy.(string)
		if strings.TrimSpace(spec) == "" {
			spec = DefaultSortBy
		}
		field, order, _ := strings.Cut(strings.TrimSpace(spec), ":")
		order = strings.ToLower(strings.TrimSpace(order))
		if order != "asc" {
			order = "desc"
		}
		doc["sort"] = []interface{}{map[string]interface{}{strings.TrimSpace(field): order}}
		return
	}

	for _, item := range clauseItems(existing) {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		for field, v := range m {
			if dir, ok := v.(map[string]interface{}); ok {
				if d, ok := dir["dir"]; ok {
					m[field] = d
				}
			}
		}
	}
}

func applyAggregations(doc map[string]interface{}) {
	if _, ok := doc["aggs"]; ok {
		return
	}
	if _, ok := doc["aggregations"]; ok {
		return
	}
	doc["aggs"] = map[string]interface{}{
		"daily_transaction_counts": map[string]interface{}{
			"date_histogram": map[string]interface{}{
				"field":             dateField,
				"calendar_interval": "day",
			},
		},
		"status_breakdown": map[string]interface{}{
			"terms": map[string]interface{}{"field": "status", "size": 10},
		},
		"amount_statistics": map[string]interface{}{
			"stats": map[string]interface{}{"field": "amount"},
		},
	}
}

// processDateFields turns the txnDate range bounds into epoch millis: gte
// at the start of its day, lte at the end of its day. Unparseable bounds
// become the current time.
func (t *QueryTool) processDateFields(doc map[string]interface{}) {
	boolQuery := boolOf(doc)
	if boolQuery == nil {
		return
	}
	now := t.now()
	for _, item := range clauseItems(boolQuery["filter"]) {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		rng, ok := m["range"].(map[string]interface{})
		if !ok {
			continue
		}
		bounds, ok := rng[dateField].(map[string]interface{})
		if !ok {
			continue
		}
		if v, ok := bounds["gte"]; ok {
			bounds["gte"] = t.epochMillis(v, now, false)
		}
		if v, ok := bounds["lte"]; ok {
			bounds["lte"] = t.epochMillis(v, now, true)
		}
		delete(bounds, "format")
	}
}

func (t *QueryTool) epochMillis(v interface{}, now time.Time, endOfDay bool) interface{} {
	s, ok := v.(string)
	if !ok {
		return v
	}
	var d time.Time
	switch strings.TrimSpace(s) {
	case placeholderStartOfMonth:
		d = federation.StartOfMonth(now)
	case placeholderNowDate:
		d = now
	default:
		parsed, _, err := federation.ParseDate(s, now.Location())
		if err != nil {
			log.Printf("Warning: tools: unparseable date %q in generated query, using now", s)
			return now.UnixMilli()
		}
		d = parsed
	}
	if endOfDay {
		return federation.EndOfDay(d).UnixMilli()
	}
	return federation.StartOfDay(d).UnixMilli()
}

func boolOf(doc map[string]interface{}) map[string]interface{} {
	query, ok := doc["query"].(map[string]interface{})
	if !ok {
		return nil
	}
	b, _ := query["bool"].(map[string]interface{})
	return b
}

func truthy(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(strings.TrimSpace(b), "true")
	}
	return false
}
