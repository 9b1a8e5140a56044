package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
)

// fallbackSize is the page size used when a search source string cannot be
// parsed at all.
const fallbackSize = 100

// SortField is one sort clause.
type SortField struct {
	Field string `json:"field"`
	Order string `json:"order"` // asc or desc
}

// SearchQuery is the canonical in-memory search source every input form is
// normalised into. Query holds a normalised query DSL node.
type SearchQuery struct {
	Query  map[string]interface{}
	Size   *int
	From   *int
	Sort   []SortField
	Aggs   map[string]interface{}
	Source interface{}
}

// MatchAll returns a query node matching every document.
func MatchAll() map[string]interface{} {
	return map[string]interface{}{"match_all": map[string]interface{}{}}
}

// NewSearchQuery returns a match_all query with no paging set.
func NewSearchQuery() *SearchQuery {
	return &SearchQuery{Query: MatchAll()}
}

// WithSize sets the page size.
func (q *SearchQuery) WithSize(n int) *SearchQuery {
	q.Size = &n
	return q
}

// WithFrom sets the paging offset.
func (q *SearchQuery) WithFrom(n int) *SearchQuery {
	q.From = &n
	return q
}

// AddSort appends a sort clause. Any order other than desc is ascending.
func (q *SearchQuery) AddSort(field, order string) *SearchQuery {
	q.Sort = append(q.Sort, SortField{Field: field, Order: normaliseOrder(order)})
	return q
}

// Body renders the query as an Elasticsearch search request body. Only keys
// that are set are present.
func (q *SearchQuery) Body() map[string]interface{} {
	body := map[string]interface{}{}
	if q.Query != nil {
		body["query"] = q.Query
	} else {
		body["query"] = MatchAll()
	}
	if q.Size != nil {
		body["size"] = *q.Size
	}
	if q.From != nil {
		body["from"] = *q.From
	}
	if len(q.Sort) > 0 {
		sorts := make([]interface{}, 0, len(q.Sort))
		for _, s := range q.Sort {
			sorts = append(sorts, map[string]interface{}{
				s.Field: map[string]interface{}{"order": s.Order},
			})
		}
		body["sort"] = sorts
	}
	if len(q.Aggs) > 0 {
		body["aggs"] = q.Aggs
	}
	if q.Source != nil {
		body["_source"] = q.Source
	}
	return body
}

// MarshalJSON renders the search request body.
func (q *SearchQuery) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.Body())
}

// ParseSearchQuery parses a JSON search source. Unrecognised query shapes
// fall back to match_all; a document that is not valid JSON at all yields
// match_all with a page size of 100 rather than an error.
func ParseSearchQuery(raw string) *SearchQuery {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var root map[string]interface{}
	if err := dec.Decode(&root); err != nil || root == nil {
		log.Printf("tools: unparseable search source, falling back to match_all: %v", err)
		return NewSearchQuery().WithSize(fallbackSize)
	}
	return SearchQueryFromMap(root)
}

// SearchQueryFromMap builds a SearchQuery from a decoded search source.
func SearchQueryFromMap(m map[string]interface{}) *SearchQuery {
	q := &SearchQuery{}

	if node, ok := m["query"]; ok {
		q.Query = parseQueryNode(node)
	} else {
		q.Query = MatchAll()
	}

	if n, ok := toInt(m["size"]); ok {
		q.Size = &n
	}
	if n, ok := toInt(m["from"]); ok {
		q.From = &n
	}
	q.Sort = parseSort(m["sort"])

	if aggs, ok := m["aggs"].(map[string]interface{}); ok {
		q.Aggs = aggs
	} else if aggs, ok := m["aggregations"].(map[string]interface{}); ok {
		q.Aggs = aggs
	}
	if src, ok := m["_source"]; ok {
		q.Source = src
	}
	return q
}

// parseSort accepts an array of {field: {order}} or {field: "desc"} items,
// a single such object, or a bare field name.
func parseSort(v interface{}) []SortField {
	var out []SortField
	add := func(item interface{}) {
		switch s := item.(type) {
		case string:
			if s != "" {
				out = append(out, SortField{Field: s, Order: "asc"})
			}
		case map[string]interface{}:
			for _, field := range sortedKeys(s) {
				order := "asc"
				switch o := s[field].(type) {
				case string:
					order = normaliseOrder(o)
				case map[string]interface{}:
					if os, ok := o["order"].(string); ok {
						order = normaliseOrder(os)
					}
				}
				out = append(out, SortField{Field: field, Order: order})
			}
		}
	}

	switch s := v.(type) {
	case []interface{}:
		for _, item := range s {
			add(item)
		}
	case nil:
	default:
		add(s)
	}
	return out
}

// parseQueryNode normalises one query DSL node. Recognised node types are
// match_all, term, terms, match, match_phrase, multi_match, bool and range;
// anything else becomes match_all.
func parseQueryNode(v interface{}) map[string]interface{} {
	node, ok := v.(map[string]interface{})
	if !ok || len(node) == 0 {
		log.Printf("tools: query node %v is not an object, using match_all", v)
		return MatchAll()
	}

	if _, ok := node["match_all"]; ok {
		return MatchAll()
	}

	if term, ok := node["term"].(map[string]interface{}); ok {
		if field, value, ok := firstField(term); ok {
			return map[string]interface{}{"term": map[string]interface{}{field: scalar(value)}}
		}
	}

	if terms, ok := node["terms"].(map[string]interface{}); ok {
		if field, value, ok := firstField(terms); ok {
			if list, ok := value.([]interface{}); ok {
				values := make([]interface{}, 0, len(list))
				for _, item := range list {
					values = append(values, scalar(item))
				}
				return map[string]interface{}{"terms": map[string]interface{}{field: values}}
			}
		}
	}

	for _, kind := range []string{"match", "match_phrase"} {
		if match, ok := node[kind].(map[string]interface{}); ok {
			if field, value, ok := firstField(match); ok {
				return map[string]interface{}{kind: map[string]interface{}{field: normaliseValue(value)}}
			}
		}
	}

	if mm, ok := node["multi_match"].(map[string]interface{}); ok {
		if text, ok := mm["query"]; ok {
			out := map[string]interface{}{"query": scalar(text)}
			if fields, ok := mm["fields"].([]interface{}); ok {
				out["fields"] = fields
			}
			if typ, ok := mm["type"].(string); ok {
				out["type"] = typ
			}
			return map[string]interface{}{"multi_match": out}
		}
	}

	if b, ok := node["bool"].(map[string]interface{}); ok {
		out := map[string]interface{}{}
		for _, clause := range []string{"must", "filter", "should", "must_not"} {
			items := clauseItems(b[clause])
			if len(items) == 0 {
				continue
			}
			parsed := make([]interface{}, 0, len(items))
			for _, item := range items {
				parsed = append(parsed, parseQueryNode(item))
			}
			out[clause] = parsed
		}
		if msm, ok := b["minimum_should_match"]; ok {
			out["minimum_should_match"] = scalar(msm)
		}
		return map[string]interface{}{"bool": out}
	}

	if r, ok := node["range"].(map[string]interface{}); ok {
		if field, value, ok := firstField(r); ok {
			if params, ok := value.(map[string]interface{}); ok {
				bounds := map[string]interface{}{}
				for _, k := range []string{"gte", "lte", "gt", "lt", "format", "time_zone"} {
					if v, ok := params[k]; ok {
						bounds[k] = scalar(v)
					}
				}
				return map[string]interface{}{"range": map[string]interface{}{field: bounds}}
			}
		}
	}

	log.Printf("tools: unknown query type %v, using match_all", sortedKeys(node))
	return MatchAll()
}

// clauseItems accepts a bool clause as an array or a single object.
func clauseItems(v interface{}) []interface{} {
	switch c := v.(type) {
	case []interface{}:
		return c
	case map[string]interface{}:
		return []interface{}{c}
	}
	return nil
}

func firstField(m map[string]interface{}) (string, interface{}, bool) {
	keys := sortedKeys(m)
	if len(keys) == 0 {
		return "", nil, false
	}
	return keys[0], m[keys[0]], true
}

// normaliseValue keeps object values (e.g. match {query, operator}) and
// converts scalars.
func normaliseValue(v interface{}) interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			out[k] = scalar(val)
		}
		return out
	}
	return scalar(v)
}

// scalar converts json.Number into int64 or float64 so values marshal as
// plain numbers. Other values are returned unchanged.
func scalar(v interface{}) interface{} {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
		if f, err := n.Float64(); err == nil {
			return int(f), true
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func normaliseOrder(o string) string {
	if strings.EqualFold(strings.TrimSpace(o), "desc") {
		return "desc"
	}
	return "asc"
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// decodeMap re-decodes an arbitrary value into a generic map so numbers are
// handled uniformly as json.Number.
func decodeMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search source: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]interface{}
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode search source: %w", err)
	}
	return m, nil
}
