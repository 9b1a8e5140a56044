package tools

import (
	"fmt"
	"log"
	"strings"

	"github.com/scrypster/esmcp/pkg/types"
)

// Mapped argument keys.
const (
	ArgSearchSource = "searchSourceBuilder"
	ArgHost         = "esHost"
	ArgIndices      = "indices"
	ArgStartDate    = "startDate"
	ArgEndDate      = "endDate"
)

// Mapper converts wire arguments into the typed arguments each tool
// expects. Mapping rules are per tool; tools without rules receive a copy
// of their arguments.
type Mapper struct {
	rules map[string]func(map[string]interface{}) map[string]interface{}
}

// NewMapper creates a mapper with the rules for the built-in tools.
func NewMapper() *Mapper {
	m := &Mapper{}
	m.rules = map[string]func(map[string]interface{}) map[string]interface{}{
		NameSearch:     m.mapSearch,
		NameHostSearch: mapDateRange,
		NameIndices:    mapDateRange,
	}
	return m
}

// MapForTool normalises raw for the named tool. It never fails: values of
// unexpected shape are dropped or replaced by defaults.
func (m *Mapper) MapForTool(name string, raw map[string]interface{}) map[string]interface{} {
	if raw == nil {
		raw = map[string]interface{}{}
	}
	if rule, ok := m.rules[name]; ok {
		return rule(raw)
	}
	out := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	return out
}

// Validate reports whether every required parameter of the tool is present
// in mapped. Values are not type-checked.
func (m *Mapper) Validate(name string, mapped map[string]interface{}, meta *ToolMetadata) bool {
	if meta == nil {
		log.Printf("tools: no metadata for tool %q", name)
		return false
	}
	for _, req := range meta.Required {
		if _, ok := mapped[req]; !ok {
			log.Printf("tools: missing required parameter %q for tool %q", req, name)
			return false
		}
	}
	return true
}

// MissingParameters lists the required parameters absent from mapped.
func MissingParameters(mapped map[string]interface{}, meta *ToolMetadata) []string {
	var missing []string
	if meta == nil {
		return missing
	}
	for _, req := range meta.Required {
		if _, ok := mapped[req]; !ok {
			missing = append(missing, req)
		}
	}
	return missing
}

func (m *Mapper) mapSearch(raw map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}

	if v, ok := raw[ArgSearchSource]; ok {
		if q := searchSourceFrom(v); q != nil {
			out[ArgSearchSource] = q
		}
	} else {
		out[ArgSearchSource] = searchSourceFromSimpleParams(raw)
	}

	out[ArgHost] = MapHost(raw[ArgHost])

	if indices, ok := MapIndices(raw[ArgIndices]); ok {
		out[ArgIndices] = indices
	}

	copyDate(raw, out, ArgStartDate)
	copyDate(raw, out, ArgEndDate)
	return out
}

func mapDateRange(raw map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	copyDate(raw, out, ArgStartDate)
	copyDate(raw, out, ArgEndDate)
	return out
}

func copyDate(raw, out map[string]interface{}, key string) {
	v, ok := raw[key]
	if !ok || v == nil {
		return
	}
	out[key] = strings.TrimSpace(fmt.Sprint(v))
}

// searchSourceFrom accepts a typed query, a generic map or a JSON string.
func searchSourceFrom(v interface{}) *SearchQuery {
	switch s := v.(type) {
	case *SearchQuery:
		return s
	case SearchQuery:
		return &s
	case map[string]interface{}:
		m, err := decodeMap(s)
		if err != nil {
			log.Printf("tools: %v", err)
			return NewSearchQuery().WithSize(fallbackSize)
		}
		return SearchQueryFromMap(m)
	case string:
		return ParseSearchQuery(s)
	case nil:
		return nil
	default:
		log.Printf("tools: searchSourceBuilder has unexpected type %T", v)
		return nil
	}
}

// searchSourceFromSimpleParams builds a query from the query/size/from/sort
// convenience parameters.
func searchSourceFromSimpleParams(raw map[string]interface{}) *SearchQuery {
	q := NewSearchQuery()

	if text, ok := raw["query"].(string); ok && strings.TrimSpace(text) != "" {
		q.Query = map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  text,
				"fields": []interface{}{"_all", "searchFields.*"},
			},
		}
	}

	if v, ok := raw["size"]; ok {
		if n, ok := toInt(v); ok {
			q.WithSize(n)
		} else {
			log.Printf("tools: invalid size parameter %v, using default", v)
		}
	}
	if v, ok := raw["from"]; ok {
		if n, ok := toInt(v); ok {
			q.WithFrom(n)
		} else {
			log.Printf("tools: invalid from parameter %v, using default", v)
		}
	}

	switch s := raw["sort"].(type) {
	case map[string]interface{}:
		for _, field := range sortedKeys(s) {
			q.AddSort(field, fmt.Sprint(s[field]))
		}
	case string:
		if s != "" {
			q.AddSort(s, "asc")
		}
	}
	return q
}

// MapHost normalises a host identifier. Unknown or absent values map to the
// primary tier.
func MapHost(v interface{}) types.HostType {
	switch h := v.(type) {
	case types.HostType:
		if h.IsValid() {
			return h
		}
	case string:
		if parsed, err := types.ParseHostType(h); err == nil {
			return parsed
		}
		log.Printf("tools: invalid esHost %q, using %s", h, types.HostPrimary)
	case nil:
	default:
		if parsed, err := types.ParseHostType(fmt.Sprint(h)); err == nil {
			return parsed
		}
	}
	return types.HostPrimary
}

// MapIndices normalises a list or comma separated string of index names.
// ok is false when v is absent or of an unusable type.
func MapIndices(v interface{}) ([]string, bool) {
	switch idx := v.(type) {
	case []string:
		return trimAll(idx), true
	case []interface{}:
		out := make([]string, 0, len(idx))
		for _, item := range idx {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return trimAll(out), true
	case string:
		return trimAll(strings.Split(idx, ",")), true
	}
	return nil, false
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
