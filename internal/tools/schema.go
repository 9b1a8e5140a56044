package tools

import "github.com/scrypster/esmcp/pkg/types"

// parameterSchemas holds the precise schema of every parameter name the
// tools share. Anything else is described as a plain string.
var parameterSchemas = map[string]map[string]interface{}{
	"searchSourceBuilder": {
		"type":        "object",
		"description": "Elasticsearch search source: query, size, from, sort, aggs, _source. A JSON string is also accepted.",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "object", "description": "Elasticsearch query"},
			"size":  map[string]interface{}{"type": "integer", "description": "Number of results to return"},
			"from":  map[string]interface{}{"type": "integer", "description": "Starting offset"},
			"sort":  map[string]interface{}{"type": "array", "description": "Sort configuration"},
		},
	},
	"esHost": {
		"type":        "string",
		"enum":        types.HostTypeNames(),
		"description": "Target Elasticsearch host",
	},
	"indices": {
		"type":        "array",
		"items":       map[string]interface{}{"type": "string"},
		"description": "List of indices to search",
	},
	"startDate": {
		"type":        "string",
		"format":      "date-time",
		"description": "Start of the date range (yyyy-MM-dd, dd-MM-yyyy, RFC 3339, ...)",
	},
	"endDate": {
		"type":        "string",
		"format":      "date-time",
		"description": "End of the date range; a bare date means the end of that day",
	},
	"prompt": {
		"type":        "string",
		"description": "Natural language query description",
	},
	"schemaContext": {
		"type":        "string",
		"description": "Elasticsearch schema context (output of es_schema)",
	},
	"maxResults": {
		"type":        "integer",
		"description": "Maximum number of results to return (default 5)",
	},
	"includeAggregations": {
		"type":        "boolean",
		"description": "Include standard aggregations in the generated query",
	},
	"sortBy": {
		"type":        "string",
		"description": "Sort field and order, e.g. txnDate:desc (the default)",
	},
	"query": {
		"type":        "string",
		"description": "Free text matched across all searchable fields",
	},
	"size": {
		"type":        "integer",
		"description": "Number of results to return",
	},
	"from": {
		"type":        "integer",
		"description": "Starting offset",
	},
	"sort": {
		"type":        "string",
		"description": "Sort field (ascending) or an object of field to order",
	},
}

// ParameterSchema returns the schema fragment for one parameter name.
func ParameterSchema(name string) map[string]interface{} {
	if s, ok := parameterSchemas[name]; ok {
		return s
	}
	return map[string]interface{}{
		"type":        "string",
		"description": "Parameter: " + name,
	}
}

func inputSchema(required, optional []string) map[string]interface{} {
	properties := make(map[string]interface{}, len(required)+len(optional))
	for _, p := range required {
		properties[p] = ParameterSchema(p)
	}
	for _, p := range optional {
		properties[p] = ParameterSchema(p)
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}
