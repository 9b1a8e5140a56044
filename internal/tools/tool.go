// Package tools holds the named tools exposed over the protocol, the
// registry that indexes them and the mapper that turns loosely typed wire
// arguments into the shapes each tool executes with.
package tools

import "context"

// Tool names.
const (
	NameSearch     = "es_search"
	NameSchema     = "es_schema"
	NameHostSearch = "es_host_search"
	NameIndices    = "es_indices"
	NameQuery      = "es_query"
)

// Tool is one invocable capability.
//
// Execute receives arguments already normalised by the Mapper. An error is
// reported to the caller as a tool execution error; it never tears down the
// connection.
type Tool interface {
	Name() string
	Description() string
	RequiredParameters() []string
	OptionalParameters() []string
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// ToolMetadata describes a registered tool. It is derived once at registry
// construction and never changes afterwards.
type ToolMetadata struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Required    []string               `json:"required_parameters"`
	Optional    []string               `json:"optional_parameters"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// Definition returns the tool as listed by tools/list.
func (m ToolMetadata) Definition() map[string]interface{} {
	return map[string]interface{}{
		"name":        m.Name,
		"description": m.Description,
		"inputSchema": m.InputSchema,
	}
}

func newMetadata(t Tool) ToolMetadata {
	required := append([]string(nil), t.RequiredParameters()...)
	optional := append([]string(nil), t.OptionalParameters()...)
	if required == nil {
		required = []string{}
	}
	if optional == nil {
		optional = []string{}
	}

	desc := t.Description()
	if desc == "" {
		desc = "Tool: " + t.Name()
	}

	return ToolMetadata{
		Name:        t.Name(),
		Description: desc,
		Required:    required,
		Optional:    optional,
		InputSchema: inputSchema(required, optional),
	}
}
