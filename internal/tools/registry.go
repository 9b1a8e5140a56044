package tools

import (
	"log"
	"sort"
)

// Registry indexes tools by name. It is populated once by NewRegistry and
// is read-only afterwards, so it needs no locking.
type Registry struct {
	tools    map[string]Tool
	metadata map[string]ToolMetadata
	order    []string
}

// NewRegistry registers tools in the given order. When two tools share a
// name the first one wins and the conflict is logged.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{
		tools:    make(map[string]Tool, len(tools)),
		metadata: make(map[string]ToolMetadata, len(tools)),
	}

	for _, t := range tools {
		if t == nil {
			continue
		}
		name := t.Name()
		if _, exists := r.tools[name]; exists {
			log.Printf("tools: duplicate tool name %q, keeping first registration", name)
			continue
		}
		r.tools[name] = t
		r.metadata[name] = newMetadata(t)
		r.order = append(r.order, name)
	}

	log.Printf("tools: registry initialised with %d tools: %v", len(r.order), r.order)
	return r
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Has reports whether a tool is registered under name.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Metadata returns the metadata of one tool.
func (r *Registry) Metadata(name string) (*ToolMetadata, bool) {
	m, ok := r.metadata[name]
	if !ok {
		return nil, false
	}
	return &m, true
}

// AllMetadata returns the metadata of every tool in registration order.
func (r *Registry) AllMetadata() []ToolMetadata {
	out := make([]ToolMetadata, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.metadata[name])
	}
	return out
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	return len(r.order)
}

// Filter keeps only the tools named in allow, preserving registration
// order. An empty allow list returns r unchanged.
func (r *Registry) Filter(allow []string) *Registry {
	if len(allow) == 0 {
		return r
	}
	keep := make([]Tool, 0, len(allow))
	allowed := make(map[string]bool, len(allow))
	for _, n := range allow {
		allowed[n] = true
	}
	for _, name := range r.order {
		if allowed[name] {
			keep = append(keep, r.tools[name])
		}
	}
	return NewRegistry(keep...)
}
