package capability

import (
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stacklok/mcprelay/internal/backend"
)

// Kind identifies what a capability Entry represents.
type Kind string

const (
	KindTool             Kind = "tool"
	KindPrompt           Kind = "prompt"
	KindResource         Kind = "resource"
	KindResourceTemplate Kind = "resource-template"
)

// Entry is one merged capability (spec §3 "Capability entry").
type Entry struct {
	Name    string
	Backend string
	Kind    Kind
	Tool    *mcp.Tool
	Prompt  *mcp.Prompt

	Resource         *mcp.Resource
	ResourceTemplate *mcp.ResourceTemplate
}

// Registry merges each Ready, enabled backend's listing into one namespaced
// view, invalidating its cache whenever asked to Refresh.
//
// Invariants enforced here: (i) namespaced names never collide, since the
// backend prefix is unique by construction; (ii) a disabled or non-Ready
// backend's entries never appear; (iii) Refresh is the only path that
// mutates the cache, so reads never observe a partially rebuilt listing.
type Registry struct {
	backends *backend.Registry

	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry builds a capability registry backed by the given backend
// registry; call Refresh after every backend state change.
func NewRegistry(backends *backend.Registry) *Registry {
	return &Registry{backends: backends, entries: make(map[string]Entry)}
}

// Refresh recomputes the merged listing from the current set of Ready,
// enabled backends. Safe to call from any goroutine; the previous listing
// remains visible to readers until Refresh completes.
func (r *Registry) Refresh() {
	next := make(map[string]Entry)

	for _, name := range r.backends.ReadyAndEnabled() {
		b, ok := r.backends.Lookup(name)
		if !ok {
			continue
		}
		tools, prompts, resources, templates := b.Capabilities()

		for i := range tools {
			t := tools[i]
			ns := Namespace(name, t.Name)
			next[ns] = Entry{Name: ns, Backend: name, Kind: KindTool, Tool: &t}
		}
		for i := range prompts {
			p := prompts[i]
			ns := Namespace(name, p.Name)
			next[ns] = Entry{Name: ns, Backend: name, Kind: KindPrompt, Prompt: &p}
		}
		for i := range resources {
			res := resources[i]
			ns := Namespace(name, res.URI)
			next[ns] = Entry{Name: ns, Backend: name, Kind: KindResource, Resource: &res}
		}
		for i := range templates {
			tmpl := templates[i]
			ns := Namespace(name, tmpl.Name)
			next[ns] = Entry{Name: ns, Backend: name, Kind: KindResourceTemplate, ResourceTemplate: &tmpl}
		}
	}

	r.mu.Lock()
	r.entries = next
	r.mu.Unlock()
}

// Lookup resolves a namespaced name to its entry.
func (r *Registry) Lookup(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Tools returns every merged tool entry, for tools/list.
func (r *Registry) Tools() []mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.Tool, 0, len(r.entries))
	for _, e := range r.entries {
		if e.Kind == KindTool {
			namespaced := *e.Tool
			namespaced.Name = e.Name
			out = append(out, namespaced)
		}
	}
	return out
}

// Prompts returns every merged prompt entry, for prompts/list.
func (r *Registry) Prompts() []mcp.Prompt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.Prompt, 0, len(r.entries))
	for _, e := range r.entries {
		if e.Kind == KindPrompt {
			namespaced := *e.Prompt
			namespaced.Name = e.Name
			out = append(out, namespaced)
		}
	}
	return out
}

// Resources returns every merged resource entry, for resources/list. Like
// Tools and Prompts, the URI is overwritten with the namespaced form so two
// backends exposing the same underlying URI never collide in the client's
// view, and so Dispatcher.ReadResource's SplitNamespace can route it back.
func (r *Registry) Resources() []mcp.Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.Resource, 0, len(r.entries))
	for _, e := range r.entries {
		if e.Kind == KindResource {
			namespaced := *e.Resource
			namespaced.URI = e.Name
			namespaced.Name = e.Name
			out = append(out, namespaced)
		}
	}
	return out
}

// ResourceTemplates returns every merged resource template, for
// resources/templates/list. Name is overwritten with the namespaced value,
// the same field Tools/Prompts namespace; URITemplate is left as the
// backend's own pattern since templates are descriptive only here (a
// client fills one in and reads the result through the namespaced concrete
// Resources listing, not through the template directly).
func (r *Registry) ResourceTemplates() []mcp.ResourceTemplate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.ResourceTemplate, 0, len(r.entries))
	for _, e := range r.entries {
		if e.Kind == KindResourceTemplate {
			namespaced := *e.ResourceTemplate
			namespaced.Name = e.Name
			out = append(out, namespaced)
		}
	}
	return out
}
