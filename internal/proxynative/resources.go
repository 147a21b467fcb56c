package proxynative

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/stacklok/mcprelay/internal/backend"
	"github.com/stacklok/mcprelay/internal/config"
)

// Resources owns the read-only proxy:// surface of spec §4.8: static
// snapshots (config, metrics, health, topology) plus per-backend and
// per-trace templated reads.
type Resources struct {
	backends *backend.Registry
	cfg      *config.Config
	trace    TraceStore
	logs     func(server string) (string, error)
	metrics  func() (json.RawMessage, error)
}

// NewResources builds the proxy-native resource set. logsFn and metricsFn
// may be nil; reads against them then report a clear "not configured"
// error instead of panicking.
func NewResources(backends *backend.Registry, cfg *config.Config, trace TraceStore, logsFn func(string) (string, error), metricsFn func() (json.RawMessage, error)) *Resources {
	return &Resources{backends: backends, cfg: cfg, trace: trace, logs: logsFn, metrics: metricsFn}
}

// RegisterWith installs every proxy-native resource and resource template
// onto srv (spec §4.8).
func (r *Resources) RegisterWith(srv *mcpserver.MCPServer) {
	srv.AddResource(mcp.Resource{
		URI:         "proxy://config",
		Name:        "Proxy configuration",
		Description: "The proxy's effective, loaded configuration",
		MIMEType:    "application/json",
	}, r.readConfig)

	srv.AddResource(mcp.Resource{
		URI:         "proxy://metrics",
		Name:        "Proxy metrics",
		Description: "Prometheus metrics snapshot, rendered as JSON",
		MIMEType:    "application/json",
	}, r.readMetrics)

	srv.AddResource(mcp.Resource{
		URI:         "proxy://health",
		Name:        "Proxy health",
		Description: "Aggregate health across every backend",
		MIMEType:    "application/json",
	}, r.readHealth)

	srv.AddResource(mcp.Resource{
		URI:         "proxy://topology",
		Name:        "Proxy topology",
		Description: "Backends, their transports, and plugin bindings",
		MIMEType:    "application/json",
	}, r.readTopology)

	srv.AddResourceTemplate(mcp.NewResourceTemplate(
		"proxy://logs/{server}", "Backend logs",
		mcp.WithTemplateDescription("Recent log lines captured from a backend's stderr"),
		mcp.WithTemplateMIMEType("text/plain"),
	), r.readLogs)

	srv.AddResourceTemplate(mcp.NewResourceTemplate(
		"proxy://metrics/{server}", "Backend metrics",
		mcp.WithTemplateDescription("Per-backend metrics snapshot"),
		mcp.WithTemplateMIMEType("application/json"),
	), r.readBackendMetrics)

	srv.AddResourceTemplate(mcp.NewResourceTemplate(
		"proxy://trace/{id}", "Call trace",
		mcp.WithTemplateDescription("The recorded plugin chain trace for a call"),
		mcp.WithTemplateMIMEType("application/json"),
	), r.readTrace)

	srv.AddResourceTemplate(mcp.NewResourceTemplate(
		"proxy://server/{server}/{aspect}", "Backend detail",
		mcp.WithTemplateDescription("A backend's config or capabilities, selected by aspect=config|capabilities"),
		mcp.WithTemplateMIMEType("application/json"),
	), r.readServerAspect)
}

func textJSON(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: uri, MIMEType: "application/json", Text: string(data)},
	}, nil
}

func (r *Resources) readConfig(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return textJSON(req.Params.URI, r.cfg)
}

func (r *Resources) readMetrics(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	if r.metrics == nil {
		return nil, fmt.Errorf("metrics are not configured")
	}
	snapshot, err := r.metrics()
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(snapshot)},
	}, nil
}

func (r *Resources) readHealth(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	type status struct {
		Name  string `json:"name"`
		State string `json:"state"`
	}
	var out []status
	for _, name := range r.backends.Names() {
		b, ok := r.backends.Lookup(name)
		if !ok {
			continue
		}
		out = append(out, status{Name: name, State: string(b.Snapshot().State)})
	}
	return textJSON(req.Params.URI, out)
}

func (r *Resources) readTopology(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	type node struct {
		Name      string `json:"name"`
		Transport string `json:"transport"`
		Enabled   bool   `json:"enabled"`
	}
	var out []node
	for _, b := range r.cfg.Backends {
		out = append(out, node{Name: b.Name, Transport: string(b.Transport), Enabled: b.Enabled})
	}
	return textJSON(req.Params.URI, out)
}

func serverFromTemplateURI(uri, prefix string) (string, bool) {
	rest := strings.TrimPrefix(uri, prefix)
	if rest == uri || rest == "" {
		return "", false
	}
	return rest, true
}

func (r *Resources) readLogs(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	server, ok := serverFromTemplateURI(req.Params.URI, "proxy://logs/")
	if !ok {
		return nil, fmt.Errorf("malformed logs uri %q", req.Params.URI)
	}
	if _, ok := r.backends.Lookup(server); !ok {
		return nil, fmt.Errorf("unknown backend %q", server)
	}
	if r.logs == nil {
		return nil, fmt.Errorf("log capture is not configured")
	}
	text, err := r.logs(server)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "text/plain", Text: text},
	}, nil
}

func (r *Resources) readBackendMetrics(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	server, ok := serverFromTemplateURI(req.Params.URI, "proxy://metrics/")
	if !ok {
		return nil, fmt.Errorf("malformed metrics uri %q", req.Params.URI)
	}
	b, ok := r.backends.Lookup(server)
	if !ok {
		return nil, fmt.Errorf("unknown backend %q", server)
	}
	return textJSON(req.Params.URI, b.Snapshot())
}

func (r *Resources) readTrace(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	id, ok := serverFromTemplateURI(req.Params.URI, "proxy://trace/")
	if !ok {
		return nil, fmt.Errorf("malformed trace uri %q", req.Params.URI)
	}
	if r.trace == nil {
		return nil, fmt.Errorf("trace store is not configured")
	}
	data, ok := r.trace.Get(id)
	if !ok {
		return nil, fmt.Errorf("no trace recorded for id %q", id)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
	}, nil
}

func (r *Resources) readServerAspect(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	rest, ok := serverFromTemplateURI(req.Params.URI, "proxy://server/")
	if !ok {
		return nil, fmt.Errorf("malformed server uri %q", req.Params.URI)
	}
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("expected proxy://server/{server}/{aspect}, got %q", req.Params.URI)
	}
	server, aspect := parts[0], parts[1]

	switch aspect {
	case "capabilities":
		b, ok := r.backends.Lookup(server)
		if !ok {
			return nil, fmt.Errorf("unknown backend %q", server)
		}
		tools, prompts, resources, templates := b.Capabilities()
		return textJSON(req.Params.URI, map[string]any{
			"tools": tools, "prompts": prompts, "resources": resources, "resourceTemplates": templates,
		})
	case "config":
		for _, bc := range r.cfg.Backends {
			if bc.Name == server {
				return textJSON(req.Params.URI, bc)
			}
		}
		return nil, fmt.Errorf("unknown backend %q", server)
	default:
		return nil, fmt.Errorf("unknown aspect %q, expected config or capabilities", aspect)
	}
}
