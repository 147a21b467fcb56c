package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/stacklok/mcprelay/internal/backend"
	"github.com/stacklok/mcprelay/internal/capability"
	"github.com/stacklok/mcprelay/internal/config"
	"github.com/stacklok/mcprelay/internal/logging"
	"github.com/stacklok/mcprelay/internal/metrics"
	"github.com/stacklok/mcprelay/internal/overrides"
	"github.com/stacklok/mcprelay/internal/plugin"
	"github.com/stacklok/mcprelay/internal/relayerr"
	"github.com/stacklok/mcprelay/internal/trace"
	"github.com/stacklok/mcprelay/internal/wire"
)

const dispatcherSubsystem = "router.dispatcher"

// Dispatcher implements the method table of spec §4.7: it resolves a
// namespaced capability name to its owning backend, forwards the call, and
// wraps the request and response through the plugin chain.
type Dispatcher struct {
	backends  *backend.Registry
	caps      *capability.Registry
	overrides *overrides.Store
	requests  *plugin.Chain
	responses *plugin.Chain
	tracker   *Tracker
	traces    *trace.Store

	// sessionVersions records the protocol version negotiated on each
	// client connection's initialize call (spec §6), keyed by MCP session
	// ID, so later CallTool/ReadResource replies on that connection are
	// translated consistently.
	sessionVersions sync.Map
}

// New builds a Dispatcher. requestChain and responseChain may be the same
// *plugin.Chain instance configured with plugins bound to each respective
// phase, or nil if no plugin layer is configured. traces may be nil, in
// which case tool calls are dispatched without recording a trace record.
func New(backends *backend.Registry, caps *capability.Registry, ov *overrides.Store, requestChain, responseChain *plugin.Chain, traces *trace.Store) *Dispatcher {
	return &Dispatcher{
		backends:  backends,
		caps:      caps,
		overrides: ov,
		requests:  requestChain,
		responses: responseChain,
		tracker:   NewTracker(),
		traces:    traces,
	}
}

// ListTools implements tools/list: the merged capability listing, filtered
// by the per-project override (spec §4.4).
func (d *Dispatcher) ListTools() []mcpgo.Tool {
	var out []mcpgo.Tool
	for _, t := range d.caps.Tools() {
		backendName, _, ok := capability.SplitNamespace(t.Name)
		if ok && !d.enabledFor(backendName) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// ListPrompts implements prompts/list.
func (d *Dispatcher) ListPrompts() []mcpgo.Prompt {
	var out []mcpgo.Prompt
	for _, p := range d.caps.Prompts() {
		backendName, _, ok := capability.SplitNamespace(p.Name)
		if ok && !d.enabledFor(backendName) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// ListResources implements resources/list.
func (d *Dispatcher) ListResources() []mcpgo.Resource {
	return d.caps.Resources()
}

// ListResourceTemplates implements resources/templates/list.
func (d *Dispatcher) ListResourceTemplates() []mcpgo.ResourceTemplate {
	return d.caps.ResourceTemplates()
}

func (d *Dispatcher) enabledFor(backendName string) bool {
	if ov, ok := d.overrides.Get(backendName); ok && ov.Enabled != nil {
		return *ov.Enabled
	}
	return d.backends.Enabled(backendName)
}

// CallTool implements tools/call: splits the namespaced tool name, runs the
// request-phase plugin chain over the serialized arguments, forwards to the
// owning backend, then runs the response-phase chain over the result text
// before handing it back (spec §4.6, §4.7).
func (d *Dispatcher) CallTool(ctx context.Context, name string, args map[string]any) (*mcpgo.CallToolResult, error) {
	backendName, localName, ok := capability.SplitNamespace(name)
	if !ok {
		return nil, relayerr.New(relayerr.KindInvalidParams, fmt.Sprintf("tool name %q is not namespaced", name), nil)
	}

	metrics.InFlightRequests.Inc()
	defer metrics.InFlightRequests.Dec()
	start := time.Now()
	var steps []trace.Step
	outcome := "ok"
	defer func() {
		metrics.ToolCallDuration.WithLabelValues(backendName).Observe(time.Since(start).Seconds())
		metrics.ToolCallsTotal.WithLabelValues(backendName, outcome).Inc()
		if d.traces != nil {
			_ = d.traces.Put(trace.Record{
				ID:      trace.NewID(),
				Backend: backendName,
				Tool:    localName,
				Steps:   steps,
				Outcome: outcome,
			})
		}
	}()

	if !d.enabledFor(backendName) {
		outcome = "backend_disabled"
		return nil, relayerr.New(relayerr.KindBackendUnavailable, fmt.Sprintf("backend %q is disabled", backendName), nil)
	}

	b, ok := d.backends.Lookup(backendName)
	if !ok {
		outcome = "unknown_backend"
		return nil, relayerr.New(relayerr.KindBackendUnavailable, fmt.Sprintf("unknown backend %q", backendName), nil)
	}
	client := b.Client()
	if client == nil {
		outcome = "backend_not_ready"
		return nil, relayerr.New(relayerr.KindBackendUnavailable, fmt.Sprintf("backend %q is not ready", backendName), nil)
	}

	rawArgs, _ := json.Marshal(args)
	requestText := string(rawArgs)
	if d.requests != nil {
		result := d.requests.Run(ctx, backendName, config.PhaseRequest, localName, requestText)
		for _, s := range result.Steps {
			steps = append(steps, trace.Step{Plugin: s.Plugin, Phase: string(config.PhaseRequest), Duration: s.Duration, Status: s.Status, Metadata: s.Metadata})
		}
		if result.Blocked {
			outcome = "blocked"
			return mcpgo.NewToolResultText(result.Text), nil
		}
		if result.Text != requestText {
			var patched map[string]any
			if err := json.Unmarshal([]byte(result.Text), &patched); err == nil {
				args = patched
			}
		}
	}

	entry := d.tracker.Begin(nil, backendName)
	defer d.tracker.Forget(entry.OutboundID.(uint64))

	mcpResult, err := client.CallTool(ctx, mcpgo.CallToolRequest{
		Params: struct {
			Name      string    `json:"name"`
			Arguments any       `json:"arguments,omitempty"`
			Meta      *mcpgo.Meta `json:"_meta,omitempty"`
		}{
			Name:      localName,
			Arguments: args,
		},
	})
	if err != nil {
		outcome = "backend_error"
		return nil, relayerr.New(relayerr.KindBackendUnavailable, fmt.Sprintf("call to %s failed", name), err)
	}

	if d.responses != nil {
		resultText := extractText(mcpResult)
		folded := d.responses.Run(ctx, backendName, config.PhaseResponse, localName, resultText)
		for _, s := range folded.Steps {
			steps = append(steps, trace.Step{Plugin: s.Plugin, Phase: string(config.PhaseResponse), Duration: s.Duration, Status: s.Status, Metadata: s.Metadata})
		}
		if folded.Text != resultText {
			mcpResult = replaceText(mcpResult, folded.Text)
		}
	}

	if mcpResult.IsError {
		outcome = "tool_error"
	}
	return d.translateToolResult(ctx, mcpResult), nil
}

func extractText(result *mcpgo.CallToolResult) string {
	var sb strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(mcpgo.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

func replaceText(result *mcpgo.CallToolResult, text string) *mcpgo.CallToolResult {
	return &mcpgo.CallToolResult{
		Content: []mcpgo.Content{mcpgo.NewTextContent(text)},
		IsError: result.IsError,
	}
}

// GetPrompt implements prompts/get: forwards directly to the owning backend
// with no plugin involvement (spec §4.6 scopes the chain to tool calls).
func (d *Dispatcher) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcpgo.GetPromptResult, error) {
	backendName, localName, ok := capability.SplitNamespace(name)
	if !ok {
		return nil, relayerr.New(relayerr.KindInvalidParams, fmt.Sprintf("prompt name %q is not namespaced", name), nil)
	}
	b, ok := d.backends.Lookup(backendName)
	if !ok {
		return nil, relayerr.New(relayerr.KindBackendUnavailable, fmt.Sprintf("unknown backend %q", backendName), nil)
	}
	client := b.Client()
	if client == nil {
		return nil, relayerr.New(relayerr.KindBackendUnavailable, fmt.Sprintf("backend %q is not ready", backendName), nil)
	}
	return client.GetPrompt(ctx, mcpgo.GetPromptRequest{
		Params: struct {
			Name      string            `json:"name"`
			Arguments map[string]string `json:"arguments,omitempty"`
		}{
			Name:      localName,
			Arguments: args,
		},
	})
}

// ReadResource implements resources/read.
func (d *Dispatcher) ReadResource(ctx context.Context, uri string) ([]mcpgo.ResourceContents, error) {
	backendName, localURI, ok := capability.SplitNamespace(uri)
	if !ok {
		return nil, relayerr.New(relayerr.KindInvalidParams, fmt.Sprintf("resource uri %q is not namespaced", uri), nil)
	}
	b, ok := d.backends.Lookup(backendName)
	if !ok {
		return nil, relayerr.New(relayerr.KindBackendUnavailable, fmt.Sprintf("unknown backend %q", backendName), nil)
	}
	client := b.Client()
	if client == nil {
		return nil, relayerr.New(relayerr.KindBackendUnavailable, fmt.Sprintf("backend %q is not ready", backendName), nil)
	}
	result, err := client.ReadResource(ctx, mcpgo.ReadResourceRequest{
		Params: struct {
			URI       string         `json:"uri"`
			Arguments map[string]any `json:"arguments,omitempty"`
		}{
			URI: localURI,
		},
	})
	if err != nil {
		return nil, relayerr.New(relayerr.KindBackendUnavailable, fmt.Sprintf("read %s failed", uri), err)
	}
	return d.translateResourceContents(ctx, result.Contents), nil
}

// Ping answers the proxy-native ping method without forwarding anywhere.
func (d *Dispatcher) Ping() error { return nil }

// NegotiateSession records the protocol version negotiated with a client
// connection's initialize request (spec §6, testable property #6), keyed by
// MCP session ID, so CallTool/ReadResource replies on that connection are
// translated to match it. Called from the server's initialize hook.
func (d *Dispatcher) NegotiateSession(sessionID, clientRequested string) wire.ProtocolVersion {
	version := wire.Negotiate(clientRequested)
	d.sessionVersions.Store(sessionID, version)
	return version
}

// sessionVersion resolves the version negotiated for ctx's connection, or
// wire.Latest if the connection has not completed initialize yet (the "not
// yet initialized" Open Question resolution in SPEC_FULL §9).
func (d *Dispatcher) sessionVersion(ctx context.Context) wire.ProtocolVersion {
	session := mcpserver.ClientSessionFromContext(ctx)
	if session == nil {
		return wire.Latest
	}
	v, ok := d.sessionVersions.Load(session.SessionID())
	if !ok {
		return wire.Latest
	}
	return v.(wire.ProtocolVersion)
}

// translateToolResult rewrites result to match the calling session's
// negotiated protocol version (spec §6) before it is handed back to
// mcp-go/server, round-tripping through a generic map so TranslateOutbound
// can operate without a fixed schema.
func (d *Dispatcher) translateToolResult(ctx context.Context, result *mcpgo.CallToolResult) *mcpgo.CallToolResult {
	version := d.sessionVersion(ctx)
	raw, err := json.Marshal(result)
	if err != nil {
		return result
	}
	decoded, err := wire.DecodeToMap(raw)
	if err != nil || decoded == nil {
		return result
	}
	wire.TranslateOutbound(decoded, version)
	translated, err := json.Marshal(decoded)
	if err != nil {
		return result
	}
	var out mcpgo.CallToolResult
	if err := json.Unmarshal(translated, &out); err != nil {
		return result
	}
	return &out
}

// translateResourceContents applies the same per-session version
// translation as translateToolResult, item by item, since
// []mcpgo.ResourceContents is an interface slice mcp-go decodes by concrete
// type (TextResourceContents vs BlobResourceContents).
func (d *Dispatcher) translateResourceContents(ctx context.Context, contents []mcpgo.ResourceContents) []mcpgo.ResourceContents {
	version := d.sessionVersion(ctx)
	out := make([]mcpgo.ResourceContents, len(contents))
	for i, c := range contents {
		out[i] = c
		raw, err := json.Marshal(c)
		if err != nil {
			continue
		}
		decoded, err := wire.DecodeToMap(raw)
		if err != nil || decoded == nil {
			continue
		}
		wire.TranslateOutbound(decoded, version)
		translated, err := json.Marshal(decoded)
		if err != nil {
			continue
		}
		if _, hasBlob := decoded["blob"]; hasBlob {
			var blob mcpgo.BlobResourceContents
			if err := json.Unmarshal(translated, &blob); err == nil {
				out[i] = blob
			}
			continue
		}
		var text mcpgo.TextResourceContents
		if err := json.Unmarshal(translated, &text); err == nil {
			out[i] = text
		}
	}
	return out
}

// RegisterWith installs this dispatcher's namespaced tools into an MCP
// server, so tools/list and tools/call are served directly from srv without
// the caller needing to know the router's internals (spec §4.7, grounded on
// the teacher's createToolsFromProviders/AddTools pattern).
func (d *Dispatcher) RegisterWith(srv *mcpserver.MCPServer) {
	var tools []mcpserver.ServerTool
	for _, t := range d.ListTools() {
		name := t.Name
		tools = append(tools, mcpserver.ServerTool{
			Tool: t,
			Handler: func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
				args := make(map[string]any)
				if m, ok := req.Params.Arguments.(map[string]any); ok {
					args = m
				}
				result, err := d.CallTool(ctx, name, args)
				if err != nil {
					logging.Error(dispatcherSubsystem, err, "tool call failed for %s", name)
					return mcpgo.NewToolResultError(err.Error()), nil
				}
				return result, nil
			},
		})
	}
	if len(tools) > 0 {
		srv.AddTools(tools...)
	}
}

// RegisterResourcesWith installs this dispatcher's namespaced prompts,
// resources, and resource templates onto srv, so prompts/list,
// resources/list, resources/templates/list, prompts/get, and
// resources/read for backend-discovered capabilities are served directly
// (spec §4.7) instead of only the proxy-native proxy:// surface. Grounded on
// the teacher's processPromptsForServer/processResourcesForServer ->
// AddPrompts/AddResources batching.
func (d *Dispatcher) RegisterResourcesWith(srv *mcpserver.MCPServer) {
	var prompts []mcpserver.ServerPrompt
	for _, p := range d.ListPrompts() {
		name := p.Name
		prompts = append(prompts, mcpserver.ServerPrompt{
			Prompt: p,
			Handler: func(ctx context.Context, req mcpgo.GetPromptRequest) (*mcpgo.GetPromptResult, error) {
				return d.GetPrompt(ctx, name, req.Params.Arguments)
			},
		})
	}
	if len(prompts) > 0 {
		srv.AddPrompts(prompts...)
	}

	var resources []mcpserver.ServerResource
	for _, r := range d.ListResources() {
		uri := r.URI
		resources = append(resources, mcpserver.ServerResource{
			Resource: r,
			Handler: func(ctx context.Context, _ mcpgo.ReadResourceRequest) ([]mcpgo.ResourceContents, error) {
				return d.ReadResource(ctx, uri)
			},
		})
	}
	if len(resources) > 0 {
		srv.AddResources(resources...)
	}

	for _, t := range d.ListResourceTemplates() {
		srv.AddResourceTemplate(t, func(ctx context.Context, req mcpgo.ReadResourceRequest) ([]mcpgo.ResourceContents, error) {
			return d.ReadResource(ctx, req.Params.URI)
		})
	}
}
