// Package proxynative implements the proxy's own built-in tools and
// proxy:// resources (spec §4.8) -- the control surface a client uses to
// inspect and manage the proxy itself, as distinct from the namespaced
// tools forwarded to backends.
package proxynative

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/stacklok/mcprelay/internal/backend"
	"github.com/stacklok/mcprelay/internal/overrides"
)

// TraceStore is the subset of internal/trace.Store the tracing__* tools
// need. Declaring it here, rather than importing the trace package
// directly, keeps proxynative from holding a concrete reference to the
// trace store's on-disk implementation (spec §9 weak-reference style).
type TraceStore interface {
	Get(id string) (json.RawMessage, bool)
	SubmitFeedback(id string, feedback json.RawMessage) error
	QualityReport() (json.RawMessage, error)
}

// Tools owns the backend and override registries the server__* tools act
// on, plus the trace store the tracing__* tools read from.
type Tools struct {
	backends  *backend.Registry
	overrides *overrides.Store
	trace     TraceStore
	restart   func(name string) error
}

// NewTools builds the proxy-native tool set. restart is invoked by
// server__restart to force a backend's supervisor loop to re-dial; it is
// typically the backend tree's mechanism for tearing down a live client
// connection so Serve's next iteration reconnects.
func NewTools(backends *backend.Registry, ov *overrides.Store, trace TraceStore, restart func(name string) error) *Tools {
	return &Tools{backends: backends, overrides: ov, trace: trace, restart: restart}
}

// RegisterWith installs every proxy-native tool onto srv.
func (t *Tools) RegisterWith(srv *mcpserver.MCPServer) {
	srv.AddTool(mcp.NewTool("server__list",
		mcp.WithDescription("List every configured backend and its current lifecycle state"),
	), t.serverList)

	srv.AddTool(mcp.NewTool("server__enable",
		mcp.WithDescription("Enable a backend, making its tools visible again"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Backend name")),
	), t.serverEnable)

	srv.AddTool(mcp.NewTool("server__disable",
		mcp.WithDescription("Disable a backend, hiding its tools without stopping its process"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Backend name")),
	), t.serverDisable)

	srv.AddTool(mcp.NewTool("server__restart",
		mcp.WithDescription("Force a backend to reconnect"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Backend name")),
	), t.serverRestart)

	srv.AddTool(mcp.NewTool("tracing__get_trace",
		mcp.WithDescription("Retrieve the recorded plugin chain trace for a call by id"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Trace id")),
	), t.tracingGetTrace)

	srv.AddTool(mcp.NewTool("tracing__submit_feedback",
		mcp.WithDescription("Attach reviewer feedback to a recorded trace"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Trace id")),
		mcp.WithString("feedback", mcp.Required(), mcp.Description("Feedback payload, JSON-encoded")),
	), t.tracingSubmitFeedback)

	srv.AddTool(mcp.NewTool("tracing__quality_report",
		mcp.WithDescription("Summarize plugin trace quality across recent calls"),
	), t.tracingQualityReport)
}

func stringArg(req mcp.CallToolRequest, name string) (string, error) {
	args, ok := req.Params.Arguments.(map[string]any)
	if !ok {
		return "", fmt.Errorf("missing arguments")
	}
	v, ok := args[name]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", name)
	}
	return s, nil
}

func (t *Tools) serverList(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type entry struct {
		Name    string `json:"name"`
		Enabled bool   `json:"enabled"`
		State   string `json:"state"`
	}
	var out []entry
	for _, name := range t.backends.Names() {
		b, ok := t.backends.Lookup(name)
		if !ok {
			continue
		}
		out = append(out, entry{Name: name, Enabled: t.backends.Enabled(name), State: string(b.Snapshot().State)})
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (t *Tools) serverEnable(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.setEnabled(req, true)
}

func (t *Tools) serverDisable(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.setEnabled(req, false)
}

func (t *Tools) setEnabled(req mcp.CallToolRequest, enabled bool) (*mcp.CallToolResult, error) {
	name, err := stringArg(req, "name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, ok := t.backends.Lookup(name); !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown backend %q", name)), nil
	}
	if err := t.backends.SetEnabled(name, enabled); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := t.overrides.SetEnabled(name, enabled); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%s set to enabled=%v in memory but failed to persist: %v", name, enabled, err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s is now enabled=%v", name, enabled)), nil
}

func (t *Tools) serverRestart(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := stringArg(req, "name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, ok := t.backends.Lookup(name); !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown backend %q", name)), nil
	}
	if t.restart == nil {
		return mcp.NewToolResultError("restart is not wired for this proxy instance"), nil
	}
	if err := t.restart(name); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s restart requested", name)), nil
}

func (t *Tools) tracingGetTrace(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := stringArg(req, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if t.trace == nil {
		return mcp.NewToolResultError("trace store is not configured"), nil
	}
	data, ok := t.trace.Get(id)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("no trace recorded for id %q", id)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (t *Tools) tracingSubmitFeedback(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := stringArg(req, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	feedback, err := stringArg(req, "feedback")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if t.trace == nil {
		return mcp.NewToolResultError("trace store is not configured"), nil
	}
	if err := t.trace.SubmitFeedback(id, json.RawMessage(feedback)); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("feedback recorded"), nil
}

func (t *Tools) tracingQualityReport(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if t.trace == nil {
		return mcp.NewToolResultError("trace store is not configured"), nil
	}
	report, err := t.trace.QualityReport()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(report)), nil
}
