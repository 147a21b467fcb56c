package proxynative

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/thejerf/suture/v4"

	"github.com/stacklok/mcprelay/internal/backend"
	"github.com/stacklok/mcprelay/internal/overrides"
)

type fakeTraceStore struct {
	traces map[string]json.RawMessage
}

func (f *fakeTraceStore) Get(id string) (json.RawMessage, bool) {
	raw, ok := f.traces[id]
	return raw, ok
}

func (f *fakeTraceStore) SubmitFeedback(id string, _ json.RawMessage) error {
	if _, ok := f.traces[id]; !ok {
		return errUnknownTrace
	}
	return nil
}

func (f *fakeTraceStore) QualityReport() (json.RawMessage, error) {
	return json.Marshal(map[string]int{"traceCount": len(f.traces)})
}

var errUnknownTrace = &traceNotFoundError{}

type traceNotFoundError struct{}

func (e *traceNotFoundError) Error() string { return "unknown trace" }

func newTestTools(t *testing.T) (*Tools, *backend.Registry) {
	t.Helper()
	t.Setenv("MCP_PROXY_PROJECT_DIR", t.TempDir())

	backends := backend.NewRegistry()
	ov, err := overrides.Load()
	if err != nil {
		t.Fatalf("overrides.Load: %v", err)
	}
	trace := &fakeTraceStore{traces: map[string]json.RawMessage{"t1": json.RawMessage(`{"ok":true}`)}}
	return NewTools(backends, ov, trace, nil), backends
}

func toolResultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	for _, c := range res.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestServerListReportsEnabledBackends(t *testing.T) {
	tools, backends := newTestTools(t)

	b := backend.New(backend.Descriptor{Name: "github", Enabled: true}, nil)
	backends.Register(b, suture.ServiceToken{})

	res, err := tools.serverList(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatalf("serverList: %v", err)
	}
	text := toolResultText(t, res)
	if text == "" {
		t.Fatal("expected non-empty server list output")
	}
}

func callWithName(req mcp.CallToolRequest, name string) mcp.CallToolRequest {
	req.Params.Arguments = map[string]any{"name": name}
	return req
}

func TestServerDisableThenEnableRoundTrips(t *testing.T) {
	tools, backends := newTestTools(t)
	b := backend.New(backend.Descriptor{Name: "github", Enabled: true}, nil)
	backends.Register(b, suture.ServiceToken{})

	if _, err := tools.serverDisable(context.Background(), callWithName(mcp.CallToolRequest{}, "github")); err != nil {
		t.Fatalf("serverDisable: %v", err)
	}
	if backends.Enabled("github") {
		t.Fatal("expected github to be disabled")
	}

	if _, err := tools.serverEnable(context.Background(), callWithName(mcp.CallToolRequest{}, "github")); err != nil {
		t.Fatalf("serverEnable: %v", err)
	}
	if !backends.Enabled("github") {
		t.Fatal("expected github to be enabled again")
	}
}

func TestServerEnableRejectsUnknownBackend(t *testing.T) {
	tools, _ := newTestTools(t)
	res, _ := tools.serverEnable(context.Background(), callWithName(mcp.CallToolRequest{}, "ghost"))
	if !res.IsError {
		t.Fatal("expected an error result for an unknown backend")
	}
}

func TestTracingGetTraceReturnsRecordedTrace(t *testing.T) {
	tools, _ := newTestTools(t)
	res, err := tools.tracingGetTrace(context.Background(), callWithName(mcp.CallToolRequest{}, "t1"))
	if err != nil {
		t.Fatalf("tracingGetTrace: %v", err)
	}
	if toolResultText(t, res) == "" {
		t.Fatal("expected trace JSON in result")
	}
}

func TestTracingGetTraceReportsUnknownID(t *testing.T) {
	tools, _ := newTestTools(t)
	res, _ := tools.tracingGetTrace(context.Background(), callWithName(mcp.CallToolRequest{}, "missing"))
	if !res.IsError {
		t.Fatal("expected an error result for an unrecorded trace id")
	}
}
