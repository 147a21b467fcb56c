package proxynative

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/thejerf/suture/v4"

	"github.com/stacklok/mcprelay/internal/backend"
	"github.com/stacklok/mcprelay/internal/config"
)

func newTestResources(t *testing.T, trace TraceStore) (*Resources, *backend.Registry) {
	t.Helper()
	backends := backend.NewRegistry()
	cfg := config.Defaults()
	cfg.Backends = []config.Backend{{Name: "github", Enabled: true, Transport: config.TransportStdio}}
	return NewResources(backends, cfg, trace, nil, nil), backends
}

func readURI(t *testing.T, contents []mcp.ResourceContents) string {
	t.Helper()
	for _, c := range contents {
		if tc, ok := c.(mcp.TextResourceContents); ok {
			return tc.Text
		}
	}
	return ""
}

func TestReadConfigReturnsLoadedConfig(t *testing.T) {
	res, _ := newTestResources(t, nil)
	contents, err := res.readConfig(context.Background(), mcp.ReadResourceRequest{
		Params: struct {
			URI       string         `json:"uri"`
			Arguments map[string]any `json:"arguments,omitempty"`
		}{URI: "proxy://config"},
	})
	if err != nil {
		t.Fatalf("readConfig: %v", err)
	}
	if !strings.Contains(readURI(t, contents), "github") {
		t.Fatalf("expected config JSON to mention the configured backend, got %q", readURI(t, contents))
	}
}

func TestReadHealthListsRegisteredBackends(t *testing.T) {
	res, backends := newTestResources(t, nil)
	b := backend.New(backend.Descriptor{Name: "github", Enabled: true}, nil)
	backends.Register(b, suture.ServiceToken{})

	contents, err := res.readHealth(context.Background(), mcp.ReadResourceRequest{
		Params: struct {
			URI       string         `json:"uri"`
			Arguments map[string]any `json:"arguments,omitempty"`
		}{URI: "proxy://health"},
	})
	if err != nil {
		t.Fatalf("readHealth: %v", err)
	}
	if !strings.Contains(readURI(t, contents), "github") {
		t.Fatalf("expected health JSON to list github, got %q", readURI(t, contents))
	}
}

func TestReadLogsRejectsUnknownBackend(t *testing.T) {
	res, _ := newTestResources(t, nil)
	_, err := res.readLogs(context.Background(), mcp.ReadResourceRequest{
		Params: struct {
			URI       string         `json:"uri"`
			Arguments map[string]any `json:"arguments,omitempty"`
		}{URI: "proxy://logs/ghost"},
	})
	if err == nil {
		t.Fatal("expected an error for an unknown backend")
	}
}

func TestReadTraceReturnsRecordedTrace(t *testing.T) {
	trace := &fakeTraceStore{traces: map[string]json.RawMessage{"t1": json.RawMessage(`{"ok":true}`)}}
	res, _ := newTestResources(t, trace)
	contents, err := res.readTrace(context.Background(), mcp.ReadResourceRequest{
		Params: struct {
			URI       string         `json:"uri"`
			Arguments map[string]any `json:"arguments,omitempty"`
		}{URI: "proxy://trace/t1"},
	})
	if err != nil {
		t.Fatalf("readTrace: %v", err)
	}
	if readURI(t, contents) == "" {
		t.Fatal("expected trace content")
	}
}

func TestReadServerAspectRejectsUnknownAspect(t *testing.T) {
	res, backends := newTestResources(t, nil)
	b := backend.New(backend.Descriptor{Name: "github", Enabled: true}, nil)
	backends.Register(b, suture.ServiceToken{})

	_, err := res.readServerAspect(context.Background(), mcp.ReadResourceRequest{
		Params: struct {
			URI       string         `json:"uri"`
			Arguments map[string]any `json:"arguments,omitempty"`
		}{URI: "proxy://server/github/bogus"},
	})
	if err == nil {
		t.Fatal("expected an error for an unknown aspect")
	}
}
