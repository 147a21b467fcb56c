package router

import (
	"context"
	"testing"

	"github.com/thejerf/suture/v4"

	"github.com/stacklok/mcprelay/internal/backend"
	"github.com/stacklok/mcprelay/internal/capability"
	"github.com/stacklok/mcprelay/internal/overrides"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *backend.Registry) {
	t.Helper()
	t.Setenv("MCP_PROXY_PROJECT_DIR", t.TempDir())

	backends := backend.NewRegistry()
	caps := capability.NewRegistry(backends)
	ov, err := overrides.Load()
	if err != nil {
		t.Fatalf("overrides.Load: %v", err)
	}
	return New(backends, caps, ov, nil, nil, nil), backends
}

func TestCallToolRejectsUnnamespacedTool(t *testing.T) {
	d, _ := newTestDispatcher(t)
	_, err := d.CallTool(context.Background(), "not_namespaced", nil)
	if err == nil {
		t.Fatal("expected error for a tool name without the namespace separator")
	}
}

func TestCallToolRejectsUnknownBackend(t *testing.T) {
	d, _ := newTestDispatcher(t)
	_, err := d.CallTool(context.Background(), "ghost__tool", nil)
	if err == nil {
		t.Fatal("expected error for an unregistered backend")
	}
}

func TestCallToolRejectsDisabledBackend(t *testing.T) {
	d, backends := newTestDispatcher(t)

	b := backend.New(backend.Descriptor{Name: "serverA", Enabled: false}, nil)
	backends.Register(b, suture.ServiceToken{})

	_, err := d.CallTool(context.Background(), "serverA__tool", nil)
	if err == nil {
		t.Fatal("expected error for a disabled backend")
	}
}

func TestEnabledForPrefersOverrideOverBackendDefault(t *testing.T) {
	d, backends := newTestDispatcher(t)

	b := backend.New(backend.Descriptor{Name: "serverA", Enabled: false}, nil)
	backends.Register(b, suture.ServiceToken{})

	if d.enabledFor("serverA") {
		t.Fatal("expected serverA to start disabled")
	}

	if err := d.overrides.SetEnabled("serverA", true); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if !d.enabledFor("serverA") {
		t.Error("expected the override to enable serverA despite its disabled default")
	}
}

func TestTrackerBeginCompleteRoundTrip(t *testing.T) {
	tr := NewTracker()
	entry := tr.Begin("req-1", "serverA")

	outboundID := entry.OutboundID.(uint64)
	tr.Complete(outboundID, backend.CorrelationResult{Raw: []byte("ok")})

	select {
	case res := <-entry.Done:
		if string(res.Raw) != "ok" {
			t.Fatalf("unexpected result %+v", res)
		}
	default:
		t.Fatal("expected a result to be delivered on Done")
	}

	if tr.Len() != 0 {
		t.Errorf("expected tracker to forget completed entries, got %d remaining", tr.Len())
	}
}

func TestTrackerForgetDropsEntryWithoutDelivering(t *testing.T) {
	tr := NewTracker()
	entry := tr.Begin("req-1", "serverA")
	tr.Forget(entry.OutboundID.(uint64))

	if tr.Len() != 0 {
		t.Errorf("expected forgotten entry to be removed, got %d remaining", tr.Len())
	}
}
