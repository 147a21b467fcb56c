package plugin

import (
	"context"
	"testing"

	"github.com/stacklok/mcprelay/internal/config"
	"github.com/stacklok/mcprelay/internal/wire"
)

func TestNewChainSortsByOrderAndDropsDisabled(t *testing.T) {
	layer := config.PluginLayer{
		Plugins: []config.Plugin{
			{Name: "c", Phase: config.PhaseRequest, Order: 2, Enabled: true},
			{Name: "a", Phase: config.PhaseRequest, Order: 0, Enabled: true},
			{Name: "skip", Phase: config.PhaseRequest, Order: 1, Enabled: false},
			{Name: "b", Phase: config.PhaseRequest, Order: 1, Enabled: true},
		},
	}
	c := NewChain(nil, layer)

	got := c.byPhase[config.PhaseRequest]
	if len(got) != 3 {
		t.Fatalf("expected 3 enabled plugins, got %d", len(got))
	}
	want := []string{"a", "b", "c"}
	for i, name := range want {
		if got[i].Name != name {
			t.Errorf("position %d: expected %s, got %s", i, name, got[i].Name)
		}
	}
}

// fakeExecutor implements executor for chain tests, keyed by plugin name.
type fakeExecutor struct {
	responses map[string]wire.PluginResponse
	errs      map[string]error
	calls     []string
}

func (f *fakeExecutor) Execute(_ context.Context, pluginName string, _ wire.PluginRequest) (wire.PluginResponse, error) {
	f.calls = append(f.calls, pluginName)
	if err, ok := f.errs[pluginName]; ok {
		return wire.PluginResponse{}, err
	}
	return f.responses[pluginName], nil
}

func TestChainRunHaltsOnContinueFalse(t *testing.T) {
	c := &Chain{
		byPhase: map[config.PluginPhase][]config.Plugin{
			config.PhaseRequest: {
				{Name: "first", Phase: config.PhaseRequest, Order: 0, Enabled: true},
				{Name: "second", Phase: config.PhaseRequest, Order: 1, Enabled: true},
			},
		},
		pool: &fakeExecutor{
			responses: map[string]wire.PluginResponse{
				"first": {Text: "halted", Continue: false},
			},
		},
	}

	result := c.Run(context.Background(), "backendA", config.PhaseRequest, "tool", "initial")
	if result.Text != "halted" {
		t.Fatalf("expected chain to stop at first plugin's output, got %q", result.Text)
	}
	if !result.Blocked {
		t.Fatal("expected Blocked to be set when a plugin halts the chain")
	}
}

func TestChainRunHaltsOnBlockWithError(t *testing.T) {
	c := &Chain{
		byPhase: map[config.PluginPhase][]config.Plugin{
			config.PhaseRequest: {
				{Name: "blocker", Phase: config.PhaseRequest, Order: 0, Enabled: true},
				{Name: "never", Phase: config.PhaseRequest, Order: 1, Enabled: true},
			},
		},
		pool: &fakeExecutor{
			responses: map[string]wire.PluginResponse{
				"blocker": {Text: "[BLOCKED]", Continue: false, Error: "policy"},
			},
		},
	}

	result := c.Run(context.Background(), "backendA", config.PhaseRequest, "tool", "initial")
	if !result.Blocked {
		t.Fatal("expected a well-formed continue:false response, even with Error set, to halt the chain")
	}
	if result.Text != "[BLOCKED]" {
		t.Fatalf("expected the blocking plugin's text to survive, got %q", result.Text)
	}
	if len(result.Steps) != 1 || result.Steps[0].Status != "blocked" {
		t.Fatalf("expected a single blocked step, got %+v", result.Steps)
	}
}

func TestChainRunSkipsFailingPluginAndKeepsPriorText(t *testing.T) {
	fe := &fakeExecutor{
		responses: map[string]wire.PluginResponse{
			"ok": {Text: "final", Continue: true},
		},
		errs: map[string]error{
			"broken": errBoom,
		},
	}
	c := &Chain{
		byPhase: map[config.PluginPhase][]config.Plugin{
			config.PhaseRequest: {
				{Name: "broken", Phase: config.PhaseRequest, Order: 0, Enabled: true},
				{Name: "ok", Phase: config.PhaseRequest, Order: 1, Enabled: true},
			},
		},
		pool: fe,
	}

	result := c.Run(context.Background(), "backendA", config.PhaseRequest, "tool", "initial")
	if result.Text != "final" {
		t.Fatalf("expected chain to continue past the broken plugin, got %q", result.Text)
	}
	if len(result.Skipped) != 1 || result.Skipped[0] != "broken" {
		t.Fatalf("expected broken to be recorded as skipped, got %v", result.Skipped)
	}
}

func TestChainRunSkipsPluginBoundToOtherBackend(t *testing.T) {
	fe := &fakeExecutor{responses: map[string]wire.PluginResponse{}}
	c := &Chain{
		byPhase: map[config.PluginPhase][]config.Plugin{
			config.PhaseRequest: {
				{Name: "scoped", Phase: config.PhaseRequest, Order: 0, Enabled: true, Backend: "other"},
			},
		},
		pool: fe,
	}

	result := c.Run(context.Background(), "backendA", config.PhaseRequest, "tool", "initial")
	if result.Text != "initial" {
		t.Fatalf("expected text unchanged when no plugin applies, got %q", result.Text)
	}
	if len(fe.calls) != 0 {
		t.Errorf("expected no plugin invocations, got %v", fe.calls)
	}
}

func TestChainRunAccumulatesMetadataPerPlugin(t *testing.T) {
	fe := &fakeExecutor{
		responses: map[string]wire.PluginResponse{
			"tagger": {Text: "tagged", Continue: true, Metadata: []byte(`{"score":1}`)},
		},
	}
	c := &Chain{
		byPhase: map[config.PluginPhase][]config.Plugin{
			config.PhaseResponse: {
				{Name: "tagger", Phase: config.PhaseResponse, Order: 0, Enabled: true},
			},
		},
		pool: fe,
	}

	result := c.Run(context.Background(), "backendA", config.PhaseResponse, "tool", "initial")
	if string(result.Metadata["tagger"]) != `{"score":1}` {
		t.Fatalf("expected tagger's metadata to be recorded, got %v", result.Metadata)
	}
}

func TestChainRunRecordsStepsForEveryOutcome(t *testing.T) {
	fe := &fakeExecutor{
		responses: map[string]wire.PluginResponse{
			"ok": {Text: "final", Continue: true},
		},
		errs: map[string]error{
			"broken": errBoom,
		},
	}
	c := &Chain{
		byPhase: map[config.PluginPhase][]config.Plugin{
			config.PhaseRequest: {
				{Name: "broken", Phase: config.PhaseRequest, Order: 0, Enabled: true},
				{Name: "ok", Phase: config.PhaseRequest, Order: 1, Enabled: true},
			},
		},
		pool: fe,
	}

	result := c.Run(context.Background(), "backendA", config.PhaseRequest, "tool", "initial")
	if len(result.Steps) != 2 {
		t.Fatalf("expected 2 recorded steps, got %d", len(result.Steps))
	}
	if result.Steps[0].Plugin != "broken" || result.Steps[0].Status != "skipped_execution" {
		t.Errorf("unexpected first step: %+v", result.Steps[0])
	}
	if result.Steps[1].Plugin != "ok" || result.Steps[1].Status != "ok" {
		t.Errorf("unexpected second step: %+v", result.Steps[1])
	}
}

var errBoom = &frameMessageError{"boom"}
