package plugin

import (
	"context"
	"testing"
	"time"

	"github.com/stacklok/mcprelay/internal/config"
	"github.com/stacklok/mcprelay/internal/wire"
)

func echoLayer(name string, poolSize, maxConcurrent int) config.PluginLayer {
	return config.PluginLayer{
		NodeExecutable:          "sh",
		MaxConcurrentExecutions: maxConcurrent,
		PoolSizePerPlugin:       poolSize,
		DefaultTimeout:          time.Second,
		Plugins: []config.Plugin{
			{
				Name:       name,
				Executable: "testdata/echo_plugin.sh",
				Phase:      config.PhaseRequest,
				Enabled:    true,
			},
		},
	}
}

func TestPoolExecuteSpawnsAndReturnsResponse(t *testing.T) {
	p := NewPool(echoLayer("echoer", 2, 4))

	resp, err := p.Execute(context.Background(), "echoer", wire.PluginRequest{ToolName: "t"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Text != "pooled-ok" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestPoolExecuteReusesWarmProcess(t *testing.T) {
	p := NewPool(echoLayer("echoer", 2, 4))

	if _, err := p.Execute(context.Background(), "echoer", wire.PluginRequest{ToolName: "t"}); err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	if len(p.fifos["echoer"]) != 1 {
		t.Fatalf("expected the process to be returned to the pool, got fifo len %d", len(p.fifos["echoer"]))
	}

	reused := p.fifos["echoer"][0]
	if _, err := p.Execute(context.Background(), "echoer", wire.PluginRequest{ToolName: "t"}); err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if p.fifos["echoer"][0] != reused {
		t.Error("expected the same warm process to be reused across calls")
	}
}

func TestPoolExecuteUnknownPluginErrors(t *testing.T) {
	p := NewPool(echoLayer("echoer", 1, 1))
	_, err := p.Execute(context.Background(), "does-not-exist", wire.PluginRequest{})
	if err == nil {
		t.Fatal("expected error for unknown plugin")
	}
}

func TestPoolReleaseDiscardsUnhealthyProcess(t *testing.T) {
	p := NewPool(echoLayer("echoer", 1, 1))
	proc := &process{name: "echoer", healthy: false}
	p.release("echoer", proc)

	if len(p.fifos["echoer"]) != 0 {
		t.Error("expected unhealthy process to be discarded, not pooled")
	}
}

func TestPoolReleaseRespectsPoolSizeCeiling(t *testing.T) {
	p := NewPool(echoLayer("echoer", 1, 4))
	p.fifos["echoer"] = []*process{{name: "echoer", healthy: true}}

	extra := &process{name: "echoer", healthy: true}
	p.release("echoer", extra)

	if len(p.fifos["echoer"]) != 1 {
		t.Errorf("expected fifo to stay capped at pool size 1, got %d", len(p.fifos["echoer"]))
	}
}
