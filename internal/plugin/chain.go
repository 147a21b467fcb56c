package plugin

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/stacklok/mcprelay/internal/config"
	"github.com/stacklok/mcprelay/internal/logging"
	"github.com/stacklok/mcprelay/internal/metrics"
	"github.com/stacklok/mcprelay/internal/wire"
)

// executor runs one plugin request/response exchange. *Pool satisfies this;
// tests substitute a fake to exercise chain folding without subprocesses.
type executor interface {
	Execute(ctx context.Context, pluginName string, req wire.PluginRequest) (wire.PluginResponse, error)
}

// Chain walks the enabled plugins bound to a (backend, phase) pair in order
// and folds each plugin's output into the next's input (spec §4.6). A
// plugin bound with an empty Backend applies to every backend.
type Chain struct {
	pool    executor
	byPhase map[config.PluginPhase][]config.Plugin
}

// NewChain indexes layer.Plugins by phase, sorted by Order, for repeated
// lookup during request handling.
func NewChain(pool *Pool, layer config.PluginLayer) *Chain {
	byPhase := make(map[config.PluginPhase][]config.Plugin)
	for _, p := range layer.Plugins {
		if !p.Enabled {
			continue
		}
		byPhase[p.Phase] = append(byPhase[p.Phase], p)
	}
	for phase := range byPhase {
		plugins := byPhase[phase]
		sort.SliceStable(plugins, func(i, j int) bool { return plugins[i].Order < plugins[j].Order })
		byPhase[phase] = plugins
	}
	return &Chain{pool: pool, byPhase: byPhase}
}

// Step is one plugin's contribution to a Trace record (spec §3), recorded
// regardless of whether the plugin succeeded, was skipped, or blocked the
// chain.
type Step struct {
	Plugin   string
	Duration time.Duration
	Status   string // "ok", "blocked", "skipped_execution", "skipped_plugin_error"
	Metadata json.RawMessage
}

// Result is the folded outcome of running a chain: the final text, the
// accumulated per-plugin metadata, and the ordered step trace (SPEC_FULL
// §3's badger-backed Trace record is built from Steps by the dispatcher).
type Result struct {
	Text     string
	Metadata map[string]json.RawMessage
	Skipped  []string
	Steps    []Step

	// Blocked is set when a plugin halted the chain with Continue=false
	// (spec §4.6/§8's "Request blocker" scenario). Text is that plugin's
	// final output and callers must not proceed past it.
	Blocked bool
}

// Run executes every enabled plugin bound to backend (or globally bound)
// for phase, in order, feeding each plugin's text output as the next
// plugin's RawContent. A plugin that times out, crashes, or returns
// malformed output is logged and skipped, preserving the previous frame's
// content (spec §4.6). A plugin response with Continue=false halts the
// chain immediately with its text as the final result.
func (c *Chain) Run(ctx context.Context, backend string, phase config.PluginPhase, toolName, initialText string) Result {
	result := Result{Text: initialText, Metadata: make(map[string]json.RawMessage)}

	for _, p := range c.byPhase[phase] {
		if p.Backend != "" && p.Backend != backend {
			continue
		}

		req := wire.PluginRequest{
			ToolName:   toolName,
			RawContent: result.Text,
			Metadata:   wire.PluginMetadata{ServerName: backend, Phase: string(phase)},
		}

		start := time.Now()
		resp, err := c.pool.Execute(ctx, p.Name, req)
		elapsed := time.Since(start)

		if err != nil {
			logging.PluginFailure(p.Name, string(phase), "execution", err)
			result.Skipped = append(result.Skipped, p.Name)
			result.Steps = append(result.Steps, Step{Plugin: p.Name, Duration: elapsed, Status: "skipped_execution"})
			metrics.PluginExecutionsTotal.WithLabelValues(p.Name, string(phase), "skipped_execution").Inc()
			continue
		}
		if resp.Error != "" && resp.Continue {
			logging.PluginFailure(p.Name, string(phase), "plugin_error", &frameMessageError{resp.Error})
			result.Skipped = append(result.Skipped, p.Name)
			result.Steps = append(result.Steps, Step{Plugin: p.Name, Duration: elapsed, Status: "skipped_plugin_error"})
			metrics.PluginExecutionsTotal.WithLabelValues(p.Name, string(phase), "skipped_plugin_error").Inc()
			continue
		}

		result.Text = resp.Text
		if len(resp.Metadata) > 0 {
			result.Metadata[p.Name] = resp.Metadata
		}

		status := "ok"
		if !resp.Continue {
			status = "blocked"
		}
		result.Steps = append(result.Steps, Step{Plugin: p.Name, Duration: elapsed, Status: status, Metadata: resp.Metadata})
		metrics.PluginExecutionsTotal.WithLabelValues(p.Name, string(phase), status).Inc()

		if !resp.Continue {
			result.Blocked = true
			break
		}
	}

	return result
}

type frameMessageError struct{ msg string }

func (e *frameMessageError) Error() string { return e.msg }
