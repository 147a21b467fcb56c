package plugin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/stacklok/mcprelay/internal/config"
	"github.com/stacklok/mcprelay/internal/logging"
	"github.com/stacklok/mcprelay/internal/metrics"
	"github.com/stacklok/mcprelay/internal/wire"
)

const poolSubsystem = "plugin.pool"

// Pool is the per-plugin warm-process FIFO plus the global semaphore
// bounding total concurrent executions across every plugin (spec §4.5).
type Pool struct {
	nodeExecutable string
	poolSize       int
	defaultTimeout time.Duration

	global *semaphore.Weighted

	mu    sync.Mutex
	fifos map[string][]*process
	specs map[string]config.Plugin
}

// NewPool builds a pool from the plugin layer configuration.
func NewPool(layer config.PluginLayer) *Pool {
	specs := make(map[string]config.Plugin, len(layer.Plugins))
	for _, p := range layer.Plugins {
		specs[p.Name] = p
	}
	return &Pool{
		nodeExecutable: layer.NodeExecutable,
		poolSize:       layer.PoolSizePerPlugin,
		defaultTimeout: layer.DefaultTimeout,
		global:         semaphore.NewWeighted(int64(layer.MaxConcurrentExecutions)),
		fifos:          make(map[string][]*process),
		specs:          specs,
	}
}

// Execute acquires a warm process for pluginName (spawning one if the FIFO
// is empty and the global semaphore permits), runs one request/response
// exchange, and releases the process back to the pool or discards it if it
// came back unhealthy (spec §4.5's Acquire/Execute/Release cycle).
func (p *Pool) Execute(ctx context.Context, pluginName string, req wire.PluginRequest) (wire.PluginResponse, error) {
	spec, ok := p.specs[pluginName]
	if !ok {
		return wire.PluginResponse{}, fmt.Errorf("plugin/pool: unknown plugin %q", pluginName)
	}

	if err := p.global.Acquire(ctx, 1); err != nil {
		return wire.PluginResponse{}, fmt.Errorf("plugin/pool: acquiring global slot: %w", err)
	}
	defer p.global.Release(1)

	proc, err := p.acquireProcess(ctx, spec)
	if err != nil {
		return wire.PluginResponse{}, err
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = p.defaultTimeout
	}

	resp, err := proc.exchange(ctx, req, timeout)
	p.release(pluginName, proc)
	return resp, err
}

func (p *Pool) acquireProcess(ctx context.Context, spec config.Plugin) (*process, error) {
	p.mu.Lock()
	fifo := p.fifos[spec.Name]
	for len(fifo) > 0 {
		proc := fifo[0]
		fifo = fifo[1:]
		p.fifos[spec.Name] = fifo
		if proc.healthy && !proc.exited() {
			p.mu.Unlock()
			metrics.PluginPoolSize.WithLabelValues(spec.Name).Set(float64(len(fifo)))
			return proc, nil
		}
	}
	p.mu.Unlock()

	executable := spec.Executable
	var args []string
	if p.nodeExecutable != "" {
		args = []string{executable}
		executable = p.nodeExecutable
	}
	return startProcess(ctx, spec.Name, executable, args)
}

func (p *Pool) release(pluginName string, proc *process) {
	if !proc.healthy || proc.exited() {
		logging.Debug(poolSubsystem, "discarding unhealthy process for plugin %s", pluginName)
		_ = proc.kill()
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.fifos[pluginName]) >= p.poolSize {
		go func() { _ = proc.kill() }()
		return
	}
	p.fifos[pluginName] = append(p.fifos[pluginName], proc)
	metrics.PluginPoolSize.WithLabelValues(pluginName).Set(float64(len(p.fifos[pluginName])))
}

// Drain sleeps for grace and then kills every warm process across all
// plugins (spec §4.5 Eviction). It does not track in-flight executions and
// does not block new ones. Called on shutdown.
func (p *Pool) Drain(grace time.Duration) {
	time.Sleep(grace)

	p.mu.Lock()
	defer p.mu.Unlock()
	for name, fifo := range p.fifos {
		for _, proc := range fifo {
			_ = proc.kill()
		}
		delete(p.fifos, name)
	}
}
