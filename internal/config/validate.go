package config

import (
	"fmt"
)

// Validate checks a loaded Config for the structural and semantic errors
// that spec §7 treats as startup-fatal (only configuration errors are
// fatal; everything else is locally recovered at runtime).
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	switch cfg.Listen.Transport {
	case TransportStdio, TransportSSE, TransportWebSocket:
	default:
		return fmt.Errorf("listen.transport: unsupported transport %q", cfg.Listen.Transport)
	}

	seen := make(map[string]bool, len(cfg.Backends))
	for i, b := range cfg.Backends {
		if b.Name == "" {
			return fmt.Errorf("backends[%d]: name is required", i)
		}
		if seen[b.Name] {
			return fmt.Errorf("backends[%d]: duplicate backend name %q", i, b.Name)
		}
		seen[b.Name] = true

		switch b.Transport {
		case TransportStdio:
			if b.Command == "" {
				return fmt.Errorf("backend %q: stdio transport requires command", b.Name)
			}
		case TransportSSE, TransportWebSocket:
			if b.URL == "" {
				return fmt.Errorf("backend %q: %s transport requires url", b.Name, b.Transport)
			}
		default:
			return fmt.Errorf("backend %q: unsupported transport %q", b.Name, b.Transport)
		}

		if b.Restart.MaxDelay > 0 && b.Restart.InitialDelay > b.Restart.MaxDelay {
			return fmt.Errorf("backend %q: restart.initialDelay must not exceed restart.maxDelay", b.Name)
		}
		if b.Health != nil && b.Health.FailureThreshold < 1 {
			return fmt.Errorf("backend %q: health.failureThreshold must be >= 1", b.Name)
		}
	}

	if cfg.Plugins.MaxConcurrentExecutions < 1 {
		return fmt.Errorf("plugins.maxConcurrentExecutions must be >= 1")
	}
	if cfg.Plugins.PoolSizePerPlugin < 1 {
		return fmt.Errorf("plugins.poolSizePerPlugin must be >= 1")
	}

	pluginNames := make(map[string]bool, len(cfg.Plugins.Plugins))
	orderKeys := make(map[string]bool)
	for i, p := range cfg.Plugins.Plugins {
		if p.Name == "" {
			return fmt.Errorf("plugins.plugins[%d]: name is required", i)
		}
		if pluginNames[p.Name] {
			return fmt.Errorf("plugins.plugins[%d]: duplicate plugin name %q", i, p.Name)
		}
		pluginNames[p.Name] = true

		if p.Phase != PhaseRequest && p.Phase != PhaseResponse {
			return fmt.Errorf("plugin %q: phase must be %q or %q", p.Name, PhaseRequest, PhaseResponse)
		}
		if p.Backend != "" && !seen[p.Backend] {
			return fmt.Errorf("plugin %q: backend binding %q does not match any configured backend", p.Name, p.Backend)
		}

		// Ordering keys within one (backend, phase) must be unique -
		// spec §3 invariant on the Plugin descriptor.
		key := fmt.Sprintf("%s|%s|%d", p.Backend, p.Phase, p.Order)
		if orderKeys[key] {
			return fmt.Errorf("plugin %q: order %d collides with another plugin bound to backend %q phase %q",
				p.Name, p.Order, p.Backend, p.Phase)
		}
		orderKeys[key] = true
	}

	return nil
}
