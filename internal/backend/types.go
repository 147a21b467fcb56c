// Package backend implements the per-backend lifecycle state machine of
// spec §4.2: a supervised process or remote peer, its transport, health
// checks, and restart policy, exposed to the rest of the proxy only by
// name (internal/backend/registry.go) so no component outside this
// package ever holds a direct reference to a backend's transport or
// in-flight request map (spec §9, cyclic references).
package backend

import (
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stacklok/mcprelay/internal/config"
)

// State is one node of the spec §4.2 lifecycle state machine.
type State string

const (
	StateStopped      State = "stopped"
	StateStarting     State = "starting"
	StateInitializing State = "initializing"
	StateReady        State = "ready"
	StateDegraded     State = "degraded"
	StateFailed       State = "failed"
	StateRestarting   State = "restarting"
	StateStopping     State = "stopping"
)

// CorrelationEntry matches an inbound client request id to the outbound id
// minted for the backend call, per spec §3.
type CorrelationEntry struct {
	InboundID  any
	OutboundID any
	Backend    string
	Started    time.Time
	Done       chan CorrelationResult
}

// CorrelationResult is delivered exactly once on a CorrelationEntry's Done
// channel.
type CorrelationResult struct {
	Result *mcp.CallToolResult
	Raw    []byte
	Err    error
}

// RuntimeState is the mutable, lock-guarded state of one backend (spec §3
// "Backend runtime state").
type RuntimeState struct {
	mu sync.RWMutex

	state             State
	consecutiveFails  int
	lastHealthCheck   time.Time
	nextRestartAt     time.Time
	restartAttempt    int
	capabilities      mcp.ServerCapabilities
	tools             []mcp.Tool
	prompts           []mcp.Prompt
	resources         []mcp.Resource
	resourceTemplates []mcp.ResourceTemplate
	lastErr           error
}

func (r *RuntimeState) snapshot() RuntimeSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RuntimeSnapshot{
		State:            r.state,
		ConsecutiveFails: r.consecutiveFails,
		LastHealthCheck:  r.lastHealthCheck,
		NextRestartAt:    r.nextRestartAt,
		RestartAttempt:   r.restartAttempt,
		LastErr:          r.lastErr,
	}
}

// RuntimeSnapshot is a point-in-time, lock-free copy of RuntimeState for
// read-only consumers (status commands, proxy-native resources).
type RuntimeSnapshot struct {
	State            State
	ConsecutiveFails int
	LastHealthCheck  time.Time
	NextRestartAt    time.Time
	RestartAttempt   int
	LastErr          error
}

// Descriptor is the immutable configuration of one backend (spec §3
// "Backend descriptor"), derived from config.Backend at construction time.
type Descriptor struct {
	Name                string
	Enabled             bool
	Transport           config.TransportKind
	Command             string
	Args                []string
	Env                 map[string]string
	URL                 string
	Headers             map[string]string
	InitializationDelay time.Duration
	Restart             config.RestartPolicy
	Health              *config.HealthCheck
}

// NewDescriptor adapts a config.Backend into the descriptor a supervised
// Backend is built from.
func NewDescriptor(b config.Backend) Descriptor {
	return Descriptor{
		Name:                b.Name,
		Enabled:             b.Enabled,
		Transport:           b.Transport,
		Command:             b.Command,
		Args:                b.Args,
		Env:                 b.Env,
		URL:                 b.URL,
		Headers:             b.Headers,
		InitializationDelay: b.InitializationDelay,
		Restart:             b.Restart,
		Health:              b.Health,
	}
}
