package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/stacklok/mcprelay/internal/logging"
	"github.com/stacklok/mcprelay/internal/metrics"
	"github.com/stacklok/mcprelay/internal/relayerr"
	"github.com/stacklok/mcprelay/internal/wire"
)

// allStates lists every State value metrics.SetBackendState should zero out
// when one of them becomes current.
var allStates = []string{
	string(StateStopped), string(StateStarting), string(StateInitializing),
	string(StateReady), string(StateDegraded), string(StateFailed),
	string(StateRestarting), string(StateStopping),
}

const supervisorSubsystem = "backend.supervisor"

// Backend owns one downstream MCP server's whole lifecycle: its transport,
// its mcp-go client, and its runtime state. It implements suture.Service so
// a Tree (tree.go) can supervise it; Serve's own internal state machine
// (spec §4.2) sits underneath suture's outer restart loop, so a permanently
// Failed backend does not thrash suture's own backoff.
type Backend struct {
	Descriptor Descriptor
	state      RuntimeState

	onStateChange func(name string, s State)

	mu     sync.Mutex
	client *client.Client
	cb     *gobreaker.CircuitBreaker[struct{}]
}

// New constructs a Backend. onStateChange, if non-nil, is invoked on every
// transition so the capability registry (§4.3) can invalidate its cache.
func New(d Descriptor, onStateChange func(name string, s State)) *Backend {
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        d.Name + "-health",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			threshold := uint32(3)
			if d.Health != nil && d.Health.FailureThreshold > 0 {
				threshold = uint32(d.Health.FailureThreshold)
			}
			return counts.ConsecutiveFailures >= threshold
		},
	})

	b := &Backend{Descriptor: d, onStateChange: onStateChange, cb: cb}
	b.setState(StateStopped)
	return b
}

// Name returns the backend's configured name.
func (b *Backend) Name() string { return b.Descriptor.Name }

// Snapshot returns a point-in-time copy of the backend's runtime state.
func (b *Backend) Snapshot() RuntimeSnapshot { return b.state.snapshot() }

func (b *Backend) setState(s State) {
	b.state.mu.Lock()
	b.state.state = s
	b.state.mu.Unlock()
	metrics.SetBackendState(b.Descriptor.Name, string(s), allStates)
	if b.onStateChange != nil {
		b.onStateChange(b.Descriptor.Name, s)
	}
}

// Serve implements suture.Service. It runs the full Starting -> Ready ->
// {Degraded|Failed} -> Restarting loop described in spec §4.2 until ctx is
// canceled, at which point it transitions through Stopping to Stopped.
func (b *Backend) Serve(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			b.stop()
			return nil
		}

		if err := b.startOnce(ctx); err != nil {
			attempt++
			metrics.BackendRestartsTotal.WithLabelValues(b.Descriptor.Name).Inc()
			delay, ok := nextRestartDelay(b.Descriptor.Restart, attempt)
			if !ok {
				b.setState(StateFailed)
				logging.Error(supervisorSubsystem, err, "%s: permanently failed after %d attempts", b.Descriptor.Name, attempt-1)
				<-ctx.Done()
				b.stop()
				return nil
			}
			b.setState(StateRestarting)
			b.state.mu.Lock()
			b.state.nextRestartAt = time.Now().Add(delay)
			b.state.restartAttempt = attempt
			b.state.lastErr = err
			b.state.mu.Unlock()

			logging.Warn(supervisorSubsystem, "%s: restart attempt %d in %s: %v", b.Descriptor.Name, attempt, delay, err)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				b.stop()
				return nil
			}
		}

		attempt = 0
		b.serveReady(ctx)
		if ctx.Err() != nil {
			b.stop()
			return nil
		}
		// serveReady returned because of a health-check failure; loop back
		// through startOnce to restart the connection.
	}
}

func (b *Backend) startOnce(ctx context.Context) error {
	b.setState(StateStarting)

	if b.Descriptor.InitializationDelay > 0 {
		select {
		case <-time.After(b.Descriptor.InitializationDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c, err := b.dial(ctx)
	if err != nil {
		return relayerr.New(relayerr.KindBackendInitTimeout, "failed to connect to backend", err)
	}

	b.setState(StateInitializing)

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, err := c.Initialize(initCtx, mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: string(wire.Latest),
			ClientInfo: mcp.Implementation{
				Name:    "mcprelay",
				Version: "0.1.0",
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	})
	if err != nil {
		_ = c.Close()
		return relayerr.New(relayerr.KindBackendInitTimeout, "initialize handshake failed", err)
	}

	if err := b.refreshCapabilities(ctx, c); err != nil {
		_ = c.Close()
		return relayerr.New(relayerr.KindBackendInitTimeout, "capability discovery failed", err)
	}

	b.mu.Lock()
	b.client = c
	b.mu.Unlock()

	b.state.mu.Lock()
	b.state.capabilities = result.Capabilities
	b.state.consecutiveFails = 0
	b.state.mu.Unlock()

	b.setState(StateReady)
	return nil
}

func (b *Backend) dial(ctx context.Context) (*client.Client, error) {
	switch b.Descriptor.Transport {
	case "sse":
		c, err := client.NewSSEMCPClient(b.Descriptor.URL)
		if err != nil {
			return nil, err
		}
		if err := c.Start(ctx); err != nil {
			_ = c.Close()
			return nil, err
		}
		return c, nil
	case "websocket":
		return nil, fmt.Errorf("websocket backends are not yet bridged through mcp-go's client package")
	default:
		var envStrings []string
		for k, v := range b.Descriptor.Env {
			envStrings = append(envStrings, k+"="+v)
		}
		return client.NewStdioMCPClient(b.Descriptor.Command, envStrings, b.Descriptor.Args...)
	}
}

func (b *Backend) refreshCapabilities(ctx context.Context, c *client.Client) error {
	tools, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return err
	}
	prompts, err := c.ListPrompts(ctx, mcp.ListPromptsRequest{})
	if err != nil {
		prompts = &mcp.ListPromptsResult{}
	}
	resources, err := c.ListResources(ctx, mcp.ListResourcesRequest{})
	if err != nil {
		resources = &mcp.ListResourcesResult{}
	}
	templates, err := c.ListResourceTemplates(ctx, mcp.ListResourceTemplatesRequest{})
	if err != nil {
		templates = &mcp.ListResourceTemplatesResult{}
	}

	b.state.mu.Lock()
	b.state.tools = tools.Tools
	b.state.prompts = prompts.Prompts
	b.state.resources = resources.Resources
	b.state.resourceTemplates = templates.ResourceTemplates
	b.state.mu.Unlock()
	return nil
}

// serveReady polls health (if configured) until a failure threshold trips
// the circuit breaker, or ctx is canceled. Without a health check it
// returns, marked Failed, once the client has been torn down by
// ForceReconnect.
func (b *Backend) serveReady(ctx context.Context) {
	if b.Descriptor.Health == nil {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if b.Client() == nil {
					b.setState(StateFailed)
					return
				}
			}
		}
	}

	ticker := time.NewTicker(b.Descriptor.Health.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.healthCheck(ctx); err != nil {
				b.state.mu.Lock()
				b.state.consecutiveFails++
				fails := b.state.consecutiveFails
				b.state.mu.Unlock()

				if fails >= b.Descriptor.Health.FailureThreshold {
					b.setState(StateDegraded)
					logging.Warn(supervisorSubsystem, "%s: health check failed %d times, marking failed", b.Descriptor.Name, fails)
					b.setState(StateFailed)
					return
				}
			} else {
				b.state.mu.Lock()
				b.state.consecutiveFails = 0
				b.state.lastHealthCheck = time.Now()
				b.state.mu.Unlock()
			}
		}
	}
}

func (b *Backend) healthCheck(ctx context.Context) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		b.mu.Lock()
		c := b.client
		b.mu.Unlock()
		if c == nil {
			return struct{}{}, fmt.Errorf("no client")
		}
		timeout := b.Descriptor.Health.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return struct{}{}, c.Ping(pingCtx)
	})
	return err
}

func (b *Backend) stop() {
	b.setState(StateStopping)
	b.mu.Lock()
	c := b.client
	b.client = nil
	b.mu.Unlock()
	if c != nil {
		_ = c.Close()
	}
	b.setState(StateStopped)
}

// ForceReconnect tears down the current client connection, if any, so
// Serve's ready loop observes the missing client (through failing pings
// when a health check is configured, directly otherwise) and drives the
// backend back through Failed into a fresh restart attempt.
// Backs the server__restart proxy-native tool.
func (b *Backend) ForceReconnect() {
	b.mu.Lock()
	c := b.client
	b.client = nil
	b.mu.Unlock()
	if c != nil {
		_ = c.Close()
	}
}

// Client returns the live mcp-go client for this backend, or nil if it is
// not currently Ready.
func (b *Backend) Client() *client.Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.client
}

// Capabilities returns the most recently discovered tool/prompt/resource
// listing.
func (b *Backend) Capabilities() ([]mcp.Tool, []mcp.Prompt, []mcp.Resource, []mcp.ResourceTemplate) {
	b.state.mu.RLock()
	defer b.state.mu.RUnlock()
	return b.state.tools, b.state.prompts, b.state.resources, b.state.resourceTemplates
}
