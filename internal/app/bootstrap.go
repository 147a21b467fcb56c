package app

import (
	"context"
	"fmt"
	"os"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/stacklok/mcprelay/internal/backend"
	"github.com/stacklok/mcprelay/internal/capability"
	"github.com/stacklok/mcprelay/internal/config"
	"github.com/stacklok/mcprelay/internal/logging"
	"github.com/stacklok/mcprelay/internal/metrics"
	"github.com/stacklok/mcprelay/internal/overrides"
	"github.com/stacklok/mcprelay/internal/plugin"
	"github.com/stacklok/mcprelay/internal/proxynative"
	"github.com/stacklok/mcprelay/internal/router"
	"github.com/stacklok/mcprelay/internal/trace"
)

const bootstrapSubsystem = "app.bootstrap"

// drainGrace is how long shutdown waits, via Pool.Drain, before killing
// warm plugin processes outright.
const drainGrace = 2 * time.Second

// Application is a fully wired mcprelay process: every component named in
// SPEC_FULL §2, constructed once at startup and torn down together on
// shutdown. Mirrors the teacher's two-phase NewApplication/Run split.
type Application struct {
	appCfg *Config
	cfg    *config.Config

	tree      *backend.Tree
	backends  *backend.Registry
	caps      *capability.Registry
	overrides *overrides.Store
	pool      *plugin.Pool
	traces    *trace.Store
	dispatcher *router.Dispatcher

	mcpServer *mcpserver.MCPServer
	transport transportRunner
}

// NewApplication performs the full bootstrap sequence: load and validate
// configuration, load the override store, open the trace store, build the
// backend and capability registries and the supervisor tree, then the
// plugin pool and chains, the dispatcher, the client-facing MCP server, and
// its transport, in that order.
func NewApplication(appCfg *Config) (*Application, error) {
	logging.Init(appCfg.logLevel(), os.Stderr)

	cfg, err := config.Load(appCfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("app: loading config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("app: invalid config: %w", err)
	}

	ov, err := overrides.Load()
	if err != nil {
		return nil, fmt.Errorf("app: loading overrides: %w", err)
	}

	traces, err := openTraceStore(cfg.Trace)
	if err != nil {
		return nil, fmt.Errorf("app: opening trace store: %w", err)
	}

	backends := backend.NewRegistry()
	caps := capability.NewRegistry(backends)
	tree := backend.NewTree(logging.Default())

	onStateChange := func(name string, _ backend.State) {
		caps.Refresh()
	}
	for _, bc := range cfg.Backends {
		b := backend.New(backend.NewDescriptor(bc), onStateChange)
		token := tree.Add(b)
		backends.Register(b, token)
	}

	pool := plugin.NewPool(cfg.Plugins)
	requestChain := plugin.NewChain(pool, cfg.Plugins)
	responseChain := plugin.NewChain(pool, cfg.Plugins)

	dispatcher := router.New(backends, caps, ov, requestChain, responseChain, traces)

	hooks := &mcpserver.Hooks{}
	hooks.AddAfterInitialize(func(ctx context.Context, _ any, message *mcpgo.InitializeRequest, _ *mcpgo.InitializeResult) {
		sessionID := "stdio"
		if session := mcpserver.ClientSessionFromContext(ctx); session != nil && session.SessionID() != "" {
			sessionID = session.SessionID()
		}
		dispatcher.NegotiateSession(sessionID, message.Params.ProtocolVersion)
	})

	mcpSrv := mcpserver.NewMCPServer(
		"mcprelay",
		"0.1.0",
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithPromptCapabilities(true),
		mcpserver.WithHooks(hooks),
	)

	restart := func(name string) error {
		b, ok := backends.Lookup(name)
		if !ok {
			return fmt.Errorf("app: unknown backend %q", name)
		}
		b.ForceReconnect()
		return nil
	}
	tools := proxynative.NewTools(backends, ov, traces, restart)
	resources := proxynative.NewResources(backends, cfg, traces, nil, metrics.Snapshot)

	dispatcher.RegisterWith(mcpSrv)
	dispatcher.RegisterResourcesWith(mcpSrv)
	tools.RegisterWith(mcpSrv)
	resources.RegisterWith(mcpSrv)

	if err := ov.Watch(func() { caps.Refresh() }); err != nil {
		logging.Warn(bootstrapSubsystem, "override file watch unavailable: %v", err)
	}

	transport, err := newTransportRunner(cfg.Listen, mcpSrv)
	if err != nil {
		return nil, fmt.Errorf("app: configuring listener: %w", err)
	}

	return &Application{
		appCfg:     appCfg,
		cfg:        cfg,
		tree:       tree,
		backends:   backends,
		caps:       caps,
		overrides:  ov,
		pool:       pool,
		traces:     traces,
		dispatcher: dispatcher,
		mcpServer:  mcpSrv,
		transport:  transport,
	}, nil
}

func openTraceStore(cfg config.Trace) (*trace.Store, error) {
	if cfg.Dir == "" {
		return trace.OpenInMemory(cfg.RetentionWindow)
	}
	return trace.Open(cfg.Dir, cfg.RetentionWindow)
}

// Run starts the backend supervisor tree and the client-facing transport,
// blocking until ctx is canceled or either fails. Shutdown always runs,
// regardless of how Run returns.
func (a *Application) Run(ctx context.Context) error {
	defer a.shutdown()

	errCh := make(chan error, 2)
	go func() { errCh <- a.tree.Serve(ctx) }()
	go func() { errCh <- a.transport.Serve(ctx) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (a *Application) shutdown() {
	logging.Info(bootstrapSubsystem, "shutting down")
	a.pool.Drain(drainGrace)
	if err := a.overrides.Close(); err != nil {
		logging.Warn(bootstrapSubsystem, "closing overrides watch: %v", err)
	}
	if err := a.traces.Close(); err != nil {
		logging.Warn(bootstrapSubsystem, "closing trace store: %v", err)
	}
}
