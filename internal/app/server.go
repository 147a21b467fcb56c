package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/coreos/go-systemd/v22/activation"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/stacklok/mcprelay/internal/config"
	"github.com/stacklok/mcprelay/internal/logging"
)

const transportSubsystem = "app.transport"

// transportRunner serves the client-facing MCP surface over one transport,
// blocking until ctx is canceled or a fatal transport error occurs.
type transportRunner interface {
	Serve(ctx context.Context) error
}

// newTransportRunner builds the client-facing transport named by cfg.Transport
// (spec §6, stdio by default).
func newTransportRunner(cfg config.Listen, mcpSrv *mcpserver.MCPServer) (transportRunner, error) {
	switch cfg.Transport {
	case config.TransportSSE:
		return newSSERunner(cfg, mcpSrv)
	case config.TransportWebSocket:
		return nil, fmt.Errorf("app: websocket client-facing transport is not yet implemented")
	default:
		return &stdioRunner{srv: mcpserver.NewStdioServer(mcpSrv)}, nil
	}
}

// stdioRunner serves the proxy over stdin/stdout, the default transport for
// a proxy launched as a child process by its calling agent.
type stdioRunner struct {
	srv *mcpserver.StdioServer
}

func (r *stdioRunner) Serve(ctx context.Context) error {
	return r.srv.Listen(ctx, os.Stdin, os.Stdout)
}

// sseRunner serves the proxy over HTTP+SSE, binding a fresh listener or, if
// started under systemd with LISTEN_FDS set, reusing the inherited socket
// (spec §6 AMBIENT note, grounded on muster's AggregatorServer).
type sseRunner struct {
	httpServer *http.Server
	listener   net.Listener
}

func newSSERunner(cfg config.Listen, mcpSrv *mcpserver.MCPServer) (*sseRunner, error) {
	baseURL := fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
	sseSrv := mcpserver.NewSSEServer(mcpSrv,
		mcpserver.WithBaseURL(baseURL),
		mcpserver.WithSSEEndpoint("/sse"),
		mcpserver.WithMessageEndpoint("/message"),
		mcpserver.WithKeepAlive(true),
	)

	listeners, err := activation.Listeners()
	if err != nil {
		logging.Warn(transportSubsystem, "systemd socket activation check failed: %v", err)
	}

	httpSrv := &http.Server{Handler: sseSrv}
	if len(listeners) > 0 {
		logging.Info(transportSubsystem, "using systemd-provided listener for SSE transport")
		return &sseRunner{httpServer: httpSrv, listener: listeners[0]}, nil
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("app: binding %s: %w", addr, err)
	}
	httpSrv.Addr = addr
	return &sseRunner{httpServer: httpSrv, listener: ln}, nil
}

func (r *sseRunner) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- r.httpServer.Serve(r.listener) }()

	select {
	case <-ctx.Done():
		return r.httpServer.Shutdown(context.Background())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
