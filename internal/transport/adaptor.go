// Package transport implements the three backend wire adaptors of spec §4.1:
// stdio, SSE, and WebSocket. All three share the Adaptor contract. The
// backend supervisor (internal/backend) does not use these adaptors; it
// connects to backends through mcp-go's client package directly.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by Send once the adaptor has been closed.
var ErrClosed = errors.New("transport: adaptor closed")

// Frame is one inbound message off the wire, or a terminal error marking the
// stream dead (matching spec §4.1: "errors from the underlying channel
// surface as a terminal event on the inbound stream").
type Frame struct {
	Data []byte
	Err  error
}

// Adaptor is the shared contract of the stdio, SSE and WebSocket transports.
// Implementations must serialize concurrent Send calls: per-backend writes
// are never interleaved on the wire (spec §5).
type Adaptor interface {
	// Send writes one complete frame. It blocks until the frame is fully
	// written or ctx is done.
	Send(ctx context.Context, data []byte) error

	// Recv returns the channel of inbound frames. It is closed once the
	// adaptor can deliver no more. When the stream ends on its own, a final
	// Frame carrying Err is delivered first; after Close that final frame
	// may be dropped.
	Recv() <-chan Frame

	// Close releases all resources. Idempotent.
	Close() error
}
