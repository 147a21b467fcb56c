package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stacklok/mcprelay/internal/logging"
)

const wsSubsystem = "transport.websocket"

// WebSocketAdaptor frames one JSON text message per call; ping/pong frames
// are handled by the underlying library and never surfaced as data frames
// (spec §4.1).
type WebSocketAdaptor struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	frames  chan Frame

	closeOnce sync.Once
	closed    chan struct{}
}

// NewWebSocketAdaptor dials url and begins reading inbound text frames.
func NewWebSocketAdaptor(ctx context.Context, name, url string, headers map[string]string) (*WebSocketAdaptor, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	hdr := http.Header{}
	for k, v := range headers {
		hdr.Set(k, v)
	}

	conn, _, err := dialer.DialContext(ctx, url, hdr)
	if err != nil {
		return nil, fmt.Errorf("dialing websocket backend: %w", err)
	}

	a := &WebSocketAdaptor{
		conn:   conn,
		frames: make(chan Frame, 16),
		closed: make(chan struct{}),
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	go a.readLoop(name)

	return a, nil
}

func (a *WebSocketAdaptor) readLoop(name string) {
	for {
		msgType, data, err := a.conn.ReadMessage()
		if err != nil {
			select {
			case a.frames <- Frame{Err: fmt.Errorf("backend %s: websocket read: %w", name, err)}:
			case <-a.closed:
			}
			close(a.frames)
			return
		}
		if msgType != websocket.TextMessage {
			logging.Debug(wsSubsystem, "%s: ignoring non-text frame type %d", name, msgType)
			continue
		}
		select {
		case a.frames <- Frame{Data: data}:
		case <-a.closed:
			return
		}
	}
}

// Send writes one text frame.
func (a *WebSocketAdaptor) Send(ctx context.Context, data []byte) error {
	select {
	case <-a.closed:
		return ErrClosed
	default:
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(30 * time.Second)
	}
	if err := a.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	return a.conn.WriteMessage(websocket.TextMessage, data)
}

// Recv returns the inbound frame stream.
func (a *WebSocketAdaptor) Recv() <-chan Frame {
	return a.frames
}

// Close sends a close frame and tears down the connection.
func (a *WebSocketAdaptor) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.closed)
		_ = a.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = a.conn.Close()
	})
	return err
}
