package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/stacklok/mcprelay/internal/logging"
)

const sseSubsystem = "transport.sse"

// SSEAdaptor posts outbound frames over HTTP and consumes a long-lived
// text/event-stream response for inbound frames (spec §4.1).
type SSEAdaptor struct {
	url       string
	headers   map[string]string
	client    *http.Client
	postWrite sync.Mutex

	frames chan Frame

	body      io.Closer
	cancel    context.CancelFunc
	closeOnce sync.Once
	closed    chan struct{}
}

// NewSSEAdaptor opens the event stream and returns once the subscription
// request has been sent; the stream is consumed in the background.
func NewSSEAdaptor(ctx context.Context, name, url string, headers map[string]string) (*SSEAdaptor, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("building SSE request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	httpClient := &http.Client{}
	resp, err := httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("opening SSE stream: %w", err)
	}

	a := &SSEAdaptor{
		url:     url,
		headers: headers,
		client:  httpClient,
		frames:  make(chan Frame, 16),
		body:    resp.Body,
		cancel:  cancel,
		closed:  make(chan struct{}),
	}

	go a.readEvents(name, resp.Body)

	return a, nil
}

func (a *SSEAdaptor) readEvents(name string, body io.Reader) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)

	var dataLines [][]byte
	flush := func() bool {
		if len(dataLines) == 0 {
			return true
		}
		payload := bytes.Join(dataLines, []byte("\n"))
		dataLines = dataLines[:0]
		select {
		case a.frames <- Frame{Data: payload}:
			return true
		case <-a.closed:
			return false
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if !flush() {
				return
			}
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, []byte(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")))
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive, ignore
		default:
			logging.Debug(sseSubsystem, "%s: ignoring unrecognized SSE line %q", name, line)
		}
	}
	flush()

	err := scanner.Err()
	if err == nil {
		err = fmt.Errorf("backend %s: event stream closed", name)
	}
	select {
	case a.frames <- Frame{Err: err}:
	case <-a.closed:
	}
	close(a.frames)
}

// Send POSTs one frame to the backend's endpoint.
func (a *SSEAdaptor) Send(ctx context.Context, data []byte) error {
	select {
	case <-a.closed:
		return ErrClosed
	default:
	}

	a.postWrite.Lock()
	defer a.postWrite.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("building POST request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting frame: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("posting frame: unexpected status %s", resp.Status)
	}
	return nil
}

// Recv returns the inbound frame stream.
func (a *SSEAdaptor) Recv() <-chan Frame {
	return a.frames
}

// Close cancels the long-lived GET and stops posting.
func (a *SSEAdaptor) Close() error {
	a.closeOnce.Do(func() {
		close(a.closed)
		a.cancel()
		_ = a.body.Close()
	})
	return nil
}
