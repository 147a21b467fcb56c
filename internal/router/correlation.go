// Package router implements the request dispatcher of spec §4.7: it maps an
// inbound JSON-RPC method to a namespaced capability, forwards the call to
// the owning backend, and threads the request/response through the plugin
// chain (internal/plugin) on the way out and back.
package router

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/stacklok/mcprelay/internal/backend"
)

// Tracker mints and resolves the inbound-id/outbound-id/backend correlation
// entries of spec §3 for tool calls forwarded to a backend. The dispatcher
// opens an entry before the call and forgets it afterwards; matching the
// reply to the request is done by mcp-go's client, and the trace store
// records the call independently of this table.
type Tracker struct {
	seq uint64

	mu      sync.Mutex
	entries map[uint64]*backend.CorrelationEntry
}

// NewTracker builds an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{entries: make(map[uint64]*backend.CorrelationEntry)}
}

// Begin mints a fresh outbound id for a call to backendName on behalf of
// inboundID and registers its correlation entry.
func (t *Tracker) Begin(inboundID any, backendName string) *backend.CorrelationEntry {
	outboundID := atomic.AddUint64(&t.seq, 1)

	entry := &backend.CorrelationEntry{
		InboundID:  inboundID,
		OutboundID: outboundID,
		Backend:    backendName,
		Started:    time.Now(),
		Done:       make(chan backend.CorrelationResult, 1),
	}

	t.mu.Lock()
	t.entries[outboundID] = entry
	t.mu.Unlock()
	return entry
}

// Complete delivers result to the entry minted for outboundID and forgets
// it. A result delivered for an unknown or already-completed id is dropped.
func (t *Tracker) Complete(outboundID uint64, result backend.CorrelationResult) {
	t.mu.Lock()
	entry, ok := t.entries[outboundID]
	delete(t.entries, outboundID)
	t.mu.Unlock()

	if !ok {
		return
	}
	entry.Done <- result
}

// Forget removes an entry without delivering a result, for callers that
// time out waiting on it themselves.
func (t *Tracker) Forget(outboundID uint64) {
	t.mu.Lock()
	delete(t.entries, outboundID)
	t.mu.Unlock()
}

// Len reports the number of in-flight correlation entries, for metrics.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
