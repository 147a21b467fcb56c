package backend

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// Tree is the root suture.Supervisor all backends run under. Each backend
// gets its own suture.ServiceToken so the proxy can add or remove a
// backend at runtime (e.g. after a config reload) without disturbing its
// siblings (spec §4.2: "restarts must never lose the capability registry
// for other backends").
type Tree struct {
	root *suture.Supervisor
}

// NewTree builds the supervisor tree with the given logger feeding suture's
// own event hook.
func NewTree(logger *slog.Logger) *Tree {
	handler := &sutureslog.Handler{Logger: logger}
	spec := suture.Spec{
		EventHook: handler.MustHook(),
		Timeout:   10 * time.Second,
	}
	return &Tree{root: suture.New("mcprelay-backends", spec)}
}

// Add registers b with the tree and returns its ServiceToken.
func (t *Tree) Add(b *Backend) suture.ServiceToken {
	return t.root.Add(b)
}

// Remove stops and removes a previously added backend.
func (t *Tree) Remove(token suture.ServiceToken) error {
	return t.root.Remove(token)
}

// Serve runs the tree until ctx is canceled. Call from the process entry
// point, typically in its own goroutine.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}
