package backend

import (
	"fmt"
	"sync"

	"github.com/thejerf/suture/v4"
)

// Registry is the sole place any other package looks up a Backend. It is
// the "weak reference by name" indirection of spec §9: routers, plugin
// chains, and proxy-native tools all hold a *Registry plus a name string,
// never a direct *Backend pointer, so a restarted backend is transparently
// replaced without dangling references elsewhere.
type Registry struct {
	mu      sync.RWMutex
	tokens  map[string]suture.ServiceToken
	byName  map[string]*Backend
	enabled map[string]bool
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tokens:  make(map[string]suture.ServiceToken),
		byName:  make(map[string]*Backend),
		enabled: make(map[string]bool),
	}
}

// Register adds b under its name, recording the token the tree gave it so
// the backend can later be removed.
func (r *Registry) Register(b *Backend, token suture.ServiceToken) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[b.Name()] = b
	r.tokens[b.Name()] = token
	r.enabled[b.Name()] = b.Descriptor.Enabled
}

// Unregister removes a backend entirely (used when a config reload drops
// it, not for a transient restart).
func (r *Registry) Unregister(name string) (suture.ServiceToken, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[name]
	delete(r.tokens, name)
	delete(r.byName, name)
	delete(r.enabled, name)
	return token, ok
}

// Lookup resolves name to its live Backend, or false if unknown.
func (r *Registry) Lookup(name string) (*Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byName[name]
	return b, ok
}

// Names returns every registered backend name, regardless of enable state.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}

// SetEnabled updates a backend's enable overlay. The backend itself keeps
// running or restarting regardless; disabling only hides it from the
// capability registry and rejects tools/call.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; !ok {
		return fmt.Errorf("backend/registry: unknown backend %q", name)
	}
	r.enabled[name] = enabled
	return nil
}

// Enabled reports a backend's current enable overlay.
func (r *Registry) Enabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled[name]
}

// ReadyAndEnabled returns the names of every backend currently both Ready
// and enabled, the set the capability registry (§4.3) merges over.
func (r *Registry) ReadyAndEnabled() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for name, b := range r.byName {
		if r.enabled[name] && b.Snapshot().State == StateReady {
			out = append(out, name)
		}
	}
	return out
}
