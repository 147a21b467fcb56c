// Package overrides implements the per-project enable/disable overlay of
// spec §4.4: a JSON file read once at startup and thereafter kept in sync
// with in-memory state via atomic rename, with external edits picked up
// through an fsnotify watch.
package overrides

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/stacklok/mcprelay/internal/logging"
	"github.com/stacklok/mcprelay/internal/metrics"
)

const (
	fileName        = ".mcp-proxy-overrides.json"
	projectDirEnv   = "MCP_PROXY_PROJECT_DIR"
	overridesSubsys = "overrides"
)

// Override is one backend's overlay. Unknown keys are preserved verbatim
// (SPEC_FULL §9 open question: schema should be forward-compatible) by
// keeping the raw object alongside the typed Enabled field.
type Override struct {
	Enabled *bool           `json:"enabled,omitempty"`
	Extra   json.RawMessage `json:"-"`
}

// record is the on-disk schema (spec §6).
type record struct {
	Project      string                     `json:"project"`
	Overrides    map[string]json.RawMessage `json:"overrides"`
	LastModified time.Time                  `json:"lastModified"`
}

// Store holds the in-memory overlay and persists it to disk on mutation.
// The ordering guarantee of spec §4.4 ("the override file on disk never
// reflects a state the in-memory proxy hasn't already adopted") is met by
// always mutating s.overrides before attempting the write: a failed write
// leaves the in-memory state as the caller intended and is reported back,
// never silently reverted.
type Store struct {
	path string

	mu        sync.RWMutex
	overrides map[string]Override

	watcher  *fsnotify.Watcher
	onChange func()
}

// ProjectDir resolves the project directory: MCP_PROXY_PROJECT_DIR if set,
// else the current working directory (spec §6).
func ProjectDir() (string, error) {
	if dir := os.Getenv(projectDirEnv); dir != "" {
		return dir, nil
	}
	return os.Getwd()
}

// Load reads the override file from its project directory, if present, and
// returns a ready Store. A missing file is not an error; it yields an empty
// overlay.
func Load() (*Store, error) {
	dir, err := ProjectDir()
	if err != nil {
		return nil, fmt.Errorf("overrides: resolving project dir: %w", err)
	}
	path := filepath.Join(dir, fileName)

	s := &Store{path: path, overrides: make(map[string]Override)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("overrides: reading %s: %w", path, err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("overrides: parsing %s: %w", path, err)
	}
	for name, raw := range rec.Overrides {
		s.overrides[name] = decodeOverride(raw)
	}
	return s, nil
}

func decodeOverride(raw json.RawMessage) Override {
	var o struct {
		Enabled *bool `json:"enabled,omitempty"`
	}
	_ = json.Unmarshal(raw, &o)
	return Override{Enabled: o.Enabled, Extra: raw}
}

// Get returns the override recorded for name, if any.
func (s *Store) Get(name string) (Override, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.overrides[name]
	return o, ok
}

// SetEnabled mutates the in-memory overlay and persists it atomically.
// On write failure the in-memory mutation is kept (spec §4.4: "failure to
// write is reported to the caller; in-memory state is preserved") and the
// error is returned for the calling tool handler to surface to the client.
func (s *Store) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	o := s.overrides[name]
	o.Enabled = &enabled
	s.overrides[name] = o
	snapshot := s.cloneLocked()
	s.mu.Unlock()

	return s.persist(snapshot)
}

func (s *Store) cloneLocked() map[string]Override {
	out := make(map[string]Override, len(s.overrides))
	for k, v := range s.overrides {
		out[k] = v
	}
	return out
}

func (s *Store) persist(overrides map[string]Override) (err error) {
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.OverrideWritesTotal.WithLabelValues(outcome).Inc()
	}()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("overrides: creating project dir: %w", err)
	}

	rec := record{
		Project:      dir,
		Overrides:    make(map[string]json.RawMessage, len(overrides)),
		LastModified: time.Now(),
	}
	for name, o := range overrides {
		raw, encErr := encodeOverride(o)
		if encErr != nil {
			return fmt.Errorf("overrides: encoding %s: %w", name, encErr)
		}
		rec.Overrides[name] = raw
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("overrides: marshaling: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("overrides: writing temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("overrides: renaming temp file: %w", err)
	}
	return nil
}

func encodeOverride(o Override) (json.RawMessage, error) {
	base := map[string]json.RawMessage{}
	if len(o.Extra) > 0 {
		_ = json.Unmarshal(o.Extra, &base)
	}
	if o.Enabled != nil {
		v, err := json.Marshal(*o.Enabled)
		if err != nil {
			return nil, err
		}
		base["enabled"] = v
	}
	return json.Marshal(base)
}

// Watch starts an fsnotify watch on the override file's directory. Whenever
// the override file is created or written, by another process or by this
// Store's own persist, the watch calls Reload and then, if that succeeded,
// invokes onChange.
func (s *Store) Watch(onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warn(overridesSubsys, "fsnotify unavailable, external edits will not be picked up: %v", err)
		return nil
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("overrides: watching %s: %w", filepath.Dir(s.path), err)
	}

	s.mu.Lock()
	s.watcher = watcher
	s.onChange = onChange
	s.mu.Unlock()

	go s.watchLoop(watcher)
	return nil
}

func (s *Store) watchLoop(watcher *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != fileName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := s.Reload(); err != nil {
				logging.Warn(overridesSubsys, "reloading after external edit: %v", err)
				continue
			}
			s.mu.RLock()
			cb := s.onChange
			s.mu.RUnlock()
			if cb != nil {
				cb()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Warn(overridesSubsys, "fsnotify error: %v", err)
		}
	}
}

// Reload re-reads the override file from disk, replacing the in-memory
// overlay.
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.mu.Lock()
			s.overrides = make(map[string]Override)
			s.mu.Unlock()
			return nil
		}
		return fmt.Errorf("overrides: reloading %s: %w", s.path, err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("overrides: parsing %s: %w", s.path, err)
	}

	next := make(map[string]Override, len(rec.Overrides))
	for name, raw := range rec.Overrides {
		next[name] = decodeOverride(raw)
	}

	s.mu.Lock()
	s.overrides = next
	s.mu.Unlock()
	return nil
}

// Close stops the fsnotify watch, if any.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
