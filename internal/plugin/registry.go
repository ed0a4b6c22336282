// Package plugin manages installed extension packages: manifest validation,
// the managed plugin directory, persisted enabled state, lifecycle events and
// the capability gate plugins call the host through.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const stagingPrefix = ".install-"

// Plugin is an installed plugin.
type Plugin struct {
	Manifest Manifest
	Path     string
	Enabled  bool
}

// ID returns the manifest id.
func (p Plugin) ID() string {
	return p.Manifest.ID
}

// DataPurger removes data a plugin stored through the host.
type DataPurger interface {
	Purge(ctx context.Context, pluginID string) error
}

// Options configures a Registry.
type Options struct {
	// Root is the managed directory holding one subdirectory per plugin and
	// the state file.
	Root string
	// HostVersion is compared against each manifest's minAppVersion.
	HostVersion string
	// Data, if set, is purged on uninstall.
	Data   DataPurger
	Logger *slog.Logger
}

// Registry tracks installed plugins. Lifecycle operations are serialized;
// reads run concurrently with each other.
type Registry struct {
	root        string
	statesPath  string
	hostVersion string
	data        DataPurger
	logger      *slog.Logger

	// opMu serializes install, uninstall, enable and disable.
	opMu sync.Mutex

	mu         sync.RWMutex
	plugins    map[string]*Plugin
	themes     map[string]*Plugin
	functional map[string]*Plugin
	states     map[string]State

	events broker
}

// Open prepares the managed root and restores plugins installed by earlier
// runs, with their persisted enabled state. Directories that no longer
// validate are skipped.
func Open(opts Options) (*Registry, error) {
	if opts.Root == "" {
		return nil, errors.New("plugin root is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if err := os.MkdirAll(opts.Root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create plugin root: %w", err)
	}

	r := &Registry{
		root:        opts.Root,
		statesPath:  filepath.Join(opts.Root, StateFile),
		hostVersion: opts.HostVersion,
		data:        opts.Data,
		logger:      opts.Logger.With("component", "plugins"),
		plugins:     make(map[string]*Plugin),
		themes:      make(map[string]*Plugin),
		functional:  make(map[string]*Plugin),
	}

	states, err := LoadStates(r.statesPath)
	if err != nil {
		r.logger.Warn("plugin state file unreadable, starting empty", "err", err)
	}
	r.states = states

	if err := r.restore(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) restore() error {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return fmt.Errorf("failed to read plugin root: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(r.root, entry.Name())
		if strings.HasPrefix(entry.Name(), ".") {
			// Leftover of an interrupted install or uninstall.
			if err := os.RemoveAll(dir); err != nil {
				r.logger.Warn("failed to remove stale plugin directory", "path", dir, "err", err)
			}
			continue
		}

		m, err := Validate(dir, r.hostVersion)
		if err != nil {
			r.logger.Warn("skipping installed plugin", "path", dir, "err", err)
			continue
		}
		if m.ID != entry.Name() {
			r.logger.Warn("skipping installed plugin, id does not match directory", "path", dir, "plugin", m.ID)
			continue
		}

		enabled := true
		if st, ok := r.states[m.ID]; ok {
			enabled = st.Enabled
		}
		r.index(&Plugin{Manifest: m, Path: dir, Enabled: enabled})
	}
	return nil
}

// Root returns the managed plugin directory.
func (r *Registry) Root() string {
	return r.root
}

// Validate checks a plugin directory without installing it.
func (r *Registry) Validate(dir string) (Manifest, error) {
	return Validate(dir, r.hostVersion)
}

// Install validates the plugin at src, copies it into the managed root,
// enables it and persists the state. A failed install leaves the managed
// root as it was.
func (r *Registry) Install(src string) (Plugin, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	m, err := Validate(src, r.hostVersion)
	if err != nil {
		return Plugin{}, err
	}

	if _, ok := r.Get(m.ID); ok {
		return Plugin{}, fmt.Errorf("%w: %s", ErrAlreadyInstalled, m.ID)
	}

	target := filepath.Join(r.root, m.ID)
	if _, err := os.Lstat(target); err == nil {
		return Plugin{}, fmt.Errorf("%w: %s (directory exists)", ErrAlreadyInstalled, m.ID)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return Plugin{}, fmt.Errorf("failed to install %s: %w", m.ID, err)
	}

	staging := filepath.Join(r.root, stagingPrefix+uuid.NewString())
	if err := os.CopyFS(staging, os.DirFS(src)); err != nil {
		os.RemoveAll(staging)
		return Plugin{}, fmt.Errorf("failed to copy plugin files: %w", err)
	}
	if err := os.Rename(staging, target); err != nil {
		os.RemoveAll(staging)
		return Plugin{}, fmt.Errorf("failed to install %s: %w", m.ID, err)
	}

	p := &Plugin{Manifest: m, Path: target, Enabled: true}
	r.mu.Lock()
	r.index(p)
	r.states[m.ID] = State{Enabled: true}
	r.mu.Unlock()
	r.persist()

	r.logger.Info("plugin installed", "plugin", m.ID, "type", m.Type, "version", m.Version)
	r.publish(EventRegistered, *p)
	return *p, nil
}

// Enable enables an installed plugin.
func (r *Registry) Enable(id string) error {
	return r.setEnabled(id, true)
}

// Disable disables an installed plugin.
func (r *Registry) Disable(id string) error {
	return r.setEnabled(id, false)
}

func (r *Registry) setEnabled(id string, enabled bool) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	return r.setEnabledLocked(id, enabled)
}

func (r *Registry) setEnabledLocked(id string, enabled bool) error {
	r.mu.Lock()
	p, ok := r.plugins[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	p.Enabled = enabled
	r.states[id] = State{Enabled: enabled}
	snapshot := *p
	r.mu.Unlock()
	r.persist()

	kind := EventDisabled
	if enabled {
		kind = EventEnabled
	}
	r.logger.Info("plugin "+kind.String(), "plugin", id)
	r.publish(kind, snapshot)
	return nil
}

// Uninstall disables the plugin, deletes its directory, drops it from every
// index and from the persisted state, and purges its stored data.
func (r *Registry) Uninstall(ctx context.Context, id string) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	if err := r.setEnabledLocked(id, false); err != nil {
		return err
	}

	r.mu.RLock()
	p := *r.plugins[id]
	r.mu.RUnlock()

	// Move the directory aside first so a failure leaves the plugin installed.
	trash := filepath.Join(r.root, stagingPrefix+"removed-"+uuid.NewString())
	if err := os.Rename(p.Path, trash); err != nil {
		return fmt.Errorf("failed to uninstall %s: %w", id, err)
	}

	r.mu.Lock()
	delete(r.plugins, id)
	delete(r.themes, id)
	delete(r.functional, id)
	delete(r.states, id)
	r.mu.Unlock()
	r.persist()

	if err := os.RemoveAll(trash); err != nil {
		r.logger.Warn("failed to delete plugin files", "plugin", id, "path", trash, "err", err)
	}
	if r.data != nil {
		if err := r.data.Purge(ctx, id); err != nil {
			r.logger.Warn("failed to purge plugin data", "plugin", id, "err", err)
		}
	}

	r.logger.Info("plugin uninstalled", "plugin", id)
	r.publish(EventUninstalled, p)
	return nil
}

// Get returns an installed plugin.
func (r *Registry) Get(id string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[id]
	if !ok {
		return Plugin{}, false
	}
	return *p, true
}

// List returns all installed plugins sorted by id.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.plugins)
}

// ListThemes returns installed theme plugins sorted by id.
func (r *Registry) ListThemes() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.themes)
}

// ListFunctional returns installed functional packs sorted by id.
func (r *Registry) ListFunctional() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.functional)
}

// Subscribe registers for lifecycle events. Delivery never blocks the
// registry: when the buffer is full the event is dropped for that
// subscriber. A buffer ≤ 0 selects a default.
func (r *Registry) Subscribe(buffer int) *Subscription {
	return r.events.subscribe(buffer)
}

// index must be called with mu held, or before the registry is shared.
func (r *Registry) index(p *Plugin) {
	r.plugins[p.Manifest.ID] = p
	switch {
	case p.Manifest.Type == TypeTheme:
		r.themes[p.Manifest.ID] = p
	case p.Manifest.Type.Functional():
		r.functional[p.Manifest.ID] = p
	}
}

// persist saves the state map. A failure is logged; the in-memory state
// stays authoritative for this run.
func (r *Registry) persist() {
	r.mu.RLock()
	states := make(map[string]State, len(r.states))
	for id, st := range r.states {
		states[id] = st
	}
	r.mu.RUnlock()

	if err := SaveStates(r.statesPath, states); err != nil {
		r.logger.Error("failed to persist plugin states", "err", err)
	}
}

func (r *Registry) publish(kind EventKind, p Plugin) {
	if missed := r.events.publish(Event{Kind: kind, ID: p.Manifest.ID, Plugin: p}); missed > 0 {
		r.logger.Warn("plugin event dropped for slow subscribers", "event", kind, "plugin", p.Manifest.ID, "missed", missed)
	}
}

func snapshot(m map[string]*Plugin) []Plugin {
	out := make([]Plugin, 0, len(m))
	for _, p := range m {
		out = append(out, *p)
	}
	slices.SortFunc(out, func(a, b Plugin) int {
		return strings.Compare(a.Manifest.ID, b.Manifest.ID)
	})
	return out
}
