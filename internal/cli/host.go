package cli

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/omochice/touchfish-chat/internal/plugin"
	"github.com/omochice/touchfish-chat/internal/store"
)

// chatSender is the part of the client plugins may reach.
type chatSender interface {
	SendMessage(ctx context.Context, message string) error
}

type menuEntry struct {
	PluginID string
	Item     plugin.MenuItem
}

// terminalHost carries out gated plugin requests in the terminal session.
type terminalHost struct {
	chat chatSender

	mu     sync.Mutex
	menu   []menuEntry
	themes map[string]map[string]string
	order  []string
}

func newTerminalHost(chat chatSender) *terminalHost {
	return &terminalHost{
		chat:   chat,
		themes: make(map[string]map[string]string),
	}
}

func (h *terminalHost) SendChat(ctx context.Context, _ string, message string) error {
	return h.chat.SendMessage(ctx, message)
}

func (h *terminalHost) AddMenuItem(pluginID string, item plugin.MenuItem) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.menu = append(h.menu, menuEntry{PluginID: pluginID, Item: item})
}

// ApplyStyle replaces the plugin's theme variables. The most recently
// applied stylesheet wins where two set the same variable.
func (h *terminalHost) ApplyStyle(pluginID, css string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.themes[pluginID] = parseThemeVars(css)
	h.order = slices.DeleteFunc(h.order, func(id string) bool { return id == pluginID })
	h.order = append(h.order, pluginID)
}

func (h *terminalHost) RemoveStyle(pluginID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.themes, pluginID)
	h.order = slices.DeleteFunc(h.order, func(id string) bool { return id == pluginID })
}

// forget drops everything a plugin contributed.
func (h *terminalHost) forget(pluginID string) {
	h.RemoveStyle(pluginID)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.menu = slices.DeleteFunc(h.menu, func(e menuEntry) bool { return e.PluginID == pluginID })
}

func (h *terminalHost) menuItems() []menuEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.menu)
}

// overrides merges the theme variables of every applied stylesheet.
func (h *terminalHost) overrides() map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	merged := make(map[string]string)
	for _, id := range h.order {
		maps.Copy(merged, h.themes[id])
	}
	return merged
}

// storeKV adapts the plugin data store to the gate's storage interface.
type storeKV struct {
	s *store.Store
}

func (k storeKV) Get(ctx context.Context, pluginID, key string) (any, error) {
	v, err := k.s.Get(ctx, pluginID, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

func (k storeKV) Set(ctx context.Context, pluginID, key string, value any) error {
	return k.s.Set(ctx, pluginID, key, value)
}
