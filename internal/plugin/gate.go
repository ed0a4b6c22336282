package plugin

import (
	"context"
	"log/slog"
	"sync"
)

// Capability is a permission a plugin declares in its manifest.
type Capability string

const (
	CapChatSend     Capability = "chat:send"
	CapChatReceive  Capability = "chat:receive"
	CapUIMenu       Capability = "ui:menu"
	CapUICommand    Capability = "ui:command"
	CapStorageRead  Capability = "storage:read"
	CapStorageWrite Capability = "storage:write"
	CapThemeStyle   Capability = "theme:style"
)

// MenuItem is a menu entry contributed by a plugin.
type MenuItem struct {
	Label   string
	Command string
}

// ChatMessage is a chat line as seen by plugins.
type ChatMessage struct {
	// From is the sender name, or the plugin id for plugin-originated lines.
	From    string
	Content string
}

// CommandFunc handles a registered plugin command.
type CommandFunc func(ctx context.Context, args []string) error

// Host carries out plugin requests that reach the user or the server.
type Host interface {
	SendChat(ctx context.Context, pluginID, message string) error
	AddMenuItem(pluginID string, item MenuItem)
	ApplyStyle(pluginID, css string)
	RemoveStyle(pluginID string)
}

// KV is per-plugin key-value storage. Get returns a nil value and no error
// for an absent key.
type KV interface {
	Get(ctx context.Context, pluginID, key string) (any, error)
	Set(ctx context.Context, pluginID, key string, value any) error
}

// PluginLookup resolves installed plugins. *Registry implements it.
type PluginLookup interface {
	Get(id string) (Plugin, bool)
}

// Gate checks every plugin-initiated host call against the plugin's declared
// permissions. A call without the capability does nothing and returns no
// error.
type Gate struct {
	plugins PluginLookup
	host    Host
	kv      KV
	logger  *slog.Logger

	mu        sync.RWMutex
	listeners map[string]map[int]func(ChatMessage)
	commands  map[string]map[string]CommandFunc
	nextID    int
}

// NewGate creates a Gate. kv may be nil, in which case storage calls read
// nothing and write nothing.
func NewGate(plugins PluginLookup, host Host, kv KV, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		plugins:   plugins,
		host:      host,
		kv:        kv,
		logger:    logger.With("component", "gate"),
		listeners: make(map[string]map[int]func(ChatMessage)),
		commands:  make(map[string]map[string]CommandFunc),
	}
}

// Allowed reports whether pluginID declared c. Unknown plugins have no
// capabilities.
func (g *Gate) Allowed(pluginID string, c Capability) bool {
	p, ok := g.plugins.Get(pluginID)
	if !ok {
		return false
	}
	return p.Manifest.HasPermission(c)
}

func (g *Gate) check(pluginID string, c Capability) bool {
	if g.Allowed(pluginID, c) {
		return true
	}
	g.logger.Debug("plugin call denied", "plugin", pluginID, "capability", c)
	return false
}

// API returns the host API handed to one plugin.
func (g *Gate) API(pluginID string) *API {
	return &API{id: pluginID, g: g}
}

// DeliverChat passes an inbound chat line to every registered listener.
func (g *Gate) DeliverChat(msg ChatMessage) {
	g.mu.RLock()
	var fns []func(ChatMessage)
	for _, byID := range g.listeners {
		for _, fn := range byID {
			fns = append(fns, fn)
		}
	}
	g.mu.RUnlock()

	for _, fn := range fns {
		fn(msg)
	}
}

// ExecuteCommand runs a command registered by pluginID. It reports false if
// no such command exists.
func (g *Gate) ExecuteCommand(ctx context.Context, pluginID, name string, args []string) (bool, error) {
	g.mu.RLock()
	fn, ok := g.commands[pluginID][name]
	g.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return true, fn(ctx, args)
}

// Commands lists the command names registered by pluginID.
func (g *Gate) Commands(pluginID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.commands[pluginID]))
	for name := range g.commands[pluginID] {
		names = append(names, name)
	}
	return names
}

// Forget drops every listener and command a plugin registered.
func (g *Gate) Forget(pluginID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.listeners, pluginID)
	delete(g.commands, pluginID)
}

// API is the capability-checked host surface of one plugin.
type API struct {
	id string
	g  *Gate
}

// PluginID returns the plugin this API belongs to.
func (a *API) PluginID() string {
	return a.id
}

// SendMessage sends a chat line on behalf of the plugin. Requires chat:send.
func (a *API) SendMessage(ctx context.Context, message string) error {
	if !a.g.check(a.id, CapChatSend) {
		return nil
	}
	return a.g.host.SendChat(ctx, a.id, message)
}

// OnMessage registers fn for inbound chat lines. Requires chat:receive.
// The returned function unregisters fn.
func (a *API) OnMessage(fn func(ChatMessage)) (cancel func()) {
	if !a.g.check(a.id, CapChatReceive) {
		return func() {}
	}

	a.g.mu.Lock()
	defer a.g.mu.Unlock()
	a.g.nextID++
	id := a.g.nextID
	if a.g.listeners[a.id] == nil {
		a.g.listeners[a.id] = make(map[int]func(ChatMessage))
	}
	a.g.listeners[a.id][id] = fn

	return func() {
		a.g.mu.Lock()
		defer a.g.mu.Unlock()
		delete(a.g.listeners[a.id], id)
	}
}

// AddMenuItem adds a menu entry. Requires ui:menu.
func (a *API) AddMenuItem(item MenuItem) {
	if !a.g.check(a.id, CapUIMenu) {
		return
	}
	a.g.host.AddMenuItem(a.id, item)
}

// RegisterCommand registers a named command. Requires ui:command.
func (a *API) RegisterCommand(name string, fn CommandFunc) {
	if !a.g.check(a.id, CapUICommand) {
		return
	}
	a.g.mu.Lock()
	defer a.g.mu.Unlock()
	if a.g.commands[a.id] == nil {
		a.g.commands[a.id] = make(map[string]CommandFunc)
	}
	a.g.commands[a.id][name] = fn
}

// GetData reads a stored value. Requires storage:read; without it the
// result is nil.
func (a *API) GetData(ctx context.Context, key string) (any, error) {
	if !a.g.check(a.id, CapStorageRead) || a.g.kv == nil {
		return nil, nil
	}
	return a.g.kv.Get(ctx, a.id, key)
}

// SetData stores a value. Requires storage:write.
func (a *API) SetData(ctx context.Context, key string, value any) error {
	if !a.g.check(a.id, CapStorageWrite) || a.g.kv == nil {
		return nil
	}
	return a.g.kv.Set(ctx, a.id, key, value)
}

// ApplyStyle injects a stylesheet. Requires theme:style.
func (a *API) ApplyStyle(css string) {
	if !a.g.check(a.id, CapThemeStyle) {
		return
	}
	a.g.host.ApplyStyle(a.id, css)
}

// RemoveStyle removes the plugin's stylesheet. Requires theme:style.
func (a *API) RemoveStyle() {
	if !a.g.check(a.id, CapThemeStyle) {
		return
	}
	a.g.host.RemoveStyle(a.id)
}
