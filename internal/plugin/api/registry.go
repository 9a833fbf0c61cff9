package api

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/chorus/internal/event"
	"github.com/dshills/chorus/internal/player"
	"github.com/dshills/chorus/internal/plugin/security"
)

// Version reported to plugins as chorus.api_version.
const apiVersion = 1

// Module is a Lua API module registered into a plugin's state. Every module
// is always injected; privileged functions gate themselves per call so a
// denied plugin observes a safe default instead of a missing module.
type Module interface {
	// Name returns the module name, e.g. "player" or "storage".
	Name() string

	// Register installs the module functions into the Lua state under the
	// _chorus_<name> global.
	Register(L *lua.LState) error
}

// Registry manages the modules for one plugin's state.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]Module)}
}

// Register adds a module.
func (r *Registry) Register(mod Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[mod.Name()]; exists {
		return fmt.Errorf("module %q already registered", mod.Name())
	}
	r.modules[mod.Name()] = mod
	r.order = append(r.order, mod.Name())
	return nil
}

// Get returns a module by name.
func (r *Registry) Get(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mod, ok := r.modules[name]
	return mod, ok
}

// List returns registered module names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// InjectAll registers every module into the Lua state and installs the
// chorus loader.
func (r *Registry) InjectAll(L *lua.LState) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range r.order {
		if err := r.modules[name].Register(L); err != nil {
			return fmt.Errorf("register module %q: %w", name, err)
		}
	}

	if err := installChorusLoader(L, r.order); err != nil {
		return fmt.Errorf("install chorus loader: %w", err)
	}
	return nil
}

// installChorusLoader collects the _chorus_* globals into one table and
// preloads it so require("chorus") and require("chorus.<name>") resolve.
func installChorusLoader(L *lua.LState, names []string) error {
	root := L.NewTable()

	for _, name := range names {
		globalName := "_chorus_" + name
		val := L.GetGlobal(globalName)
		if val == lua.LNil {
			continue
		}
		L.SetField(root, name, val)
		L.SetGlobal(globalName, lua.LNil)

		// Individual module require, e.g. require("chorus.storage").
		mod := val
		L.PreloadModule("chorus."+name, func(L *lua.LState) int {
			L.Push(mod)
			return 1
		})
	}

	L.SetField(root, "api_version", lua.LNumber(apiVersion))

	L.PreloadModule("chorus", func(L *lua.LState) int {
		L.Push(root)
		return 1
	})
	return nil
}

// Context carries the host providers the modules call into. One Context is
// shared by all of a plugin's modules; per-plugin state (storage view,
// checker, handler tables) lives in the module instances.
type Context struct {
	// Player is the host player backend.
	Player player.Player

	// Events is the host event bus surface.
	Events EventProvider

	// UI manages player bar slots.
	UI UIProvider

	// Notifier delivers system notifications.
	Notifier NotifyProvider

	// Fetcher performs outbound HTTP requests.
	Fetcher NetProvider

	// Discord updates Rich Presence.
	Discord DiscordProvider

	// Logger receives plugin log output. May be nil.
	Logger LogProvider
}

// EventProvider is the bus surface the event module needs.
type EventProvider interface {
	Subscribe(plugin, eventName string, h event.Handler) string
	Unsubscribe(id string) bool
	Emit(eventName string, data map[string]any)
}

// UIProvider manages plugin-owned player bar slots.
type UIProvider interface {
	// RegisterSlot creates or replaces the plugin's slot content.
	RegisterSlot(plugin, slot, content string) error

	// RemoveSlot removes one slot. Returns false if it did not exist.
	RemoveSlot(plugin, slot string) bool
}

// NotifyProvider delivers system notifications.
type NotifyProvider interface {
	Notify(plugin, title, body string) error
}

// NetProvider performs outbound fetches on behalf of plugins.
type NetProvider interface {
	Fetch(url string, opts FetchOptions) (*FetchResult, error)
}

// DiscordProvider updates Discord Rich Presence.
type DiscordProvider interface {
	Connect() error
	SetActivity(details, state string, startUnix int64) error
	ClearActivity() error
	Close() error
}

// LogProvider receives structured plugin log lines.
type LogProvider interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// denied reports whether the permission is missing. Broker denials never
// raise into plugin code; callers push a safe default (nil/false), adding
// the denial message where the signature allows a second return.
func denied(checker *security.Checker, perm security.Permission) bool {
	return checker == nil || !checker.Has(perm)
}

// pushDenied pushes the (false, message) pair for a denied mutating call.
func pushDenied(L *lua.LState, perm security.Permission) int {
	L.Push(lua.LFalse)
	L.Push(lua.LString("permission denied: " + string(perm)))
	return 2
}
