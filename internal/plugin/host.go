package plugin

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/dshills/chorus/internal/logging"
	"github.com/dshills/chorus/internal/plugin/api"
	plua "github.com/dshills/chorus/internal/plugin/lua"
	"github.com/dshills/chorus/internal/plugin/security"
	"github.com/dshills/chorus/internal/storage"
)

// Lifecycle hooks a plugin may define as Lua globals. All optional.
const (
	hookInit    = "init"
	hookStart   = "start"
	hookStop    = "stop"
	hookDestroy = "destroy"
)

// HostDeps bundles the host-side collaborators a plugin instance needs.
type HostDeps struct {
	// Providers are the shared host providers injected through the broker.
	Providers *api.Context

	// Store is the plugin's isolated storage view.
	Store *storage.Isolated

	// Checker holds the plugin's granted permissions. Shared with the
	// Manager so grant/revoke takes effect on the next broker call.
	Checker *security.Checker

	// Logger receives lifecycle diagnostics. Nil disables logging.
	Logger *logging.Logger

	// Limits are the per-plugin resource limits.
	Limits security.Limits
}

// Host manages a single plugin instance: its sandboxed Lua state, injected
// broker modules, and lifecycle transitions.
type Host struct {
	mu sync.Mutex

	name     string
	manifest *Manifest
	dir      string
	deps     HostDeps

	state  *plua.State
	events *api.EventModule
	stream *api.StreamModule

	lifecycle State
	err       error
}

// NewHost creates a host for one installed plugin. dir is the bundle
// directory containing the manifest's entry file.
func NewHost(manifest *Manifest, dir string, deps HostDeps) (*Host, error) {
	if manifest == nil {
		return nil, ErrNilManifest
	}
	if deps.Logger == nil {
		deps.Logger = logging.Null
	}
	return &Host{
		name:      manifest.Name,
		manifest:  manifest,
		dir:       dir,
		deps:      deps,
		lifecycle: StateInstalled,
	}, nil
}

// Name returns the plugin name.
func (h *Host) Name() string { return h.name }

// Manifest returns the plugin manifest.
func (h *Host) Manifest() *Manifest { return h.manifest }

// Checker returns the plugin's permission checker.
func (h *Host) Checker() *security.Checker { return h.deps.Checker }

// Store returns the plugin's isolated storage.
func (h *Host) Store() *storage.Isolated { return h.deps.Store }

// State returns the current lifecycle state.
func (h *Host) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lifecycle
}

// Err returns the last lifecycle error.
func (h *Host) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Load builds the sandboxed Lua state, injects the broker modules, runs the
// entry file, and calls the optional init hook. On any failure the modules
// are detached, the state is closed, and the host moves to StateError. The
// detach matters even before init: an entry file can subscribe to events at
// top level and then raise, and those subscriptions must not outlive the
// state.
func (h *Host) Load(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.lifecycle.IsRunnable() {
		return fmt.Errorf("plugin %q: %w", h.name, ErrAlreadyLoaded)
	}

	state, err := plua.NewState(
		plua.WithExecutionTimeout(h.deps.Limits.ExecutionTimeout),
		plua.WithInstructionLimit(h.deps.Limits.InstructionLimit),
	)
	if err != nil {
		return h.failLocked(fmt.Errorf("create lua state: %w", err))
	}

	h.state = state
	h.events = api.NewEventModule(h.deps.Providers, h.name, state)
	h.stream = api.NewStreamModule(h.name, state)

	reg := api.NewRegistry()
	modules := []api.Module{
		api.NewPlayerModule(h.deps.Providers, h.deps.Checker),
		api.NewStorageModule(h.deps.Store, h.deps.Checker, h.deps.Logger),
		api.NewUIModule(h.deps.Providers, h.deps.Checker, h.name),
		api.NewNotifyModule(h.deps.Providers, h.deps.Checker, h.name),
		api.NewNetModule(h.deps.Providers, h.deps.Checker),
		api.NewDiscordModule(h.deps.Providers, h.deps.Checker),
		api.NewLogModule(h.deps.Logger, h.name),
		h.events,
		h.stream,
	}
	for _, mod := range modules {
		if err := reg.Register(mod); err != nil {
			h.teardownLocked()
			return h.failLocked(fmt.Errorf("register api module: %w", err))
		}
	}
	if err := reg.InjectAll(state.LuaState()); err != nil {
		h.teardownLocked()
		return h.failLocked(fmt.Errorf("inject api: %w", err))
	}

	entry := filepath.Join(h.dir, h.manifest.Entry)
	if err := state.DoFile(entry); err != nil {
		h.teardownLocked()
		return h.failLocked(fmt.Errorf("run entry %s: %w", h.manifest.Entry, err))
	}

	if err := h.callHookLocked(hookInit); err != nil {
		h.teardownLocked()
		return h.failLocked(fmt.Errorf("init hook: %w", err))
	}

	h.lifecycle = StateLoaded
	h.err = nil
	h.deps.Logger.WithPlugin(h.name).Debug("plugin loaded: version=%s", h.manifest.Version)
	return nil
}

// Enable calls the plugin's start hook. A failing start leaves the plugin in
// its prior non-enabled state.
func (h *Host) Enable(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.lifecycle {
	case StateEnabled:
		return nil
	case StateLoaded, StateDisabled:
	default:
		return fmt.Errorf("plugin %q in state %s: %w", h.name, h.lifecycle, ErrNotLoaded)
	}

	if err := h.callHookLocked(hookStart); err != nil {
		h.err = err
		h.deps.Logger.WithPlugin(h.name).Error("start hook failed: %v", err)
		return fmt.Errorf("start plugin %q: %w", h.name, err)
	}

	h.lifecycle = StateEnabled
	h.err = nil
	return nil
}

// Disable calls the stop hook and clears the plugin's event subscriptions
// and stream registrations. Stop hook errors are logged; the disable always
// completes.
func (h *Host) Disable(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.lifecycle != StateEnabled {
		return nil
	}

	if err := h.callHookLocked(hookStop); err != nil {
		h.deps.Logger.WithPlugin(h.name).Error("stop hook failed: %v", err)
	}

	h.events.Cleanup()
	h.stream.Cleanup()
	h.lifecycle = StateDisabled
	return nil
}

// Unload calls the destroy hook and closes the Lua state. Safe to call in
// any state; a loaded-but-enabled plugin is stopped first.
func (h *Host) Unload(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == nil {
		h.lifecycle = StateUnloaded
		return nil
	}

	if h.lifecycle == StateEnabled {
		if err := h.callHookLocked(hookStop); err != nil {
			h.deps.Logger.WithPlugin(h.name).Error("stop hook failed: %v", err)
		}
	}
	if err := h.callHookLocked(hookDestroy); err != nil {
		h.deps.Logger.WithPlugin(h.name).Error("destroy hook failed: %v", err)
	}

	h.teardownLocked()
	h.lifecycle = StateUnloaded
	h.err = nil
	return nil
}

// ResolvesSource reports whether this plugin registered as the stream
// resolver for the source type. Only enabled plugins resolve.
func (h *Host) ResolvesSource(sourceType string) bool {
	h.mu.Lock()
	enabled := h.lifecycle == StateEnabled
	stream := h.stream
	h.mu.Unlock()

	return enabled && stream != nil && stream.ResolvesSource(sourceType)
}

// Resolve asks the plugin's resolver for a playable URL. An empty string
// with nil error means the plugin declined the track.
func (h *Host) Resolve(ctx context.Context, sourceType, externalID string) (string, error) {
	h.mu.Lock()
	if h.lifecycle != StateEnabled || h.stream == nil {
		h.mu.Unlock()
		return "", ErrNotEnabled
	}
	stream := h.stream
	h.mu.Unlock()

	return stream.Resolve(sourceType, externalID)
}

// callHookLocked invokes an optional lifecycle hook. Missing hooks are not
// an error. Must be called with mu held.
func (h *Host) callHookLocked(hook string) error {
	if h.state == nil || !h.state.HasGlobal(hook) {
		return nil
	}
	_, err := h.state.Call(hook)
	return err
}

// teardownLocked releases the Lua state and module references.
// Must be called with mu held.
func (h *Host) teardownLocked() {
	if h.events != nil {
		h.events.Detach()
	}
	if h.stream != nil {
		h.stream.Detach()
	}
	if h.state != nil {
		h.state.Close()
		h.state = nil
	}
}

// failLocked records a lifecycle failure. Must be called with mu held.
func (h *Host) failLocked(err error) error {
	h.lifecycle = StateError
	h.err = err
	return fmt.Errorf("plugin %q: %w", h.name, err)
}
