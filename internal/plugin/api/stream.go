package api

import (
	"errors"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"

	luabridge "github.com/dshills/chorus/internal/plugin/lua"
)

// ErrNoResolver indicates the plugin does not resolve the source type.
var ErrNoResolver = errors.New("no stream resolver registered")

// resolveGlobal is the Lua function a resolving plugin must define.
const resolveGlobal = "resolve_stream"

// StreamModule lets a plugin declare itself the stream resolver for one or
// more source types (for example "youtube"). A registering plugin must
// define a global resolve_stream(source_type, external_id) returning the
// playable URL; the host calls it when the queue reaches a track whose
// source the native player cannot open.
type StreamModule struct {
	pluginName string
	state      *luabridge.State
	L          *lua.LState

	mu      sync.Mutex
	sources map[string]bool
}

// NewStreamModule creates the stream module for one plugin. state is the
// serialized wrapper around the VM the module is registered into.
func NewStreamModule(pluginName string, state *luabridge.State) *StreamModule {
	return &StreamModule{
		pluginName: pluginName,
		state:      state,
		sources:    make(map[string]bool),
	}
}

// Name returns "stream". Registration is ungated: it only matters when the
// host chooses to ask this plugin to resolve.
func (m *StreamModule) Name() string { return "stream" }

func (m *StreamModule) Register(L *lua.LState) error {
	m.L = L

	mod := L.NewTable()
	L.SetField(mod, "register_resolver", L.NewFunction(m.registerResolver))
	L.SetField(mod, "unregister_resolver", L.NewFunction(m.unregisterResolver))
	L.SetGlobal("_chorus_stream", mod)
	return nil
}

// Cleanup drops all source registrations. The Lua binding stays so a
// re-enabled plugin can register again from its start hook.
func (m *StreamModule) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources = make(map[string]bool)
}

// Detach is Cleanup plus releasing the Lua state reference. Called right
// before the plugin's VM closes.
func (m *StreamModule) Detach() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.L = nil
	m.sources = make(map[string]bool)
}

// register_resolver(sourceType)
func (m *StreamModule) registerResolver(L *lua.LState) int {
	sourceType := L.CheckString(1)
	if sourceType == "" {
		L.ArgError(1, "source type cannot be empty")
		return 0
	}

	m.mu.Lock()
	m.sources[sourceType] = true
	m.mu.Unlock()
	return 0
}

// unregister_resolver(sourceType)
func (m *StreamModule) unregisterResolver(L *lua.LState) int {
	sourceType := L.CheckString(1)

	m.mu.Lock()
	delete(m.sources, sourceType)
	m.mu.Unlock()
	return 0
}

// ResolvesSource reports whether the plugin registered for the source type.
func (m *StreamModule) ResolvesSource(sourceType string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sources[sourceType]
}

// Resolve calls the plugin's resolve_stream global. An empty string means
// the plugin could not serve the track. The call goes through the state lock
// so resolution cannot interleave with a lifecycle transition closing the VM.
func (m *StreamModule) Resolve(sourceType, externalID string) (string, error) {
	m.mu.Lock()
	L := m.L
	state := m.state
	registered := m.sources[sourceType]
	m.mu.Unlock()

	if L == nil || !registered {
		return "", ErrNoResolver
	}

	var url string
	run := func(L *lua.LState) error {
		fn, ok := L.GetGlobal(resolveGlobal).(*lua.LFunction)
		if !ok {
			return fmt.Errorf("plugin %s registered for %q but defines no %s function",
				m.pluginName, sourceType, resolveGlobal)
		}

		L.Push(fn)
		L.Push(lua.LString(sourceType))
		L.Push(lua.LString(externalID))
		if err := L.PCall(2, 1, nil); err != nil {
			return fmt.Errorf("resolver for plugin %s: %w", m.pluginName, err)
		}
		ret := L.Get(-1)
		L.Pop(1)

		if ret == lua.LNil {
			return nil
		}
		s, ok := ret.(lua.LString)
		if !ok {
			return fmt.Errorf("resolver for plugin %s returned %s, want string",
				m.pluginName, ret.Type())
		}
		url = string(s)
		return nil
	}

	var err error
	if state == nil {
		err = run(L)
	} else {
		err = state.Invoke(run)
		if errors.Is(err, luabridge.ErrStateClosed) {
			return "", ErrNoResolver
		}
	}
	if err != nil {
		return "", err
	}
	return url, nil
}
