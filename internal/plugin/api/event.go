package api

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"

	luabridge "github.com/dshills/chorus/internal/plugin/lua"
)

// EventModule implements the chorus.events API: on/off/once plus emit for
// plugin-namespaced events.
//
// Handlers run synchronously on the bus emitter's goroutine. An emit arriving
// from outside the plugin's own Lua is routed through the state lock so it
// cannot interleave with a lifecycle transition closing the VM; a plugin
// emitting to itself dispatches inline, because the emitting goroutine
// already holds that lock. Handler functions are pinned in a Lua table so the
// VM's GC cannot collect them while a subscription is live; Cleanup drops the
// table and every bus subscription when the plugin is disabled or unloaded.
type EventModule struct {
	ctx        *Context
	pluginName string
	state      *luabridge.State
	L          *lua.LState

	mu            sync.Mutex
	subscriptions map[string]subscriptionInfo
	handlerTbl    *lua.LTable
	handlerKey    string
	emitDepth     int
	nextID        uint64
}

type subscriptionInfo struct {
	eventName string
	busID     string
}

// NewEventModule creates the event module for one plugin. state is the
// serialized wrapper around the VM the module is registered into.
func NewEventModule(ctx *Context, pluginName string, state *luabridge.State) *EventModule {
	return &EventModule{
		ctx:           ctx,
		pluginName:    pluginName,
		state:         state,
		subscriptions: make(map[string]subscriptionInfo),
		handlerKey:    "_chorus_event_handlers_" + pluginName,
	}
}

// Name returns "events". Event subscription carries no grant of its own;
// the payloads a plugin can observe are already public player state.
func (m *EventModule) Name() string { return "events" }

func (m *EventModule) Register(L *lua.LState) error {
	m.L = L

	m.handlerTbl = L.NewTable()
	L.SetGlobal(m.handlerKey, m.handlerTbl)

	mod := L.NewTable()
	L.SetField(mod, "on", L.NewFunction(m.on))
	L.SetField(mod, "off", L.NewFunction(m.off))
	L.SetField(mod, "once", L.NewFunction(m.once))
	L.SetField(mod, "emit", L.NewFunction(m.emit))
	L.SetGlobal("_chorus_events", mod)
	return nil
}

// Cleanup unsubscribes everything and resets the handler table. The module
// stays usable, so a plugin disabled and re-enabled can subscribe again from
// its start hook.
func (m *EventModule) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cleanupLocked()
	if m.L != nil {
		m.handlerTbl = m.L.NewTable()
		m.L.SetGlobal(m.handlerKey, m.handlerTbl)
	}
}

// Detach is Cleanup plus releasing the Lua references. Called right before
// the plugin's VM closes.
func (m *EventModule) Detach() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cleanupLocked()
	if m.L != nil {
		m.L.SetGlobal(m.handlerKey, lua.LNil)
	}
	m.L = nil
	m.handlerTbl = nil
}

func (m *EventModule) cleanupLocked() {
	if m.ctx.Events != nil {
		for _, info := range m.subscriptions {
			m.ctx.Events.Unsubscribe(info.busID)
		}
	}
	m.subscriptions = make(map[string]subscriptionInfo)
}

func (m *EventModule) generateSubID() string {
	return fmt.Sprintf("%s_%d", m.pluginName, atomic.AddUint64(&m.nextID, 1))
}

// on(eventName, handler) -> subscriptionID
func (m *EventModule) on(L *lua.LState) int {
	eventName := L.CheckString(1)
	handler := L.CheckFunction(2)

	if eventName == "" {
		L.ArgError(1, "event name cannot be empty")
		return 0
	}

	localID := m.generateSubID()

	m.mu.Lock()
	if m.handlerTbl != nil {
		m.handlerTbl.RawSetString(localID, handler)
	}
	m.mu.Unlock()

	busID := m.ctx.Events.Subscribe(m.pluginName, eventName, m.createCallback(localID))

	m.mu.Lock()
	m.subscriptions[localID] = subscriptionInfo{eventName: eventName, busID: busID}
	m.mu.Unlock()

	L.Push(lua.LString(localID))
	return 1
}

// off(subscriptionID) -> bool
func (m *EventModule) off(L *lua.LState) int {
	subID := L.CheckString(1)

	m.mu.Lock()
	info, exists := m.subscriptions[subID]
	if exists {
		delete(m.subscriptions, subID)
		if m.handlerTbl != nil {
			m.handlerTbl.RawSetString(subID, lua.LNil)
		}
	}
	m.mu.Unlock()

	if !exists {
		L.Push(lua.LFalse)
		return 1
	}
	m.ctx.Events.Unsubscribe(info.busID)
	L.Push(lua.LTrue)
	return 1
}

// once(eventName, handler) -> subscriptionID
func (m *EventModule) once(L *lua.LState) int {
	eventName := L.CheckString(1)
	handler := L.CheckFunction(2)

	if eventName == "" {
		L.ArgError(1, "event name cannot be empty")
		return 0
	}

	localID := m.generateSubID()

	m.mu.Lock()
	if m.handlerTbl != nil {
		m.handlerTbl.RawSetString(localID, handler)
	}
	m.mu.Unlock()

	busID := m.ctx.Events.Subscribe(m.pluginName, eventName, m.createOnceCallback(localID))

	m.mu.Lock()
	m.subscriptions[localID] = subscriptionInfo{eventName: eventName, busID: busID}
	m.mu.Unlock()

	L.Push(lua.LString(localID))
	return 1
}

// emit(eventName, data?)
// Plugin-originated events are forced into the plugin's namespace so a
// plugin can never spoof host events like trackChange.
func (m *EventModule) emit(L *lua.LState) int {
	eventName := L.CheckString(1)
	if eventName == "" {
		L.ArgError(1, "event name cannot be empty")
		return 0
	}

	fullName := "plugin." + m.pluginName + "." + eventName

	var data map[string]any
	if tbl := L.OptTable(2, nil); tbl != nil {
		if converted, ok := luabridge.NewBridge(L).ToGoValue(tbl).(map[string]any); ok {
			data = converted
		}
	}
	if data == nil {
		data = make(map[string]any)
	}
	data["source"] = "plugin:" + m.pluginName

	// Mark the dispatch as originating inside this VM. Subscriptions of this
	// plugin fired by the emit run inline instead of re-taking the state lock
	// the current call already holds.
	m.mu.Lock()
	m.emitDepth++
	m.mu.Unlock()

	m.ctx.Events.Emit(fullName, data)

	m.mu.Lock()
	m.emitDepth--
	m.mu.Unlock()
	return 0
}

// createCallback builds the Go handler that invokes the pinned Lua function.
func (m *EventModule) createCallback(localID string) func(data map[string]any) error {
	return func(data map[string]any) error {
		m.mu.Lock()
		L := m.L
		handlerTbl := m.handlerTbl
		state := m.state
		inline := m.emitDepth > 0
		m.mu.Unlock()

		if L == nil || handlerTbl == nil {
			return nil // plugin unloaded
		}

		run := func(L *lua.LState) error {
			handler := L.GetField(handlerTbl, localID)
			if handler.Type() != lua.LTFunction {
				return nil // handler removed
			}
			L.Push(handler)
			L.Push(luabridge.NewBridge(L).ToLuaValue(data))
			if err := L.PCall(1, 0, nil); err != nil {
				return fmt.Errorf("plugin %s: %w", m.pluginName, err)
			}
			return nil
		}

		if inline || state == nil {
			return run(L)
		}
		err := state.Invoke(run)
		if errors.Is(err, luabridge.ErrStateClosed) {
			return nil // plugin unloaded between snapshot and invoke
		}
		return err
	}
}

// createOnceCallback wraps createCallback with single-shot semantics.
func (m *EventModule) createOnceCallback(localID string) func(data map[string]any) error {
	var once sync.Once
	base := m.createCallback(localID)

	return func(data map[string]any) error {
		var err error
		fired := false
		once.Do(func() {
			fired = true
			err = base(data)

			m.mu.Lock()
			info, exists := m.subscriptions[localID]
			if exists {
				delete(m.subscriptions, localID)
				if m.handlerTbl != nil {
					m.handlerTbl.RawSetString(localID, lua.LNil)
				}
			}
			events := m.ctx.Events
			m.mu.Unlock()

			if exists && events != nil {
				events.Unsubscribe(info.busID)
			}
		})
		if !fired {
			return nil
		}
		return err
	}
}
