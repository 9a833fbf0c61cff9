package api

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/chorus/internal/plugin/security"
)

// UIModule lets a plugin place content into player bar slots. Requires
// ui:playerbar. Registering the same slot twice replaces its content rather
// than duplicating it.
type UIModule struct {
	ctx        *Context
	checker    *security.Checker
	pluginName string
}

// NewUIModule creates the UI module for one plugin.
func NewUIModule(ctx *Context, checker *security.Checker, pluginName string) *UIModule {
	return &UIModule{ctx: ctx, checker: checker, pluginName: pluginName}
}

func (m *UIModule) Name() string { return "ui" }

func (m *UIModule) Register(L *lua.LState) error {
	mod := L.NewTable()
	L.SetField(mod, "register_slot", L.NewFunction(m.registerSlot))
	L.SetField(mod, "remove_slot", L.NewFunction(m.removeSlot))
	L.SetGlobal("_chorus_ui", mod)
	return nil
}

// register_slot(slot, content) -> true | false, err
func (m *UIModule) registerSlot(L *lua.LState) int {
	if denied(m.checker, security.PermUIPlayerBar) {
		return pushDenied(L, security.PermUIPlayerBar)
	}
	slot := L.CheckString(1)
	content := L.CheckString(2)

	if err := m.ctx.UI.RegisterSlot(m.pluginName, slot, content); err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// remove_slot(slot) -> bool
func (m *UIModule) removeSlot(L *lua.LState) int {
	if denied(m.checker, security.PermUIPlayerBar) {
		L.Push(lua.LFalse)
		return 1
	}
	slot := L.CheckString(1)
	L.Push(lua.LBool(m.ctx.UI.RemoveSlot(m.pluginName, slot)))
	return 1
}
