package api

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/chorus/internal/plugin/security"
)

// NotifyModule sends desktop notifications. Requires system:notify.
type NotifyModule struct {
	ctx        *Context
	checker    *security.Checker
	pluginName string
}

// NewNotifyModule creates the notify module for one plugin.
func NewNotifyModule(ctx *Context, checker *security.Checker, pluginName string) *NotifyModule {
	return &NotifyModule{ctx: ctx, checker: checker, pluginName: pluginName}
}

func (m *NotifyModule) Name() string { return "notify" }

func (m *NotifyModule) Register(L *lua.LState) error {
	mod := L.NewTable()
	L.SetField(mod, "send", L.NewFunction(m.send))
	L.SetGlobal("_chorus_notify", mod)
	return nil
}

// send(title, body?) -> true | false, err
func (m *NotifyModule) send(L *lua.LState) int {
	if denied(m.checker, security.PermSystemNotify) {
		return pushDenied(L, security.PermSystemNotify)
	}
	if m.ctx.Notifier == nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString("notifications unavailable"))
		return 2
	}
	title := L.CheckString(1)
	body := L.OptString(2, "")

	if err := m.ctx.Notifier.Notify(m.pluginName, title, body); err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}
