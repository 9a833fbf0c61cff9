package api

import (
	lua "github.com/yuin/gopher-lua"

	luabridge "github.com/dshills/chorus/internal/plugin/lua"
	"github.com/dshills/chorus/internal/plugin/security"
)

// DiscordModule publishes Rich Presence. Requires discord:presence.
// All failures come back as (false, message); a missing local Discord client
// must not take down the plugin.
type DiscordModule struct {
	ctx     *Context
	checker *security.Checker
}

// NewDiscordModule creates the discord module for one plugin.
func NewDiscordModule(ctx *Context, checker *security.Checker) *DiscordModule {
	return &DiscordModule{ctx: ctx, checker: checker}
}

func (m *DiscordModule) Name() string { return "discord" }

func (m *DiscordModule) Register(L *lua.LState) error {
	mod := L.NewTable()
	L.SetField(mod, "connect", L.NewFunction(m.connect))
	L.SetField(mod, "set_presence", L.NewFunction(m.setPresence))
	L.SetField(mod, "clear_presence", L.NewFunction(m.clearPresence))
	L.SetField(mod, "disconnect", L.NewFunction(m.disconnect))
	L.SetGlobal("_chorus_discord", mod)
	return nil
}

// connect() -> true | false, err
func (m *DiscordModule) connect(L *lua.LState) int {
	if denied(m.checker, security.PermDiscordPresence) {
		return pushDenied(L, security.PermDiscordPresence)
	}
	if m.ctx.Discord == nil {
		return pushUnavailable(L)
	}
	return pushResult(L, m.ctx.Discord.Connect())
}

func pushUnavailable(L *lua.LState) int {
	L.Push(lua.LFalse)
	L.Push(lua.LString("discord integration unavailable"))
	return 2
}

// set_presence({ details, state, start_timestamp? }) -> true | false, err
func (m *DiscordModule) setPresence(L *lua.LState) int {
	if denied(m.checker, security.PermDiscordPresence) {
		return pushDenied(L, security.PermDiscordPresence)
	}
	if m.ctx.Discord == nil {
		return pushUnavailable(L)
	}
	tbl := L.CheckTable(1)
	bridge := luabridge.NewBridge(L)

	details, _ := bridge.GetTableString(tbl, "details")
	state, _ := bridge.GetTableString(tbl, "state")
	var start int64
	if n, ok := tbl.RawGetString("start_timestamp").(lua.LNumber); ok {
		start = int64(n)
	}

	return pushResult(L, m.ctx.Discord.SetActivity(details, state, start))
}

// clear_presence() -> true | false, err
func (m *DiscordModule) clearPresence(L *lua.LState) int {
	if denied(m.checker, security.PermDiscordPresence) {
		return pushDenied(L, security.PermDiscordPresence)
	}
	if m.ctx.Discord == nil {
		return pushUnavailable(L)
	}
	return pushResult(L, m.ctx.Discord.ClearActivity())
}

// disconnect() -> true | false, err
func (m *DiscordModule) disconnect(L *lua.LState) int {
	if denied(m.checker, security.PermDiscordPresence) {
		return pushDenied(L, security.PermDiscordPresence)
	}
	if m.ctx.Discord == nil {
		return pushUnavailable(L)
	}
	return pushResult(L, m.ctx.Discord.Close())
}
