package api

import (
	lua "github.com/yuin/gopher-lua"

	luabridge "github.com/dshills/chorus/internal/plugin/lua"
	"github.com/dshills/chorus/internal/plugin/security"
)

// PlayerModule exposes playback state and transport control. State reads
// need player:read; transport calls need player:control. A denied read
// returns nil/false/0 without touching the provider; a denied control call
// returns (false, message).
type PlayerModule struct {
	ctx     *Context
	checker *security.Checker
}

// NewPlayerModule creates the player module for one plugin.
func NewPlayerModule(ctx *Context, checker *security.Checker) *PlayerModule {
	return &PlayerModule{ctx: ctx, checker: checker}
}

func (m *PlayerModule) Name() string { return "player" }

func (m *PlayerModule) Register(L *lua.LState) error {
	mod := L.NewTable()
	L.SetField(mod, "current_track", L.NewFunction(m.getCurrentTrack))
	L.SetField(mod, "is_playing", L.NewFunction(m.isPlaying))
	L.SetField(mod, "current_time", L.NewFunction(m.getCurrentTime))
	L.SetField(mod, "duration", L.NewFunction(m.getDuration))
	L.SetField(mod, "play", L.NewFunction(m.play))
	L.SetField(mod, "pause", L.NewFunction(m.pause))
	L.SetField(mod, "seek", L.NewFunction(m.seek))
	L.SetGlobal("_chorus_player", mod)
	return nil
}

// current_track() -> table|nil
func (m *PlayerModule) getCurrentTrack(L *lua.LState) int {
	if denied(m.checker, security.PermPlayerRead) || m.ctx.Player == nil {
		L.Push(lua.LNil)
		return 1
	}
	track := m.ctx.Player.CurrentTrack()
	if track == nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(luabridge.NewBridge(L).ToLuaValue(track.Map()))
	return 1
}

// is_playing() -> bool
func (m *PlayerModule) isPlaying(L *lua.LState) int {
	if denied(m.checker, security.PermPlayerRead) || m.ctx.Player == nil {
		L.Push(lua.LFalse)
		return 1
	}
	L.Push(lua.LBool(m.ctx.Player.IsPlaying()))
	return 1
}

// current_time() -> number
func (m *PlayerModule) getCurrentTime(L *lua.LState) int {
	if denied(m.checker, security.PermPlayerRead) || m.ctx.Player == nil {
		L.Push(lua.LNumber(0))
		return 1
	}
	L.Push(lua.LNumber(m.ctx.Player.CurrentTime()))
	return 1
}

// duration() -> number
func (m *PlayerModule) getDuration(L *lua.LState) int {
	if denied(m.checker, security.PermPlayerRead) || m.ctx.Player == nil {
		L.Push(lua.LNumber(0))
		return 1
	}
	L.Push(lua.LNumber(m.ctx.Player.Duration()))
	return 1
}

// play() -> true | false, err
func (m *PlayerModule) play(L *lua.LState) int {
	if denied(m.checker, security.PermPlayerControl) {
		return pushDenied(L, security.PermPlayerControl)
	}
	if m.ctx.Player == nil {
		return pushPlayerUnavailable(L)
	}
	return pushResult(L, m.ctx.Player.Play())
}

// pause() -> true | false, err
func (m *PlayerModule) pause(L *lua.LState) int {
	if denied(m.checker, security.PermPlayerControl) {
		return pushDenied(L, security.PermPlayerControl)
	}
	if m.ctx.Player == nil {
		return pushPlayerUnavailable(L)
	}
	return pushResult(L, m.ctx.Player.Pause())
}

// seek(position) -> true | false, err
func (m *PlayerModule) seek(L *lua.LState) int {
	if denied(m.checker, security.PermPlayerControl) {
		return pushDenied(L, security.PermPlayerControl)
	}
	if m.ctx.Player == nil {
		return pushPlayerUnavailable(L)
	}
	pos := float64(L.CheckNumber(1))
	if pos < 0 {
		pos = 0
	}
	return pushResult(L, m.ctx.Player.Seek(pos))
}

// pushPlayerUnavailable reports a host without a wired player backend.
func pushPlayerUnavailable(L *lua.LState) int {
	L.Push(lua.LFalse)
	L.Push(lua.LString("player unavailable"))
	return 2
}

// pushResult converts a Go error to the (ok, err?) Lua convention.
func pushResult(L *lua.LState, err error) int {
	if err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}
