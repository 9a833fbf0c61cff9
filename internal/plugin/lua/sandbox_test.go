package lua

import (
	"strings"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func newTestState(t *testing.T) *State {
	t.Helper()
	s, err := NewState()
	if err != nil {
		t.Fatalf("NewState() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSandboxRemovesLoaders(t *testing.T) {
	s := newTestState(t)

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		if got := s.GetGlobal(name); got != lua.LNil {
			t.Errorf("global %q = %v, want nil", name, got)
		}
	}
}

func TestSandboxBlocksUnsafeModules(t *testing.T) {
	s := newTestState(t)

	for _, mod := range []string{"io", "os", "debug", "socket"} {
		err := s.DoString(`require("` + mod + `")`)
		if err == nil {
			t.Errorf("require(%q) succeeded, want error", mod)
		}
	}
}

func TestSandboxAllowsSafeModules(t *testing.T) {
	s := newTestState(t)

	if err := s.DoString(`
		local str = require("string")
		local tbl = require("table")
		local m = require("math")
		result = str.upper("ok") .. tostring(m.floor(1.5))
	`); err != nil {
		t.Fatalf("DoString() error = %v", err)
	}
	if got := s.GetGlobal("result"); got.String() != "OK1" {
		t.Errorf("result = %q, want OK1", got.String())
	}
}

func TestSandboxAllowsPreloadedHostModules(t *testing.T) {
	s := newTestState(t)

	s.LuaState().PreloadModule("chorus.player", func(L *lua.LState) int {
		mod := L.NewTable()
		L.SetField(mod, "ping", L.NewFunction(func(L *lua.LState) int {
			L.Push(lua.LString("pong"))
			return 1
		}))
		L.Push(mod)
		return 1
	})

	if err := s.DoString(`
		local player = require("chorus.player")
		answer = player.ping()
	`); err != nil {
		t.Fatalf("DoString() error = %v", err)
	}
	if got := s.GetGlobal("answer"); got.String() != "pong" {
		t.Errorf("answer = %q, want pong", got.String())
	}
}

func TestSandboxEmptiesPackagePath(t *testing.T) {
	s := newTestState(t)

	if err := s.DoString(`p = package.path .. package.cpath`); err != nil {
		t.Fatalf("DoString() error = %v", err)
	}
	if got := s.GetGlobal("p").String(); got != "" {
		t.Errorf("package paths = %q, want empty", got)
	}
}

func TestSandboxRejectsModuleOutsideNamespace(t *testing.T) {
	s := newTestState(t)

	err := s.DoString(`require("chorusx")`)
	if err == nil || !strings.Contains(err.Error(), "not available") {
		t.Errorf("require(chorusx) error = %v, want not-available", err)
	}
}

func TestInstructionCounting(t *testing.T) {
	s := newTestState(t)
	sb := s.Sandbox()

	if sb.IncrementInstructions(5) {
		t.Error("IncrementInstructions under limit reported exceeded")
	}
	sb.ResetInstructionCount()
	if got := sb.InstructionCount(); got != 0 {
		t.Errorf("InstructionCount after reset = %d", got)
	}
}

func TestInstructionLimitExceeded(t *testing.T) {
	s, err := NewState(WithInstructionLimit(10))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if !s.Sandbox().IncrementInstructions(11) {
		t.Error("IncrementInstructions over limit reported ok")
	}
}
