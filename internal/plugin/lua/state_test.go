package lua

import (
	"errors"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func TestStateDoString(t *testing.T) {
	s := newTestState(t)

	if err := s.DoString(`x = 1 + 2`); err != nil {
		t.Fatalf("DoString() error = %v", err)
	}
	if got := s.GetGlobal("x"); got != lua.LNumber(3) {
		t.Errorf("x = %v, want 3", got)
	}
}

func TestStateCall(t *testing.T) {
	s := newTestState(t)

	if err := s.DoString(`function add(a, b) return a + b end`); err != nil {
		t.Fatal(err)
	}
	results, err := s.Call("add", lua.LNumber(2), lua.LNumber(3))
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if len(results) != 1 || results[0] != lua.LNumber(5) {
		t.Errorf("Call() = %v, want [5]", results)
	}
}

func TestStateCallMissingFunction(t *testing.T) {
	s := newTestState(t)

	if _, err := s.Call("nope"); err == nil {
		t.Error("Call(missing) error = nil, want error")
	}
}

func TestStateCallNoReturn(t *testing.T) {
	s := newTestState(t)

	if err := s.DoString(`function noop() end`); err != nil {
		t.Fatal(err)
	}
	results, err := s.Call("noop")
	if err != nil {
		t.Fatal(err)
	}
	if results == nil || len(results) != 0 {
		t.Errorf("Call(noop) = %v, want empty non-nil slice", results)
	}
}

func TestStateHasGlobal(t *testing.T) {
	s := newTestState(t)

	if err := s.DoString(`function on_load() end; notafunc = 1`); err != nil {
		t.Fatal(err)
	}
	if !s.HasGlobal("on_load") {
		t.Error("HasGlobal(on_load) = false")
	}
	if s.HasGlobal("notafunc") {
		t.Error("HasGlobal(notafunc) = true for a number")
	}
	if s.HasGlobal("missing") {
		t.Error("HasGlobal(missing) = true")
	}
}

func TestStateInvoke(t *testing.T) {
	s := newTestState(t)

	if err := s.DoString(`function bump(n) counted = n end`); err != nil {
		t.Fatal(err)
	}
	err := s.Invoke(func(L *lua.LState) error {
		L.Push(L.GetGlobal("bump"))
		L.Push(lua.LNumber(9))
		return L.PCall(1, 0, nil)
	})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if got := s.GetGlobal("counted"); got != lua.LNumber(9) {
		t.Errorf("counted = %v, want 9", got)
	}
}

func TestStateInvokeAfterClose(t *testing.T) {
	s, err := NewState()
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	err = s.Invoke(func(L *lua.LState) error { return nil })
	if !errors.Is(err, ErrStateClosed) {
		t.Errorf("Invoke after close error = %v, want ErrStateClosed", err)
	}
}

func TestStateClosed(t *testing.T) {
	s, err := NewState()
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	if err := s.DoString(`x = 1`); !errors.Is(err, ErrStateClosed) {
		t.Errorf("DoString after close error = %v, want ErrStateClosed", err)
	}
	if _, err := s.Call("f"); !errors.Is(err, ErrStateClosed) {
		t.Errorf("Call after close error = %v, want ErrStateClosed", err)
	}
	if !s.IsClosed() {
		t.Error("IsClosed() = false after Close")
	}
}

func TestStateRuntimeErrorRecovered(t *testing.T) {
	s := newTestState(t)

	if err := s.DoString(`error("deliberate")`); err == nil {
		t.Error("DoString(error call) = nil, want error")
	}
	// State must remain usable after a script error.
	if err := s.DoString(`y = 7`); err != nil {
		t.Errorf("DoString after error = %v", err)
	}
}
