package lua

import (
	"strings"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// ModuleRoot is the require() namespace reserved for host-provided modules.
// Plugins load the aggregate with require("chorus") or individual modules
// with require("chorus.player") etc.
const ModuleRoot = "chorus"

// Sandbox restricts Lua execution to safe operations. Plugins never receive
// io, os, or debug; everything privileged flows through the preloaded chorus
// modules, which enforce grants per call.
type Sandbox struct {
	L *lua.LState

	instructionLimit int64
	instructionCount int64
}

// NewSandbox creates a sandbox for the Lua state.
func NewSandbox(L *lua.LState, instructionLimit int64) *Sandbox {
	return &Sandbox{L: L, instructionLimit: instructionLimit}
}

// Install sets up the sandbox restrictions.
func (s *Sandbox) Install() {
	// Remove code loading primitives. Plugin code enters through the host
	// only.
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		s.L.SetGlobal(name, lua.LNil)
	}

	s.installSafeRequire()
}

// installSafeRequire replaces require with a whitelist-based version and
// clears package.path/cpath so nothing can be loaded from disk. Only
// preloaded chorus modules and the safe built-ins resolve.
func (s *Sandbox) installSafeRequire() {
	if pkgTable, ok := s.L.GetGlobal("package").(*lua.LTable); ok {
		s.L.SetField(pkgTable, "path", lua.LString(""))
		s.L.SetField(pkgTable, "cpath", lua.LString(""))

		// Drop anything pre-cached in package.loaded beyond the safe set, so
		// a module cached before sandboxing cannot resurface.
		safeLoaded := map[string]bool{
			"_G": true, "string": true, "table": true, "math": true,
			"package": true,
		}
		if loadedTbl, ok := s.L.GetField(pkgTable, "loaded").(*lua.LTable); ok {
			var stale []string
			loadedTbl.ForEach(func(k, _ lua.LValue) {
				if ks, ok := k.(lua.LString); ok && !safeLoaded[string(ks)] {
					stale = append(stale, string(ks))
				}
			})
			for _, key := range stale {
				loadedTbl.RawSetString(key, lua.LNil)
			}
		}
	}

	safeModules := map[string]bool{
		"string": true,
		"table":  true,
		"math":   true,
	}

	originalRequire := s.L.GetGlobal("require")

	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		modName := L.CheckString(1)

		allowed := safeModules[modName] ||
			modName == ModuleRoot ||
			strings.HasPrefix(modName, ModuleRoot+".")
		if !allowed {
			L.RaiseError("module %q is not available", modName)
			return 0
		}

		L.Push(originalRequire)
		L.Push(lua.LString(modName))
		L.Call(1, 1)
		return 1
	}))
}

// ResetInstructionCount resets the instruction counter.
func (s *Sandbox) ResetInstructionCount() {
	atomic.StoreInt64(&s.instructionCount, 0)
}

// InstructionCount returns the current instruction count.
func (s *Sandbox) InstructionCount() int64 {
	return atomic.LoadInt64(&s.instructionCount)
}

// IncrementInstructions adds to the instruction count and reports whether
// the limit is exceeded.
func (s *Sandbox) IncrementInstructions(n int64) bool {
	if s.instructionLimit <= 0 {
		return false
	}
	return atomic.AddInt64(&s.instructionCount, n) > s.instructionLimit
}
