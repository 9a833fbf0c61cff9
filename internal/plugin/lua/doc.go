// Package lua wraps gopher-lua for plugin execution.
//
// Each plugin runs in its own State: a Lua VM opened with a restricted
// library set and a Sandbox installed over it. The sandbox removes code
// loading primitives, empties package.path, and replaces require with a
// whitelist so the only reachable modules are the safe Lua built-ins and the
// host-preloaded chorus module tree. Privileged operations (player control,
// storage, network) are never exposed as Lua libraries; they exist only as
// chorus API functions that check the plugin's grants on every call.
//
// LState is not goroutine-safe. State serializes access with a mutex, and
// the runtime only touches a plugin's state from its manager paths.
package lua
