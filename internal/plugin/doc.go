// Package plugin implements the plugin runtime: manifest validation,
// per-plugin sandboxed hosts with lifecycle management, and the manager that
// owns the install/enable/disable/update registry.
//
// A plugin moves through installed -> loaded -> enabled <-> disabled ->
// unloaded. Code runs inside a sandboxed Lua state; everything it can reach
// on the host side goes through the capability broker in the api subpackage,
// gated by the permissions granted in its record.
package plugin
