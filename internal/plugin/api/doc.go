// Package api implements the Lua-facing host API for plugins.
//
// Every host capability a plugin can touch lives in a Module: player state
// and control, isolated storage, player bar slots, notifications, network
// fetch, Discord presence, events, stream resolution, and logging. Modules
// register themselves into a plugin's Lua state under internal globals; the
// chorus loader then aggregates them so plugin code reaches everything
// through require("chorus").
//
// The broker is fail-closed. Each privileged function re-checks the owning
// plugin's grants on every call; revoking a permission takes effect on the
// next call without reloading the plugin.
package api
