package plugin

// State represents the lifecycle state of a plugin instance.
type State int

// Plugin lifecycle states. A plugin moves installed -> loaded -> enabled,
// can bounce between enabled and disabled, and ends at unloaded. Error is a
// terminal state for the current instance; reinstalling or reloading creates
// a fresh one.
const (
	// StateInstalled - bundle and record exist, no code loaded.
	StateInstalled State = iota

	// StateLoaded - code executed inside isolation, init hook done.
	StateLoaded

	// StateEnabled - start hook completed, plugin is live.
	StateEnabled

	// StateDisabled - stop hook ran, subscriptions cleared.
	StateDisabled

	// StateUnloaded - destroy hook ran, Lua state closed.
	StateUnloaded

	// StateError - a lifecycle transition failed.
	StateError
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateInstalled:
		return "installed"
	case StateLoaded:
		return "loaded"
	case StateEnabled:
		return "enabled"
	case StateDisabled:
		return "disabled"
	case StateUnloaded:
		return "unloaded"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// IsRunnable returns true if the plugin has live code that can be enabled.
func (s State) IsRunnable() bool {
	return s == StateLoaded || s == StateEnabled || s == StateDisabled
}
