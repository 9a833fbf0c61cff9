package plugin

import "errors"

// Plugin runtime errors.
var (
	// ErrPluginNotFound is returned when no plugin is installed under the name.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrNilManifest is returned when a nil manifest is provided.
	ErrNilManifest = errors.New("manifest is nil")

	// ErrAlreadyLoaded is returned when loading a plugin that is loaded.
	ErrAlreadyLoaded = errors.New("plugin is already loaded")

	// ErrNotLoaded is returned when using a plugin that is not loaded.
	ErrNotLoaded = errors.New("plugin is not loaded")

	// ErrNotEnabled is returned when an operation needs an enabled plugin.
	ErrNotEnabled = errors.New("plugin is not enabled")

	// ErrInvalidManifest is returned when manifest validation fails.
	ErrInvalidManifest = errors.New("invalid manifest")

	// ErrInvalidSource is returned for install sources the installer cannot
	// interpret or is not allowed to fetch.
	ErrInvalidSource = errors.New("invalid plugin source")
)
