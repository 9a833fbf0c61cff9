// Package config holds the host configuration, loaded from the environment
// with defaults suitable for a desktop install.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config configures the plugin runtime host.
type Config struct {
	// PluginDir is where installed plugin bundles live.
	PluginDir string `env:"CHORUS_PLUGIN_DIR"`

	// StoragePath is the sqlite database file backing isolated plugin
	// storage. Empty selects an in-memory backend.
	StoragePath string `env:"CHORUS_STORAGE_PATH"`

	// StorageQuotaBytes is the per-plugin isolated storage quota.
	StorageQuotaBytes int64 `env:"CHORUS_STORAGE_QUOTA" envDefault:"1048576"`

	// RegistryOverridePath, when set and readable, is used as the curated
	// registry document instead of any remote source.
	RegistryOverridePath string `env:"CHORUS_REGISTRY_OVERRIDE"`

	// RegistryURLs are the ordered curated registry fallback sources.
	RegistryURLs []string `env:"CHORUS_REGISTRY_URLS" envSeparator:","`

	// CommunityCacheTTL bounds how long a fetched community manifest is
	// served from cache.
	CommunityCacheTTL time.Duration `env:"CHORUS_COMMUNITY_TTL" envDefault:"10m"`

	// TimeUpdateInterval is the minimum spacing between timeUpdate events
	// emitted by the player feed.
	TimeUpdateInterval time.Duration `env:"CHORUS_TIMEUPDATE_INTERVAL" envDefault:"250ms"`

	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `env:"CHORUS_LOG_LEVEL" envDefault:"info"`

	// ExtraPermissions extends the recognized permission catalog with
	// integration-specific entries (e.g. "lastfm:scrobble").
	ExtraPermissions []string `env:"CHORUS_EXTRA_PERMISSIONS" envSeparator:","`
}

// Default returns the default configuration.
func Default() Config {
	cfg := Config{
		StorageQuotaBytes:  1 << 20,
		CommunityCacheTTL:  10 * time.Minute,
		TimeUpdateInterval: 250 * time.Millisecond,
		LogLevel:           "info",
		RegistryURLs: []string{
			"https://raw.githubusercontent.com/chorus-player/plugin-registry/main/registry.json",
			"https://registry.chorusplayer.org/registry.json",
		},
	}
	if home, err := os.UserHomeDir(); err == nil {
		cfg.PluginDir = filepath.Join(home, ".config", "chorus", "plugins")
		cfg.StoragePath = filepath.Join(home, ".local", "share", "chorus", "plugins.db")
	}
	return cfg
}

// Load returns the default configuration overlaid with environment values.
func Load() (Config, error) {
	cfg := Default()
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}
