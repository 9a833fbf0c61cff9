// Package app assembles the plugin runtime host: configuration, logging,
// the event bus, storage, the plugin manager, and the marketplace client.
package app

import (
	"context"
	"fmt"

	"github.com/dshills/chorus/internal/config"
	"github.com/dshills/chorus/internal/event"
	"github.com/dshills/chorus/internal/integration/discord"
	"github.com/dshills/chorus/internal/logging"
	"github.com/dshills/chorus/internal/marketplace"
	"github.com/dshills/chorus/internal/player"
	"github.com/dshills/chorus/internal/plugin"
	"github.com/dshills/chorus/internal/plugin/security"
	"github.com/dshills/chorus/internal/storage"
	"github.com/dshills/chorus/internal/ui"
)

// Options configures App construction beyond the environment config.
type Options struct {
	// Config overrides the environment-loaded configuration when non-nil.
	Config *config.Config

	// Player is the host player backend. Required for a functional broker;
	// nil is tolerated for tooling that never enables plugins.
	Player player.Player

	// Notifier delivers desktop notifications. May be nil.
	Notifier NotifyFunc

	// LogLevel overrides the configured level when non-empty.
	LogLevel string
}

// NotifyFunc adapts a notification callback to the broker's provider
// interface.
type NotifyFunc func(plugin, title, body string) error

// Notify implements the notifier provider.
func (f NotifyFunc) Notify(plugin, title, body string) error {
	if f == nil {
		return nil
	}
	return f(plugin, title, body)
}

// App owns the host-side runtime: every subsystem a plugin can touch.
type App struct {
	cfg    config.Config
	logger *logging.Logger

	bus     *event.Bus
	slots   *ui.SlotRegistry
	backend storage.Backend
	discord *discord.Client

	manager     *plugin.Manager
	marketplace *marketplace.Client
	feed        *player.Feed
}

// New wires the runtime together. Call Shutdown to release everything.
func New(opts Options) (*App, error) {
	var cfg config.Config
	if opts.Config != nil {
		cfg = *opts.Config
	} else {
		loaded, err := config.Load()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	level := cfg.LogLevel
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logger := logging.New(logging.Config{Level: logging.ParseLevel(level), Prefix: "chorus"})

	bus := event.NewBus(logger.WithComponent("bus"))
	slots := ui.NewSlotRegistry()

	var backend storage.Backend
	if cfg.StoragePath == "" {
		backend = storage.NewMemory()
	} else {
		sqlite, err := storage.OpenSQLite(cfg.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		backend = sqlite
	}

	extra := make([]security.Permission, len(cfg.ExtraPermissions))
	for i, p := range cfg.ExtraPermissions {
		extra[i] = security.Permission(p)
	}
	catalog := security.NewCatalog(extra...)

	limits := security.DefaultLimits()
	if cfg.StorageQuotaBytes > 0 {
		limits.StorageQuota = cfg.StorageQuotaBytes
	}

	discordClient := discord.NewClient(discord.DefaultAppID)

	manager, err := plugin.NewManager(plugin.ManagerConfig{
		Logger:    logger,
		Bus:       bus,
		Slots:     slots,
		Backend:   backend,
		Catalog:   catalog,
		Limits:    limits,
		PluginDir: cfg.PluginDir,
		StatePath: statePath(cfg),
		Player:    opts.Player,
		Notifier:  opts.Notifier,
		Discord:   discordClient,
	})
	if err != nil {
		backend.Close()
		return nil, err
	}

	market := marketplace.NewClient(marketplace.ClientConfig{
		OverridePath: cfg.RegistryOverridePath,
		URLs:         cfg.RegistryURLs,
		CommunityTTL: cfg.CommunityCacheTTL,
		Catalog:      catalog,
		Logger:       logger,
	})

	app := &App{
		cfg:         cfg,
		logger:      logger,
		bus:         bus,
		slots:       slots,
		backend:     backend,
		discord:     discordClient,
		manager:     manager,
		marketplace: market,
	}
	if opts.Player != nil {
		app.feed = player.NewFeed(bus, cfg.TimeUpdateInterval)
	}
	return app, nil
}

// Start restores persisted plugins.
func (a *App) Start(ctx context.Context) error {
	if err := a.manager.LoadPersisted(ctx); err != nil {
		return fmt.Errorf("restore plugins: %w", err)
	}
	a.logger.Info("runtime started: plugins=%d", len(a.manager.List()))
	return nil
}

// Manager returns the plugin manager.
func (a *App) Manager() *plugin.Manager { return a.manager }

// Marketplace returns the registry client.
func (a *App) Marketplace() *marketplace.Client { return a.marketplace }

// Bus returns the event bus.
func (a *App) Bus() *event.Bus { return a.bus }

// Feed returns the player event feed. Nil when no player was wired.
func (a *App) Feed() *player.Feed { return a.feed }

// Slots returns the player bar slot registry.
func (a *App) Slots() *ui.SlotRegistry { return a.slots }

// Logger returns the root logger.
func (a *App) Logger() *logging.Logger { return a.logger }

// Shutdown tears the runtime down in reverse construction order: plugins
// first, then the bus, integrations, and storage.
func (a *App) Shutdown(ctx context.Context) {
	a.manager.Shutdown(ctx)
	a.bus.RemoveAll()
	if err := a.discord.Close(); err != nil {
		a.logger.Error("close discord: %v", err)
	}
	if err := a.backend.Close(); err != nil {
		a.logger.Error("close storage: %v", err)
	}
	a.logger.Info("runtime stopped")
}

// statePath derives the records file location from the configured plugin
// directory.
func statePath(cfg config.Config) string {
	if cfg.PluginDir == "" {
		return ""
	}
	return cfg.PluginDir + "/plugin_state.json"
}
