package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/chorus/internal/event"
	"github.com/dshills/chorus/internal/logging"
	"github.com/dshills/chorus/internal/player"
	"github.com/dshills/chorus/internal/plugin/api"
	"github.com/dshills/chorus/internal/plugin/security"
	"github.com/dshills/chorus/internal/storage"
	"github.com/dshills/chorus/internal/ui"
)

// ManagerConfig wires the Manager to the host's collaborators.
type ManagerConfig struct {
	// Logger for runtime diagnostics. Nil disables logging.
	Logger *logging.Logger

	// Bus is the host event bus. Required.
	Bus *event.Bus

	// Slots is the player bar slot registry. Required.
	Slots *ui.SlotRegistry

	// Backend is the durable store behind isolated plugin storage. Required.
	Backend storage.Backend

	// Catalog is the recognized permission set. Nil selects the built-ins.
	Catalog *security.Catalog

	// Limits are applied to every plugin. Zero values select defaults.
	Limits security.Limits

	// Installer fetches plugin bundles. Nil selects the repo installer.
	Installer Installer

	// PluginDir is where installed bundles are materialized. Required.
	PluginDir string

	// StatePath is the records file. Empty disables persistence.
	StatePath string

	// Player is the host player backend.
	Player player.Player

	// Notifier delivers desktop notifications. May be nil.
	Notifier api.NotifyProvider

	// Fetcher performs proxied HTTP requests. Nil selects the default.
	Fetcher api.NetProvider

	// Discord publishes rich presence. May be nil.
	Discord api.DiscordProvider
}

// UpdateInfo describes an available plugin update.
type UpdateInfo struct {
	Name      string
	Installed string
	Available string
	Source    string
}

// Manager owns the plugin registry: every installed plugin's record, host
// instance, permissions, and storage view. All registry mutations happen
// under one mutex, so no caller ever observes a half-applied install,
// update, or lifecycle transition.
type Manager struct {
	mu sync.Mutex

	cfg        ManagerConfig
	logger     *logging.Logger
	providers  *api.Context
	stateStore *StateStore

	hosts   map[string]*Host
	records map[string]*Record
	order   []string

	// generation increments whenever the set of live plugins changes. Async
	// results (stream resolution) snapshot it at dispatch and are discarded
	// if it moved before they complete.
	generation atomic.Uint64
}

// NewManager creates the plugin manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Bus == nil || cfg.Slots == nil || cfg.Backend == nil {
		return nil, errors.New("manager: bus, slots, and backend are required")
	}
	if cfg.PluginDir == "" {
		return nil, errors.New("manager: plugin directory is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Null
	}
	if cfg.Catalog == nil {
		cfg.Catalog = security.NewCatalog()
	}
	if cfg.Limits == (security.Limits{}) {
		cfg.Limits = security.DefaultLimits()
	}
	if cfg.Installer == nil {
		cfg.Installer = NewRepoInstaller(cfg.Catalog)
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = api.NewHTTPFetcher()
	}

	return &Manager{
		cfg:    cfg,
		logger: cfg.Logger.WithComponent("plugin-manager"),
		providers: &api.Context{
			Player:   cfg.Player,
			Events:   cfg.Bus,
			UI:       cfg.Slots,
			Notifier: cfg.Notifier,
			Fetcher:  cfg.Fetcher,
			Discord:  cfg.Discord,
			Logger:   cfg.Logger,
		},
		stateStore: NewStateStore(cfg.StatePath),
		hosts:      make(map[string]*Host),
		records:    make(map[string]*Record),
	}, nil
}

// Install fetches, validates, and materializes a plugin bundle. The record
// starts disabled with no granted permissions. Installing a name that
// already exists replaces the prior instance after fully unloading it.
func (m *Manager) Install(ctx context.Context, source string) (*Record, error) {
	manifest, code, err := m.cfg.Installer.Fetch(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("install %s: %w", source, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[manifest.Name]; exists {
		m.logger.Info("replacing plugin: name=%s", manifest.Name)
		m.unloadHostLocked(ctx, manifest.Name)
		m.clearBundleLocked(manifest.Name)
	}

	if err := m.writeBundleLocked(manifest, code); err != nil {
		return nil, err
	}

	now := time.Now()
	rec := &Record{
		Name:        manifest.Name,
		Version:     manifest.Version,
		Source:      source,
		InstalledAt: now,
		UpdatedAt:   now,
	}
	if _, exists := m.records[manifest.Name]; !exists {
		m.order = append(m.order, manifest.Name)
	}
	m.records[manifest.Name] = rec
	m.persistLocked()

	m.logger.Info("plugin installed: name=%s version=%s", manifest.Name, manifest.Version)
	return rec.Clone(), nil
}

// Uninstall unloads the plugin, removes its record, bundle, and isolated
// storage.
func (m *Manager) Uninstall(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[name]; !exists {
		return fmt.Errorf("plugin %q: %w", name, ErrPluginNotFound)
	}

	m.unloadHostLocked(ctx, name)

	prefix := storage.NamespacePrefix + name + "."
	if err := m.cfg.Backend.Clear(ctx, prefix); err != nil {
		m.logger.Error("clear storage failed: plugin=%s: %v", name, err)
	}
	if err := os.RemoveAll(m.bundleDir(name)); err != nil {
		m.logger.Error("remove bundle failed: plugin=%s: %v", name, err)
	}

	delete(m.records, name)
	m.removeFromOrderLocked(name)
	m.persistLocked()

	m.logger.Info("plugin uninstalled: name=%s", name)
	return nil
}

// Enable loads the plugin if needed and runs its start hook. The first
// enable grants everything the manifest requests; later enables reuse the
// record's granted set, so revokes stick.
func (m *Manager) Enable(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enableLocked(ctx, name)
}

func (m *Manager) enableLocked(ctx context.Context, name string) error {
	rec, exists := m.records[name]
	if !exists {
		return fmt.Errorf("plugin %q: %w", name, ErrPluginNotFound)
	}

	host := m.hosts[name]
	if host == nil {
		if !rec.EverEnabled {
			manifest, err := m.loadManifestLocked(name)
			if err != nil {
				return err
			}
			rec.Granted = manifest.PermissionSet()
			rec.EverEnabled = true
		}

		var err error
		host, err = m.buildHostLocked(ctx, rec)
		if err != nil {
			m.persistLocked()
			return err
		}
		if err := host.Load(ctx); err != nil {
			// The entry file may have registered slots or subscriptions
			// before it raised.
			m.cfg.Bus.RemovePlugin(name)
			m.cfg.Slots.RemovePlugin(name)
			m.persistLocked()
			return err
		}
		m.hosts[name] = host
	}

	if err := host.Enable(ctx); err != nil {
		rec.Enabled = false
		m.persistLocked()
		return err
	}

	rec.Enabled = true
	m.persistLocked()
	m.logger.Info("plugin enabled: name=%s", name)
	return nil
}

// Disable runs the stop hook and removes the plugin's subscriptions and UI
// slots. The loaded Lua state is kept so a later enable is cheap.
func (m *Manager) Disable(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.records[name]
	if !exists {
		return fmt.Errorf("plugin %q: %w", name, ErrPluginNotFound)
	}

	if host := m.hosts[name]; host != nil {
		if err := host.Disable(ctx); err != nil {
			m.logger.Error("disable failed: plugin=%s: %v", name, err)
		}
	}
	m.cfg.Bus.RemovePlugin(name)
	m.cfg.Slots.RemovePlugin(name)
	m.generation.Add(1)

	rec.Enabled = false
	m.persistLocked()
	m.logger.Info("plugin disabled: name=%s", name)
	return nil
}

// Grant adds a permission to the plugin's granted set. Takes effect on the
// plugin's next broker call.
func (m *Manager) Grant(name string, perm security.Permission) error {
	if !m.cfg.Catalog.Recognized(perm) {
		return fmt.Errorf("%w: %s", ErrInvalidPermission, perm)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.records[name]
	if !exists {
		return fmt.Errorf("plugin %q: %w", name, ErrPluginNotFound)
	}

	for _, p := range rec.Granted {
		if p == perm {
			return nil
		}
	}
	rec.Granted = append(rec.Granted, perm)
	if host := m.hosts[name]; host != nil {
		host.Checker().Grant(perm)
	}
	m.persistLocked()
	return nil
}

// Revoke removes a permission from the plugin's granted set.
func (m *Manager) Revoke(name string, perm security.Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.records[name]
	if !exists {
		return fmt.Errorf("plugin %q: %w", name, ErrPluginNotFound)
	}

	for i, p := range rec.Granted {
		if p == perm {
			rec.Granted = append(rec.Granted[:i], rec.Granted[i+1:]...)
			break
		}
	}
	if host := m.hosts[name]; host != nil {
		host.Checker().Revoke(perm)
	}
	m.persistLocked()
	return nil
}

// Get returns a copy of the plugin's record.
func (m *Manager) Get(name string) (*Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.records[name]
	if !exists {
		return nil, false
	}
	return rec.Clone(), true
}

// State returns the plugin's live lifecycle state. Installed-but-unloaded
// plugins report StateInstalled.
func (m *Manager) State(name string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[name]; !exists {
		return StateUnloaded, false
	}
	if host := m.hosts[name]; host != nil {
		return host.State(), true
	}
	return StateInstalled, true
}

// List returns copies of all records in install order.
func (m *Manager) List() []*Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Record, 0, len(m.order))
	for _, name := range m.order {
		if rec, exists := m.records[name]; exists {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// ResolveStreamURL asks whichever enabled plugin registered for the source
// type to resolve a playable URL. Returns ("", false) when no resolver is
// registered, the resolver fails or declines, or the plugin set changed
// while the resolution was in flight (the late result is discarded).
func (m *Manager) ResolveStreamURL(ctx context.Context, sourceType, externalID string) (string, bool) {
	m.mu.Lock()
	gen := m.generation.Load()
	var target *Host
	for _, name := range m.order {
		if host := m.hosts[name]; host != nil && host.ResolvesSource(sourceType) {
			target = host
			break
		}
	}
	m.mu.Unlock()

	if target == nil {
		return "", false
	}

	url, err := target.Resolve(ctx, sourceType, externalID)
	if err != nil {
		m.logger.Error("stream resolution failed: plugin=%s source=%s: %v",
			target.Name(), sourceType, err)
		return "", false
	}
	if url == "" {
		return "", false
	}
	if m.generation.Load() != gen {
		m.logger.Debug("stale stream resolution discarded: plugin=%s source=%s",
			target.Name(), sourceType)
		return "", false
	}
	return url, true
}

// CheckUpdates compares installed versions against candidate manifests.
// Pure: no I/O, no state change.
func (m *Manager) CheckUpdates(available []*Manifest) []UpdateInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	var updates []UpdateInfo
	for _, name := range m.order {
		rec, exists := m.records[name]
		if !exists {
			continue
		}
		for _, candidate := range available {
			if candidate == nil || candidate.Name != name {
				continue
			}
			if IsNewerVersion(rec.Version, candidate.Version) {
				source := candidate.Repo
				if source == "" {
					source = rec.Source
				}
				updates = append(updates, UpdateInfo{
					Name:      name,
					Installed: rec.Version,
					Available: candidate.Version,
					Source:    source,
				})
			}
			break
		}
	}
	return updates
}

// ApplyUpdate replaces the plugin with the version at source (the record's
// install source when empty). The old instance is fully unloaded first;
// enabled state and granted permissions carry over, and storage is untouched
// because it is keyed by plugin name, not version.
func (m *Manager) ApplyUpdate(ctx context.Context, name, source string) error {
	m.mu.Lock()
	rec, exists := m.records[name]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("plugin %q: %w", name, ErrPluginNotFound)
	}
	if source == "" {
		source = rec.Source
	}
	wasEnabled := rec.Enabled
	m.mu.Unlock()

	manifest, code, err := m.cfg.Installer.Fetch(ctx, source)
	if err != nil {
		return fmt.Errorf("update %s: %w", name, err)
	}
	if manifest.Name != name {
		return fmt.Errorf("update %s: source provides %q", name, manifest.Name)
	}

	m.mu.Lock()
	rec, exists = m.records[name]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("plugin %q: %w", name, ErrPluginNotFound)
	}

	m.unloadHostLocked(ctx, name)
	m.clearBundleLocked(name)
	if err := m.writeBundleLocked(manifest, code); err != nil {
		m.mu.Unlock()
		return err
	}

	rec.Version = manifest.Version
	rec.Source = source
	rec.Enabled = false
	rec.UpdatedAt = time.Now()
	m.persistLocked()

	var enableErr error
	if wasEnabled {
		enableErr = m.enableLocked(ctx, name)
	}
	m.mu.Unlock()

	if enableErr != nil {
		m.logger.Error("plugin updated but enable failed: name=%s version=%s: %v",
			name, manifest.Version, enableErr)
		return enableErr
	}
	m.logger.Info("plugin updated: name=%s version=%s", name, manifest.Version)
	return nil
}

// LoadPersisted restores records from the state file and starts every
// plugin that was enabled. Individual failures are logged and skipped.
func (m *Manager) LoadPersisted(ctx context.Context) error {
	records, err := m.stateStore.Load()
	if err != nil {
		return err
	}

	m.mu.Lock()
	for name, rec := range records {
		if _, err := os.Stat(filepath.Join(m.bundleDir(name), "plugin.json")); err != nil {
			m.logger.Error("bundle missing for recorded plugin: name=%s", name)
			continue
		}
		m.records[name] = rec
		m.order = append(m.order, name)
	}

	for _, name := range m.order {
		rec := m.records[name]
		if rec == nil || !rec.Enabled {
			continue
		}
		if err := m.enableLocked(ctx, name); err != nil {
			m.logger.Error("restore failed: plugin=%s: %v", name, err)
		}
	}
	m.mu.Unlock()
	return nil
}

// Shutdown unloads every plugin in reverse install order and persists the
// records. Enabled flags are preserved so the next launch restores them.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.order) - 1; i >= 0; i-- {
		m.unloadHostLocked(ctx, m.order[i])
	}
	m.persistLocked()
}

// buildHostLocked constructs the host for a record. Must hold mu.
func (m *Manager) buildHostLocked(ctx context.Context, rec *Record) (*Host, error) {
	manifest, err := m.loadManifestLocked(rec.Name)
	if err != nil {
		return nil, err
	}

	checker := security.NewChecker(rec.Name)
	checker.GrantAll(rec.Granted)

	store, err := storage.NewIsolated(ctx, m.cfg.Backend, rec.Name, int(m.cfg.Limits.StorageQuota))
	if err != nil {
		return nil, fmt.Errorf("open storage for %q: %w", rec.Name, err)
	}

	return NewHost(manifest, m.bundleDir(rec.Name), HostDeps{
		Providers: m.providers,
		Store:     store,
		Checker:   checker,
		Logger:    m.cfg.Logger,
		Limits:    m.cfg.Limits,
	})
}

// loadManifestLocked reads the installed bundle's manifest. Must hold mu.
func (m *Manager) loadManifestLocked(name string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(m.bundleDir(name), "plugin.json"))
	if err != nil {
		return nil, fmt.Errorf("read manifest for %q: %w", name, err)
	}
	return ParseManifest(data, m.cfg.Catalog)
}

// writeBundleLocked materializes manifest and entry file. Must hold mu.
func (m *Manager) writeBundleLocked(manifest *Manifest, code []byte) error {
	dir := m.bundleDir(manifest.Name)
	if err := os.MkdirAll(filepath.Dir(filepath.Join(dir, manifest.Entry)), 0o755); err != nil {
		return fmt.Errorf("create bundle dir: %w", err)
	}

	manifestData, err := manifestJSON(manifest)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "plugin.json"), manifestData, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifest.Entry), code, 0o644); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	return nil
}

// clearBundleLocked removes the installed bundle directory before a new
// version is written, so files from the old version (a differently named
// entry, say) cannot linger. Must hold mu.
func (m *Manager) clearBundleLocked(name string) {
	if err := os.RemoveAll(m.bundleDir(name)); err != nil {
		m.logger.Error("remove old bundle failed: plugin=%s: %v", name, err)
	}
}

// unloadHostLocked tears down the live instance and its host-side traces.
// The record is left alone. Must hold mu.
func (m *Manager) unloadHostLocked(ctx context.Context, name string) {
	if host := m.hosts[name]; host != nil {
		if err := host.Unload(ctx); err != nil {
			m.logger.Error("unload failed: plugin=%s: %v", name, err)
		}
		delete(m.hosts, name)
	}
	m.cfg.Bus.RemovePlugin(name)
	m.cfg.Slots.RemovePlugin(name)
	m.generation.Add(1)
}

// persistLocked saves the records, logging failures. Must hold mu.
func (m *Manager) persistLocked() {
	if err := m.stateStore.Save(m.records); err != nil {
		m.logger.Error("persist records failed: %v", err)
	}
}

// removeFromOrderLocked drops a name from the install order. Must hold mu.
func (m *Manager) removeFromOrderLocked(name string) {
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

func (m *Manager) bundleDir(name string) string {
	return filepath.Join(m.cfg.PluginDir, name)
}
