package security

import (
	"sort"
	"sync"
)

// Permission identifies a privileged operation group a plugin may request.
type Permission string

// Built-in permissions.
const (
	// PermPlayerRead allows reading the current track and playback position.
	PermPlayerRead Permission = "player:read"

	// PermPlayerControl allows play/pause/seek commands.
	PermPlayerControl Permission = "player:control"

	// PermStorageLocal allows access to the plugin's isolated key/value store.
	PermStorageLocal Permission = "storage:local"

	// PermSystemNotify allows sending desktop notifications.
	PermSystemNotify Permission = "system:notify"

	// PermUIPlayerBar allows registering elements into player-bar UI slots.
	PermUIPlayerBar Permission = "ui:playerbar"

	// PermNetFetch allows proxied HTTP requests.
	PermNetFetch Permission = "net:fetch"

	// PermDiscordPresence allows publishing Discord rich presence.
	PermDiscordPresence Permission = "discord:presence"
)

// builtinPermissions are the permissions every catalog recognizes.
var builtinPermissions = []Permission{
	PermPlayerRead,
	PermPlayerControl,
	PermStorageLocal,
	PermSystemNotify,
	PermUIPlayerBar,
	PermNetFetch,
	PermDiscordPresence,
}

// Catalog is the closed set of permissions the host recognizes.
// The set is configuration: integration-specific permissions can be added at
// construction time, but manifest validation always fails closed against
// whatever set the active catalog holds.
type Catalog struct {
	known map[Permission]bool
}

// NewCatalog creates a catalog containing the built-in permissions plus any
// extra integration permissions.
func NewCatalog(extra ...Permission) *Catalog {
	known := make(map[Permission]bool, len(builtinPermissions)+len(extra))
	for _, p := range builtinPermissions {
		known[p] = true
	}
	for _, p := range extra {
		known[p] = true
	}
	return &Catalog{known: known}
}

// Recognized returns true if the permission is in the catalog.
func (c *Catalog) Recognized(p Permission) bool {
	return c.known[p]
}

// List returns all recognized permissions, sorted.
func (c *Catalog) List() []Permission {
	perms := make([]Permission, 0, len(c.known))
	for p := range c.known {
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i] < perms[j] })
	return perms
}

// Checker holds the granted permission set for a single plugin.
// It is the one audit point for "is permission X granted to plugin Y":
// every broker module calls Has/Check here before touching a provider.
type Checker struct {
	mu sync.RWMutex

	pluginName string
	granted    map[Permission]bool
}

// NewChecker creates an empty checker for the named plugin.
func NewChecker(pluginName string) *Checker {
	return &Checker{
		pluginName: pluginName,
		granted:    make(map[Permission]bool),
	}
}

// PluginName returns the plugin this checker belongs to.
func (c *Checker) PluginName() string {
	return c.pluginName
}

// Grant adds a permission to the granted set.
func (c *Checker) Grant(p Permission) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.granted[p] = true
}

// GrantAll adds multiple permissions.
func (c *Checker) GrantAll(perms []Permission) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range perms {
		c.granted[p] = true
	}
}

// Revoke removes a permission from the granted set.
func (c *Checker) Revoke(p Permission) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.granted, p)
}

// Has returns true if the permission is granted.
func (c *Checker) Has(p Permission) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.granted[p]
}

// Check returns an error if the permission is not granted.
func (c *Checker) Check(p Permission) error {
	if !c.Has(p) {
		return &PermissionError{Plugin: c.pluginName, Permission: p}
	}
	return nil
}

// Granted returns all granted permissions, sorted.
func (c *Checker) Granted() []Permission {
	c.mu.RLock()
	defer c.mu.RUnlock()

	perms := make([]Permission, 0, len(c.granted))
	for p := range c.granted {
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i] < perms[j] })
	return perms
}

// Reset clears all granted permissions.
func (c *Checker) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.granted = make(map[Permission]bool)
}

// PermissionError is returned when a permission is not granted.
type PermissionError struct {
	Plugin     string
	Permission Permission
}

func (e *PermissionError) Error() string {
	return "permission " + string(e.Permission) + " not granted to plugin " + e.Plugin
}
