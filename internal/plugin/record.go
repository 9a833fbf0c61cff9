package plugin

import (
	"time"

	"github.com/dshills/chorus/internal/plugin/security"
)

// Record is the mutable runtime record for one installed plugin. It is owned
// by the Manager; callers receive copies.
type Record struct {
	// Name is the unique plugin key.
	Name string

	// Version of the installed bundle.
	Version string

	// Enabled is the persisted user intent; an enabled plugin is started
	// again on the next host launch.
	Enabled bool

	// Granted is the granted permission set. Always a subset of what the
	// manifest requests at grant time; revokes can narrow it further.
	Granted []security.Permission

	// Source is the install source (repo reference, manifest URL, or local
	// directory), kept for update checks.
	Source string

	// EverEnabled tracks whether the first-enable permission grant has
	// already happened; later enables do not re-grant revoked permissions.
	EverEnabled bool

	InstalledAt time.Time
	UpdatedAt   time.Time
}

// Clone returns a copy safe to hand outside the Manager.
func (r *Record) Clone() *Record {
	clone := *r
	if r.Granted != nil {
		clone.Granted = append([]security.Permission(nil), r.Granted...)
	}
	return &clone
}
