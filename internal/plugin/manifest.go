package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/dshills/chorus/internal/plugin/security"
)

// Manifest describes a plugin's identity, entry point, and requested
// permissions. It is immutable after parse; updates replace it wholesale.
type Manifest struct {
	// Identity
	Name    string `json:"name"`    // Unique key (e.g., "lyrics-panel")
	Version string `json:"version"` // Semver (e.g., "1.2.0")
	Author  string `json:"author"`  // Author name or org

	// Entry point
	Entry string `json:"entry"` // Relative path to the main Lua file

	// Permissions requested from the closed catalog.
	Permissions []string `json:"permissions"`

	// Optional metadata
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Repo        string   `json:"repo,omitempty"`
	ManifestURL string   `json:"manifest_url,omitempty"`
	License     string   `json:"license,omitempty"`
	Icon        string   `json:"icon,omitempty"`
	UISlots     []string `json:"ui_slots,omitempty"`
}

// Validation errors.
var (
	ErrMissingName       = errors.New("manifest: name is required")
	ErrInvalidName       = errors.New("manifest: name must be alphanumeric with hyphens")
	ErrMissingVersion    = errors.New("manifest: version is required")
	ErrInvalidVersion    = errors.New("manifest: version must be valid semver")
	ErrMissingAuthor     = errors.New("manifest: author is required")
	ErrMissingEntry      = errors.New("manifest: entry is required")
	ErrInvalidEntry      = errors.New("manifest: entry must be a .lua file")
	ErrInvalidPermission = errors.New("manifest: unrecognized permission")
)

// namePattern validates plugin names.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*[a-z0-9]$|^[a-z]$`)

// semverPattern validates version strings (simplified semver).
var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?$`)

// ParseManifest parses and validates a manifest document.
func ParseManifest(data []byte, catalog *security.Catalog) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := m.Validate(catalog); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks that the manifest is complete and every requested
// permission is in the catalog.
func (m *Manifest) Validate(catalog *security.Catalog) error {
	if m.Name == "" {
		return ErrMissingName
	}
	if !namePattern.MatchString(m.Name) {
		return fmt.Errorf("%w: %s", ErrInvalidName, m.Name)
	}

	if m.Version == "" {
		return ErrMissingVersion
	}
	if !semverPattern.MatchString(m.Version) {
		return fmt.Errorf("%w: %s", ErrInvalidVersion, m.Version)
	}

	if m.Author == "" {
		return ErrMissingAuthor
	}

	if m.Entry == "" {
		return ErrMissingEntry
	}
	if filepath.Ext(m.Entry) != ".lua" {
		return fmt.Errorf("%w: %s", ErrInvalidEntry, m.Entry)
	}

	if catalog != nil {
		for _, p := range m.Permissions {
			if !catalog.Recognized(security.Permission(p)) {
				return fmt.Errorf("%w: %s", ErrInvalidPermission, p)
			}
		}
	}

	return nil
}

// PermissionSet returns the requested permissions as catalog values.
func (m *Manifest) PermissionSet() []security.Permission {
	perms := make([]security.Permission, len(m.Permissions))
	for i, p := range m.Permissions {
		perms[i] = security.Permission(p)
	}
	return perms
}

// RequestsPermission returns true if the manifest asks for the permission.
func (m *Manifest) RequestsPermission(p security.Permission) bool {
	for _, req := range m.Permissions {
		if security.Permission(req) == p {
			return true
		}
	}
	return false
}

// String returns a string representation of the manifest.
func (m *Manifest) String() string {
	return fmt.Sprintf("%s v%s", m.Name, m.Version)
}

// Clone creates a deep copy of the manifest.
func (m *Manifest) Clone() *Manifest {
	clone := *m
	if m.Permissions != nil {
		clone.Permissions = append([]string(nil), m.Permissions...)
	}
	if m.Tags != nil {
		clone.Tags = append([]string(nil), m.Tags...)
	}
	if m.UISlots != nil {
		clone.UISlots = append([]string(nil), m.UISlots...)
	}
	return &clone
}

// manifestJSON serializes a manifest back to its wire format.
func manifestJSON(m *Manifest) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return data, nil
}

// ValidateManifest is the fail-closed admission predicate applied to
// untrusted manifest bytes before anything else looks at them. It returns
// false for malformed JSON, a missing or mistyped required field, or a
// permission outside the catalog. It never panics.
func ValidateManifest(data []byte, catalog *security.Catalog) bool {
	if !gjson.ValidBytes(data) {
		return false
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return false
	}

	for _, field := range []string{"name", "version", "author", "entry"} {
		v := doc.Get(field)
		if v.Type != gjson.String || v.Str == "" {
			return false
		}
	}
	if !namePattern.MatchString(doc.Get("name").Str) {
		return false
	}
	if !semverPattern.MatchString(doc.Get("version").Str) {
		return false
	}

	perms := doc.Get("permissions")
	if perms.Exists() {
		if !perms.IsArray() {
			return false
		}
		ok := true
		perms.ForEach(func(_, v gjson.Result) bool {
			if v.Type != gjson.String ||
				catalog == nil || !catalog.Recognized(security.Permission(v.Str)) {
				ok = false
				return false
			}
			return true
		})
		if !ok {
			return false
		}
	}

	return true
}

// IsNewerVersion returns true if remote is a strictly newer semver than
// local. Unparseable versions compare as not newer.
func IsNewerVersion(local, remote string) bool {
	lp, lok := parseSemver(local)
	rp, rok := parseSemver(remote)
	if !lok || !rok {
		return false
	}
	for i := 0; i < 3; i++ {
		if rp[i] != lp[i] {
			return rp[i] > lp[i]
		}
	}
	return false
}

// parseSemver extracts the numeric major.minor.patch triple.
func parseSemver(v string) ([3]int, bool) {
	var out [3]int
	if !semverPattern.MatchString(v) {
		return out, false
	}
	// Strip pre-release/build metadata before splitting.
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	parts := strings.Split(v, ".")
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return out, false
		}
		out[i] = n
	}
	return out, true
}
