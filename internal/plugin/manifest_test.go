package plugin

import (
	"errors"
	"testing"

	"github.com/dshills/chorus/internal/plugin/security"
)

func validManifestJSON() string {
	return `{
		"name": "lyrics-panel",
		"version": "1.2.0",
		"author": "someone",
		"entry": "main.lua",
		"permissions": ["player:read", "storage:local"],
		"category": "lyrics"
	}`
}

func TestValidateManifestAccepts(t *testing.T) {
	catalog := security.NewCatalog()
	if !ValidateManifest([]byte(validManifestJSON()), catalog) {
		t.Error("valid manifest rejected")
	}
}

func TestValidateManifestFailsClosed(t *testing.T) {
	catalog := security.NewCatalog()

	tests := []struct {
		name string
		data string
	}{
		{"malformed JSON", `{"name": "x"`},
		{"not an object", `["name"]`},
		{"empty input", ``},
		{"missing name", `{"version":"1.0.0","author":"a","entry":"m.lua"}`},
		{"missing version", `{"name":"x","author":"a","entry":"m.lua"}`},
		{"missing author", `{"name":"x","version":"1.0.0","entry":"m.lua"}`},
		{"missing entry", `{"name":"x","version":"1.0.0","author":"a"}`},
		{"name not a string", `{"name":7,"version":"1.0.0","author":"a","entry":"m.lua"}`},
		{"bad name pattern", `{"name":"Bad Name!","version":"1.0.0","author":"a","entry":"m.lua"}`},
		{"bad version", `{"name":"x","version":"latest","author":"a","entry":"m.lua"}`},
		{"unknown permission", `{"name":"x","version":"1.0.0","author":"a","entry":"m.lua","permissions":["root:everything"]}`},
		{"permission not a string", `{"name":"x","version":"1.0.0","author":"a","entry":"m.lua","permissions":[42]}`},
		{"permissions not an array", `{"name":"x","version":"1.0.0","author":"a","entry":"m.lua","permissions":"player:read"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if ValidateManifest([]byte(tt.data), catalog) {
				t.Errorf("ValidateManifest accepted %s", tt.name)
			}
		})
	}
}

func TestValidateManifestExtendedCatalog(t *testing.T) {
	data := `{"name":"scrobbler","version":"0.1.0","author":"a","entry":"m.lua","permissions":["lastfm:scrobble"]}`

	if ValidateManifest([]byte(data), security.NewCatalog()) {
		t.Error("integration permission accepted without catalog entry")
	}
	extended := security.NewCatalog("lastfm:scrobble")
	if !ValidateManifest([]byte(data), extended) {
		t.Error("integration permission rejected with catalog entry")
	}
}

func TestParseManifest(t *testing.T) {
	catalog := security.NewCatalog()

	m, err := ParseManifest([]byte(validManifestJSON()), catalog)
	if err != nil {
		t.Fatalf("ParseManifest() error = %v", err)
	}
	if m.Name != "lyrics-panel" || m.Version != "1.2.0" || m.Entry != "main.lua" {
		t.Errorf("parsed manifest = %+v", m)
	}
	if len(m.Permissions) != 2 {
		t.Errorf("permissions = %v", m.Permissions)
	}
	if !m.RequestsPermission(security.PermStorageLocal) {
		t.Error("RequestsPermission(storage:local) = false")
	}
}

func TestManifestValidateErrors(t *testing.T) {
	catalog := security.NewCatalog()

	tests := []struct {
		name    string
		mutate  func(*Manifest)
		wantErr error
	}{
		{"no name", func(m *Manifest) { m.Name = "" }, ErrMissingName},
		{"bad name", func(m *Manifest) { m.Name = "Not OK" }, ErrInvalidName},
		{"no version", func(m *Manifest) { m.Version = "" }, ErrMissingVersion},
		{"bad version", func(m *Manifest) { m.Version = "1.2" }, ErrInvalidVersion},
		{"no author", func(m *Manifest) { m.Author = "" }, ErrMissingAuthor},
		{"no entry", func(m *Manifest) { m.Entry = "" }, ErrMissingEntry},
		{"bad entry", func(m *Manifest) { m.Entry = "main.js" }, ErrInvalidEntry},
		{"bad permission", func(m *Manifest) { m.Permissions = []string{"nope"} }, ErrInvalidPermission},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Manifest{
				Name: "ok-plugin", Version: "1.0.0", Author: "a", Entry: "main.lua",
			}
			tt.mutate(m)
			if err := m.Validate(catalog); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsNewerVersion(t *testing.T) {
	tests := []struct {
		local, remote string
		want          bool
	}{
		{"1.0.0", "1.0.1", true},
		{"1.0.0", "1.1.0", true},
		{"1.9.0", "2.0.0", true},
		{"1.0.1", "1.0.0", false},
		{"1.0.0", "1.0.0", false},
		{"2.0.0", "1.9.9", false},
		{"1.0.0", "1.0.10", true},
		{"1.0.0-beta", "1.0.0", false},
		{"1.0.0", "2.0.0-rc.1", true},
		{"garbage", "1.0.0", false},
		{"1.0.0", "garbage", false},
	}
	for _, tt := range tests {
		if got := IsNewerVersion(tt.local, tt.remote); got != tt.want {
			t.Errorf("IsNewerVersion(%q, %q) = %v, want %v", tt.local, tt.remote, got, tt.want)
		}
	}
}
