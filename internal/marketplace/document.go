package marketplace

import (
	"github.com/dshills/chorus/internal/plugin"
)

// Entry is one installable plugin in a registry document. Curated entries
// may carry Verified and popularity metadata; community entries are built
// from a single fetched manifest.
type Entry struct {
	Manifest    plugin.Manifest `json:"manifest"`
	Repo        string          `json:"repo,omitempty"`
	ManifestURL string          `json:"manifest_url,omitempty"`
	Stars       int             `json:"stars,omitempty"`
	Downloads   int             `json:"downloads,omitempty"`
	Verified    bool            `json:"verified,omitempty"`
	LastUpdated string          `json:"lastUpdated,omitempty"`
}

// Document is the registry wire format.
type Document struct {
	Version   int     `json:"version"`
	UpdatedAt string  `json:"updated_at"`
	Plugins   []Entry `json:"plugins"`
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Manifest = *e.Manifest.Clone()
	return &clone
}

// Source returns the install source for the entry: the repository when
// known, otherwise the manifest URL.
func (e *Entry) Source() string {
	if e.Repo != "" {
		return e.Repo
	}
	if e.ManifestURL != "" {
		return e.ManifestURL
	}
	return e.Manifest.Repo
}
