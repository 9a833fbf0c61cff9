package plugin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/chorus/internal/plugin/security"
)

// maxBundleSize caps a fetched manifest or entry file.
const maxBundleSize = 5 << 20 // 5 MiB

// Installer fetches a plugin's manifest and code bundle from a source
// reference. Fetch validates the manifest before returning it.
type Installer interface {
	Fetch(ctx context.Context, source string) (*Manifest, []byte, error)
}

// RepoInstaller installs from a GitHub-style repository reference. The
// source is either "owner/repo" or a full https repository URL; the default
// branch is probed (main, then master) for plugin.json, and the manifest's
// entry file is fetched from the same tree.
type RepoInstaller struct {
	client  *http.Client
	catalog *security.Catalog
	rawBase string
}

// branchCandidates are probed in order for the repo's default branch.
var branchCandidates = []string{"main", "master"}

// NewRepoInstaller creates an installer fetching from raw.githubusercontent.
func NewRepoInstaller(catalog *security.Catalog) *RepoInstaller {
	return &RepoInstaller{
		client:  &http.Client{Timeout: 30 * time.Second},
		catalog: catalog,
		rawBase: "https://raw.githubusercontent.com",
	}
}

// Fetch resolves the source to a validated manifest plus entry file bytes.
func (r *RepoInstaller) Fetch(ctx context.Context, source string) (*Manifest, []byte, error) {
	repo, err := normalizeRepoSource(source)
	if err != nil {
		return nil, nil, err
	}

	var lastErr error
	for _, branch := range branchCandidates {
		base := fmt.Sprintf("%s/%s/%s", r.rawBase, repo, branch)

		manifestData, err := r.get(ctx, base+"/plugin.json")
		if err != nil {
			lastErr = err
			continue
		}
		if !ValidateManifest(manifestData, r.catalog) {
			return nil, nil, fmt.Errorf("%w: %s", ErrInvalidManifest, source)
		}
		manifest, err := ParseManifest(manifestData, r.catalog)
		if err != nil {
			return nil, nil, err
		}

		code, err := r.get(ctx, base+"/"+manifest.Entry)
		if err != nil {
			return nil, nil, fmt.Errorf("fetch entry %s: %w", manifest.Entry, err)
		}
		if manifest.Repo == "" {
			manifest.Repo = "https://github.com/" + repo
		}
		return manifest, code, nil
	}
	return nil, nil, fmt.Errorf("no manifest found for %s: %w", source, lastErr)
}

// get fetches a URL, capped at maxBundleSize. Only http/https is allowed.
func (r *RepoInstaller) get(ctx context.Context, rawURL string) ([]byte, error) {
	if err := checkScheme(rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", rawURL, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBundleSize))
	if err != nil {
		return nil, err
	}
	return data, nil
}

// normalizeRepoSource reduces a source reference to "owner/repo".
func normalizeRepoSource(source string) (string, error) {
	s := strings.TrimSuffix(strings.TrimSpace(source), ".git")
	s = strings.TrimSuffix(s, "/")

	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		u, err := url.Parse(s)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrInvalidSource, source)
		}
		s = strings.Trim(u.Path, "/")
	}

	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("%w: %s (want owner/repo)", ErrInvalidSource, source)
	}
	return parts[0] + "/" + parts[1], nil
}

// checkScheme rejects any URL that is not plain http or https before a
// connection is attempted.
func checkScheme(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q not allowed", ErrInvalidSource, u.Scheme)
	}
	return nil
}

// DirInstaller installs from a local directory containing plugin.json and
// the entry file. Used for development installs.
type DirInstaller struct {
	catalog *security.Catalog
}

// NewDirInstaller creates a local-directory installer.
func NewDirInstaller(catalog *security.Catalog) *DirInstaller {
	return &DirInstaller{catalog: catalog}
}

// Fetch reads the manifest and entry file from the source directory.
func (d *DirInstaller) Fetch(ctx context.Context, source string) (*Manifest, []byte, error) {
	manifestData, err := os.ReadFile(filepath.Join(source, "plugin.json"))
	if err != nil {
		return nil, nil, fmt.Errorf("read manifest: %w", err)
	}
	if !ValidateManifest(manifestData, d.catalog) {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidManifest, source)
	}
	manifest, err := ParseManifest(manifestData, d.catalog)
	if err != nil {
		return nil, nil, err
	}

	code, err := os.ReadFile(filepath.Join(source, manifest.Entry))
	if err != nil {
		return nil, nil, fmt.Errorf("read entry: %w", err)
	}
	return manifest, code, nil
}
