// Package marketplace fetches and validates plugin registry documents.
//
// Curated plugins come from a trusted registry feed with ordered fallback
// sources; community plugins come from arbitrary user-supplied manifest
// URLs. Both pass the same manifest validation before being offered for
// install.
package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/dshills/chorus/internal/logging"
	"github.com/dshills/chorus/internal/plugin"
	"github.com/dshills/chorus/internal/plugin/security"
)

// maxDocumentSize caps a fetched registry document or manifest.
const maxDocumentSize = 10 << 20 // 10 MiB

// DefaultCommunityTTL bounds how long a community manifest is cached.
const DefaultCommunityTTL = 10 * time.Minute

// ErrNoRegistry is returned when every curated source fails.
var ErrNoRegistry = errors.New("no registry source available")

// ClientConfig configures the marketplace client.
type ClientConfig struct {
	// OverridePath, when set and readable, is used as the curated registry
	// document instead of any remote source.
	OverridePath string

	// URLs are the ordered curated fallback sources.
	URLs []string

	// CommunityTTL bounds the community manifest cache. Zero selects the
	// default.
	CommunityTTL time.Duration

	// Catalog is the recognized permission set for entry validation.
	Catalog *security.Catalog

	// Logger for dropped-entry diagnostics. Nil disables logging.
	Logger *logging.Logger

	// HTTPClient overrides the default client, for tests.
	HTTPClient *http.Client
}

type cachedManifest struct {
	entry     *Entry
	fetchedAt time.Time
}

// Client fetches curated registry documents and community manifests.
type Client struct {
	client  *http.Client
	logger  *logging.Logger
	catalog *security.Catalog

	overridePath string
	urls         []string
	ttl          time.Duration

	mu    sync.Mutex
	cache map[string]cachedManifest
	now   func() time.Time
}

// NewClient creates a marketplace client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Logger == nil {
		cfg.Logger = logging.Null
	}
	if cfg.Catalog == nil {
		cfg.Catalog = security.NewCatalog()
	}
	if cfg.CommunityTTL <= 0 {
		cfg.CommunityTTL = DefaultCommunityTTL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		client:       cfg.HTTPClient,
		logger:       cfg.Logger.WithComponent("marketplace"),
		catalog:      cfg.Catalog,
		overridePath: cfg.OverridePath,
		urls:         cfg.URLs,
		ttl:          cfg.CommunityTTL,
		cache:        make(map[string]cachedManifest),
		now:          time.Now,
	}
}

// FetchCurated returns the curated plugin list. The local override path is
// tried first, then each remote source in order; the first well-formed
// document wins. Every entry is validated independently, so one malformed
// entry never discards the rest.
func (c *Client) FetchCurated(ctx context.Context) ([]Entry, error) {
	if c.overridePath != "" {
		if data, err := os.ReadFile(c.overridePath); err == nil {
			if entries, ok := c.parseDocument(data, c.overridePath); ok {
				return entries, nil
			}
			c.logger.Error("registry override malformed: path=%s", c.overridePath)
		}
	}

	var lastErr error = ErrNoRegistry
	for _, source := range c.urls {
		data, err := c.get(ctx, source)
		if err != nil {
			c.logger.Error("registry source failed: url=%s: %v", source, err)
			lastErr = err
			continue
		}
		if entries, ok := c.parseDocument(data, source); ok {
			return entries, nil
		}
		c.logger.Error("registry source malformed: url=%s", source)
	}
	return nil, fmt.Errorf("fetch curated registry: %w", lastErr)
}

// parseDocument decodes a registry document and drops invalid entries.
// ok is false when the document itself is malformed.
func (c *Client) parseDocument(data []byte, source string) ([]Entry, bool) {
	if !gjson.ValidBytes(data) || !gjson.GetBytes(data, "plugins").IsArray() {
		return nil, false
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false
	}

	entries := make([]Entry, 0, len(doc.Plugins))
	for _, entry := range doc.Plugins {
		if err := entry.Manifest.Validate(c.catalog); err != nil {
			c.logger.Error("dropping registry entry: source=%s name=%q: %v",
				source, entry.Manifest.Name, err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, true
}

// FetchCommunity fetches and validates a user-supplied manifest URL.
// The scheme is checked before any network access; successful fetches are
// cached for the TTL. Any validation or network failure returns nil.
func (c *Client) FetchCommunity(ctx context.Context, manifestURL string) *Entry {
	u, err := url.Parse(manifestURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		c.logger.Error("community manifest rejected: url=%s: bad scheme", manifestURL)
		return nil
	}

	c.mu.Lock()
	if cached, ok := c.cache[manifestURL]; ok && c.now().Sub(cached.fetchedAt) < c.ttl {
		c.mu.Unlock()
		// Copy so a caller mutating the result cannot poison the cache.
		return cached.entry.Clone()
	}
	c.mu.Unlock()

	data, err := c.get(ctx, manifestURL)
	if err != nil {
		c.logger.Error("community manifest fetch failed: url=%s: %v", manifestURL, err)
		return nil
	}
	if !plugin.ValidateManifest(data, c.catalog) {
		c.logger.Error("community manifest invalid: url=%s", manifestURL)
		return nil
	}
	manifest, err := plugin.ParseManifest(data, c.catalog)
	if err != nil {
		c.logger.Error("community manifest invalid: url=%s: %v", manifestURL, err)
		return nil
	}

	entry := &Entry{Manifest: *manifest, ManifestURL: manifestURL}
	c.mu.Lock()
	c.cache[manifestURL] = cachedManifest{entry: entry, fetchedAt: c.now()}
	c.mu.Unlock()
	return entry.Clone()
}

// get fetches a URL, capped at maxDocumentSize.
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", rawURL, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
}

// Search returns entries whose name, description, author, or tags contain
// the query, case-insensitively. Pure: no I/O.
func Search(entries []Entry, query string) []Entry {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return append([]Entry(nil), entries...)
	}

	var out []Entry
	for _, e := range entries {
		if entryMatches(&e, q) {
			out = append(out, e)
		}
	}
	return out
}

func entryMatches(e *Entry, q string) bool {
	if strings.Contains(strings.ToLower(e.Manifest.Name), q) ||
		strings.Contains(strings.ToLower(e.Manifest.Description), q) ||
		strings.Contains(strings.ToLower(e.Manifest.Author), q) {
		return true
	}
	for _, tag := range e.Manifest.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}

// FilterByCategory returns entries in the category, case-insensitively.
// Pure: no I/O.
func FilterByCategory(entries []Entry, category string) []Entry {
	c := strings.ToLower(strings.TrimSpace(category))
	var out []Entry
	for _, e := range entries {
		if strings.ToLower(e.Manifest.Category) == c {
			out = append(out, e)
		}
	}
	return out
}
