package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf16"
)

// NamespacePrefix prefixes every backend key an isolated store writes.
// Plugin "foo" storing "bar" occupies backend key "plugin.foo.bar".
const NamespacePrefix = "plugin."

// ErrQuotaExceeded indicates a write would push the plugin past its byte
// quota. The write is rejected whole; values are never truncated.
var ErrQuotaExceeded = errors.New("storage: quota exceeded")

// QuotaInfo is a point-in-time snapshot of a plugin's quota usage.
type QuotaInfo struct {
	Used        int     `json:"used"`
	Total       int     `json:"total"`
	Available   int     `json:"available"`
	PercentUsed float64 `json:"percentUsed"`
}

// Isolated is a plugin-scoped view over a shared Backend. Keys are
// transparently namespaced so no plugin can read or overwrite another's
// entries, and every write is charged against a byte quota.
//
// Usage is measured as UTF-16 code units at two bytes each, summed over both
// keys and values, so quota math matches what string-oriented plugin
// runtimes observe.
type Isolated struct {
	backend Backend
	plugin  string
	prefix  string
	quota   int

	// mu serializes writes so quota checks and commits are atomic per plugin.
	mu   sync.Mutex
	used int
}

// NewIsolated creates the plugin's view and primes the usage counter from
// entries already persisted under the plugin's namespace.
func NewIsolated(ctx context.Context, backend Backend, plugin string, quota int) (*Isolated, error) {
	s := &Isolated{
		backend: backend,
		plugin:  plugin,
		prefix:  NamespacePrefix + plugin + ".",
		quota:   quota,
	}

	keys, err := backend.Keys(ctx, s.prefix)
	if err != nil {
		return nil, fmt.Errorf("prime usage for %q: %w", plugin, err)
	}
	for _, k := range keys {
		v, err := backend.Get(ctx, k)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("prime usage for %q: %w", plugin, err)
		}
		s.used += entryCost(strings.TrimPrefix(k, s.prefix), string(v))
	}
	return s, nil
}

// Plugin returns the owning plugin name.
func (s *Isolated) Plugin() string { return s.plugin }

// Get returns the value for key, or ErrNotFound.
func (s *Isolated) Get(ctx context.Context, key string) (string, error) {
	v, err := s.backend.Get(ctx, s.prefix+key)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// Set stores value under key. The quota is evaluated against the size the
// store would have after the write; a write that would exceed it fails whole
// and leaves both the backend and the usage counter untouched.
func (s *Isolated) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldCost := 0
	if old, err := s.backend.Get(ctx, s.prefix+key); err == nil {
		oldCost = entryCost(key, string(old))
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	newUsed := s.used - oldCost + entryCost(key, value)
	if s.quota > 0 && newUsed > s.quota {
		return fmt.Errorf("%w: plugin %q would use %d of %d bytes",
			ErrQuotaExceeded, s.plugin, newUsed, s.quota)
	}

	if err := s.backend.Set(ctx, s.prefix+key, []byte(value)); err != nil {
		return err
	}
	s.used = newUsed
	return nil
}

// Remove deletes key and releases its quota. Removing an absent key is a
// no-op.
func (s *Isolated) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, err := s.backend.Get(ctx, s.prefix+key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.backend.Delete(ctx, s.prefix+key); err != nil {
		return err
	}
	s.used -= entryCost(key, string(old))
	return nil
}

// Clear removes every entry in the plugin's namespace and resets usage.
func (s *Isolated) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Clear(ctx, s.prefix); err != nil {
		return err
	}
	s.used = 0
	return nil
}

// Keys returns the plugin's keys without the namespace prefix, sorted.
func (s *Isolated) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.backend.Keys(ctx, s.prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = strings.TrimPrefix(k, s.prefix)
	}
	return out, nil
}

// UsedBytes returns the bytes currently charged to the plugin.
func (s *Isolated) UsedBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

// Quota returns a usage snapshot.
func (s *Isolated) Quota() QuotaInfo {
	s.mu.Lock()
	used := s.used
	s.mu.Unlock()

	info := QuotaInfo{Used: used, Total: s.quota}
	if s.quota > 0 {
		info.Available = s.quota - used
		if info.Available < 0 {
			info.Available = 0
		}
		info.PercentUsed = float64(used) / float64(s.quota) * 100
	}
	return info
}

// entryCost charges a key/value pair at two bytes per UTF-16 code unit.
// Characters outside the basic multilingual plane cost four bytes.
func entryCost(key, value string) int {
	return stringCost(key) + stringCost(value)
}

func stringCost(s string) int {
	return len(utf16.Encode([]rune(s))) * 2
}
