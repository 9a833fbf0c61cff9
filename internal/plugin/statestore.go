package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dshills/chorus/internal/plugin/security"
)

// StateStore persists plugin records to a JSON file so enabled state and
// granted permissions survive host restarts.
type StateStore struct {
	mu   sync.Mutex
	path string
}

// NewStateStore creates a store writing to path. An empty path disables
// persistence; Load returns no records and Save is a no-op.
func NewStateStore(path string) *StateStore {
	return &StateStore{path: path}
}

// Save writes all records atomically (write to temp file, then rename).
func (s *StateStore) Save(records map[string]*Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return nil
	}

	data := []byte(`{}`)
	data, _ = sjson.SetBytes(data, "version", 1)
	data, _ = sjson.SetBytes(data, "updated_at", time.Now().UTC().Format(time.RFC3339))

	for name, rec := range records {
		base := "plugins." + escapeKey(name)

		granted := make([]string, len(rec.Granted))
		for i, p := range rec.Granted {
			granted[i] = string(p)
		}

		var err error
		if data, err = sjson.SetBytes(data, base+".version", rec.Version); err != nil {
			return fmt.Errorf("encode record %q: %w", name, err)
		}
		data, _ = sjson.SetBytes(data, base+".enabled", rec.Enabled)
		data, _ = sjson.SetBytes(data, base+".granted", granted)
		data, _ = sjson.SetBytes(data, base+".source", rec.Source)
		data, _ = sjson.SetBytes(data, base+".ever_enabled", rec.EverEnabled)
		data, _ = sjson.SetBytes(data, base+".installed_at", rec.InstalledAt.UTC().Format(time.RFC3339))
		data, _ = sjson.SetBytes(data, base+".updated_at", rec.UpdatedAt.UTC().Format(time.RFC3339))
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// Load reads all persisted records. A missing file is an empty store.
func (s *StateStore) Load() (map[string]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make(map[string]*Record)
	if s.path == "" {
		return records, nil
	}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return records, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("state file %s: malformed JSON", s.path)
	}

	gjson.GetBytes(data, "plugins").ForEach(func(key, value gjson.Result) bool {
		rec := &Record{
			Name:        key.String(),
			Version:     value.Get("version").String(),
			Enabled:     value.Get("enabled").Bool(),
			Source:      value.Get("source").String(),
			EverEnabled: value.Get("ever_enabled").Bool(),
		}
		for _, p := range value.Get("granted").Array() {
			rec.Granted = append(rec.Granted, security.Permission(p.String()))
		}
		if t, err := time.Parse(time.RFC3339, value.Get("installed_at").String()); err == nil {
			rec.InstalledAt = t
		}
		if t, err := time.Parse(time.RFC3339, value.Get("updated_at").String()); err == nil {
			rec.UpdatedAt = t
		}
		records[rec.Name] = rec
		return true
	})

	return records, nil
}

// escapeKey escapes sjson path metacharacters in a plugin name.
func escapeKey(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		switch name[i] {
		case '.', '*', '?', '\\', '|', '#', '@':
			out = append(out, '\\')
		}
		out = append(out, name[i])
	}
	return string(out)
}
