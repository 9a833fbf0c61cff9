// Package ui tracks plugin-owned player bar slots. Rendering belongs to the
// host shell; this registry only owns the slot contents and their plugin
// attribution so the runtime can tear them down on disable.
package ui

import (
	"errors"
	"sort"
	"sync"
)

// ErrEmptySlot indicates a slot name or content was empty.
var ErrEmptySlot = errors.New("ui: slot name cannot be empty")

// Slot is one plugin-owned player bar element.
type Slot struct {
	Plugin  string `json:"plugin"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// SlotRegistry holds the player bar slots keyed by (plugin, slot).
type SlotRegistry struct {
	mu    sync.RWMutex
	slots map[string]map[string]string // plugin -> slot -> content
}

// NewSlotRegistry creates an empty registry.
func NewSlotRegistry() *SlotRegistry {
	return &SlotRegistry{slots: make(map[string]map[string]string)}
}

// RegisterSlot creates or replaces the plugin's slot. Re-registering the
// same (plugin, slot) pair replaces content instead of adding a duplicate.
func (r *SlotRegistry) RegisterSlot(plugin, slot, content string) error {
	if slot == "" {
		return ErrEmptySlot
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.slots[plugin] == nil {
		r.slots[plugin] = make(map[string]string)
	}
	r.slots[plugin][slot] = content
	return nil
}

// RemoveSlot removes one slot. Returns false if it did not exist.
func (r *SlotRegistry) RemoveSlot(plugin, slot string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	bySlot, ok := r.slots[plugin]
	if !ok {
		return false
	}
	if _, ok := bySlot[slot]; !ok {
		return false
	}
	delete(bySlot, slot)
	if len(bySlot) == 0 {
		delete(r.slots, plugin)
	}
	return true
}

// RemovePlugin removes every slot the plugin owns. Returns the count.
func (r *SlotRegistry) RemovePlugin(plugin string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.slots[plugin])
	delete(r.slots, plugin)
	return n
}

// Snapshot returns all slots sorted by plugin then slot name.
func (r *SlotRegistry) Snapshot() []Slot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Slot
	for plugin, bySlot := range r.slots {
		for name, content := range bySlot {
			out = append(out, Slot{Plugin: plugin, Name: name, Content: content})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Plugin != out[j].Plugin {
			return out[i].Plugin < out[j].Plugin
		}
		return out[i].Name < out[j].Name
	})
	return out
}
