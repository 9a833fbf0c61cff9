// Package storage provides the persistent key/value layer behind plugin
// storage. A Backend holds raw bytes under flat string keys; an Isolated
// store wraps a backend with a per-plugin namespace and quota.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound indicates the key does not exist. Callers must distinguish it
// from I/O failures, which report as ordinary errors.
var ErrNotFound = errors.New("storage: key not found")

// ErrClosed indicates the backend has been closed.
var ErrClosed = errors.New("storage: backend closed")

// Backend is a flat key/value store.
type Backend interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any existing value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns all keys with the given prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Clear removes all keys with the given prefix.
	Clear(ctx context.Context, prefix string) error

	// Close releases backend resources.
	Close() error
}
