// Package kv wraps the shared key-value store behind a compare-and-swap
// contract. All cross-request coordination in the backplane goes through
// this package; there are no in-process locks above it.
package kv

import (
	"context"
	"time"
)

// Entry is a stored value together with its CAS version.
type Entry struct {
	// Value is the raw stored payload.
	Value []byte

	// Version is the compare token returned by Get. A CompareAndSwap
	// commits only if the entry's version is still equal to it.
	Version int64
}

// Store is the interface for CAS-capable KV backends.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the current entry for a key, or nil if the key is absent.
	Get(ctx context.Context, namespace, key string) (*Entry, error)

	// Set writes a value unconditionally and bumps the entry's version.
	// Used to initialize empty entries and for deliberate best-effort writes.
	Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error

	// CompareAndSwap writes a value only if the entry has not been mutated
	// since the Get that produced version. Returns false on conflict,
	// including the case where the entry has expired or been deleted.
	CompareAndSwap(ctx context.Context, namespace, key string, value []byte, version int64, ttl time.Duration) (bool, error)

	// Delete removes an entry. Deleting an absent key is not an error.
	Delete(ctx context.Context, namespace, key string) error

	// Close releases backend resources.
	Close() error
}
