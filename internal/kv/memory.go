package kv

import (
	"context"
	"sync"
	"time"
)

// memoryEntry holds a value, its CAS version and its expiry deadline.
type memoryEntry struct {
	value     []byte
	version   int64
	expiresAt time.Time
}

// expired reports whether the entry's TTL has elapsed.
func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore implements Store for single-instance deployments and tests.
// Entries live in process memory; expiry is enforced lazily on access.
type MemoryStore struct {
	entries map[string]*memoryEntry
	mu      sync.Mutex

	// now is swappable in tests to drive expiry.
	now func() time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

func storeKey(namespace, key string) string {
	return namespace + ":" + key
}

// Get returns the current entry for a key, or nil if absent or expired.
func (m *MemoryStore) Get(ctx context.Context, namespace, key string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := storeKey(namespace, key)
	e, ok := m.entries[k]
	if !ok {
		return nil, nil
	}
	if e.expired(m.now()) {
		delete(m.entries, k)
		return nil, nil
	}

	value := make([]byte, len(e.value))
	copy(value, e.value)
	return &Entry{Value: value, Version: e.version}, nil
}

// Set writes a value unconditionally, bumping the version.
func (m *MemoryStore) Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := storeKey(namespace, key)
	var version int64 = 1
	if e, ok := m.entries[k]; ok && !e.expired(m.now()) {
		version = e.version + 1
	}
	m.entries[k] = &memoryEntry{
		value:     append([]byte(nil), value...),
		version:   version,
		expiresAt: m.expiry(ttl),
	}
	return nil
}

// CompareAndSwap commits only if the entry's version still matches.
func (m *MemoryStore) CompareAndSwap(ctx context.Context, namespace, key string, value []byte, version int64, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := storeKey(namespace, key)
	e, ok := m.entries[k]
	if !ok || e.expired(m.now()) || e.version != version {
		return false, nil
	}
	m.entries[k] = &memoryEntry{
		value:     append([]byte(nil), value...),
		version:   version + 1,
		expiresAt: m.expiry(ttl),
	}
	return true, nil
}

// Delete removes an entry. Absent keys are a no-op.
func (m *MemoryStore) Delete(ctx context.Context, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, storeKey(namespace, key))
	return nil
}

// Close is a no-op for the memory backend.
func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

// SetClock replaces the store's clock. Test helper.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}
