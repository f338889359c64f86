package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("get absent key returns nil", func(t *testing.T) {
		store := NewMemoryStore()

		entry, err := store.Get(ctx, "ns", "missing")
		require.NoError(t, err)
		assert.Nil(t, entry)
	})

	t.Run("set then get round-trips", func(t *testing.T) {
		store := NewMemoryStore()

		require.NoError(t, store.Set(ctx, "ns", "k", []byte("v1"), time.Minute))

		entry, err := store.Get(ctx, "ns", "k")
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, []byte("v1"), entry.Value)
		assert.Equal(t, int64(1), entry.Version)
	})

	t.Run("set bumps version", func(t *testing.T) {
		store := NewMemoryStore()

		require.NoError(t, store.Set(ctx, "ns", "k", []byte("v1"), time.Minute))
		require.NoError(t, store.Set(ctx, "ns", "k", []byte("v2"), time.Minute))

		entry, err := store.Get(ctx, "ns", "k")
		require.NoError(t, err)
		assert.Equal(t, int64(2), entry.Version)
	})

	t.Run("namespaces isolate keys", func(t *testing.T) {
		store := NewMemoryStore()

		require.NoError(t, store.Set(ctx, "a", "k", []byte("va"), time.Minute))
		require.NoError(t, store.Set(ctx, "b", "k", []byte("vb"), time.Minute))

		entry, err := store.Get(ctx, "a", "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("va"), entry.Value)
	})

	t.Run("cas commits on matching version", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Set(ctx, "ns", "k", []byte("v1"), time.Minute))

		entry, err := store.Get(ctx, "ns", "k")
		require.NoError(t, err)

		ok, err := store.CompareAndSwap(ctx, "ns", "k", []byte("v2"), entry.Version, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		entry, err = store.Get(ctx, "ns", "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), entry.Value)
	})

	t.Run("cas conflicts on stale version", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Set(ctx, "ns", "k", []byte("v1"), time.Minute))

		entry, err := store.Get(ctx, "ns", "k")
		require.NoError(t, err)

		// Another writer sneaks in
		require.NoError(t, store.Set(ctx, "ns", "k", []byte("v2"), time.Minute))

		ok, err := store.CompareAndSwap(ctx, "ns", "k", []byte("v3"), entry.Version, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		entry, err = store.Get(ctx, "ns", "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), entry.Value)
	})

	t.Run("cas on absent key conflicts", func(t *testing.T) {
		store := NewMemoryStore()

		ok, err := store.CompareAndSwap(ctx, "ns", "missing", []byte("v"), 1, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete removes entry", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Set(ctx, "ns", "k", []byte("v"), time.Minute))

		require.NoError(t, store.Delete(ctx, "ns", "k"))

		entry, err := store.Get(ctx, "ns", "k")
		require.NoError(t, err)
		assert.Nil(t, entry)

		// Deleting again is a no-op
		require.NoError(t, store.Delete(ctx, "ns", "k"))
	})

	t.Run("entries expire after ttl", func(t *testing.T) {
		store := NewMemoryStore()
		now := time.Now()
		store.SetClock(func() time.Time { return now })

		require.NoError(t, store.Set(ctx, "ns", "k", []byte("v"), time.Minute))

		store.SetClock(func() time.Time { return now.Add(2 * time.Minute) })

		entry, err := store.Get(ctx, "ns", "k")
		require.NoError(t, err)
		assert.Nil(t, entry)
	})

	t.Run("cas conflicts on expired entry", func(t *testing.T) {
		store := NewMemoryStore()
		now := time.Now()
		store.SetClock(func() time.Time { return now })

		require.NoError(t, store.Set(ctx, "ns", "k", []byte("v"), time.Minute))
		entry, err := store.Get(ctx, "ns", "k")
		require.NoError(t, err)

		store.SetClock(func() time.Time { return now.Add(2 * time.Minute) })

		ok, err := store.CompareAndSwap(ctx, "ns", "k", []byte("v2"), entry.Version, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("zero ttl never expires", func(t *testing.T) {
		store := NewMemoryStore()
		now := time.Now()
		store.SetClock(func() time.Time { return now })

		require.NoError(t, store.Set(ctx, "ns", "k", []byte("v"), 0))

		store.SetClock(func() time.Time { return now.Add(24 * time.Hour) })

		entry, err := store.Get(ctx, "ns", "k")
		require.NoError(t, err)
		assert.NotNil(t, entry)
	})
}
