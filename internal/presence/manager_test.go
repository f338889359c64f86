package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayli-app/relay/internal/auth"
	"github.com/wayli-app/relay/internal/config"
	"github.com/wayli-app/relay/internal/events"
	"github.com/wayli-app/relay/internal/kv"
	"github.com/wayli-app/relay/internal/testutil"
)

func testPresenceConfig() config.PresenceConfig {
	return config.PresenceConfig{
		CollaboratorExpiry: 90 * time.Second,
		Namespace:          "collab",
	}
}

func newTestManager(t *testing.T, store kv.Store, recorder events.Recorder) *Manager {
	t.Helper()
	return NewManager(store, testPresenceConfig(), time.Minute, 5, time.Millisecond, 42, recorder, nil)
}

func u1() *auth.User {
	return &auth.User{
		ID:        1,
		Email:     "ada@example.com",
		FirstName: "Ada",
		LastName:  "Lovelace",
	}
}

func TestManager_AddCollaborator(t *testing.T) {
	ctx := context.Background()

	t.Run("adds user under token and emits online event", func(t *testing.T) {
		store := kv.NewMemoryStore()
		recorder := testutil.NewMockRecorder()
		pm := newTestManager(t, store, recorder)

		require.True(t, pm.AddCollaborator(ctx, u1(), "TA"))

		roster, err := pm.Collaborators(ctx, false)
		require.NoError(t, err)
		require.Contains(t, roster, "TA")
		assert.Equal(t, int64(1), roster["TA"].UserID)
		assert.Equal(t, "Ada", roster["TA"].FirstName)

		kinds := recorder.RecordedKinds()
		require.Len(t, kinds, 1)
		assert.Equal(t, events.KindCollaboratorOnline, kinds[0])
	})

	t.Run("new token displaces the user's old token", func(t *testing.T) {
		store := kv.NewMemoryStore()
		pm := newTestManager(t, store, nil)

		require.True(t, pm.AddCollaborator(ctx, u1(), "TA"))
		require.True(t, pm.AddCollaborator(ctx, u1(), "TB"))

		roster, err := pm.Collaborators(ctx, false)
		require.NoError(t, err)
		assert.NotContains(t, roster, "TA")
		require.Contains(t, roster, "TB")
		assert.Equal(t, int64(1), roster["TB"].UserID)
		assert.Len(t, roster, 1)
	})

	t.Run("different users coexist", func(t *testing.T) {
		store := kv.NewMemoryStore()
		pm := newTestManager(t, store, nil)

		u2 := &auth.User{ID: 2, Email: "grace@example.com", FirstName: "Grace"}
		require.True(t, pm.AddCollaborator(ctx, u1(), "TA"))
		require.True(t, pm.AddCollaborator(ctx, u2, "TB"))

		roster, err := pm.Collaborators(ctx, false)
		require.NoError(t, err)
		assert.Len(t, roster, 2)
	})
}

func TestManager_RemoveCollaborator(t *testing.T) {
	ctx := context.Background()

	t.Run("removes token and emits offline event", func(t *testing.T) {
		store := kv.NewMemoryStore()
		recorder := testutil.NewMockRecorder()
		pm := newTestManager(t, store, recorder)

		require.True(t, pm.AddCollaborator(ctx, u1(), "TA"))
		require.True(t, pm.RemoveCollaborator(ctx, "TA"))

		roster, err := pm.Collaborators(ctx, false)
		require.NoError(t, err)
		assert.Empty(t, roster)

		kinds := recorder.RecordedKinds()
		require.Len(t, kinds, 2)
		assert.Equal(t, events.KindCollaboratorOffline, kinds[1])
	})

	t.Run("absent token is a successful no-op without event", func(t *testing.T) {
		store := kv.NewMemoryStore()
		recorder := testutil.NewMockRecorder()
		pm := newTestManager(t, store, recorder)

		require.True(t, pm.AddCollaborator(ctx, u1(), "TA"))
		require.True(t, pm.RemoveCollaborator(ctx, "ghost"))

		assert.Len(t, recorder.RecordedKinds(), 1)
	})
}

func TestManager_RefreshCollaborator(t *testing.T) {
	ctx := context.Background()

	t.Run("bumps last seen", func(t *testing.T) {
		store := kv.NewMemoryStore()
		pm := newTestManager(t, store, nil)

		base := time.Now()
		pm.now = func() time.Time { return base }
		require.True(t, pm.AddCollaborator(ctx, u1(), "TA"))

		pm.now = func() time.Time { return base.Add(30 * time.Second) }
		require.True(t, pm.RefreshCollaborator(ctx, "TA"))

		roster, err := pm.Collaborators(ctx, false)
		require.NoError(t, err)
		assert.Equal(t, base.Add(30*time.Second).Unix(), roster["TA"].LastSeenAt.Unix())
	})

	t.Run("absent token is a successful no-op", func(t *testing.T) {
		store := kv.NewMemoryStore()
		pm := newTestManager(t, store, nil)

		assert.True(t, pm.RefreshCollaborator(ctx, "ghost"))

		roster, err := pm.Collaborators(ctx, false)
		require.NoError(t, err)
		assert.Empty(t, roster)
	})
}

func TestManager_Sweep(t *testing.T) {
	ctx := context.Background()

	t.Run("expired entries are swept with offline events", func(t *testing.T) {
		store := kv.NewMemoryStore()
		recorder := testutil.NewMockRecorder()
		pm := newTestManager(t, store, recorder)

		base := time.Now()
		pm.now = func() time.Time { return base }
		require.True(t, pm.AddCollaborator(ctx, u1(), "TA"))

		pm.now = func() time.Time { return base.Add(91 * time.Second) }

		roster, err := pm.Collaborators(ctx, true)
		require.NoError(t, err)
		assert.Empty(t, roster)

		kinds := recorder.RecordedKinds()
		require.Len(t, kinds, 2)
		assert.Equal(t, events.KindCollaboratorOffline, kinds[1])

		// The pruned roster was written back
		roster, err = pm.Collaborators(ctx, false)
		require.NoError(t, err)
		assert.Empty(t, roster)
	})

	t.Run("fresh entries survive the sweep", func(t *testing.T) {
		store := kv.NewMemoryStore()
		pm := newTestManager(t, store, nil)

		base := time.Now()
		pm.now = func() time.Time { return base }
		require.True(t, pm.AddCollaborator(ctx, u1(), "TA"))

		u2 := &auth.User{ID: 2, FirstName: "Grace"}
		pm.now = func() time.Time { return base.Add(89 * time.Second) }
		require.True(t, pm.AddCollaborator(ctx, u2, "TB"))

		pm.now = func() time.Time { return base.Add(120 * time.Second) }

		roster, err := pm.Collaborators(ctx, true)
		require.NoError(t, err)
		assert.NotContains(t, roster, "TA")
		assert.Contains(t, roster, "TB")
	})

	t.Run("purge is a side-effecting sweep", func(t *testing.T) {
		store := kv.NewMemoryStore()
		recorder := testutil.NewMockRecorder()
		pm := newTestManager(t, store, recorder)

		base := time.Now()
		pm.now = func() time.Time { return base }
		require.True(t, pm.AddCollaborator(ctx, u1(), "TA"))

		pm.now = func() time.Time { return base.Add(5 * time.Minute) }
		pm.PurgeExpired(ctx)

		roster, err := pm.Collaborators(ctx, false)
		require.NoError(t, err)
		assert.Empty(t, roster)
	})

	t.Run("empty roster sweep is a no-op", func(t *testing.T) {
		store := kv.NewMemoryStore()
		recorder := testutil.NewMockRecorder()
		pm := newTestManager(t, store, recorder)

		roster, err := pm.Collaborators(ctx, true)
		require.NoError(t, err)
		assert.Empty(t, roster)
		assert.Empty(t, recorder.RecordedKinds())
	})
}
