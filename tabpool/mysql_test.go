package tabpool

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMySQLStore_Create(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	t.Run("successfully create tab", func(t *testing.T) {
		tab := createTestTab("perplexity", "target-a")
		err := store.Create(ctx, tab)
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, tab.ID)
		assert.False(t, tab.LastUsedAt.IsZero())
	})

	t.Run("missing service type returns error", func(t *testing.T) {
		tab := &Tab{TargetID: "target-b"}
		err := store.Create(ctx, tab)
		assert.ErrorIs(t, err, ErrInvalidServiceType)
	})

	t.Run("missing target id returns error", func(t *testing.T) {
		tab := &Tab{ServiceType: "perplexity"}
		err := store.Create(ctx, tab)
		assert.ErrorIs(t, err, ErrInvalidTargetID)
	})
}

func TestMySQLStore_CreateBounded(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	t.Run("inserts while under capacity", func(t *testing.T) {
		tab := createTestTab("perplexity", "bounded-a")
		err := store.CreateBounded(ctx, tab, 2)
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, tab.ID)

		stored, err := store.GetByID(ctx, tab.ID)
		require.NoError(t, err)
		assert.Equal(t, StateFree, stored.State)
	})

	t.Run("refuses at capacity", func(t *testing.T) {
		require.NoError(t, store.CreateBounded(ctx, createTestTab("perplexity", "bounded-b"), 2))

		err := store.CreateBounded(ctx, createTestTab("perplexity", "bounded-c"), 2)
		assert.ErrorIs(t, err, ErrCapacityExceeded)

		count, err := store.Count(ctx, "perplexity")
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("bound is per service type", func(t *testing.T) {
		err := store.CreateBounded(ctx, createTestTab("other", "bounded-d"), 2)
		require.NoError(t, err)
	})

	t.Run("missing service type returns error", func(t *testing.T) {
		err := store.CreateBounded(ctx, &Tab{TargetID: "bounded-e"}, 2)
		assert.ErrorIs(t, err, ErrInvalidServiceType)
	})
}

func TestMySQLStore_GetByClaimID(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	t.Run("retrieve claimed tab", func(t *testing.T) {
		tab := createTestTab("perplexity", "target-claim")
		require.NoError(t, store.Create(ctx, tab))
		require.NoError(t, store.Claim(ctx, tab.ID, "claim-123", "job-1"))

		retrieved, err := store.GetByClaimID(ctx, "claim-123")
		require.NoError(t, err)
		assert.Equal(t, tab.ID, retrieved.ID)
		assert.Equal(t, StateBusy, retrieved.State)
		assert.Equal(t, "job-1", retrieved.OwnerJobID)
	})

	t.Run("empty claim id returns not found", func(t *testing.T) {
		_, err := store.GetByClaimID(ctx, "")
		assert.ErrorIs(t, err, ErrTabNotFound)
	})

	t.Run("released claim stops resolving", func(t *testing.T) {
		tab := createTestTab("perplexity", "target-stale")
		require.NoError(t, store.Create(ctx, tab))
		require.NoError(t, store.Claim(ctx, tab.ID, "claim-stale", "job-1"))
		require.NoError(t, store.Release(ctx, tab.ID))

		_, err := store.GetByClaimID(ctx, "claim-stale")
		assert.ErrorIs(t, err, ErrTabNotFound)
	})
}

func TestMySQLStore_Claim(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	t.Run("claim free tab", func(t *testing.T) {
		tab := createTestTab("perplexity", "target-1")
		require.NoError(t, store.Create(ctx, tab))

		err := store.Claim(ctx, tab.ID, "claim-1", "job-1")
		require.NoError(t, err)

		retrieved, err := store.GetByID(ctx, tab.ID)
		require.NoError(t, err)
		assert.Equal(t, StateBusy, retrieved.State)
		assert.Equal(t, "claim-1", retrieved.ClaimID)
	})

	t.Run("claiming busy tab returns busy", func(t *testing.T) {
		tab := createTestTab("perplexity", "target-2")
		require.NoError(t, store.Create(ctx, tab))
		require.NoError(t, store.Claim(ctx, tab.ID, "claim-a", "job-a"))

		err := store.Claim(ctx, tab.ID, "claim-b", "job-b")
		assert.ErrorIs(t, err, ErrTabBusy)

		// The first claim survives intact.
		retrieved, err := store.GetByID(ctx, tab.ID)
		require.NoError(t, err)
		assert.Equal(t, "claim-a", retrieved.ClaimID)
		assert.Equal(t, "job-a", retrieved.OwnerJobID)
	})

	t.Run("claiming missing tab returns not found", func(t *testing.T) {
		err := store.Claim(ctx, uuid.New(), "claim-x", "job-x")
		assert.ErrorIs(t, err, ErrTabNotFound)
	})
}

func TestMySQLStore_Release(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	t.Run("release clears claim metadata", func(t *testing.T) {
		tab := createTestTab("perplexity", "target-rel")
		require.NoError(t, store.Create(ctx, tab))
		require.NoError(t, store.Claim(ctx, tab.ID, "claim-rel", "job-rel"))

		require.NoError(t, store.Release(ctx, tab.ID))

		retrieved, err := store.GetByID(ctx, tab.ID)
		require.NoError(t, err)
		assert.Equal(t, StateFree, retrieved.State)
		assert.Empty(t, retrieved.ClaimID)
		assert.Empty(t, retrieved.OwnerJobID)
	})

	t.Run("releasing missing tab returns not found", func(t *testing.T) {
		err := store.Release(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrTabNotFound)
	})
}

func TestMySQLStore_FindFree(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	t.Run("no tabs returns not found", func(t *testing.T) {
		_, err := store.FindFree(ctx, "perplexity")
		assert.ErrorIs(t, err, ErrTabNotFound)
	})

	t.Run("busy tabs are skipped", func(t *testing.T) {
		busy := createTestTab("perplexity", "target-busy")
		require.NoError(t, store.Create(ctx, busy))
		require.NoError(t, store.Claim(ctx, busy.ID, "claim-f", "job-f"))

		_, err := store.FindFree(ctx, "perplexity")
		assert.ErrorIs(t, err, ErrTabNotFound)

		free := createTestTab("perplexity", "target-free")
		require.NoError(t, store.Create(ctx, free))

		found, err := store.FindFree(ctx, "perplexity")
		require.NoError(t, err)
		assert.Equal(t, free.ID, found.ID)
	})
}

func TestMySQLStore_ListFreeOldest(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	older := createTestTab("perplexity", "target-old")
	older.LastUsedAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.Create(ctx, older))

	newer := createTestTab("perplexity", "target-new")
	require.NoError(t, store.Create(ctx, newer))

	busy := createTestTab("perplexity", "target-busy")
	busy.LastUsedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, store.Create(ctx, busy))
	require.NoError(t, store.Claim(ctx, busy.ID, "claim-l", "job-l"))

	t.Run("orders by least recent use and skips busy", func(t *testing.T) {
		tabs, err := store.ListFreeOldest(ctx, "perplexity", 1)
		require.NoError(t, err)
		require.Len(t, tabs, 1)
		assert.Equal(t, older.ID, tabs[0].ID)
	})
}

func TestMySQLStore_Count(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, createTestTab("perplexity", "t1")))
	require.NoError(t, store.Create(ctx, createTestTab("perplexity", "t2")))
	require.NoError(t, store.Create(ctx, createTestTab("other", "t3")))

	t.Run("count by service type", func(t *testing.T) {
		count, err := store.Count(ctx, "perplexity")
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("count all", func(t *testing.T) {
		count, err := store.Count(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})

	t.Run("distinct service types", func(t *testing.T) {
		types, err := store.ServiceTypes(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"perplexity", "other"}, types)
	})
}
