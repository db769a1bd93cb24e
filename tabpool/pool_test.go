package tabpool

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hairizuanbinnoorazman/browser-relay/browser"
	"github.com/hairizuanbinnoorazman/browser-relay/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_GetTab(t *testing.T) {
	ctx := context.Background()

	t.Run("opens new tab when pool empty", func(t *testing.T) {
		pool, driver, _ := setupTestPool(t, 3)

		tab, err := pool.GetTab(ctx, "perplexity", "")
		require.NoError(t, err)
		assert.Equal(t, StateFree, tab.State)

		page := driver.Page(tab.TargetID)
		require.NotNil(t, page)
		assert.Equal(t, "https://example.com/perplexity", page.URL)
	})

	t.Run("reuses free tab before opening a new one", func(t *testing.T) {
		pool, _, _ := setupTestPool(t, 3)

		first, err := pool.GetTab(ctx, "perplexity", "")
		require.NoError(t, err)

		second, err := pool.GetTab(ctx, "perplexity", "")
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)

		count, err := pool.CountTabs(ctx, "perplexity")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("capacity exceeded when all tabs busy", func(t *testing.T) {
		pool, _, _ := setupTestPool(t, 2)

		for i := 0; i < 2; i++ {
			tab, err := pool.GetTab(ctx, "perplexity", "")
			require.NoError(t, err)
			_, err = pool.MarkBusy(ctx, tab, "job-1")
			require.NoError(t, err)
		}

		_, err := pool.GetTab(ctx, "perplexity", "")
		assert.ErrorIs(t, err, ErrCapacityExceeded)
	})

	t.Run("capacity is tracked per service type", func(t *testing.T) {
		pool, _, _ := setupTestPool(t, 1)

		tab, err := pool.GetTab(ctx, "perplexity", "")
		require.NoError(t, err)
		_, err = pool.MarkBusy(ctx, tab, "job-1")
		require.NoError(t, err)

		_, err = pool.GetTab(ctx, "other", "")
		require.NoError(t, err)
	})

	t.Run("unknown service type returns error", func(t *testing.T) {
		pool, _, _ := setupTestPool(t, 3)

		_, err := pool.GetTab(ctx, "unknown", "")
		require.Error(t, err)
	})

	t.Run("session marker pins the caller to its tab", func(t *testing.T) {
		pool, _, _ := setupTestPool(t, 3)

		tab, err := pool.GetTab(ctx, "perplexity", "session-a")
		require.NoError(t, err)
		assert.Equal(t, "session-a", tab.SessionID)

		again, err := pool.GetTab(ctx, "perplexity", "session-a")
		require.NoError(t, err)
		assert.Equal(t, tab.ID, again.ID)
	})

	t.Run("busy session tab returns busy instead of a substitute", func(t *testing.T) {
		pool, _, _ := setupTestPool(t, 3)

		tab, err := pool.GetTab(ctx, "perplexity", "session-b")
		require.NoError(t, err)
		_, err = pool.MarkBusy(ctx, tab, "job-1")
		require.NoError(t, err)

		_, err = pool.GetTab(ctx, "perplexity", "session-b")
		assert.ErrorIs(t, err, ErrTabBusy)
	})
}

func TestPool_ConcurrentClaims(t *testing.T) {
	ctx := context.Background()
	pool, _, _ := setupTestPool(t, 1)

	tab, err := pool.GetTab(ctx, "perplexity", "")
	require.NoError(t, err)

	// Many goroutines race on the single free tab; exactly one claim
	// can win.
	const workers = 10
	var wg sync.WaitGroup
	wins := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fresh := *tab
			if claimID, err := pool.MarkBusy(ctx, &fresh, "job-race"); err == nil {
				wins <- claimID
			} else if !errors.Is(err, ErrTabBusy) {
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	wg.Wait()
	close(wins)

	var claimIDs []string
	for id := range wins {
		claimIDs = append(claimIDs, id)
	}
	require.Len(t, claimIDs, 1)

	found, err := pool.FindTabByID(ctx, claimIDs[0])
	require.NoError(t, err)
	assert.Equal(t, tab.ID, found.ID)
}

// gatedDriver parks every OpenPage call until release is closed, so a
// test can line callers up past the capacity pre-check before any of
// them reaches the store.
type gatedDriver struct {
	*browser.Fake
	arrived chan struct{}
	release chan struct{}
}

func (d *gatedDriver) OpenPage(ctx context.Context, url string) (string, error) {
	d.arrived <- struct{}{}
	<-d.release
	return d.Fake.OpenPage(ctx, url)
}

func TestPool_ConcurrentGetTab(t *testing.T) {
	ctx := context.Background()
	_, store := setupTestStore(t)
	driver := &gatedDriver{
		Fake:    browser.NewFake(),
		arrived: make(chan struct{}),
		release: make(chan struct{}),
	}
	pool := NewPool(store, driver, 1, logger.NewTestLogger()).
		WithCapabilities(testCapabilities)

	// Every caller observes an empty pool before any row lands; the
	// bounded create still admits exactly one of them.
	const workers = 4
	var wg sync.WaitGroup
	wins := make(chan *Tab, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tab, err := pool.GetTab(ctx, "perplexity", "")
			if err == nil {
				wins <- tab
			} else if !errors.Is(err, ErrCapacityExceeded) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	for i := 0; i < workers; i++ {
		<-driver.arrived
	}
	close(driver.release)
	wg.Wait()
	close(wins)

	var tabs []*Tab
	for tab := range wins {
		tabs = append(tabs, tab)
	}
	require.Len(t, tabs, 1)

	count, err := pool.CountTabs(ctx, "perplexity")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// The losers rolled their pages back; only the winner's survives.
	pages, err := driver.ListPages(ctx)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, tabs[0].TargetID, pages[0].TargetID)
}

func TestPool_MarkBusyGeneratesFreshClaim(t *testing.T) {
	ctx := context.Background()
	pool, _, _ := setupTestPool(t, 3)

	tab, err := pool.GetTab(ctx, "perplexity", "")
	require.NoError(t, err)

	first, err := pool.MarkBusy(ctx, tab, "job-1")
	require.NoError(t, err)
	require.NoError(t, pool.MarkFree(ctx, tab))

	second, err := pool.MarkBusy(ctx, tab, "job-2")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	// The first cycle's identifier is stale now.
	_, err = pool.FindTabByID(ctx, first)
	assert.ErrorIs(t, err, ErrTabNotFound)
}

func TestPool_RecycleTab(t *testing.T) {
	ctx := context.Background()

	t.Run("soft reset clicks new thread control", func(t *testing.T) {
		pool, driver, _ := setupTestPool(t, 3)

		tab, err := pool.GetTab(ctx, "perplexity", "")
		require.NoError(t, err)
		_, err = pool.MarkBusy(ctx, tab, "job-1")
		require.NoError(t, err)

		require.NoError(t, pool.RecycleTab(ctx, tab))
		assert.Equal(t, StateFree, tab.State)

		page := driver.Page(tab.TargetID)
		require.NotNil(t, page)
		assert.Contains(t, page.Clicks, "#new-thread")
	})

	t.Run("falls back to entry navigation when page vanished", func(t *testing.T) {
		pool, driver, _ := setupTestPool(t, 3)

		tab, err := pool.GetTab(ctx, "perplexity", "")
		require.NoError(t, err)
		driver.RemovePage(tab.TargetID)

		err = pool.RecycleTab(ctx, tab)
		require.Error(t, err)
		// The tab row is freed regardless so the pool does not wedge.
		assert.Equal(t, StateFree, tab.State)
	})
}

func TestPool_PruneExcessTabs(t *testing.T) {
	ctx := context.Background()
	pool, driver, store := setupTestPool(t, 1)

	// Seed above capacity directly; GetTab would refuse to go over.
	first, err := pool.GetTab(ctx, "perplexity", "")
	require.NoError(t, err)

	extraTarget, err := driver.OpenPage(ctx, "https://example.com/perplexity")
	require.NoError(t, err)
	extra := createTestTab("perplexity", extraTarget)
	require.NoError(t, store.Create(ctx, extra))

	_, err = pool.MarkBusy(ctx, first, "job-1")
	require.NoError(t, err)

	pruned, err := pool.PruneExcessTabs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	// The busy tab survived, the free extra was closed.
	count, err := pool.CountTabs(ctx, "perplexity")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Nil(t, driver.Page(extraTarget))
	assert.NotNil(t, driver.Page(first.TargetID))
}
