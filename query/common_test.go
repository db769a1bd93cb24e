package query

import (
	"testing"
	"time"

	"github.com/hairizuanbinnoorazman/browser-relay/browser"
	"github.com/hairizuanbinnoorazman/browser-relay/inputlock"
	"github.com/hairizuanbinnoorazman/browser-relay/logger"
	"github.com/hairizuanbinnoorazman/browser-relay/site"
	"github.com/hairizuanbinnoorazman/browser-relay/tabpool"
	"github.com/hairizuanbinnoorazman/browser-relay/testutil"
)

const (
	testCompletionSignal = "window.__done === true"
	testExtractResult    = "window.__result"
)

// setupTestStore creates a test database and pending-query store.
func setupTestStore(t *testing.T) Store {
	db := testutil.SetupTestDB(t)
	testutil.AutoMigrate(t, db, &PendingQuery{})

	return NewMySQLStore(db, logger.NewTestLogger())
}

type serviceFixture struct {
	service  *Service
	store    Store
	driver   *browser.Fake
	pool     *tabpool.Pool
	tabStore tabpool.Store
}

// setupTestService wires a full service over fakes: in-memory stores,
// fake driver, real pool and mutex.
func setupTestService(t *testing.T, opts Options) *serviceFixture {
	log := logger.NewTestLogger()

	db := testutil.SetupTestDB(t)
	testutil.AutoMigrate(t, db, &PendingQuery{}, &tabpool.Tab{}, &inputlock.Lock{})

	store := NewMySQLStore(db, log)
	tabStore := tabpool.NewMySQLStore(db, log)
	lockStore := inputlock.NewMySQLStore(db, log)

	driver := browser.NewFake()
	pool := tabpool.NewPool(tabStore, driver, 3, log).WithCapabilities(testCapabilities)
	mutex := inputlock.NewMutex(lockStore, "human-input", time.Minute, time.Millisecond, log)
	watcher := NewWatcher(store, driver, 5*time.Millisecond, 0, log)

	service := NewService(pool, mutex, driver, store, watcher, opts, log).
		WithCapabilities(testCapabilities)

	return &serviceFixture{
		service:  service,
		store:    store,
		driver:   driver,
		pool:     pool,
		tabStore: tabStore,
	}
}

func testCapabilities(serviceType string) (site.Capability, error) {
	if serviceType == "unknown" {
		return nil, site.ErrUnknownServiceType
	}
	return site.Static{
		Service:          serviceType,
		Entry:            "https://example.com/" + serviceType,
		Input:            "#input",
		ModeToggle:       "#deep-research",
		NewThread:        "#new-thread",
		CompletionSignal: testCompletionSignal,
		Extract:          testExtractResult,
	}, nil
}

func fastOptions() Options {
	return Options{
		LockTimeout:    time.Second,
		WatchDeadline:  time.Minute,
		TypingMinDelay: time.Millisecond,
		TypingMaxDelay: time.Millisecond,
	}
}

// createTestPending builds a pending query row with default values.
func createTestPending(claimID string) *PendingQuery {
	now := time.Now()
	return &PendingQuery{
		ClaimID:     claimID,
		ServiceType: "perplexity",
		Query:       "what is the capital of France",
		Status:      StatusSubmitted,
		SubmittedAt: now,
		DeadlineAt:  now.Add(time.Minute),
	}
}
