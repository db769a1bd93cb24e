package tabpool

import (
	"testing"

	"github.com/hairizuanbinnoorazman/browser-relay/browser"
	"github.com/hairizuanbinnoorazman/browser-relay/logger"
	"github.com/hairizuanbinnoorazman/browser-relay/site"
	"github.com/hairizuanbinnoorazman/browser-relay/testutil"
	"gorm.io/gorm"
)

// setupTestStore creates a test database and tab store for testing.
func setupTestStore(t *testing.T) (*gorm.DB, Store) {
	db := testutil.SetupTestDB(t)
	testutil.AutoMigrate(t, db, &Tab{})

	log := logger.NewTestLogger()
	store := NewMySQLStore(db, log)

	return db, store
}

// setupTestPool wires a pool over a fake driver and an in-memory store.
func setupTestPool(t *testing.T, maxTabs int) (*Pool, *browser.Fake, Store) {
	_, store := setupTestStore(t)
	driver := browser.NewFake()

	pool := NewPool(store, driver, maxTabs, logger.NewTestLogger()).
		WithCapabilities(testCapabilities)

	return pool, driver, store
}

func testCapabilities(serviceType string) (site.Capability, error) {
	if serviceType == "unknown" {
		return nil, site.ErrUnknownServiceType
	}
	return site.Static{
		Service:          serviceType,
		Entry:            "https://example.com/" + serviceType,
		Input:            "#input",
		NewThread:        "#new-thread",
		CompletionSignal: "window.__done === true",
		Extract:          "window.__result",
	}, nil
}

// createTestTab creates a tab row with default values.
func createTestTab(serviceType, targetID string) *Tab {
	return &Tab{
		ServiceType: serviceType,
		TargetID:    targetID,
		State:       StateFree,
	}
}
