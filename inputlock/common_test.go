package inputlock

import (
	"testing"

	"github.com/hairizuanbinnoorazman/browser-relay/logger"
	"github.com/hairizuanbinnoorazman/browser-relay/testutil"
	"gorm.io/gorm"
)

// setupTestStore creates a test database and lock store for testing.
func setupTestStore(t *testing.T) (*gorm.DB, Store) {
	db := testutil.SetupTestDB(t)
	testutil.AutoMigrate(t, db, &Lock{})

	log := logger.NewTestLogger()
	store := NewMySQLStore(db, log)

	return db, store
}
