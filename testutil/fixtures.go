package testutil

import (
	"testing"

	"gorm.io/gorm"
)

// CreateFixture inserts a model into the test database, failing the test on error.
func CreateFixture(t *testing.T, db *gorm.DB, model interface{}) {
	if err := db.Create(model).Error; err != nil {
		t.Fatalf("failed to create fixture: %v", err)
	}
}

// CreateFixtures inserts multiple fixtures in order.
func CreateFixtures(t *testing.T, db *gorm.DB, models ...interface{}) {
	for _, model := range models {
		CreateFixture(t, db, model)
	}
}
