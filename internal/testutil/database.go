// Package testutil provides shared fixtures for tests that need a real database.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/storage"
)

// SetupTestDB creates a migrated SQLite database in a temp directory.
// The database is closed when the test finishes.
//
// Example:
//
//	db := testutil.SetupTestDB(t, testutil.FixtureStandard.Leaves()...)
func SetupTestDB(t *testing.T, leaves ...model.TaxonomyLeaf) *storage.SQLiteStorage {
	t.Helper()

	db, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	if len(leaves) > 0 {
		if err := db.SaveLeaves(ctx, leaves); err != nil {
			t.Fatalf("failed to seed taxonomy: %v", err)
		}
	}

	return db
}

// SeedTransactions stores open transactions keyed by id for userID.
func SeedTransactions(t *testing.T, db *storage.SQLiteStorage, userID string, txns ...model.Transaction) {
	t.Helper()

	for i := range txns {
		if txns[i].UserID == "" {
			txns[i].UserID = userID
		}
	}
	if err := db.SaveTransactions(context.Background(), txns); err != nil {
		t.Fatalf("failed to seed transactions: %v", err)
	}
}
