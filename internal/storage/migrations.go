package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS taxonomy_leaves (
					id TEXT PRIMARY KEY,
					category1 TEXT NOT NULL,
					category2 TEXT NOT NULL DEFAULT '',
					category3 TEXT NOT NULL DEFAULT '',
					app_category_id TEXT NOT NULL DEFAULT '',
					app_category_name TEXT NOT NULL DEFAULT '',
					default_type TEXT NOT NULL DEFAULT 'expense',
					default_fix_var TEXT NOT NULL DEFAULT 'variable'
				)`,

				`CREATE TABLE IF NOT EXISTS rules (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					user_id TEXT NOT NULL,
					name TEXT NOT NULL,
					target_leaf TEXT NOT NULL,
					positive_keywords TEXT NOT NULL,
					negative_keywords TEXT NOT NULL DEFAULT '[]',
					priority INTEGER NOT NULL DEFAULT 100,
					strict INTEGER NOT NULL DEFAULT 0,
					is_active INTEGER NOT NULL DEFAULT 1,
					is_system INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_rules_user ON rules(user_id, is_active)`,

				`CREATE TABLE IF NOT EXISTS transactions (
					id TEXT NOT NULL,
					user_id TEXT NOT NULL,
					date DATETIME NOT NULL,
					normalized_description TEXT NOT NULL,
					amount TEXT NOT NULL,
					classification TEXT NOT NULL DEFAULT 'OPEN',
					classified_by TEXT NOT NULL DEFAULT '',
					applied_rule_id INTEGER,
					target_leaf TEXT NOT NULL DEFAULT '',
					matched_keyword TEXT NOT NULL DEFAULT '',
					confidence REAL NOT NULL DEFAULT 0,
					candidates TEXT NOT NULL DEFAULT '',
					manual_override INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL,
					PRIMARY KEY (user_id, id)
				)`,
				`CREATE INDEX idx_transactions_date ON transactions(user_id, date)`,
			)
		},
	},
	{
		Version:     2,
		Description: "Enforce one active rule per leaf",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE UNIQUE INDEX idx_rules_active_leaf ON rules(user_id, target_leaf) WHERE is_active = 1`,
			)
		},
	},
	{
		Version:     3,
		Description: "Index classification state for conflict and discovery queries",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE INDEX idx_transactions_state ON transactions(user_id, classification, manual_override)`,
			)
		},
	},
}

func execAll(tx *sql.Tx, queries ...string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	currentVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	finalVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
