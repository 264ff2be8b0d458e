package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order; a migration's version is its index + 1.
var migrations = []string{
	migration001ActiveSessions,
	migration002History,
	migration003StateMeta,
}

const migration001ActiveSessions = `
CREATE TABLE IF NOT EXISTS active_sessions (
	user_id TEXT PRIMARY KEY,
	started_at_ms INTEGER NOT NULL
);
`

const migration002History = `
CREATE TABLE IF NOT EXISTS history (
	position INTEGER PRIMARY KEY, -- order of the first flush
	user_id TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL,
	total_ms INTEGER NOT NULL CHECK (total_ms >= 0)
);
`

const migration003StateMeta = `
CREATE TABLE IF NOT EXISTS state_meta (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	saved_at TEXT NOT NULL
);
`

// runMigrations applies all pending schema migrations
func runMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion); err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	for i, migration := range migrations {
		version := i + 1
		if version <= currentVersion {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", version, err)
		}

		if _, err := tx.ExecContext(ctx, migration); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", version, err)
		}

		if _, err := tx.ExecContext(ctx, "INSERT INTO migrations (version) VALUES (?)", version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", version, err)
		}
	}

	return nil
}
