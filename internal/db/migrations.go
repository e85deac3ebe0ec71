package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
)

// Migration represents a single schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema: cycle_history, cached_issues",
		SQL:         migration001SQL,
	},
	{
		Version:     2,
		Description: "add service health columns to cycle_history",
		SQL:         migration002SQL,
	},
}

const migration001SQL = `
CREATE TABLE cycle_history (
    id               TEXT PRIMARY KEY,
    start_time       DATETIME NOT NULL,
    end_time         DATETIME,
    tasks_discovered INTEGER NOT NULL DEFAULT 0,
    tasks_completed  INTEGER NOT NULL DEFAULT 0,
    tasks_failed     INTEGER NOT NULL DEFAULT 0,
    prs_merged       INTEGER NOT NULL DEFAULT 0,
    duration_ms      INTEGER NOT NULL DEFAULT 0,
    degraded         INTEGER NOT NULL DEFAULT 0,
    errors           TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE cached_issues (
    id         INTEGER PRIMARY KEY,
    title      TEXT NOT NULL,
    body       TEXT NOT NULL DEFAULT '',
    labels     TEXT NOT NULL DEFAULT '[]',
    fetched_at DATETIME NOT NULL
);

CREATE INDEX idx_cycle_history_time ON cycle_history(start_time DESC);
`

const migration002SQL = `
ALTER TABLE cycle_history ADD COLUMN service_status TEXT NOT NULL DEFAULT '';
ALTER TABLE cycle_history ADD COLUMN circuit_state TEXT NOT NULL DEFAULT '';
`

// Migrate runs all pending migrations inside transactions.
func Migrate(db *sql.DB) error {
	if db == nil {
		return errors.New("db is nil")
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY, applied_at DATETIME)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	currentVersion, err := CurrentVersion(db)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec(migration.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec(`INSERT INTO schema_version (version, applied_at) VALUES (?, CURRENT_TIMESTAMP)`, migration.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", migration.Version, err)
		}

		log.Printf("db: applied migration %d: %s", migration.Version, migration.Description)
		currentVersion = migration.Version
	}

	return nil
}

// CurrentVersion returns the current schema version (0 if no migrations applied).
func CurrentVersion(db *sql.DB) (int, error) {
	if db == nil {
		return 0, errors.New("db is nil")
	}

	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	var version int
	if err := row.Scan(&version); err != nil {
		return 0, fmt.Errorf("query schema_version: %w", err)
	}
	return version, nil
}
