package store

import (
	"database/sql"
	"fmt"
)

const currentSchemaVersion = 2

// RunMigrations applies any pending database migrations
func (s *SQLiteStore) RunMigrations() error {
	version, err := s.getSchemaVersion()
	if err != nil {
		return err
	}

	if version < 2 {
		if err := s.migrateToV2(); err != nil {
			return fmt.Errorf("migration to v2 failed: %w", err)
		}
	}

	return nil
}

// getSchemaVersion returns the current schema version, 1 if not set
func (s *SQLiteStore) getSchemaVersion() (int, error) {
	var tableName string
	err := s.db.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='bulkops_schema_version'
	`).Scan(&tableName)

	if err == sql.ErrNoRows {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}

	var version int
	err = s.db.QueryRow("SELECT COALESCE(MAX(version), 1) FROM bulkops_schema_version").Scan(&version)
	if err != nil {
		return 1, nil
	}

	return version, nil
}

// migrateToV2 adds the parent batch column used for batch lookups.
func (s *SQLiteStore) migrateToV2() error {
	if !s.columnExists("history_entries", "parent_batch_id") {
		if _, err := s.db.Exec(`ALTER TABLE history_entries ADD COLUMN parent_batch_id TEXT`); err != nil {
			return err
		}
	}

	// Backfill from the JSON payload of existing rows.
	_, err := s.db.Exec(`
		UPDATE history_entries
		SET parent_batch_id = json_extract(data, '$.operation_data.parent_batch_id')
		WHERE parent_batch_id IS NULL
	`)
	if err != nil {
		return err
	}

	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_history_parent_batch ON history_entries(parent_batch_id)`); err != nil {
		return err
	}

	_, err = s.db.Exec("INSERT OR REPLACE INTO bulkops_schema_version (version) VALUES (?)", 2)
	return err
}

// columnExists checks if a column exists in a table
func (s *SQLiteStore) columnExists(table, column string) bool {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM pragma_table_info(?)
		WHERE name = ?
	`, table, column).Scan(&count)
	return err == nil && count > 0
}
