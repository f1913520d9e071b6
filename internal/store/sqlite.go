package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/storeops/bulkops/internal/models"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the SQLite-backed history backend. Entry order is the
// AUTOINCREMENT sequence.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite store connection.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes read-modify-write transactions.
	db.SetMaxOpenConns(1)

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Initialize creates the database schema. Databases created by an older
// release are stamped with version 1 so RunMigrations upgrades them.
func (s *SQLiteStore) Initialize() error {
	fresh := !s.tableExists("history_entries")

	schema := `
	-- History entries (append-only, trimmed oldest-first)
	CREATE TABLE IF NOT EXISTS history_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		timestamp TEXT NOT NULL,
		operation_type TEXT NOT NULL,
		batch_id TEXT,
		parent_batch_id TEXT,
		data JSON NOT NULL
	);

	-- Key-value metadata
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT
	);

	-- Schema version tracking
	CREATE TABLE IF NOT EXISTS bulkops_schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE INDEX IF NOT EXISTS idx_history_batch ON history_entries(batch_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	if fresh {
		if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_history_parent_batch ON history_entries(parent_batch_id)`); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
		_, err := s.db.Exec("INSERT OR REPLACE INTO bulkops_schema_version (version) VALUES (?)", currentSchemaVersion)
		if err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
		return nil
	}

	_, err := s.db.Exec("INSERT OR IGNORE INTO bulkops_schema_version (version) SELECT 1 WHERE NOT EXISTS (SELECT 1 FROM bulkops_schema_version)")
	if err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}

// tableExists checks if a table exists in the database.
func (s *SQLiteStore) tableExists(table string) bool {
	var name string
	err := s.db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
	return err == nil
}

// View implements Backend.
func (s *SQLiteStore) View(fn func(entries []*models.HistoryEntry) error) error {
	entries, err := s.readEntries(s.db)
	if err != nil {
		return err
	}
	return fn(entries)
}

// Update implements Backend.
func (s *SQLiteStore) Update(fn func(entries []*models.HistoryEntry) ([]*models.HistoryEntry, error)) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	entries, err := s.readEntries(tx)
	if err != nil {
		return err
	}

	next, err := fn(entries)
	if err != nil {
		return err
	}

	added, removed := diff(entries, next)

	for _, id := range removed {
		if _, err := tx.Exec("DELETE FROM history_entries WHERE id = ?", id); err != nil {
			return fmt.Errorf("delete entry %s: %w", id, err)
		}
	}
	for _, e := range added {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal entry %s: %w", e.ID, err)
		}
		_, err = tx.Exec(`
			INSERT INTO history_entries (id, timestamp, operation_type, batch_id, parent_batch_id, data)
			VALUES (?, ?, ?, ?, ?, ?)`,
			e.ID, e.Timestamp.UTC().Format(time.RFC3339Nano), string(e.OperationType),
			nullString(e.OperationData.BatchID), nullString(e.OperationData.ParentBatchID), string(data),
		)
		if err != nil {
			return fmt.Errorf("insert entry %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

// GetValue gets a value from the key-value store.
func (s *SQLiteStore) GetValue(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetValue sets a value in the key-value store.
func (s *SQLiteStore) SetValue(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = ?",
		key, value, value,
	)
	return err
}

type querier interface {
	Query(query string, args ...any) (*sql.Rows, error)
}

// readEntries loads all entries newest-first.
func (s *SQLiteStore) readEntries(q querier) ([]*models.HistoryEntry, error) {
	rows, err := q.Query("SELECT data FROM history_entries ORDER BY seq DESC")
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.HistoryEntry
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var e models.HistoryEntry
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("unmarshal entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
