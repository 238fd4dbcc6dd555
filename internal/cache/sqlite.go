package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is a persistent Store, so repeated runs over revised documents skip
// nodes that were already elaborated. Constructed once per process and torn
// down with Close.
type SQLite struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultPath returns the XDG data path for the shared cache database.
func DefaultPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "procflow", "cache.db")
}

// OpenSQLite opens (creating if needed) the cache database at path.
// WAL mode is enabled for concurrent reads.
func OpenSQLite(path string) (*SQLite, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &SQLite{conn: conn, path: path}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the cache schema when missing.
func (s *SQLite) migrate() error {
	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS elaborations (
			fingerprint TEXT PRIMARY KEY,
			category TEXT NOT NULL DEFAULT '',
			priority INTEGER NOT NULL DEFAULT 0,
			estimated_duration TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_elaborations_created_at ON elaborations(created_at);
	`)
	if err != nil {
		return fmt.Errorf("migrate cache schema: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *SQLite) Path() string { return s.path }

// Get implements Store.
func (s *SQLite) Get(fingerprint string) (*Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.conn.QueryRow(`
		SELECT category, priority, estimated_duration, description
		FROM elaborations WHERE fingerprint = ?
	`, fingerprint)

	e := &Entry{Fingerprint: fingerprint}
	err := row.Scan(&e.Category, &e.Priority, &e.EstimatedDuration, &e.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup: %w", err)
	}
	return e, true, nil
}

// Put implements Store.
func (s *SQLite) Put(e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		INSERT INTO elaborations (fingerprint, category, priority, estimated_duration, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			category = excluded.category,
			priority = excluded.priority,
			estimated_duration = excluded.estimated_duration,
			description = excluded.description
	`, e.Fingerprint, e.Category, e.Priority, e.EstimatedDuration, e.Description, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("cache insert: %w", err)
	}
	return nil
}

// Count returns the number of cached entries.
func (s *SQLite) Count() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	if err := s.conn.QueryRow("SELECT COUNT(*) FROM elaborations").Scan(&n); err != nil {
		return 0, fmt.Errorf("cache count: %w", err)
	}
	return n, nil
}

// Purge deletes entries older than the given duration. A zero duration
// deletes everything. Returns the number of entries removed.
func (s *SQLite) Purge(olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan).UTC().Format(time.RFC3339)
	result, err := s.conn.Exec("DELETE FROM elaborations WHERE created_at <= ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("cache purge: %w", err)
	}
	return result.RowsAffected()
}

// Close implements Store.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}
