// Package sqlite is the trace store adapter: a single mutex-guarded
// *sql.DB handle backing every narrow persistence port the domain
// packages define (trace.Store, quarantine.Store, taint.Store,
// replay.Store, rollout.Store, transparency.CheckpointStore,
// policy.Store), plus the write-once evidence archive table.
//
// A single shared handle guarded by one mutex satisfies the concurrency
// model's requirement without forcing the domain layer to share one
// God-interface: each port stays narrow, and this adapter is the only
// place that knows they all live in the same database.
package sqlite

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the concrete trace store. All exported methods serialize
// through mu; modernc.org/sqlite's driver is not safe for unsynchronized
// concurrent writers on the same connection.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (or creates) the sqlite database at path and applies any
// pending migrations. A failing migration aborts loudly: the caller
// should treat a non-nil error as fatal to startup.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes internally; avoid pool contention on writes

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return err
	}

	applied := map[int]bool{}
	rows, err := s.db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return err
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d: %w", m.version, err)
			}
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
			m.version, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: record version: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: commit: %w", m.version, err)
		}
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func stringOr(v sql.NullString) string {
	if v.Valid {
		return v.String
	}
	return ""
}
