// Package store provides the sqlite persistence layer for Airlock.
//
// A single Store owns the database connection. Writes are serialized
// through a store-level mutex; reads may proceed concurrently.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Store provides access to the Airlock database.
type Store struct {
	path string
	db   *sql.DB
	mu   sync.RWMutex
}

// New creates a Store for the given database file.
func New(path string) *Store {
	return &Store{path: path}
}

// Initialize creates the data directory, opens the connection, and applies
// the schema.
func (s *Store) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", s.path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	s.db = db

	if err := s.migrate(); err != nil {
		s.db.Close()
		s.db = nil
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	return nil
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return err
		}
		s.db = nil
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}
