package store

import (
	"database/sql"
	"fmt"
)

// GetAdminValue reads a key from the admin table, or "" if absent.
func (s *Store) GetAdminValue(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRow("SELECT value FROM admin WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read admin value: %w", err)
	}
	return value, nil
}

// SetAdminValue upserts a key in the admin table.
func (s *Store) SetAdminValue(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("INSERT OR REPLACE INTO admin (key, value) VALUES (?, ?)", key, value)
	if err != nil {
		return fmt.Errorf("failed to write admin value: %w", err)
	}
	return nil
}
