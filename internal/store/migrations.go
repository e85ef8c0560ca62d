package store

import (
	"fmt"
	"strings"
)

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
    id TEXT PRIMARY KEY,
    name TEXT UNIQUE NOT NULL,
    encrypted_value BLOB,
    description TEXT DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT
);

CREATE TABLE IF NOT EXISTS profiles (
    id TEXT PRIMARY KEY,
    description TEXT DEFAULT '',
    locked INTEGER DEFAULT 0,
    key_id TEXT,
    key_secret_encrypted BLOB,
    expires_at TEXT,
    revoked INTEGER DEFAULT 0,
    created_at TEXT NOT NULL,
    updated_at TEXT,
    last_used_at TEXT
);

CREATE TABLE IF NOT EXISTS profile_credentials (
    profile_id TEXT NOT NULL REFERENCES profiles(id),
    credential_id TEXT NOT NULL REFERENCES credentials(id),
    PRIMARY KEY (profile_id, credential_id)
);

CREATE TABLE IF NOT EXISTS executions (
    id TEXT PRIMARY KEY,
    profile_id TEXT NOT NULL REFERENCES profiles(id),
    script TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    result TEXT,
    stdout TEXT DEFAULT '',
    stderr TEXT DEFAULT '',
    error TEXT,
    llm_request TEXT,
    execution_time_ms INTEGER,
    created_at TEXT NOT NULL,
    completed_at TEXT
);

CREATE TABLE IF NOT EXISTS admin (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// Append-only column additions. Applied on every startup; sqlite reports a
// duplicate column for ones already present, which the runner ignores.
var columnMigrations = []string{
	"ALTER TABLE profiles ADD COLUMN key_id TEXT",
	"ALTER TABLE profiles ADD COLUMN key_secret_encrypted BLOB",
	"ALTER TABLE profiles ADD COLUMN last_used_at TEXT",
	"ALTER TABLE executions ADD COLUMN llm_request TEXT",
	"ALTER TABLE executions ADD COLUMN execution_time_ms INTEGER",
}

// migrate applies the base schema and column additions. Caller holds the
// write lock.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	for _, stmt := range columnMigrations {
		if _, err := s.db.Exec(stmt); err != nil {
			if strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration %q failed: %w", stmt, err)
		}
	}

	return nil
}
