package store

import (
	"database/sql"
	"fmt"
)

// ProfileRow is a profile record. KeyID and KeySecretEncrypted are both
// nil until the profile is locked.
type ProfileRow struct {
	ID                 string
	Description        string
	Locked             bool
	KeyID              *string
	KeySecretEncrypted []byte
	ExpiresAt          *string
	Revoked            bool
	CreatedAt          string
	UpdatedAt          *string
	LastUsedAt         *string
}

const profileColumns = "id, description, locked, key_id, key_secret_encrypted, expires_at, revoked, created_at, updated_at, last_used_at"

func scanProfile(row interface{ Scan(...any) error }) (*ProfileRow, error) {
	var p ProfileRow
	if err := row.Scan(&p.ID, &p.Description, &p.Locked, &p.KeyID, &p.KeySecretEncrypted,
		&p.ExpiresAt, &p.Revoked, &p.CreatedAt, &p.UpdatedAt, &p.LastUsedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// InsertProfile adds a new unlocked profile row.
func (s *Store) InsertProfile(p *ProfileRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT INTO profiles (id, description, created_at) VALUES (?, ?, ?)",
		p.ID, p.Description, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}
	return nil
}

// GetProfile returns a profile by internal id, or nil if absent.
func (s *Store) GetProfile(id string) (*ProfileRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := scanProfile(s.db.QueryRow(
		"SELECT "+profileColumns+" FROM profiles WHERE id = ?", id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// GetProfileByKeyID returns a profile by its public ark_ key id, or nil.
func (s *Store) GetProfileByKeyID(keyID string) (*ProfileRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := scanProfile(s.db.QueryRow(
		"SELECT "+profileColumns+" FROM profiles WHERE key_id = ?", keyID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile by key: %w", err)
	}
	return p, nil
}

// ListProfiles returns all profiles ordered by creation time.
func (s *Store) ListProfiles() ([]*ProfileRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT " + profileColumns + " FROM profiles ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var out []*ProfileRow
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProfileMeta updates description and/or expiry. A nil description
// leaves it unchanged; expires is applied only when expiresSet is true
// (nil then clears it).
func (s *Store) UpdateProfileMeta(id string, description *string, expiresSet bool, expires *string, now string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if description != nil {
		if _, err := s.db.Exec("UPDATE profiles SET description = ?, updated_at = ? WHERE id = ?", *description, now, id); err != nil {
			return fmt.Errorf("failed to update profile description: %w", err)
		}
	}
	if expiresSet {
		if _, err := s.db.Exec("UPDATE profiles SET expires_at = ?, updated_at = ? WHERE id = ?", expires, now, id); err != nil {
			return fmt.Errorf("failed to update profile expiry: %w", err)
		}
	}
	return nil
}

// SetProfileKey installs a key pair, marking the profile locked. Used for
// both the initial lock and key regeneration.
func (s *Store) SetProfileKey(id, keyID string, encryptedSecret []byte, now string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"UPDATE profiles SET locked = 1, key_id = ?, key_secret_encrypted = ?, updated_at = ? WHERE id = ?",
		keyID, encryptedSecret, now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to set profile key: %w", err)
	}
	return nil
}

// SetProfileRevoked marks the profile revoked.
func (s *Store) SetProfileRevoked(id, now string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("UPDATE profiles SET revoked = 1, updated_at = ? WHERE id = ?", now, id)
	if err != nil {
		return fmt.Errorf("failed to revoke profile: %w", err)
	}
	return nil
}

// StampProfileUsed records an authentication against the profile key.
func (s *Store) StampProfileUsed(id, now string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("UPDATE profiles SET last_used_at = ? WHERE id = ?", now, id)
	if err != nil {
		return fmt.Errorf("failed to stamp profile: %w", err)
	}
	return nil
}

// DeleteProfile removes the profile and its credential bindings.
func (s *Store) DeleteProfile(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM profile_credentials WHERE profile_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete profile bindings: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM profiles WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}

	return tx.Commit()
}

// AttachCredential binds a credential to a profile. Idempotent.
func (s *Store) AttachCredential(profileID, credentialID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO profile_credentials (profile_id, credential_id) VALUES (?, ?)",
		profileID, credentialID,
	)
	if err != nil {
		return fmt.Errorf("failed to attach credential: %w", err)
	}
	return nil
}

// DetachCredential removes a binding. No-op when absent.
func (s *Store) DetachCredential(profileID, credentialID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"DELETE FROM profile_credentials WHERE profile_id = ? AND credential_id = ?",
		profileID, credentialID,
	)
	if err != nil {
		return fmt.Errorf("failed to detach credential: %w", err)
	}
	return nil
}

// ListProfileCredentials returns the credentials bound to a profile,
// ordered by name.
func (s *Store) ListProfileCredentials(profileID string) ([]*CredentialRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT c.id, c.name, c.description, c.encrypted_value, c.created_at, c.updated_at
		 FROM credentials c
		 JOIN profile_credentials pc ON c.id = pc.credential_id
		 WHERE pc.profile_id = ? ORDER BY c.name`,
		profileID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list profile credentials: %w", err)
	}
	defer rows.Close()

	var out []*CredentialRow
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
