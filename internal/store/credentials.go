package store

import (
	"database/sql"
	"fmt"
)

// CredentialRow is a credential record. EncryptedValue is nil until a
// value has been set.
type CredentialRow struct {
	ID             string
	Name           string
	Description    string
	EncryptedValue []byte
	CreatedAt      string
	UpdatedAt      *string
}

const credentialColumns = "id, name, description, encrypted_value, created_at, updated_at"

func scanCredential(row interface{ Scan(...any) error }) (*CredentialRow, error) {
	var c CredentialRow
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &c.EncryptedValue, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// InsertCredential adds a new credential row.
func (s *Store) InsertCredential(c *CredentialRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT INTO credentials (id, name, description, encrypted_value, created_at) VALUES (?, ?, ?, ?, ?)",
		c.ID, c.Name, c.Description, c.EncryptedValue, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert credential: %w", err)
	}
	return nil
}

// GetCredentialByName returns a credential or nil if absent.
func (s *Store) GetCredentialByName(name string) (*CredentialRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := scanCredential(s.db.QueryRow(
		"SELECT "+credentialColumns+" FROM credentials WHERE name = ?", name,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return c, nil
}

// ListCredentials returns all credentials ordered by name.
func (s *Store) ListCredentials() ([]*CredentialRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT " + credentialColumns + " FROM credentials ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
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

// SetCredentialValue replaces the encrypted blob; nil clears it.
func (s *Store) SetCredentialValue(name string, blob []byte, now string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"UPDATE credentials SET encrypted_value = ?, updated_at = ? WHERE name = ?",
		blob, now, name,
	)
	if err != nil {
		return fmt.Errorf("failed to update credential value: %w", err)
	}
	return nil
}

// SetCredentialDescription replaces the description.
func (s *Store) SetCredentialDescription(name, description, now string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"UPDATE credentials SET description = ?, updated_at = ? WHERE name = ?",
		description, now, name,
	)
	if err != nil {
		return fmt.Errorf("failed to update credential description: %w", err)
	}
	return nil
}

// LockedProfileIDsReferencing returns ids of locked, non-revoked profiles
// that reference the credential.
func (s *Store) LockedProfileIDsReferencing(credentialID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT p.id FROM profiles p
		 JOIN profile_credentials pc ON p.id = pc.profile_id
		 WHERE pc.credential_id = ? AND p.locked = 1 AND p.revoked = 0
		 ORDER BY p.id`,
		credentialID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query locked references: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteCredential removes the credential and every remaining binding to
// it. Callers check the locked-profile guard first.
func (s *Store) DeleteCredential(credentialID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM profile_credentials WHERE credential_id = ?", credentialID); err != nil {
		return fmt.Errorf("failed to detach credential: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM credentials WHERE id = ?", credentialID); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	return tx.Commit()
}
