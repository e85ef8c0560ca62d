// Package backup writes age-encrypted snapshots of the Airlock database.
//
// Snapshots are encrypted to an instance identity generated beside the
// master key, so a stolen backup is as opaque as the live store.
package backup

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"filippo.io/age"

	"github.com/ComputClaw/airlock/internal/clock"
)

// Service creates encrypted snapshots of a single database file.
type Service struct {
	identityPath string
	sourcePath   string
	outDir       string
	clock        clock.Clock

	identity *age.X25519Identity
}

// NewService creates a backup Service.
func NewService(identityPath, sourcePath, outDir string, clk clock.Clock) *Service {
	return &Service{
		identityPath: identityPath,
		sourcePath:   sourcePath,
		outDir:       outDir,
		clock:        clk,
	}
}

// Initialize loads the backup identity, generating one on first use.
func (s *Service) Initialize() error {
	data, err := os.ReadFile(s.identityPath)
	if err == nil {
		return s.parseIdentity(string(data))
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read identity file: %w", err)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("failed to generate identity: %w", err)
	}

	content := fmt.Sprintf("# public key: %s\n%s\n", identity.Recipient(), identity)
	if err := os.MkdirAll(filepath.Dir(s.identityPath), 0700); err != nil {
		return fmt.Errorf("failed to create identity directory: %w", err)
	}
	if err := os.WriteFile(s.identityPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write identity file: %w", err)
	}

	s.identity = identity
	return nil
}

func (s *Service) parseIdentity(data string) error {
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		identity, err := age.ParseX25519Identity(line)
		if err != nil {
			return fmt.Errorf("failed to parse identity: %w", err)
		}
		s.identity = identity
		return nil
	}
	return fmt.Errorf("no identity found in %s", s.identityPath)
}

// Recipient returns the public key backups are encrypted to.
func (s *Service) Recipient() string {
	return s.identity.Recipient().String()
}

// Snapshot encrypts the database file into the backup directory and
// returns the snapshot path.
func (s *Service) Snapshot() (string, error) {
	plaintext, err := os.ReadFile(s.sourcePath)
	if err != nil {
		return "", fmt.Errorf("failed to read database: %w", err)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.identity.Recipient())
	if err != nil {
		return "", fmt.Errorf("failed to create encryptor: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return "", fmt.Errorf("failed to encrypt snapshot: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finish snapshot: %w", err)
	}

	if err := os.MkdirAll(s.outDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	name := fmt.Sprintf("airlock-%s.db.age", s.clock.Now().Format("20060102-150405"))
	path := filepath.Join(s.outDir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}

	return path, nil
}

// Restore decrypts a snapshot back to plaintext database bytes.
func (s *Service) Restore(path string) ([]byte, error) {
	ciphertext, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), s.identity)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt snapshot: %w", err)
	}

	var out bytes.Buffer
	if _, err := out.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("failed to read decrypted snapshot: %w", err)
	}
	return out.Bytes(), nil
}

// Prune removes snapshots older than the retention window, returning how
// many were deleted.
func (s *Service) Prune(retain time.Duration) (int, error) {
	entries, err := os.ReadDir(s.outDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read backup directory: %w", err)
	}

	cutoff := s.clock.Now().Add(-retain)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".db.age") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.outDir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
