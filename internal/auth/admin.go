// Package auth implements operator session authentication: first-boot
// password setup and bearer session tokens.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ComputClaw/airlock/internal/store"
)

const (
	// TokenPrefix marks admin session tokens.
	TokenPrefix = "atk_"

	tokenChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	tokenLength = 32

	passwordHashKey = "admin_password_hash"
	sessionHashKey  = "session_token_hash"
)

var (
	// ErrAlreadySetup indicates the admin password is already configured.
	ErrAlreadySetup = errors.New("admin password already configured")
	// ErrNotSetup indicates login before first-boot setup.
	ErrNotSetup = errors.New("admin password not configured")
	// ErrBadPassword indicates a failed login.
	ErrBadPassword = errors.New("invalid password")
	// ErrBadToken indicates a missing or invalid session token.
	ErrBadToken = errors.New("invalid or expired session token")
	// ErrWeakPassword indicates a password below the minimum length.
	ErrWeakPassword = errors.New("password must be at least 8 characters")
)

// Admin manages the operator password and session token, both stored as
// SHA-256 hashes in the admin table.
type Admin struct {
	store *store.Store
}

// NewAdmin creates an Admin service.
func NewAdmin(st *store.Store) *Admin {
	return &Admin{store: st}
}

func hashValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

func generateToken() (string, error) {
	buf := make([]byte, tokenLength)
	out := make([]byte, 0, tokenLength)
	limit := byte(256 - 256%len(tokenChars))
	for len(out) < tokenLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, tokenChars[int(b)%len(tokenChars)])
			if len(out) == tokenLength {
				break
			}
		}
	}
	return TokenPrefix + string(out), nil
}

// SetupComplete reports whether the admin password has been set.
func (a *Admin) SetupComplete() (bool, error) {
	hash, err := a.store.GetAdminValue(passwordHashKey)
	if err != nil {
		return false, err
	}
	return hash != "", nil
}

// Setup sets the admin password on first boot and returns a session token.
func (a *Admin) Setup(password string) (string, error) {
	done, err := a.SetupComplete()
	if err != nil {
		return "", err
	}
	if done {
		return "", ErrAlreadySetup
	}
	if len(password) < 8 {
		return "", ErrWeakPassword
	}

	if err := a.store.SetAdminValue(passwordHashKey, hashValue(password)); err != nil {
		return "", err
	}
	return a.issueToken()
}

// Login validates the password and returns a fresh session token,
// invalidating the previous one.
func (a *Admin) Login(password string) (string, error) {
	stored, err := a.store.GetAdminValue(passwordHashKey)
	if err != nil {
		return "", err
	}
	if stored == "" {
		return "", ErrNotSetup
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(hashValue(password))) != 1 {
		return "", ErrBadPassword
	}
	return a.issueToken()
}

// Verify checks a presented session token.
func (a *Admin) Verify(token string) error {
	if token == "" {
		return ErrBadToken
	}
	stored, err := a.store.GetAdminValue(sessionHashKey)
	if err != nil {
		return err
	}
	if stored == "" {
		return ErrBadToken
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(hashValue(token))) != 1 {
		return ErrBadToken
	}
	return nil
}

func (a *Admin) issueToken() (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	if err := a.store.SetAdminValue(sessionHashKey, hashValue(token)); err != nil {
		return "", err
	}
	return token, nil
}
