// Package crypto provides credential encryption for Airlock.
//
// Values are sealed with AES-256-GCM under a per-instance master key. Each
// blob is nonce ‖ ciphertext ‖ tag, opaque to callers.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// KeySize is the master key length (AES-256).
	KeySize = 32
	// NonceSize is 96 bits, recommended for AES-GCM.
	NonceSize = 12
)

var (
	// ErrBadCiphertext indicates a tampered blob or wrong key.
	ErrBadCiphertext = errors.New("ciphertext authentication failed")
	// ErrKeyFileCorrupt indicates a master key file of the wrong length.
	ErrKeyFileCorrupt = errors.New("master key file is corrupt")
)

// LoadOrCreateMasterKey reads the 32-byte master key from path, generating
// and persisting a fresh one with owner-only permissions if the file does
// not exist. Losing the file renders every encrypted value unrecoverable.
func LoadOrCreateMasterKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != KeySize {
			return nil, fmt.Errorf("%w: %d bytes, want %d", ErrKeyFileCorrupt, len(data), KeySize)
		}
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read master key: %w", err)
	}

	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate master key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(path, key, 0600); err != nil {
		return nil, fmt.Errorf("failed to write master key: %w", err)
	}

	return key, nil
}

// Encrypt seals plaintext under the master key with a fresh random nonce.
func Encrypt(plaintext []byte, key []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt. Returns ErrBadCiphertext on any
// modification of nonce, ciphertext, or tag.
func Decrypt(blob []byte, key []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	if len(blob) < NonceSize+aead.Overhead() {
		return nil, ErrBadCiphertext
	}

	plaintext, err := aead.Open(nil, blob[:NonceSize], blob[NonceSize:], nil)
	if err != nil {
		return nil, ErrBadCiphertext
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key is %d bytes", ErrKeyFileCorrupt, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
