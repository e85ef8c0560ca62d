package crypto

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateMasterKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".secret")

	key, err := LoadOrCreateMasterKey(path)
	require.NoError(t, err)
	require.Len(t, key, KeySize)

	// Second load returns the same key.
	again, err := LoadOrCreateMasterKey(path)
	require.NoError(t, err)
	assert.Equal(t, key, again)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}
}

func TestLoadMasterKeyCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".secret")
	require.NoError(t, os.WriteFile(path, []byte("short"), 0600))

	_, err := LoadOrCreateMasterKey(path)
	assert.ErrorIs(t, err, ErrKeyFileCorrupt)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := LoadOrCreateMasterKey(filepath.Join(t.TempDir(), ".secret"))
	require.NoError(t, err)

	plaintext := []byte("sk-live-abc1234")
	blob, err := Encrypt(plaintext, key)
	require.NoError(t, err)
	require.Greater(t, len(blob), NonceSize+16)

	decrypted, err := Decrypt(blob, key)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestEncryptFreshNonce(t *testing.T) {
	key, err := LoadOrCreateMasterKey(filepath.Join(t.TempDir(), ".secret"))
	require.NoError(t, err)

	first, err := Encrypt([]byte("same input"), key)
	require.NoError(t, err)
	second, err := Encrypt([]byte("same input"), key)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.NotEqual(t, first[:NonceSize], second[:NonceSize])
}

func TestDecryptTamper(t *testing.T) {
	key, err := LoadOrCreateMasterKey(filepath.Join(t.TempDir(), ".secret"))
	require.NoError(t, err)

	blob, err := Encrypt([]byte("secret value"), key)
	require.NoError(t, err)

	// Flip one bit in the nonce, ciphertext, and tag regions in turn.
	for _, offset := range []int{0, NonceSize + 1, len(blob) - 1} {
		tampered := make([]byte, len(blob))
		copy(tampered, blob)
		tampered[offset] ^= 0x01

		_, err := Decrypt(tampered, key)
		assert.ErrorIs(t, err, ErrBadCiphertext, "offset %d", offset)
	}
}

func TestDecryptWrongKey(t *testing.T) {
	dir := t.TempDir()
	key, err := LoadOrCreateMasterKey(filepath.Join(dir, "a"))
	require.NoError(t, err)
	other, err := LoadOrCreateMasterKey(filepath.Join(dir, "b"))
	require.NoError(t, err)

	blob, err := Encrypt([]byte("secret value"), key)
	require.NoError(t, err)

	_, err = Decrypt(blob, other)
	assert.ErrorIs(t, err, ErrBadCiphertext)
}

func TestDecryptTruncated(t *testing.T) {
	key, err := LoadOrCreateMasterKey(filepath.Join(t.TempDir(), ".secret"))
	require.NoError(t, err)

	_, err = Decrypt([]byte("tiny"), key)
	assert.ErrorIs(t, err, ErrBadCiphertext)
}
