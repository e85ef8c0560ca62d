package profile

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	// KeyIDPrefix marks the public half of a profile key.
	KeyIDPrefix = "ark_"

	keyIDChars  = "abcdefghijklmnopqrstuvwxyz0123456789"
	keyIDLength = 24

	secretChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	secretLength = 48
)

// randomString draws n characters uniformly from charset using the OS
// CSPRNG. Rejection sampling keeps the distribution unbiased.
func randomString(charset string, n int) (string, error) {
	out := make([]byte, 0, n)
	limit := byte(256 - 256%len(charset))
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, charset[int(b)%len(charset)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

// generateKeyID returns a fresh ark_ key identifier.
func generateKeyID() (string, error) {
	random, err := randomString(keyIDChars, keyIDLength)
	if err != nil {
		return "", err
	}
	return KeyIDPrefix + random, nil
}

// generateSecret returns a fresh key secret.
func generateSecret() (string, error) {
	return randomString(secretChars, secretLength)
}

// ScriptHMAC computes HMAC-SHA256(secret, script) as lowercase hex.
func ScriptHMAC(secret, script string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(script))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyScript checks a provided HMAC hex digest in constant time.
func VerifyScript(secret, script, providedHex string) bool {
	expected := ScriptHMAC(secret, script)
	return hmac.Equal([]byte(expected), []byte(providedHex))
}
