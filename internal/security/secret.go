package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// MinSecretBytes is the minimum entropy of refresh and CSRF secrets (256 bits).
const MinSecretBytes = 32

// RandomSecret returns n random bytes as unpadded URL-safe base64.
func RandomSecret(n int) (string, error) {
	if n < MinSecretBytes {
		n = MinSecretBytes
	}

	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}

// EqualStrings compares two strings in constant time.
func EqualStrings(a string, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
