package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// MinShareSecretBytes is the minimum entropy accepted for the share link secret
const MinShareSecretBytes = 32

// GenerateSecret returns n random bytes hex-encoded
func GenerateSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GenerateShareSecret returns a 256-bit secret for signing share links
func GenerateShareSecret() (string, error) {
	secret, err := GenerateSecret(MinShareSecretBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate share secret: %w", err)
	}
	return secret, nil
}
