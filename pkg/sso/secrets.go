package sso

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Opaque credential prefixes. The prefix makes leaked values greppable
// and identifies which endpoint a credential belongs to.
const (
	codePrefix  = "fedac_"
	tokenPrefix = "fedat_"
)

// opaqueLength is the number of random bytes per credential (256 bits)
const opaqueLength = 32

// generateOpaque creates a high-entropy, URL-safe credential value
func generateOpaque(prefix string) (string, error) {
	randomBytes := make([]byte, opaqueLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return prefix + base64.RawURLEncoding.EncodeToString(randomBytes), nil
}

// hashSecret computes the SHA-256 hex digest used to key and compare
// credentials so plaintext values are never stored.
func hashSecret(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
