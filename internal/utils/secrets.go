package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// GenerateSecret generates a cryptographically secure random secret
func GenerateSecret(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GenerateReference returns prefix followed by hexChars uppercase hex characters,
// e.g. GenerateReference("TXN-", 12) -> "TXN-1A2B3C4D5E6F"
func GenerateReference(prefix string, hexChars int) (string, error) {
	secret, err := GenerateSecret((hexChars + 1) / 2)
	if err != nil {
		return "", err
	}
	return prefix + strings.ToUpper(secret[:hexChars]), nil
}
