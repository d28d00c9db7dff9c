// Package auth implements API key generation and validation for the
// API server. Keys are random, carry a recognizable prefix, and are
// stored only as bcrypt hashes.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyLength is the length of the random part of an API key.
	APIKeyLength = 32
	// APIKeyPrefix marks all generated keys.
	APIKeyPrefix = "el"

	// BcryptCost balances hashing cost against request latency.
	BcryptCost = 12
	// bcryptMaxInputLength is bcrypt's hard input limit in bytes.
	bcryptMaxInputLength = 72
)

// GenerateAPIKey creates a new random API key together with its bcrypt
// hash. The plain key is shown once; only the hash should be stored.
func GenerateAPIKey() (key, hash string, err error) {
	randomBytes := make([]byte, APIKeyLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random key: %w", err)
	}

	// base32 avoids ambiguous characters in keys users may retype.
	randomPart := strings.ToLower(base32.StdEncoding.EncodeToString(randomBytes))
	if len(randomPart) > APIKeyLength {
		randomPart = randomPart[:APIKeyLength]
	}
	key = fmt.Sprintf("%s_%s", APIKeyPrefix, randomPart)

	hash, err = HashAPIKey(key)
	if err != nil {
		return "", "", err
	}
	return key, hash, nil
}

// HashAPIKey creates a bcrypt hash of an API key for storage.
func HashAPIKey(apiKey string) (string, error) {
	if apiKey == "" {
		return "", fmt.Errorf("API key cannot be empty")
	}

	hash, err := bcrypt.GenerateFromPassword(normalizeKey(apiKey), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}
	return string(hash), nil
}

// ValidateAPIKey reports whether a presented key matches the stored
// bcrypt hash.
func ValidateAPIKey(apiKey, storedHash string) bool {
	if apiKey == "" || storedHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(storedHash), normalizeKey(apiKey)) == nil
}

// IsValidAPIKeyFormat checks the shape of a key without touching the
// hash: correct prefix, sane length, restricted alphabet.
func IsValidAPIKeyFormat(apiKey string) bool {
	if !strings.HasPrefix(apiKey, APIKeyPrefix+"_") {
		return false
	}
	if len(apiKey) < 15 || len(apiKey) > 50 {
		return false
	}
	for _, char := range apiKey {
		if (char < 'a' || char > 'z') &&
			(char < '0' || char > '9') &&
			char != '_' {
			return false
		}
	}
	return true
}

// DisplayPrefix returns a safe-to-log form of a key, keeping only the
// first few characters of the random part.
func DisplayPrefix(apiKey string) string {
	if !IsValidAPIKeyFormat(apiKey) {
		return "invalid_key"
	}
	random := apiKey[len(APIKeyPrefix)+1:]
	if len(random) > 8 {
		random = random[:8]
	}
	return fmt.Sprintf("%s_%s...", APIKeyPrefix, random)
}

// normalizeKey pre-hashes keys longer than bcrypt's input limit so
// every byte of the key contributes to the comparison.
func normalizeKey(apiKey string) []byte {
	keyBytes := []byte(apiKey)
	if len(keyBytes) > bcryptMaxInputLength {
		sum := sha256.Sum256(keyBytes)
		keyBytes = sum[:]
	}
	return keyBytes
}
