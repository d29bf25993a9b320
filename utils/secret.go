package utils

import (
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"
)

// HashSecret returns the bcrypt hash of secret, suitable for ADMIN_TOKEN_HASH.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckSecretHash compares a bcrypt hash with its possible plaintext equivalent.
func CheckSecretHash(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// EqualSecret compares two secrets in constant time. An empty expected value never matches.
func EqualSecret(expected, given string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(given), []byte(expected)) == 1
}
