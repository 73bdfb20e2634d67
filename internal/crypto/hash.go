// Package crypto provides cryptographic utilities for password hashing.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// Scrypt parameters recommended for interactive logins.
// N=16384 (2^14), r=8, p=1.
const (
	scryptN      = 16384
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	saltLen      = 16
	hashPrefix   = "scrypt"
)

// ErrMalformedHash is returned when a stored hash cannot be parsed.
var ErrMalformedHash = errors.New("malformed password hash")

// HashWithScrypt hashes an input string using scrypt with the given salt.
// Returns hex-encoded hash.
func HashWithScrypt(input string, salt []byte) (string, error) {
	dk, err := scrypt.Key([]byte(input), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", fmt.Errorf("scrypt key derivation failed: %w", err)
	}
	return hex.EncodeToString(dk), nil
}

// HashPassword salts and hashes a password. The result has the form
// "scrypt$<hex salt>$<hex hash>" and is what gets stored for an identity.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	hash, err := HashWithScrypt(password, salt)
	if err != nil {
		return "", err
	}
	return hashPrefix + "$" + hex.EncodeToString(salt) + "$" + hash, nil
}

// VerifyPassword reports whether password matches a hash produced by HashPassword.
func VerifyPassword(password, stored string) (bool, error) {
	parts := strings.Split(stored, "$")
	if len(parts) != 3 || parts[0] != hashPrefix {
		return false, ErrMalformedHash
	}

	salt, err := hex.DecodeString(parts[1])
	if err != nil {
		return false, ErrMalformedHash
	}

	hash, err := HashWithScrypt(password, salt)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(hash), []byte(parts[2])) == 1, nil
}
