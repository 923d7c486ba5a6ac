// Package keys derives the vault encryption key from the master password.
//
// The derived key never persists server-side: it is computed at login from
// the submitted plaintext password and the user's stored salt, handed to the
// client once, and forgotten. Rotating the salt on password reset therefore
// acts as cryptographic shredding: ciphertext produced under the old salt
// can no longer be decrypted by anyone, including us.
package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// SaltSize is the per-user encryption salt length in bytes
	SaltSize = 16
	// KeySize is the derived AES key length in bytes (AES-256)
	KeySize = 32
	// Iterations is the PBKDF2 iteration count. Matches the login
	// password's bcrypt work factor in brute-force cost so the derived
	// key is not the cheaper target.
	Iterations = 100_000
)

// Derive stretches a master password and per-user salt into a 32-byte key
// using PBKDF2-HMAC-SHA256. Deterministic and pure: identical inputs always
// yield identical output.
func Derive(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, Iterations, KeySize, sha256.New)
}

// NewSalt generates a fresh random encryption salt
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating encryption salt: %w", err)
	}
	return salt, nil
}

// Zero overwrites key material in place once it has been handed off
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
