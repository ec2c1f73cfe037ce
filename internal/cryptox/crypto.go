// Package cryptox provides password hashing helpers built on argon2id.
package cryptox

import (
	"crypto/subtle"

	"golang.org/x/crypto/argon2"
)

// HashPassword derives a 32-byte argon2id digest of password with the given
// salt (time=1, memory=64MiB, threads=4).
func HashPassword(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, 32)
}

// VerifyPassword reports whether password hashed with salt matches digest.
// The comparison is constant-time.
func VerifyPassword(password, salt, digest []byte) bool {
	candidate := HashPassword(password, salt)
	return subtle.ConstantTimeCompare(candidate, digest) == 1
}
