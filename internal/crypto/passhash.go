// Package crypto hashes and verifies clinic and admin login secrets.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters.
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32

	saltLen = 16
	scheme  = "argon2id"
)

var errBadEncoding = errors.New("crypto: malformed secret hash")

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// NewSalt returns a fresh salt of the standard length.
func NewSalt() ([]byte, error) { return RandBytes(saltLen) }

// HashSecret returns the Argon2id key of secret under salt.
func HashSecret(secret, salt []byte) []byte {
	return argon2.IDKey(secret, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// VerifySecret compares secret against expected in constant time.
func VerifySecret(secret, salt, expected []byte) bool {
	if len(expected) == 0 {
		return false
	}
	got := HashSecret(secret, salt)
	return subtle.ConstantTimeCompare(got, expected) == 1
}

// Encode hashes secret with a new salt into "argon2id$<salt>$<key>" (raw base64),
// the form kept in configuration for the admin account.
func Encode(secret []byte) (string, error) {
	salt, err := NewSalt()
	if err != nil {
		return "", err
	}
	enc := base64.RawStdEncoding
	return scheme + "$" + enc.EncodeToString(salt) + "$" + enc.EncodeToString(HashSecret(secret, salt)), nil
}

// Decode splits an encoded hash into salt and key.
func Decode(encoded string) (salt, key []byte, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 3 || parts[0] != scheme {
		return nil, nil, errBadEncoding
	}
	enc := base64.RawStdEncoding
	if salt, err = enc.DecodeString(parts[1]); err != nil {
		return nil, nil, errBadEncoding
	}
	if key, err = enc.DecodeString(parts[2]); err != nil || len(key) == 0 {
		return nil, nil, errBadEncoding
	}
	return salt, key, nil
}

// VerifyEncoded checks secret against an Encode result. A malformed hash never verifies.
func VerifyEncoded(secret []byte, encoded string) bool {
	salt, key, err := Decode(encoded)
	if err != nil {
		return false
	}
	return VerifySecret(secret, salt, key)
}
