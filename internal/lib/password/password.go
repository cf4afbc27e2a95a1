// Package password derives and verifies salted password credentials.
//
// A credential is stored as "<derivedKeyHex>:<saltHex>", the key being a
// PBKDF2-SHA512 derivation over the plaintext and a random 16-byte salt.
package password

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltLen    = 16
	keyLen     = 64
	iterations = 1000
)

var ErrMalformedCredential = fmt.Errorf("malformed credential")

// Hash derives a credential from a plaintext password with a fresh random
// salt. It fails only if the entropy source does.
func Hash(password string) (string, error) {
	const op = "password.Hash"

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return hashWithSalt(password, salt), nil
}

// Verify reports whether the plaintext password matches the stored
// credential. A non-matching password is a normal false, not an error.
func Verify(password, credential string) (bool, error) {
	const op = "password.Verify"

	_, saltHex, found := strings.Cut(credential, ":")
	if !found {
		return false, fmt.Errorf("%s: %w", op, ErrMalformedCredential)
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, ErrMalformedCredential)
	}

	derived := hashWithSalt(password, salt)

	return subtle.ConstantTimeCompare([]byte(derived), []byte(credential)) == 1, nil
}

func hashWithSalt(password string, salt []byte) string {
	key := pbkdf2.Key([]byte(password), salt, iterations, keyLen, sha512.New)

	return hex.EncodeToString(key) + ":" + hex.EncodeToString(salt)
}
