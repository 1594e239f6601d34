// Package crypto provides update password generation, digests and comparison.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

// PasswordBytes is the entropy of a generated town update password.
const PasswordBytes = 12

const (
	digestScheme  = "argon2id"
	digestSaltLen = 16
	digestKeyLen  = 32
)

var ErrMalformedDigest = errors.New("crypto: malformed digest")

// GenerateToken generates a random hex string carrying n bytes of entropy.
func GenerateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("crypto: generate token: %w", err)
	}
	return fmt.Sprintf("%x", b), nil
}

// GeneratePassword returns a fresh town update password.
func GeneratePassword() (string, error) {
	return GenerateToken(PasswordBytes)
}

// MustGeneratePassword is GeneratePassword for callers that cannot fail.
// A crypto/rand failure leaves the process without a usable entropy source.
func MustGeneratePassword() string {
	pw, err := GeneratePassword()
	if err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	return pw
}

// SecretsEqual compares two secrets in constant time.
func SecretsEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// HashPassword hashes a password using Argon2id.
func HashPassword(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, digestKeyLen)
}

// DigestPassword returns a self-describing salted digest suitable for storage.
// Format: argon2id$<salt b64>$<key b64>
func DigestPassword(password string) (string, error) {
	salt := make([]byte, digestSaltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("crypto: generate salt: %w", err)
	}
	key := HashPassword(password, salt)
	enc := base64.RawStdEncoding
	return digestScheme + "$" + enc.EncodeToString(salt) + "$" + enc.EncodeToString(key), nil
}

// VerifyDigest reports whether password produces the stored digest.
func VerifyDigest(password, digest string) (bool, error) {
	parts := strings.Split(digest, "$")
	if len(parts) != 3 || parts[0] != digestScheme {
		return false, ErrMalformedDigest
	}
	enc := base64.RawStdEncoding
	salt, err := enc.DecodeString(parts[1])
	if err != nil {
		return false, ErrMalformedDigest
	}
	want, err := enc.DecodeString(parts[2])
	if err != nil {
		return false, ErrMalformedDigest
	}
	got := HashPassword(password, salt)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
