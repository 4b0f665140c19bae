package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"unicode"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 100_000
	saltLength       = 16
	derivedKeyLength = 32
)

// HashPassword derives a PBKDF2-HMAC-SHA256 hash with a fresh random salt.
// The result is hex(salt || derivedKey), 96 hex characters.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, derivedKeyLength, sha256.New)
	return hex.EncodeToString(salt) + hex.EncodeToString(key), nil
}

// VerifyPassword re-derives with the embedded salt and compares in constant
// time. Any malformed hash yields false, never an error.
func VerifyPassword(password, encoded string) bool {
	raw, err := hex.DecodeString(encoded)
	if err != nil || len(raw) != saltLength+derivedKeyLength {
		return false
	}
	salt, want := raw[:saltLength], raw[saltLength:]
	got := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, derivedKeyLength, sha256.New)
	return subtle.ConstantTimeCompare(want, got) == 1
}

// ValidatePasswordStrength checks all rules and reports every violation.
// Returns nil when the password satisfies the policy.
func ValidatePasswordStrength(password string) error {
	var violations []string
	if len(password) < 8 {
		violations = append(violations, "must be at least 8 characters long")
	}
	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			special = true
		}
	}
	if !upper {
		violations = append(violations, "must contain an uppercase letter")
	}
	if !lower {
		violations = append(violations, "must contain a lowercase letter")
	}
	if !digit {
		violations = append(violations, "must contain a digit")
	}
	if !special {
		violations = append(violations, "must contain a special character")
	}
	if len(violations) > 0 {
		return &PasswordPolicyError{Violations: violations}
	}
	return nil
}
