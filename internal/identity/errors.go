package identity

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidInput       = errors.New("identity: invalid input")
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	ErrInvalidToken       = errors.New("identity: invalid or expired token")
	ErrRateLimited        = errors.New("identity: too many attempts")
	ErrConflict           = errors.New("identity: resource conflict")
	ErrNotFound           = errors.New("identity: not found")
)

// PasswordPolicyError lists every violated strength rule, not just the first.
type PasswordPolicyError struct {
	Violations []string
}

func (e *PasswordPolicyError) Error() string {
	return fmt.Sprintf("password does not meet requirements: %s", strings.Join(e.Violations, "; "))
}

// Unwrap lets callers match the error family with errors.Is(err, ErrInvalidInput).
func (e *PasswordPolicyError) Unwrap() error { return ErrInvalidInput }
