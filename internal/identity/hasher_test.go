package identity

import (
	"errors"
	"strings"
	"testing"
)

func TestHashPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("Str0ng!Pass")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if len(hash) != 96 {
		t.Fatalf("expected 96 hex chars, got %d", len(hash))
	}
	if !VerifyPassword("Str0ng!Pass", hash) {
		t.Fatalf("correct password did not verify")
	}
	if VerifyPassword("Wr0ng!Pass", hash) {
		t.Fatalf("wrong password verified")
	}
}

func TestHashPasswordSaltsDiffer(t *testing.T) {
	h1, err := HashPassword("Str0ng!Pass")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	h2, err := HashPassword("Str0ng!Pass")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if h1 == h2 {
		t.Fatalf("two hashes of the same password share a salt")
	}
}

func TestVerifyPasswordMalformedHash(t *testing.T) {
	for _, encoded := range []string{"", "zz", "not-hex", strings.Repeat("ab", 10)} {
		if VerifyPassword("anything", encoded) {
			t.Fatalf("malformed hash %q verified", encoded)
		}
	}
}

func TestValidatePasswordStrength(t *testing.T) {
	cases := []struct {
		password string
		wantRule string // substring of the expected violation; empty means valid
	}{
		{"Test1!", "8 characters"},
		{"testpassword123!", "uppercase"},
		{"TESTPASSWORD123!", "lowercase"},
		{"TestPassword!", "digit"},
		{"TestPassword123", "special"},
		{"TestPassword123!", ""},
	}
	for _, tc := range cases {
		err := ValidatePasswordStrength(tc.password)
		if tc.wantRule == "" {
			if err != nil {
				t.Fatalf("%q: expected valid, got %v", tc.password, err)
			}
			continue
		}
		if err == nil {
			t.Fatalf("%q: expected violation mentioning %q", tc.password, tc.wantRule)
		}
		if !strings.Contains(err.Error(), tc.wantRule) {
			t.Fatalf("%q: violation %q does not mention %q", tc.password, err.Error(), tc.wantRule)
		}
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%q: policy error should wrap ErrInvalidInput", tc.password)
		}
	}
}

func TestValidatePasswordStrengthReportsAllViolations(t *testing.T) {
	err := ValidatePasswordStrength("abc")
	var policy *PasswordPolicyError
	if !errors.As(err, &policy) {
		t.Fatalf("expected PasswordPolicyError, got %v", err)
	}
	// short, no uppercase, no digit, no special: four rules at once.
	if len(policy.Violations) != 4 {
		t.Fatalf("expected 4 violations, got %d: %v", len(policy.Violations), policy.Violations)
	}
}
