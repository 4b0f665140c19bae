package identity

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestSignIdentityTokenWithCode(t *testing.T) {
	clock := newFakeClock()
	s := newTestService(t, clock)

	signed, err := s.SignIdentityToken(context.Background(), map[string]any{
		"iss": "idport-test", "sub": "ext-42", "email": "alice@example.com",
	}, true, "external-access-token")
	if err != nil {
		t.Fatalf("SignIdentityToken: %v", err)
	}
	if signed.IDToken == "" || signed.Code == "" {
		t.Fatalf("incomplete result: %+v", signed)
	}

	entry, ok := s.TakeExchangeCode(signed.Code)
	if !ok {
		t.Fatalf("code not redeemable")
	}
	if entry.IDToken != signed.IDToken || entry.AccessToken != "external-access-token" {
		t.Fatalf("exchange entry = %+v", entry)
	}
	// Single use.
	if _, ok := s.TakeExchangeCode(signed.Code); ok {
		t.Fatalf("code redeemed twice")
	}
}

func TestSignIdentityTokenWithoutCode(t *testing.T) {
	clock := newFakeClock()
	s := newTestService(t, clock)

	signed, err := s.SignIdentityToken(context.Background(), map[string]any{"sub": "ext-42"}, false, "")
	if err != nil {
		t.Fatalf("SignIdentityToken: %v", err)
	}
	if signed.Code != "" {
		t.Fatalf("code minted without being requested")
	}
}

func TestExchangeCodeExpires(t *testing.T) {
	clock := newFakeClock()
	s := newTestService(t, clock)

	signed, err := s.SignIdentityToken(context.Background(), map[string]any{"sub": "ext-42"}, true, "")
	if err != nil {
		t.Fatalf("SignIdentityToken: %v", err)
	}
	clock.Advance(11 * time.Minute)
	if _, ok := s.TakeExchangeCode(signed.Code); ok {
		t.Fatalf("expired code redeemed")
	}
}

func TestJWKSDocument(t *testing.T) {
	clock := newFakeClock()
	s := newTestService(t, clock)

	// Before any signature the key set is empty but still a valid document.
	raw, err := s.JWKSDocument()
	if err != nil {
		t.Fatalf("JWKSDocument: %v", err)
	}
	var doc struct {
		Keys []map[string]string `json:"keys"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal jwks: %v", err)
	}
	if len(doc.Keys) != 0 {
		t.Fatalf("expected empty key set, got %d", len(doc.Keys))
	}

	if _, err := s.SignIdentityToken(context.Background(), map[string]any{"sub": "x"}, false, ""); err != nil {
		t.Fatalf("SignIdentityToken: %v", err)
	}
	raw, err = s.JWKSDocument()
	if err != nil {
		t.Fatalf("JWKSDocument: %v", err)
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal jwks: %v", err)
	}
	if len(doc.Keys) != 1 {
		t.Fatalf("expected one key, got %d", len(doc.Keys))
	}
	k := doc.Keys[0]
	for _, field := range []string{"kid", "kty", "alg", "use", "n", "e"} {
		if k[field] == "" {
			t.Fatalf("jwks entry missing %s: %v", field, k)
		}
	}
	if _, present := k["last_signature"]; present {
		t.Fatalf("internal bookkeeping leaked into jwks")
	}
}
