package extidp

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newSigningKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func jwksServer(t *testing.T, kid string, key *rsa.PrivateKey) *httptest.Server {
	t.Helper()
	doc := map[string]any{
		"keys": []map[string]string{{
			"kid": kid,
			"kty": "RSA",
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}},
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	}))
}

func signAssertion(t *testing.T, kid string, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign assertion: %v", err)
	}
	return signed
}

func TestJWKSVerifier(t *testing.T) {
	key := newSigningKey(t)
	srv := jwksServer(t, "ext-key-1", key)
	defer srv.Close()

	v := NewJWKSVerifier(srv.URL, "https://sso.corp.example")
	assertion := signAssertion(t, "ext-key-1", key, jwt.MapClaims{
		"iss":     "https://sso.corp.example",
		"sub":     "ext-42",
		"email":   "alice@corp.example",
		"name":    "Alice",
		"country": "KZ",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	ident, err := v.Verify(context.Background(), assertion)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ident.Subject != "ext-42" || ident.Email != "alice@corp.example" || ident.Country != "KZ" {
		t.Fatalf("identity = %+v", ident)
	}
}

func TestJWKSVerifierRejections(t *testing.T) {
	key := newSigningKey(t)
	srv := jwksServer(t, "ext-key-1", key)
	defer srv.Close()

	base := jwt.MapClaims{
		"iss":   "https://sso.corp.example",
		"sub":   "ext-42",
		"email": "alice@corp.example",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}

	t.Run("wrong issuer", func(t *testing.T) {
		v := NewJWKSVerifier(srv.URL, "https://other.example")
		if _, err := v.Verify(context.Background(), signAssertion(t, "ext-key-1", key, base)); !errors.Is(err, ErrUnverified) {
			t.Fatalf("got %v", err)
		}
	})
	t.Run("expired", func(t *testing.T) {
		v := NewJWKSVerifier(srv.URL, "https://sso.corp.example")
		claims := jwt.MapClaims{"iss": base["iss"], "sub": base["sub"], "email": base["email"], "exp": time.Now().Add(-time.Hour).Unix()}
		if _, err := v.Verify(context.Background(), signAssertion(t, "ext-key-1", key, claims)); !errors.Is(err, ErrUnverified) {
			t.Fatalf("got %v", err)
		}
	})
	t.Run("wrong key", func(t *testing.T) {
		v := NewJWKSVerifier(srv.URL, "https://sso.corp.example")
		forger := newSigningKey(t)
		if _, err := v.Verify(context.Background(), signAssertion(t, "ext-key-1", forger, base)); !errors.Is(err, ErrUnverified) {
			t.Fatalf("got %v", err)
		}
	})
	t.Run("unknown kid", func(t *testing.T) {
		v := NewJWKSVerifier(srv.URL, "https://sso.corp.example")
		if _, err := v.Verify(context.Background(), signAssertion(t, "ext-key-2", key, base)); !errors.Is(err, ErrUnverified) {
			t.Fatalf("got %v", err)
		}
	})
	t.Run("missing kid", func(t *testing.T) {
		v := NewJWKSVerifier(srv.URL, "https://sso.corp.example")
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, base)
		signed, err := token.SignedString(key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		if _, err := v.Verify(context.Background(), signed); !errors.Is(err, ErrUnverified) {
			t.Fatalf("got %v", err)
		}
	})
	t.Run("missing email", func(t *testing.T) {
		v := NewJWKSVerifier(srv.URL, "https://sso.corp.example")
		claims := jwt.MapClaims{"iss": base["iss"], "sub": base["sub"], "exp": base["exp"]}
		if _, err := v.Verify(context.Background(), signAssertion(t, "ext-key-1", key, claims)); !errors.Is(err, ErrUnverified) {
			t.Fatalf("got %v", err)
		}
	})
	t.Run("garbage", func(t *testing.T) {
		v := NewJWKSVerifier(srv.URL, "")
		if _, err := v.Verify(context.Background(), "not-a-jwt"); !errors.Is(err, ErrUnverified) {
			t.Fatalf("got %v", err)
		}
	})
}

func TestJWKSVerifierDownEndpoint(t *testing.T) {
	key := newSigningKey(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	v := NewJWKSVerifier(srv.URL, "")
	assertion := signAssertion(t, "ext-key-1", key, jwt.MapClaims{
		"sub": "ext-42", "email": "a@b.c", "exp": time.Now().Add(time.Hour).Unix(),
	})
	if _, err := v.Verify(context.Background(), assertion); !errors.Is(err, ErrUnverified) {
		t.Fatalf("got %v", err)
	}
}

func TestStaticVerifier(t *testing.T) {
	v := Static{Identities: map[string]Identity{
		"good": {Email: "a@b.c", Subject: "s-1"},
	}}
	ident, err := v.Verify(context.Background(), "good")
	if err != nil || ident.Subject != "s-1" {
		t.Fatalf("ident=%+v err=%v", ident, err)
	}
	if _, err := v.Verify(context.Background(), "bad"); !errors.Is(err, ErrUnverified) {
		t.Fatalf("got %v", err)
	}
}

func TestDenyingVerifier(t *testing.T) {
	if _, err := (Denying{}).Verify(context.Background(), "anything"); !errors.Is(err, ErrUnverified) {
		t.Fatalf("got %v", err)
	}
}
