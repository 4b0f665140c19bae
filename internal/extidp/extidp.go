// Package extidp verifies identity assertions minted by the external SSO
// provider that this service bridges into locally signed tokens.
package extidp

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnverified indicates the external assertion could not be validated.
var ErrUnverified = errors.New("extidp: unverified identity token")

// Identity is the claim set extracted from a verified external assertion.
type Identity struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Subject string `json:"sub"`
	Country string `json:"country,omitempty"`
}

// Verifier validates an external identity token and returns its claims.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// JWKSVerifier validates RS256 assertions against the external provider's
// published JWKS, refetching the key set when it sees an unknown kid or the
// cache ages out.
type JWKSVerifier struct {
	jwksURL string
	issuer  string
	client  *http.Client

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

const jwksCacheTTL = 10 * time.Minute

// NewJWKSVerifier builds a verifier for the given JWKS endpoint. When issuer
// is non-empty, assertions must carry it in iss.
func NewJWKSVerifier(jwksURL, issuer string) *JWKSVerifier {
	return &JWKSVerifier{
		jwksURL: jwksURL,
		issuer:  issuer,
		client:  &http.Client{Timeout: 10 * time.Second},
		keys:    make(map[string]*rsa.PublicKey),
	}
}

type externalClaims struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Country string `json:"country"`
	jwt.RegisteredClaims
}

// Verify parses and validates the assertion and extracts the bridged claims.
func (v *JWKSVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	claims := &externalClaims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256"})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrUnverified
		}
		return v.keyFor(ctx, kid)
	}, opts...)
	if err != nil || !parsed.Valid {
		return Identity{}, ErrUnverified
	}
	if claims.Email == "" || claims.Subject == "" {
		return Identity{}, ErrUnverified
	}
	return Identity{
		Email:   claims.Email,
		Name:    claims.Name,
		Subject: claims.Subject,
		Country: claims.Country,
	}, nil
}

func (v *JWKSVerifier) keyFor(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if key, ok := v.keys[kid]; ok && time.Since(v.fetchedAt) < jwksCacheTTL {
		return key, nil
	}
	if err := v.refresh(ctx); err != nil {
		return nil, err
	}
	key, ok := v.keys[kid]
	if !ok {
		return nil, fmt.Errorf("extidp: unknown kid %s", kid)
	}
	return key, nil
}

// refresh refetches the JWKS document. Caller holds the lock.
func (v *JWKSVerifier) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("extidp: fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("extidp: jwks endpoint returned status %d", resp.StatusCode)
	}

	var doc struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("extidp: decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			continue
		}
		eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			continue
		}
		e := new(big.Int).SetBytes(eBytes)
		if !e.IsInt64() || e.Int64() <= 0 {
			continue
		}
		keys[k.Kid] = &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: int(e.Int64())}
	}
	if len(keys) == 0 {
		return errors.New("extidp: jwks document contained no usable keys")
	}
	v.keys = keys
	v.fetchedAt = time.Now()
	return nil
}

// Static maps token strings directly to identities. Test collaborator.
type Static struct {
	Identities map[string]Identity
}

func (s Static) Verify(ctx context.Context, token string) (Identity, error) {
	id, ok := s.Identities[token]
	if !ok {
		return Identity{}, ErrUnverified
	}
	return id, nil
}

// Denying rejects every assertion. Used when no external provider is
// configured so the bridge endpoints fail closed.
type Denying struct{}

func (Denying) Verify(ctx context.Context, token string) (Identity, error) {
	return Identity{}, ErrUnverified
}
