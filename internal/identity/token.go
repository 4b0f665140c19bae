package identity

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"idport.org/internal/obs"
)

// Token type claims.
const (
	TokenTypeAccess  = "access_token"
	TokenTypeRefresh = "refresh_token"
)

// TokenService builds, signs and verifies compact RS256 JWTs using the
// rotating key set held by KeyManager.
type TokenService struct {
	keys       *KeyManager
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	jwtTTL     time.Duration
	now        func() time.Time
}

// NewTokenService wires the token builder to a key manager.
func NewTokenService(keys *KeyManager, issuer string, accessTTL, refreshTTL, jwtTTL time.Duration, now func() time.Time) *TokenService {
	if now == nil {
		now = time.Now
	}
	return &TokenService{
		keys:       keys,
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		jwtTTL:     jwtTTL,
		now:        now,
	}
}

// Sign produces header.payload.signature with the active key's kid in the
// header, and stamps the key's last-use time for rotation bookkeeping.
func (t *TokenService) Sign(ctx context.Context, claims map[string]any) (string, error) {
	kid, key, err := t.keys.Active(ctx)
	if err != nil {
		return "", err
	}
	header := map[string]any{"alg": signingKeyAlg, "typ": "JWT", "kid": kid}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	signingString := base64.RawURLEncoding.EncodeToString(headerJSON) + "." + base64.RawURLEncoding.EncodeToString(payloadJSON)
	hash := sha256.Sum256([]byte(signingString))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, hash[:])
	if err != nil {
		return "", err
	}
	if err := t.keys.Touch(ctx); err != nil {
		obs.Event("warn", "failed to stamp signing-key use", map[string]any{"error": err.Error()})
	}
	return signingString + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// Verify parses a compact token, checks the RS256 signature against the kid's
// published key, and rejects expired payloads. Malformed input returns
// (nil, false) and never panics.
func (t *TokenService) Verify(token string) (map[string]any, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, false
	}
	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, false
	}
	var header struct {
		Alg string `json:"alg"`
		Kid string `json:"kid"`
	}
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, false
	}
	if header.Alg != signingKeyAlg {
		return nil, false
	}
	pub, ok := t.keys.VerificationKey(header.Kid)
	if !ok {
		return nil, false
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, false
	}
	hash := sha256.Sum256([]byte(parts[0] + "." + parts[1]))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, hash[:], sig); err != nil {
		return nil, false
	}

	claims, ok := decodePayload(parts[1])
	if !ok {
		return nil, false
	}
	if exp, ok := claimInt64(claims, "exp"); ok && exp < t.now().Unix() {
		return nil, false
	}
	return claims, true
}

// Decode extracts claims without verifying the signature. Used only where the
// result gates nothing security-sensitive, such as the logout session scan.
func (t *TokenService) Decode(token string) (map[string]any, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, false
	}
	return decodePayload(parts[1])
}

// AccessToken mints a short-lived access token for the user.
func (t *TokenService) AccessToken(ctx context.Context, u User) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(t.accessTTL)
	claims := map[string]any{
		"iss":    t.issuer,
		"sub":    u.ID,
		"email":  u.Email,
		"name":   u.Name,
		"groups": u.Groups,
		"iat":    now.Unix(),
		"exp":    exp.Unix(),
		"type":   TokenTypeAccess,
	}
	token, err := t.Sign(ctx, claims)
	if err != nil {
		return "", time.Time{}, err
	}
	obs.CountTokenIssued(TokenTypeAccess)
	return token, exp, nil
}

// RefreshToken mints a long-lived refresh token for the user.
func (t *TokenService) RefreshToken(ctx context.Context, u User) (string, error) {
	now := t.now()
	claims := map[string]any{
		"iss":   t.issuer,
		"sub":   u.ID,
		"email": u.Email,
		"iat":   now.Unix(),
		"exp":   now.Add(t.refreshTTL).Unix(),
		"type":  TokenTypeRefresh,
	}
	token, err := t.Sign(ctx, claims)
	if err != nil {
		return "", err
	}
	obs.CountTokenIssued(TokenTypeRefresh)
	return token, nil
}

// IdentityToken signs an arbitrary claim set after stamping iat, nbf and exp.
// This is the entry point used by the external-SSO bridge.
func (t *TokenService) IdentityToken(ctx context.Context, claims map[string]any) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(t.jwtTTL)
	stamped := make(map[string]any, len(claims)+3)
	for k, v := range claims {
		stamped[k] = v
	}
	stamped["iat"] = now.Unix()
	stamped["nbf"] = now.Unix()
	stamped["exp"] = exp.Unix()
	token, err := t.Sign(ctx, stamped)
	if err != nil {
		return "", time.Time{}, err
	}
	obs.CountTokenIssued("id_token")
	return token, exp, nil
}

func decodePayload(segment string) (map[string]any, bool) {
	payloadJSON, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return nil, false
	}
	var claims map[string]any
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return nil, false
	}
	return claims, true
}

func claimString(claims map[string]any, key string) string {
	v, _ := claims[key].(string)
	return v
}

func claimInt64(claims map[string]any, key string) (int64, bool) {
	switch v := claims[key].(type) {
	case float64:
		return int64(v), true
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}
