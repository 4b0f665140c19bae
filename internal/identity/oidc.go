package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SignedIdentity is the result of minting an ID token for the SSO bridge.
// Code is empty unless an exchange code was requested.
type SignedIdentity struct {
	IDToken   string
	Code      string
	ExpiresAt time.Time
}

// SignIdentityToken signs an arbitrary claim set as an ID token. When
// generateCode is set it also mints a one-time exchange code mapping to the
// ID token and the caller's original external access token.
func (s *Service) SignIdentityToken(ctx context.Context, claims map[string]any, generateCode bool, externalAccessToken string) (SignedIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idToken, exp, err := s.tokens.IdentityToken(ctx, claims)
	if err != nil {
		return SignedIdentity{}, err
	}
	out := SignedIdentity{IDToken: idToken, ExpiresAt: exp}
	if generateCode {
		code := uuid.NewString()
		s.exchangeCodes[code] = &ExchangeCode{
			Code:        code,
			IDToken:     idToken,
			AccessToken: externalAccessToken,
			ExpiresAt:   exp,
		}
		out.Code = code
	}
	return out, nil
}

// TakeExchangeCode redeems an authorization code. Codes are single-use: the
// entry is deleted on first read, and expired codes are not redeemable.
func (s *Service) TakeExchangeCode(code string) (ExchangeCode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.exchangeCodes[code]
	if !ok {
		return ExchangeCode{}, false
	}
	delete(s.exchangeCodes, code)
	if s.now().After(entry.ExpiresAt) {
		return ExchangeCode{}, false
	}
	return *entry, true
}

// VerifyIDToken validates a locally signed ID token against the published key
// set and rejects expired payloads.
func (s *Service) VerifyIDToken(token string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	claims, ok := s.tokens.Verify(token)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// JWKSDocument serializes the published key set for /.well-known/jwks.json.
func (s *Service) JWKSDocument() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys.MarshalJWKS()
}

// CleanupExpiredKeys retires signing keys whose issued tokens have all
// expired. Exposed as an administrative operation; the background sweeper
// calls it through CleanupExpired.
func (s *Service) CleanupExpiredKeys(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys.CleanupExpired(ctx)
}
