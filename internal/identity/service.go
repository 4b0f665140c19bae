package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"idport.org/internal/obs"
	"idport.org/internal/store"
)

const (
	defaultIssuer     = "idport"
	defaultJWTTTL     = 10 * time.Minute
	defaultAccessTTL  = 30 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour

	userKeyPrefix  = "user:"
	groupKeyPrefix = "group:"
	resetKeyPrefix = "reset:"

	resetTokenTTL = time.Hour
)

// Rate-limit policy per scope. Each scope has an independent counter so one
// abusive IP cannot lock out unrelated accounts and vice versa.
const (
	loginIPMaxAttempts    = 5
	loginEmailMaxAttempts = 3
	loginWindow           = 15 * time.Minute
	registerMaxAttempts   = 3
	registerWindow        = 60 * time.Minute
	resetMaxAttempts      = 3
	resetWindow           = 60 * time.Minute
)

// Service is the single serialized execution context owning all identity
// state for one tenant instance: users, groups, sessions, signing keys,
// rate-limit counters, reset tokens and exchange codes. Every public method
// holds the mutex for its whole duration, including hashing, signing and
// persistence round-trips: one operation in flight at a time, no map is ever
// observed mid-mutation.
type Service struct {
	mu      sync.Mutex
	gateway store.Gateway
	mailer  Mailer
	now     func() time.Time

	issuer     string
	jwtTTL     time.Duration
	accessTTL  time.Duration
	refreshTTL time.Duration

	users         map[string]*User    // email -> user
	groups        map[string]*Group   // name -> group
	sessions      map[string]*Session // session id -> session
	resetTokens   map[string]*ResetToken
	exchangeCodes map[string]*ExchangeCode

	limiter *RateLimiter
	keys    *KeyManager
	tokens  *TokenService
}

// Mailer delivers password-reset email. Failures must never surface to the
// end user; the orchestrator logs and swallows them.
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, token, name string) error
}

// Option configures Service behavior.
type Option func(*Service)

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) Option {
	return func(s *Service) {
		if strings.TrimSpace(issuer) != "" {
			s.issuer = strings.TrimSpace(issuer)
		}
	}
}

// WithJWTTTL configures the identity-token lifetime.
func WithJWTTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.jwtTTL = ttl
		}
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// WithMailer sets the outbound email collaborator.
func WithMailer(m Mailer) Option {
	return func(s *Service) {
		if m != nil {
			s.mailer = m
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// New constructs the identity service. Call Bootstrap before serving.
func New(gateway store.Gateway, opts ...Option) (*Service, error) {
	if gateway == nil {
		return nil, errors.New("identity: persistence gateway is required")
	}
	s := &Service{
		gateway:       gateway,
		mailer:        logMailer{},
		now:           time.Now,
		issuer:        defaultIssuer,
		jwtTTL:        defaultJWTTTL,
		accessTTL:     defaultAccessTTL,
		refreshTTL:    defaultRefreshTTL,
		users:         make(map[string]*User),
		groups:        make(map[string]*Group),
		sessions:      make(map[string]*Session),
		resetTokens:   make(map[string]*ResetToken),
		exchangeCodes: make(map[string]*ExchangeCode),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.limiter = NewRateLimiter(s.now)
	s.keys = NewKeyManager(gateway, s.jwtTTL, s.now)
	s.tokens = NewTokenService(s.keys, s.issuer, s.accessTTL, s.refreshTTL, s.jwtTTL, s.now)
	return s, nil
}

// Bootstrap loads persisted state and seeds default groups. It must finish
// before the service handles requests.
func (s *Service) Bootstrap(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadUsers(ctx); err != nil {
		return err
	}
	if err := s.loadGroups(ctx); err != nil {
		return err
	}
	if err := s.loadResetTokens(ctx); err != nil {
		return err
	}
	if err := s.keys.Load(ctx); err != nil {
		return err
	}
	return s.initializeDefaultGroups(ctx)
}

// Issuer returns the configured issuer identifier.
func (s *Service) Issuer() string { return s.issuer }

// Login authenticates a password credential and creates a session.
func (s *Service) Login(ctx context.Context, email, password, ip, userAgent string) (AuthResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = normalizeEmail(email)
	if !s.limiter.Allow("login:"+ip, loginIPMaxAttempts, loginWindow) {
		obs.CountRateLimitDenial("login")
		obs.CountLogin("rate_limited")
		return AuthResult{}, ErrRateLimited
	}
	if !s.limiter.Allow("login:"+email, loginEmailMaxAttempts, loginWindow) {
		obs.CountRateLimitDenial("login")
		obs.CountLogin("rate_limited")
		return AuthResult{}, ErrRateLimited
	}

	user, ok := s.validateUser(ctx, email, password)
	if !ok {
		obs.CountLogin("denied")
		return AuthResult{}, ErrInvalidCredentials
	}

	res, err := s.createSession(ctx, *user, ip, userAgent)
	if err != nil {
		return AuthResult{}, err
	}
	obs.CountLogin("ok")
	return res, nil
}

// Register creates an account and logs it in.
func (s *Service) Register(ctx context.Context, email, name, password, ip, userAgent string) (AuthResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.limiter.Allow("register:"+ip, registerMaxAttempts, registerWindow) {
		obs.CountRateLimitDenial("register")
		return AuthResult{}, ErrRateLimited
	}

	user, err := s.createUser(ctx, email, name, password, nil)
	if err != nil {
		return AuthResult{}, err
	}
	res, err := s.createSession(ctx, user, ip, userAgent)
	if err != nil {
		return AuthResult{}, err
	}
	obs.CountRegistration()
	return res, nil
}

// Logout removes the session matching the token on either its access or
// refresh token. A valid-looking token with no matching session is a no-op.
func (s *Service) Logout(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens.Decode(token); !ok {
		return ErrInvalidToken
	}
	for id, sess := range s.sessions {
		if sess.AccessToken == token || sess.RefreshToken == token {
			delete(s.sessions, id)
			return nil
		}
	}
	return nil
}

// Refresh exchanges a refresh token for a new access token. The session's id
// and refresh token are preserved; only the access token, expiry and activity
// stamp change.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (AuthResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	claims, ok := s.tokens.Verify(refreshToken)
	if !ok || claimString(claims, "type") != TokenTypeRefresh {
		return AuthResult{}, ErrInvalidToken
	}
	user, ok := s.users[normalizeEmail(claimString(claims, "email"))]
	if !ok || user.Status != UserStatusActive {
		return AuthResult{}, ErrInvalidToken
	}

	accessToken, exp, err := s.tokens.AccessToken(ctx, *user)
	if err != nil {
		return AuthResult{}, err
	}
	for _, sess := range s.sessions {
		if sess.RefreshToken != refreshToken {
			continue
		}
		sess.AccessToken = accessToken
		sess.ExpiresAt = exp
		sess.LastActivity = s.now()
		return AuthResult{
			User:         user.Public(),
			SessionID:    sess.ID,
			AccessToken:  accessToken,
			RefreshToken: sess.RefreshToken,
			ExpiresAt:    exp,
		}, nil
	}
	return AuthResult{}, ErrInvalidToken
}

// RequestPasswordReset issues a reset token and emails it. It reports success
// whether or not the account exists, to resist enumeration.
func (s *Service) RequestPasswordReset(ctx context.Context, email, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.limiter.Allow("reset:"+ip, resetMaxAttempts, resetWindow) {
		obs.CountRateLimitDenial("reset")
		return ErrRateLimited
	}

	email = normalizeEmail(email)
	obs.CountPasswordReset("requested")
	user, ok := s.users[email]
	if !ok || user.Status != UserStatusActive {
		return nil
	}

	now := s.now()
	token := &ResetToken{
		Token:     uuid.NewString(),
		UserEmail: email,
		CreatedAt: now,
		ExpiresAt: now.Add(resetTokenTTL),
	}
	if err := s.persistResetToken(ctx, token); err != nil {
		return err
	}
	s.resetTokens[token.Token] = token

	if err := s.mailer.SendPasswordReset(ctx, email, token.Token, user.Name); err != nil {
		obs.Event("error", "password reset email delivery failed", map[string]any{"error": err.Error()})
	}
	return nil
}

// ResetPassword redeems a reset token, replaces the credential, and revokes
// every session belonging to that email.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.resetTokens[token]
	if !ok || rec.Used || s.now().After(rec.ExpiresAt) {
		obs.CountPasswordReset("rejected")
		return ErrInvalidToken
	}
	if err := ValidatePasswordStrength(newPassword); err != nil {
		return err
	}
	if err := s.updatePassword(ctx, rec.UserEmail, newPassword); err != nil {
		return err
	}

	rec.Used = true
	delete(s.resetTokens, token)
	if err := s.gateway.Delete(ctx, resetKeyPrefix+token); err != nil {
		obs.Event("warn", "failed to delete redeemed reset token", map[string]any{"error": err.Error()})
	}

	s.revokeSessions(rec.UserEmail)
	obs.CountPasswordReset("completed")
	return nil
}

// VerifyAccessToken validates a bearer token and returns the claims of an
// access-type token. Used by the HTTP authn middleware.
func (s *Service) VerifyAccessToken(token string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	claims, ok := s.tokens.Verify(token)
	if !ok || claimString(claims, "type") != TokenTypeAccess {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Sessions returns the live session count (diagnostics).
func (s *Service) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// CleanupExpired sweeps used/expired reset tokens, stale rate-limit counters,
// expired exchange codes and retired signing keys. Per-item errors are logged
// and skipped.
func (s *Service) CleanupExpired(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for token, rec := range s.resetTokens {
		if !rec.Used && now.Before(rec.ExpiresAt) {
			continue
		}
		delete(s.resetTokens, token)
		if err := s.gateway.Delete(ctx, resetKeyPrefix+token); err != nil {
			obs.Event("warn", "failed to delete expired reset token", map[string]any{"error": err.Error()})
		}
	}
	for code, entry := range s.exchangeCodes {
		if now.After(entry.ExpiresAt) {
			delete(s.exchangeCodes, code)
		}
	}
	s.limiter.Sweep(resetWindow)
	s.keys.CleanupExpired(ctx)
}

// --- internals (lock held) ---

func (s *Service) createSession(ctx context.Context, user User, ip, userAgent string) (AuthResult, error) {
	accessToken, exp, err := s.tokens.AccessToken(ctx, user)
	if err != nil {
		return AuthResult{}, err
	}
	refreshToken, err := s.tokens.RefreshToken(ctx, user)
	if err != nil {
		return AuthResult{}, err
	}
	now := s.now()
	sess := &Session{
		ID:           uuid.NewString(),
		UserID:       user.ID,
		UserEmail:    user.Email,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		CreatedAt:    now,
		ExpiresAt:    exp,
		LastActivity: now,
		UserAgent:    userAgent,
		IPAddress:    ip,
	}
	s.sessions[sess.ID] = sess
	return AuthResult{
		User:         user.Public(),
		SessionID:    sess.ID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    exp,
	}, nil
}

func (s *Service) revokeSessions(email string) {
	for id, sess := range s.sessions {
		if sess.UserEmail == email {
			delete(s.sessions, id)
		}
	}
}

func (s *Service) loadUsers(ctx context.Context) error {
	recs, err := s.gateway.List(ctx, userKeyPrefix)
	if err != nil {
		return fmt.Errorf("load users: %w", err)
	}
	for _, rec := range recs {
		var u User
		if err := json.Unmarshal(rec.Value, &u); err != nil {
			obs.Event("warn", "skipping undecodable user record", map[string]any{"key": rec.Key})
			continue
		}
		s.users[u.Email] = &u
	}
	return nil
}

func (s *Service) loadGroups(ctx context.Context) error {
	recs, err := s.gateway.List(ctx, groupKeyPrefix)
	if err != nil {
		return fmt.Errorf("load groups: %w", err)
	}
	for _, rec := range recs {
		var g Group
		if err := json.Unmarshal(rec.Value, &g); err != nil {
			obs.Event("warn", "skipping undecodable group record", map[string]any{"key": rec.Key})
			continue
		}
		s.groups[g.Name] = &g
	}
	return nil
}

func (s *Service) loadResetTokens(ctx context.Context) error {
	recs, err := s.gateway.List(ctx, resetKeyPrefix)
	if err != nil {
		return fmt.Errorf("load reset tokens: %w", err)
	}
	for _, rec := range recs {
		var rt ResetToken
		if err := json.Unmarshal(rec.Value, &rt); err != nil {
			obs.Event("warn", "skipping undecodable reset token record", map[string]any{"key": rec.Key})
			continue
		}
		s.resetTokens[rt.Token] = &rt
	}
	return nil
}

func (s *Service) persistUser(ctx context.Context, u *User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	if err := s.gateway.Put(ctx, userKeyPrefix+u.Email, data); err != nil {
		return fmt.Errorf("persist user %s: %w", u.Email, err)
	}
	return nil
}

func (s *Service) persistGroup(ctx context.Context, g *Group) error {
	data, err := json.Marshal(g)
	if err != nil {
		return err
	}
	if err := s.gateway.Put(ctx, groupKeyPrefix+g.Name, data); err != nil {
		return fmt.Errorf("persist group %s: %w", g.Name, err)
	}
	return nil
}

func (s *Service) persistResetToken(ctx context.Context, rt *ResetToken) error {
	data, err := json.Marshal(rt)
	if err != nil {
		return err
	}
	if err := s.gateway.Put(ctx, resetKeyPrefix+rt.Token, data); err != nil {
		return fmt.Errorf("persist reset token: %w", err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && strings.EqualFold(addr.Address, email)
}

// logMailer is the default email collaborator when no provider is configured:
// it only logs that a reset was requested.
type logMailer struct{}

func (logMailer) SendPasswordReset(ctx context.Context, email, token, name string) error {
	obs.Event("info", "password reset email (log-only mailer)", map[string]any{"email": email})
	return nil
}
