package identity

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"idport.org/internal/store"
)

type captureMailer struct {
	email string
	token string
	err   error
}

func (m *captureMailer) SendPasswordReset(ctx context.Context, email, token, name string) error {
	m.email = email
	m.token = token
	return m.err
}

func newTestService(t *testing.T, clock *fakeClock, opts ...Option) *Service {
	t.Helper()
	all := append([]Option{WithClock(clock.Now), WithIssuer("idport-test")}, opts...)
	s, err := New(store.NewMemory(), all...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	return s
}

func TestRegisterDefaultsToUserGroup(t *testing.T) {
	clock := newFakeClock()
	s := newTestService(t, clock)

	res, err := s.Register(context.Background(), "alice@example.com", "Alice", "Str0ng!Pass", "10.0.0.1", "test-agent")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if len(res.User.Groups) != 1 || res.User.Groups[0] != "user" {
		t.Fatalf("groups = %v, want [user]", res.User.Groups)
	}
	if res.User.PasswordHash != "" {
		t.Fatalf("password hash leaked in auth result")
	}
	if res.AccessToken == "" || res.RefreshToken == "" || res.SessionID == "" {
		t.Fatalf("incomplete auth result: %+v", res)
	}
	if s.Sessions() != 1 {
		t.Fatalf("expected 1 session, got %d", s.Sessions())
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	clock := newFakeClock()
	s := newTestService(t, clock)

	mustRegister(t, s, "alice@example.com", "10.0.0.1")
	_, err := s.Register(context.Background(), "Alice@Example.com", "Alice Again", "Str0ng!Pass", "10.0.0.2", "")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestRegisterRateLimitedPerIP(t *testing.T) {
	clock := newFakeClock()
	s := newTestService(t, clock)

	for i := 0; i < 3; i++ {
		mustRegister(t, s, fmt.Sprintf("user%d@example.com", i), "10.0.0.1")
	}
	_, err := s.Register(context.Background(), "user3@example.com", "User", "Str0ng!Pass", "10.0.0.1", "")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	// A different address is unaffected.
	mustRegister(t, s, "user4@example.com", "10.0.0.2")
}

func TestLoginSuccessAndFailure(t *testing.T) {
	clock := newFakeClock()
	s := newTestService(t, clock)
	mustRegister(t, s, "alice@example.com", "10.0.0.1")

	res, err := s.Login(context.Background(), "ALICE@example.com", "Str0ng!Pass", "10.0.0.9", "agent")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.User.Email != "alice@example.com" {
		t.Fatalf("email = %q", res.User.Email)
	}
	if res.User.LastLogin == nil {
		t.Fatalf("last_login not stamped")
	}

	if _, err := s.Login(context.Background(), "alice@example.com", "Wr0ng!Pass", "10.0.0.9", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := s.Login(context.Background(), "nobody@example.com", "Str0ng!Pass", "10.0.0.9", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginRejectsInactiveUser(t *testing.T) {
	clock := newFakeClock()
	s := newTestService(t, clock)
	mustRegister(t, s, "alice@example.com", "10.0.0.1")

	status := UserStatusSuspended
	if _, err := s.UpdateUser(context.Background(), "alice@example.com", UserUpdate{Status: &status}); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if _, err := s.Login(context.Background(), "alice@example.com", "Str0ng!Pass", "10.0.0.9", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("suspended user: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginRateLimitEmailScope(t *testing.T) {
	clock := newFakeClock()
	s := newTestService(t, clock)
	mustRegister(t, s, "alice@example.com", "10.0.0.1")

	// Three attempts for one email from rotating addresses, then the fourth is
	// locked by the email-scoped counter even though each IP counter is fresh.
	for i := 0; i < 3; i++ {
		ip := fmt.Sprintf("10.0.1.%d", i)
		if _, err := s.Login(context.Background(), "alice@example.com", "Wr0ng!Pass", ip, ""); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	if _, err := s.Login(context.Background(), "alice@example.com", "Str0ng!Pass", "10.0.1.99", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited from email scope, got %v", err)
	}
}

func TestLoginRateLimitIPScope(t *testing.T) {
	clock := newFakeClock()
	s := newTestService(t, clock)

	// Five attempts from one address against rotating emails, then the sixth is
	// locked by the IP-scoped counter.
	for i := 0; i < 5; i++ {
		email := fmt.Sprintf("ghost%d@example.com", i)
		if _, err := s.Login(context.Background(), email, "Wr0ng!Pass", "10.0.0.7", ""); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	if _, err := s.Login(context.Background(), "ghost5@example.com", "Wr0ng!Pass", "10.0.0.7", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited from IP scope, got %v", err)
	}
	// The window passes and the address recovers.
	clock.Advance(31 * time.Minute)
	if _, err := s.Login(context.Background(), "ghost6@example.com", "Wr0ng!Pass", "10.0.0.7", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("after lockout expiry: %v", err)
	}
}

func TestRefreshPreservesSession(t *testing.T) {
	clock := newFakeClock()
	s := newTestService(t, clock)
	first := mustRegister(t, s, "alice@example.com", "10.0.0.1")

	clock.Advance(time.Minute)
	second, err := s.Refresh(context.Background(), first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if second.SessionID != first.SessionID {
		t.Fatalf("session id changed on refresh")
	}
	if second.RefreshToken != first.RefreshToken {
		t.Fatalf("refresh token changed on refresh")
	}
	if second.AccessToken == first.AccessToken {
		t.Fatalf("access token not rotated")
	}
	if s.Sessions() != 1 {
		t.Fatalf("refresh should not create a session")
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	clock := newFakeClock()
	s := newTestService(t, clock)
	res := mustRegister(t, s, "alice@example.com", "10.0.0.1")

	if _, err := s.Refresh(context.Background(), res.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("access token accepted by refresh: %v", err)
	}
}

func TestRefreshRejectsSuspendedUser(t *testing.T) {
	clock := newFakeClock()
	s := newTestService(t, clock)
	res := mustRegister(t, s, "alice@example.com", "10.0.0.1")

	status := UserStatusSuspended
	if _, err := s.UpdateUser(context.Background(), "alice@example.com", UserUpdate{Status: &status}); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if _, err := s.Refresh(context.Background(), res.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("suspended user refreshed: %v", err)
	}
}

func TestLogout(t *testing.T) {
	clock := newFakeClock()
	s := newTestService(t, clock)
	res := mustRegister(t, s, "alice@example.com", "10.0.0.1")

	if err := s.Logout(context.Background(), res.AccessToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if s.Sessions() != 0 {
		t.Fatalf("session survived logout")
	}

	// Logging out again with the same, now-unmatched token is a no-op.
	if err := s.Logout(context.Background(), res.AccessToken); err != nil {
		t.Fatalf("repeat logout: %v", err)
	}
	if err := s.Logout(context.Background(), "not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage token: expected ErrInvalidToken, got %v", err)
	}
}

func TestLogoutByRefreshToken(t *testing.T) {
	clock := newFakeClock()
	s := newTestService(t, clock)
	res := mustRegister(t, s, "alice@example.com", "10.0.0.1")

	if err := s.Logout(context.Background(), res.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if s.Sessions() != 0 {
		t.Fatalf("session survived logout by refresh token")
	}
}

func TestPasswordResetLifecycle(t *testing.T) {
	clock := newFakeClock()
	mailer := &captureMailer{}
	s := newTestService(t, clock, WithMailer(mailer))
	mustRegister(t, s, "alice@example.com", "10.0.0.1")

	if err := s.RequestPasswordReset(context.Background(), "alice@example.com", "10.0.0.5"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if mailer.token == "" || mailer.email != "alice@example.com" {
		t.Fatalf("mailer not invoked: %+v", mailer)
	}

	if err := s.ResetPassword(context.Background(), mailer.token, "N3w!Password"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	// Sessions for the account are revoked.
	if s.Sessions() != 0 {
		t.Fatalf("sessions survived password reset")
	}
	// The token is single-use.
	if err := s.ResetPassword(context.Background(), mailer.token, "An0ther!Pass"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("reused token: expected ErrInvalidToken, got %v", err)
	}

	if _, err := s.Login(context.Background(), "alice@example.com", "Str0ng!Pass", "10.0.0.6", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still works")
	}
	if _, err := s.Login(context.Background(), "alice@example.com", "N3w!Password", "10.0.0.6", ""); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
}

func TestPasswordResetUnknownEmailIsSilent(t *testing.T) {
	clock := newFakeClock()
	mailer := &captureMailer{}
	s := newTestService(t, clock, WithMailer(mailer))

	if err := s.RequestPasswordReset(context.Background(), "nobody@example.com", "10.0.0.5"); err != nil {
		t.Fatalf("unknown email should not error: %v", err)
	}
	if mailer.token != "" {
		t.Fatalf("mailer invoked for unknown account")
	}
}

func TestPasswordResetTokenExpires(t *testing.T) {
	clock := newFakeClock()
	mailer := &captureMailer{}
	s := newTestService(t, clock, WithMailer(mailer))
	mustRegister(t, s, "alice@example.com", "10.0.0.1")

	if err := s.RequestPasswordReset(context.Background(), "alice@example.com", "10.0.0.5"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	clock.Advance(61 * time.Minute)
	if err := s.ResetPassword(context.Background(), mailer.token, "N3w!Password"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token: expected ErrInvalidToken, got %v", err)
	}
}

func TestPasswordResetWeakPasswordKeepsToken(t *testing.T) {
	clock := newFakeClock()
	mailer := &captureMailer{}
	s := newTestService(t, clock, WithMailer(mailer))
	mustRegister(t, s, "alice@example.com", "10.0.0.1")

	if err := s.RequestPasswordReset(context.Background(), "alice@example.com", "10.0.0.5"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if err := s.ResetPassword(context.Background(), mailer.token, "weak"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("weak password: expected ErrInvalidInput, got %v", err)
	}
	// The token survives a rejected attempt and can still be redeemed.
	if err := s.ResetPassword(context.Background(), mailer.token, "N3w!Password"); err != nil {
		t.Fatalf("ResetPassword after rejection: %v", err)
	}
}

func TestMailerFailureDoesNotSurface(t *testing.T) {
	clock := newFakeClock()
	mailer := &captureMailer{err: errors.New("smtp down")}
	s := newTestService(t, clock, WithMailer(mailer))
	mustRegister(t, s, "alice@example.com", "10.0.0.1")

	if err := s.RequestPasswordReset(context.Background(), "alice@example.com", "10.0.0.5"); err != nil {
		t.Fatalf("mailer failure surfaced: %v", err)
	}
}

func TestVerifyAccessToken(t *testing.T) {
	clock := newFakeClock()
	s := newTestService(t, clock)
	res := mustRegister(t, s, "alice@example.com", "10.0.0.1")

	claims, err := s.VerifyAccessToken(res.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccessToken: %v", err)
	}
	if claims["email"] != "alice@example.com" {
		t.Fatalf("claims = %v", claims)
	}
	if _, err := s.VerifyAccessToken(res.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh token accepted as access token")
	}
}

func TestCleanupExpiredSweepsResetTokens(t *testing.T) {
	clock := newFakeClock()
	mailer := &captureMailer{}
	s := newTestService(t, clock, WithMailer(mailer))
	mustRegister(t, s, "alice@example.com", "10.0.0.1")

	if err := s.RequestPasswordReset(context.Background(), "alice@example.com", "10.0.0.5"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	clock.Advance(2 * time.Hour)
	s.CleanupExpired(context.Background())

	if err := s.ResetPassword(context.Background(), mailer.token, "N3w!Password"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("swept token redeemed: %v", err)
	}
}

func mustRegister(t *testing.T, s *Service, email, ip string) AuthResult {
	t.Helper()
	res, err := s.Register(context.Background(), email, "Test User", "Str0ng!Pass", ip, "test-agent")
	if err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	return res
}
