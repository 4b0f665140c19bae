package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"idport.org/internal/config"
	"idport.org/internal/extidp"
	"idport.org/internal/identity"
	"idport.org/internal/obs"
)

// ReadyProbe checks backend readiness (e.g. persistence gateway ping).
type ReadyProbe struct {
	Pinger interface {
		Ping(ctx context.Context) error
	}
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Pinger == nil {
		return nil
	}
	return rp.Pinger.Ping(ctx)
}

// API is the HTTP layer over the identity service.
type API struct {
	mux        *http.ServeMux
	idp        *identity.Service
	ext        extidp.Verifier
	client     config.Client
	readyProbe ReadyProbe
	version    string
}

// New wires all routes. idp must already be bootstrapped.
func New(idp *identity.Service, ext extidp.Verifier, client config.Client, rp ReadyProbe, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		idp:        idp,
		ext:        ext,
		client:     client,
		readyProbe: rp,
		version:    version,
	}

	a.mux.HandleFunc("/healthz", a.handleHealthz)
	a.mux.HandleFunc("/readyz", a.handleReady)
	a.mux.Handle("/metrics", obs.Handler())

	// OIDC surface
	a.mux.HandleFunc("/.well-known/openid-configuration", a.handleDiscovery)
	a.mux.HandleFunc("/.well-known/jwks.json", a.handleJWKS)
	a.mux.HandleFunc("/authorize", a.handleAuthorize)
	a.mux.HandleFunc("/token", a.handleToken)
	a.mux.HandleFunc("/userinfo", a.handleUserinfo)

	// credential flows
	a.mux.HandleFunc("/auth/login", a.handleLogin)
	a.mux.HandleFunc("/auth/register", a.handleRegister)
	a.mux.HandleFunc("/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/auth/reset-password", a.handleResetRequest)
	a.mux.HandleFunc("/auth/reset-password/", a.handleResetConfirm)

	// admin management
	a.mux.HandleFunc("/admin/groups", a.requireAdmin(a.handleGroups))
	a.mux.HandleFunc("/admin/groups/", a.requireAdmin(a.handleGroupScoped))
	a.mux.HandleFunc("/admin/users", a.requireAdmin(a.handleUsers))
	a.mux.HandleFunc("/admin/users/", a.requireAdmin(a.handleUserScoped))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler chain.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, 20, 10)
	h = CORS(h, a.clientOrigins())
	h = SecurityHeaders(h)
	h = RequestID(h)
	h = Logging(h)
	return obs.Instrument(h)
}

// clientOrigins derives browser origins from the registered redirect URIs.
func (a *API) clientOrigins() []string {
	var out []string
	for _, raw := range a.client.RedirectURIs {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			continue
		}
		out = append(out, u.Scheme+"://"+u.Host)
	}
	return out
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "idport",
		"version": a.version,
	})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ready",
		"time":     time.Now().UTC().Format(time.RFC3339),
		"sessions": a.idp.Sessions(),
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"success": false, "error": msg})
}

// writeIdentityError maps domain errors to status codes without leaking
// internals. Password-policy errors keep their detailed rule list so a
// legitimate client can self-correct.
func writeIdentityError(w http.ResponseWriter, err error) {
	var policy *identity.PasswordPolicyError
	if errors.As(err, &policy) {
		writeError(w, http.StatusBadRequest, policy.Error())
		return
	}
	switch {
	case errors.Is(err, identity.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "too many attempts, try again later")
	case errors.Is(err, identity.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, identity.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
	case errors.Is(err, identity.ErrConflict):
		writeError(w, http.StatusConflict, trimPrefixError(err))
	case errors.Is(err, identity.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, identity.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, trimPrefixError(err))
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// trimPrefixError strips the package sentinel prefix from wrapped messages.
func trimPrefixError(err error) string {
	msg := err.Error()
	for _, sentinel := range []string{"identity: invalid input: ", "identity: resource conflict: "} {
		if len(msg) > len(sentinel) && msg[:len(sentinel)] == sentinel {
			return msg[len(sentinel):]
		}
	}
	switch msg {
	case identity.ErrInvalidInput.Error():
		return "invalid input"
	case identity.ErrConflict.Error():
		return "resource conflict"
	}
	return msg
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	for _, m := range allowed {
		w.Header().Add("Allow", m)
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
