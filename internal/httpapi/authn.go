package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"idport.org/internal/identity"
)

const (
	authHeader   = "Authorization"
	bearerScheme = "Bearer "
)

// requireAdmin verifies the bearer access token cryptographically and admits
// only principals carrying the admin group.
func (a *API) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="idport"`)
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := a.idp.VerifyAccessToken(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="idport", error="invalid_token"`)
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		principal := identity.PrincipalFromClaims(claims)
		if !principal.IsAdmin() {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next(w, r.WithContext(identity.ContextWithPrincipal(r.Context(), principal)))
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearerScheme)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearerScheme):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
