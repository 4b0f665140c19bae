package httpapi

import (
	"crypto/subtle"
	"net/http"
	"net/url"
	"strings"
	"time"

	"idport.org/internal/audit"
)

func (a *API) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	issuer := strings.TrimRight(a.idp.Issuer(), "/")
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                issuer,
		"authorization_endpoint":                issuer + "/authorize",
		"token_endpoint":                        issuer + "/token",
		"userinfo_endpoint":                     issuer + "/userinfo",
		"jwks_uri":                              issuer + "/.well-known/jwks.json",
		"response_types_supported":              []string{"id_token", "code", "code id_token"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"token_endpoint_auth_methods_supported": []string{"client_secret_post"},
		"grant_types_supported":                 []string{"authorization_code"},
	})
}

func (a *API) handleJWKS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	doc, err := a.idp.JWKSDocument()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write(doc)
}

// handleAuthorize bridges the external SSO assertion into a locally signed ID
// token and, for code flows, a one-time exchange code, then redirects back to
// the client.
func (a *API) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	q := r.URL.Query()

	assertion := q.Get("token")
	if assertion == "" {
		assertion, _ = extractBearerToken(r.Header.Get(authHeader))
	}
	if assertion == "" {
		writeError(w, http.StatusBadRequest, "missing identity assertion")
		return
	}

	redirectURI := q.Get("redirect_uri")
	if redirectURI == "" {
		writeError(w, http.StatusBadRequest, "redirect_uri is required")
		return
	}
	if !a.client.AllowsRedirect(redirectURI) {
		writeError(w, http.StatusBadRequest, "redirect_uri is not registered")
		return
	}
	target, err := url.Parse(redirectURI)
	if err != nil {
		writeError(w, http.StatusBadRequest, "redirect_uri is not a valid URL")
		return
	}

	responseType := q.Get("response_type")
	if responseType == "" {
		responseType = "id_token"
	}
	wantCode := strings.Contains(responseType, "code")
	wantIDToken := strings.Contains(responseType, "id_token")
	if !wantCode && !wantIDToken {
		writeError(w, http.StatusBadRequest, "unsupported response_type")
		return
	}

	ident, err := a.ext.Verify(r.Context(), assertion)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "identity assertion rejected")
		return
	}

	claims := map[string]any{
		"iss":   a.idp.Issuer(),
		"sub":   ident.Subject,
		"email": ident.Email,
		"name":  ident.Name,
	}
	if ident.Country != "" {
		claims["country"] = ident.Country
	}
	if a.client.ID != "" {
		claims["aud"] = a.client.ID
	}
	if nonce := q.Get("nonce"); nonce != "" {
		claims["nonce"] = nonce
	}

	signed, err := a.idp.SignIdentityToken(r.Context(), claims, wantCode, assertion)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	_ = audit.LogEvent(r.Context(), "oidc.authorize", map[string]any{
		"sub":           ident.Subject,
		"response_type": responseType,
	})

	state := q.Get("state")
	if wantIDToken {
		// Implicit and hybrid responses travel in the fragment.
		frag := url.Values{}
		frag.Set("id_token", signed.IDToken)
		if wantCode {
			frag.Set("code", signed.Code)
		}
		if state != "" {
			frag.Set("state", state)
		}
		target.Fragment = frag.Encode()
	} else {
		params := target.Query()
		params.Set("code", signed.Code)
		if state != "" {
			params.Set("state", state)
		}
		target.RawQuery = params.Encode()
	}
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// handleToken redeems an authorization code for the token pair. Clients
// authenticate with client_secret_post.
func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	if grant := r.PostFormValue("grant_type"); grant != "authorization_code" {
		writeError(w, http.StatusBadRequest, "unsupported grant_type")
		return
	}
	if !a.authenticateClient(r.PostFormValue("client_id"), r.PostFormValue("client_secret")) {
		writeError(w, http.StatusUnauthorized, "client authentication failed")
		return
	}

	code := r.PostFormValue("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	entry, ok := a.idp.TakeExchangeCode(code)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid or expired code")
		return
	}
	_ = audit.LogEvent(r.Context(), "oidc.token.exchange", nil)

	expiresIn := int64(time.Until(entry.ExpiresAt).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id_token":     entry.IDToken,
		"access_token": entry.AccessToken,
		"token_type":   "Bearer",
		"expires_in":   expiresIn,
	})
}

// handleUserinfo passes the bearer assertion through to the external identity
// provider and returns the verified claims.
func (a *API) handleUserinfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
		return
	}
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="idport"`)
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	ident, err := a.ext.Verify(r.Context(), token)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="idport", error="invalid_token"`)
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}
	resp := map[string]any{
		"sub":   ident.Subject,
		"email": ident.Email,
		"name":  ident.Name,
	}
	if ident.Country != "" {
		resp["country"] = ident.Country
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) authenticateClient(clientID, clientSecret string) bool {
	if a.client.ID == "" || a.client.Secret == "" {
		return false
	}
	idOK := subtle.ConstantTimeCompare([]byte(clientID), []byte(a.client.ID)) == 1
	secretOK := subtle.ConstantTimeCompare([]byte(clientSecret), []byte(a.client.Secret)) == 1
	return idOK && secretOK
}
