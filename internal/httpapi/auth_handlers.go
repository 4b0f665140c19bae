package httpapi

import (
	"net/http"
	"strings"

	"idport.org/internal/audit"
	"idport.org/internal/identity"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type logoutRequest struct {
	Token string `json:"token"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type resetRequest struct {
	Email string `json:"email"`
}

type resetConfirmRequest struct {
	Password string `json:"password"`
}

func authResponse(res identity.AuthResult) map[string]any {
	return map[string]any{
		"success":       true,
		"user":          res.User,
		"session_id":    res.SessionID,
		"access_token":  res.AccessToken,
		"refresh_token": res.RefreshToken,
		"expires_at":    res.ExpiresAt,
	}
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.idp.Login(r.Context(), req.Email, req.Password, clientIP(r), r.UserAgent())
	if err != nil {
		writeIdentityError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{"email": res.User.Email})
	writeJSON(w, http.StatusOK, authResponse(res))
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.idp.Register(r.Context(), req.Email, req.Name, req.Password, clientIP(r), r.UserAgent())
	if err != nil {
		writeIdentityError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.register", map[string]any{"email": res.User.Email})
	writeJSON(w, http.StatusCreated, authResponse(res))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req logoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	token := req.Token
	if token == "" {
		token, _ = extractBearerToken(r.Header.Get(authHeader))
	}
	if err := a.idp.Logout(r.Context(), token); err != nil {
		writeIdentityError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.idp.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeIdentityError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse(res))
}

func (a *API) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req resetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// Success is reported whether or not the account exists.
	if err := a.idp.RequestPasswordReset(r.Context(), req.Email, clientIP(r)); err != nil {
		writeIdentityError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.reset.requested", nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "if the account exists, a reset email has been sent",
	})
}

func (a *API) handleResetConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, http.MethodPut)
		return
	}
	token := strings.Trim(strings.TrimPrefix(r.URL.Path, "/auth/reset-password/"), "/")
	if token == "" {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	var req resetConfirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.idp.ResetPassword(r.Context(), token, req.Password); err != nil {
		writeIdentityError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.reset.completed", nil)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
