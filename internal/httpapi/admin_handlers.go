package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"idport.org/internal/audit"
	"idport.org/internal/identity"
)

type createGroupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type updateGroupRequest struct {
	Description string `json:"description"`
}

type createUserRequest struct {
	Email    string   `json:"email"`
	Name     string   `json:"name"`
	Password string   `json:"password"`
	Groups   []string `json:"groups"`
}

type updateUserRequest struct {
	Name   *string   `json:"name"`
	Status *string   `json:"status"`
	Groups *[]string `json:"groups"`
}

type assignGroupsRequest struct {
	Groups []string `json:"groups"`
}

func (a *API) handleGroups(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		groups, err := a.idp.ListGroups(r.Context())
		if err != nil {
			writeIdentityError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "groups": groups})
	case http.MethodPost:
		var req createGroupRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		group, err := a.idp.CreateGroup(r.Context(), req.Name, req.Description)
		if err != nil {
			writeIdentityError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "admin.group.create", map[string]any{"name": group.Name})
		writeJSON(w, http.StatusCreated, map[string]any{"success": true, "group": group})
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

// handleGroupScoped dispatches /admin/groups/{name} and /admin/groups/{name}/users.
func (a *API) handleGroupScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/admin/groups/"), "/")
	if path == "" {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	name := parts[0]

	switch {
	case len(parts) == 1:
		a.handleGroupResource(w, r, name)
	case len(parts) == 2 && parts[1] == "users":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		users, err := a.idp.GroupUsers(r.Context(), name)
		if err != nil {
			writeIdentityError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "users": users})
	default:
		writeError(w, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleGroupResource(w http.ResponseWriter, r *http.Request, name string) {
	switch r.Method {
	case http.MethodGet:
		group, err := a.idp.GetGroup(r.Context(), name)
		if err != nil {
			writeIdentityError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "group": group})
	case http.MethodPut:
		var req updateGroupRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		group, err := a.idp.UpdateGroup(r.Context(), name, req.Description)
		if err != nil {
			writeIdentityError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "admin.group.update", map[string]any{"name": name})
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "group": group})
	case http.MethodDelete:
		if err := a.idp.DeleteGroup(r.Context(), name); err != nil {
			writeIdentityError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "admin.group.delete", map[string]any{"name": name})
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		page, _ := strconv.Atoi(q.Get("page"))
		limit, _ := strconv.Atoi(q.Get("limit"))
		result, err := a.idp.ListUsers(r.Context(), identity.ListUsersParams{
			Page:   page,
			Limit:  limit,
			Search: q.Get("search"),
			Status: q.Get("filter"),
		})
		if err != nil {
			writeIdentityError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"users":   result.Users,
			"total":   result.Total,
			"page":    result.Page,
			"limit":   result.Limit,
			"pages":   result.Pages,
		})
	case http.MethodPost:
		var req createUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.idp.CreateUser(r.Context(), req.Email, req.Name, req.Password, req.Groups)
		if err != nil {
			writeIdentityError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "admin.user.create", map[string]any{"email": user.Email})
		writeJSON(w, http.StatusCreated, map[string]any{"success": true, "user": user})
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

// handleUserScoped dispatches /admin/users/{email}, /admin/users/{email}/groups
// and /admin/users/{email}/groups/{name}.
func (a *API) handleUserScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/admin/users/"), "/")
	if path == "" {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	email := parts[0]

	switch {
	case len(parts) == 1:
		a.handleUserResource(w, r, email)
	case len(parts) == 2 && parts[1] == "groups":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		var req assignGroupsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.idp.AssignGroups(r.Context(), email, req.Groups)
		if err != nil {
			writeIdentityError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "admin.user.groups.assign", map[string]any{"email": email, "groups": req.Groups})
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": user})
	case len(parts) == 3 && parts[1] == "groups":
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, http.MethodDelete)
			return
		}
		user, err := a.idp.RemoveFromGroup(r.Context(), email, parts[2])
		if err != nil {
			writeIdentityError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "admin.user.groups.remove", map[string]any{"email": email, "group": parts[2]})
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": user})
	default:
		writeError(w, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request, email string) {
	switch r.Method {
	case http.MethodGet:
		user, err := a.idp.GetUser(r.Context(), email)
		if err != nil {
			writeIdentityError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": user})
	case http.MethodPut:
		var req updateUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.idp.UpdateUser(r.Context(), email, identity.UserUpdate{
			Name:   req.Name,
			Status: req.Status,
			Groups: req.Groups,
		})
		if err != nil {
			writeIdentityError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "admin.user.update", map[string]any{"email": email})
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": user})
	case http.MethodDelete:
		if err := a.idp.DeleteUser(r.Context(), email); err != nil {
			writeIdentityError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "admin.user.delete", map[string]any{"email": email})
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}
