package identity

import "time"

// User statuses.
const (
	UserStatusActive    = "active"
	UserStatusInactive  = "inactive"
	UserStatusSuspended = "suspended"
)

// User is a local credential-holding principal. Email is the primary key.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	PasswordHash string     `json:"password_hash,omitempty"`
	Groups       []string   `json:"groups"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// Public returns a copy safe to expose outside the account store.
func (u User) Public() User {
	out := u
	out.PasswordHash = ""
	out.Groups = append([]string(nil), u.Groups...)
	return out
}

// InGroup reports membership in the named group.
func (u User) InGroup(name string) bool {
	for _, g := range u.Groups {
		if g == name {
			return true
		}
	}
	return false
}

// Group is a named permission bucket. UserCount is derived, never stored.
type Group struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	UserCount   int       `json:"user_count"`
	IsSystem    bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Session is a live access/refresh token pair. Sessions are process-local and
// not persisted; restart invalidates them by design.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	UserEmail    string    `json:"user_email"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastActivity time.Time `json:"last_activity"`
	UserAgent    string    `json:"user_agent,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
}

// ResetToken is a single-use credential-recovery grant.
type ResetToken struct {
	Token     string    `json:"token"`
	UserEmail string    `json:"user_email"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"used"`
}

// ExchangeCode maps a one-time authorization code to the tokens minted for it.
type ExchangeCode struct {
	Code        string    `json:"code"`
	IDToken     string    `json:"id_token"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// AuthResult is returned by login, register and refresh.
type AuthResult struct {
	User         User      `json:"user"`
	SessionID    string    `json:"session_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// UserUpdate carries optional field replacements for UpdateUser.
type UserUpdate struct {
	Name   *string
	Status *string
	Groups *[]string
}

// ListUsersParams controls pagination and filtering of ListUsers.
type ListUsersParams struct {
	Page   int
	Limit  int
	Search string
	Status string
}

// UserPage is one page of user listings. Users never carry password hashes.
type UserPage struct {
	Users []User `json:"users"`
	Total int    `json:"total"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
	Pages int    `json:"pages"`
}
