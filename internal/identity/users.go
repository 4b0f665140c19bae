package identity

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"idport.org/internal/obs"
)

// CreateUser provisions an account. Empty groups default to ["user"]; every
// requested group must already exist.
func (s *Service) CreateUser(ctx context.Context, email, name, password string, groups []string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createUser(ctx, email, name, password, groups)
}

// GetUser returns one account without its password hash.
func (s *Service) GetUser(ctx context.Context, email string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[normalizeEmail(email)]
	if !ok {
		return User{}, ErrNotFound
	}
	return user.Public(), nil
}

// UpdateUser applies optional field replacements. A replaced group list is
// re-validated against the group store.
func (s *Service) UpdateUser(ctx context.Context, email string, upd UserUpdate) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[normalizeEmail(email)]
	if !ok {
		return User{}, ErrNotFound
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return User{}, fmt.Errorf("%w: name cannot be empty", ErrInvalidInput)
		}
		user.Name = name
	}
	if upd.Status != nil {
		switch *upd.Status {
		case UserStatusActive, UserStatusInactive, UserStatusSuspended:
			user.Status = *upd.Status
		default:
			return User{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *upd.Status)
		}
	}
	if upd.Groups != nil {
		groups, err := s.checkGroupsExist(*upd.Groups)
		if err != nil {
			return User{}, err
		}
		user.Groups = groups
	}
	user.UpdatedAt = s.now()
	if err := s.persistUser(ctx, user); err != nil {
		return User{}, err
	}
	return user.Public(), nil
}

// DeleteUser removes the account and its sessions.
func (s *Service) DeleteUser(ctx context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = normalizeEmail(email)
	if _, ok := s.users[email]; !ok {
		return ErrNotFound
	}
	if err := s.gateway.Delete(ctx, userKeyPrefix+email); err != nil {
		return fmt.Errorf("delete user %s: %w", email, err)
	}
	delete(s.users, email)
	s.revokeSessions(email)
	return nil
}

// AssignGroups replaces the user's group memberships.
func (s *Service) AssignGroups(ctx context.Context, email string, groups []string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[normalizeEmail(email)]
	if !ok {
		return User{}, ErrNotFound
	}
	validated, err := s.checkGroupsExist(groups)
	if err != nil {
		return User{}, err
	}
	user.Groups = validated
	user.UpdatedAt = s.now()
	if err := s.persistUser(ctx, user); err != nil {
		return User{}, err
	}
	return user.Public(), nil
}

// RemoveFromGroup filters one group out of the user's memberships.
func (s *Service) RemoveFromGroup(ctx context.Context, email, group string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[normalizeEmail(email)]
	if !ok {
		return User{}, ErrNotFound
	}
	filtered := user.Groups[:0:0]
	for _, g := range user.Groups {
		if g != group {
			filtered = append(filtered, g)
		}
	}
	user.Groups = filtered
	user.UpdatedAt = s.now()
	if err := s.persistUser(ctx, user); err != nil {
		return User{}, err
	}
	return user.Public(), nil
}

// ListUsers returns a paginated, filtered listing. Search is a
// case-insensitive substring match over email and name.
func (s *Service) ListUsers(ctx context.Context, params ListUsersParams) (UserPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if params.Page < 1 {
		params.Page = 1
	}
	if params.Limit < 1 {
		params.Limit = 20
	}

	search := strings.ToLower(strings.TrimSpace(params.Search))
	var matched []User
	for _, u := range s.users {
		if params.Status != "" && u.Status != params.Status {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(u.Email), search) &&
			!strings.Contains(strings.ToLower(u.Name), search) {
			continue
		}
		matched = append(matched, u.Public())
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Email < matched[j].Email })

	total := len(matched)
	pages := (total + params.Limit - 1) / params.Limit
	start := (params.Page - 1) * params.Limit
	if start > total {
		start = total
	}
	end := start + params.Limit
	if end > total {
		end = total
	}
	return UserPage{
		Users: matched[start:end],
		Total: total,
		Page:  params.Page,
		Limit: params.Limit,
		Pages: pages,
	}, nil
}

// --- internals (lock held) ---

// validateUser fails closed: missing user, non-active status and hash
// mismatch are indistinguishable to the caller. On success it stamps
// last_login and persists.
func (s *Service) validateUser(ctx context.Context, email, password string) (*User, bool) {
	user, ok := s.users[email]
	if !ok {
		return nil, false
	}
	if user.Status != UserStatusActive {
		return nil, false
	}
	if !VerifyPassword(password, user.PasswordHash) {
		return nil, false
	}
	now := s.now()
	user.LastLogin = &now
	user.UpdatedAt = now
	if err := s.persistUser(ctx, user); err != nil {
		obs.Event("warn", "failed to persist last_login", map[string]any{"email": email, "error": err.Error()})
	}
	return user, true
}

func (s *Service) createUser(ctx context.Context, email, name, password string, groups []string) (User, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return User{}, fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return User{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if _, exists := s.users[email]; exists {
		return User{}, fmt.Errorf("%w: user already exists", ErrConflict)
	}
	if err := ValidatePasswordStrength(password); err != nil {
		return User{}, err
	}
	if len(groups) == 0 {
		groups = []string{"user"}
	}
	validated, err := s.checkGroupsExist(groups)
	if err != nil {
		return User{}, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return User{}, err
	}

	now := s.now()
	user := &User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Groups:       validated,
		Status:       UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.persistUser(ctx, user); err != nil {
		return User{}, err
	}
	s.users[email] = user
	return user.Public(), nil
}

func (s *Service) updatePassword(ctx context.Context, email, newPassword string) error {
	user, ok := s.users[normalizeEmail(email)]
	if !ok {
		return ErrNotFound
	}
	if err := ValidatePasswordStrength(newPassword); err != nil {
		return err
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	user.UpdatedAt = s.now()
	return s.persistUser(ctx, user)
}

func (s *Service) checkGroupsExist(groups []string) ([]string, error) {
	seen := make(map[string]struct{}, len(groups))
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		if _, dup := seen[g]; dup {
			continue
		}
		if _, ok := s.groups[g]; !ok {
			return nil, fmt.Errorf("%w: group %q does not exist", ErrInvalidInput, g)
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out, nil
}
