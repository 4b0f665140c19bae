package identity

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var groupNamePattern = regexp.MustCompile(`^[a-z0-9_-]{2,50}$`)

// initializeDefaultGroups seeds admin, user and manager exactly once, only
// when the group map is empty at startup. Lock held by Bootstrap.
func (s *Service) initializeDefaultGroups(ctx context.Context) error {
	if len(s.groups) > 0 {
		return nil
	}
	defaults := []Group{
		{Name: "admin", Description: "Administrators with full access", IsSystem: true},
		{Name: "user", Description: "Standard users", IsSystem: true},
		{Name: "manager", Description: "Managers with elevated access"},
	}
	now := s.now()
	for i := range defaults {
		g := defaults[i]
		g.CreatedAt = now
		g.UpdatedAt = now
		if err := s.persistGroup(ctx, &g); err != nil {
			return err
		}
		s.groups[g.Name] = &g
	}
	return nil
}

// CreateGroup adds a non-system group. Names are lowercase alphanumerics,
// underscore and hyphen, 2-50 characters.
func (s *Service) CreateGroup(ctx context.Context, name, description string) (Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name = strings.TrimSpace(name)
	if !groupNamePattern.MatchString(name) {
		return Group{}, fmt.Errorf("%w: group name must match %s", ErrInvalidInput, groupNamePattern.String())
	}
	if _, exists := s.groups[name]; exists {
		return Group{}, fmt.Errorf("%w: group already exists", ErrConflict)
	}

	now := s.now()
	g := &Group{
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.persistGroup(ctx, g); err != nil {
		return Group{}, err
	}
	s.groups[name] = g
	return s.groupWithCount(g), nil
}

// UpdateGroup replaces a group's description. System groups may be updated.
func (s *Service) UpdateGroup(ctx context.Context, name, description string) (Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[name]
	if !ok {
		return Group{}, ErrNotFound
	}
	g.Description = strings.TrimSpace(description)
	g.UpdatedAt = s.now()
	if err := s.persistGroup(ctx, g); err != nil {
		return Group{}, err
	}
	return s.groupWithCount(g), nil
}

// DeleteGroup refuses system groups, then removes the group from every user's
// membership list (persisting each affected user) before deleting the group
// record itself.
func (s *Service) DeleteGroup(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[name]
	if !ok {
		return ErrNotFound
	}
	if g.IsSystem {
		return fmt.Errorf("%w: system group %q cannot be deleted", ErrInvalidInput, name)
	}

	for _, u := range s.users {
		if !u.InGroup(name) {
			continue
		}
		filtered := u.Groups[:0:0]
		for _, member := range u.Groups {
			if member != name {
				filtered = append(filtered, member)
			}
		}
		u.Groups = filtered
		u.UpdatedAt = s.now()
		if err := s.persistUser(ctx, u); err != nil {
			return err
		}
	}

	if err := s.gateway.Delete(ctx, groupKeyPrefix+name); err != nil {
		return fmt.Errorf("delete group %s: %w", name, err)
	}
	delete(s.groups, name)
	return nil
}

// GetGroup returns one group with its live member count.
func (s *Service) GetGroup(ctx context.Context, name string) (Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[name]
	if !ok {
		return Group{}, ErrNotFound
	}
	return s.groupWithCount(g), nil
}

// ListGroups returns all groups sorted by name.
func (s *Service) ListGroups(ctx context.Context) ([]Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, s.groupWithCount(g))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GroupUsers returns the members of one group, without password hashes.
func (s *Service) GroupUsers(ctx context.Context, name string) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[name]; !ok {
		return nil, ErrNotFound
	}
	var out []User
	for _, u := range s.users {
		if u.InGroup(name) {
			out = append(out, u.Public())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

// groupWithCount recomputes user_count from the live user map; the stored
// record is never trusted for it.
func (s *Service) groupWithCount(g *Group) Group {
	out := *g
	out.UserCount = 0
	for _, u := range s.users {
		if u.InGroup(g.Name) {
			out.UserCount++
		}
	}
	return out
}
