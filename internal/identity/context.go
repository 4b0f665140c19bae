package identity

import "context"

// Principal is the authenticated caller identity attached to a request.
type Principal struct {
	UserID string
	Email  string
	Groups []string
}

// IsAdmin reports whether the principal carries the admin group.
func (p Principal) IsAdmin() bool {
	for _, g := range p.Groups {
		if g == "admin" {
			return true
		}
	}
	return false
}

type ctxKey string

const principalKey ctxKey = "identity_principal"

// ContextWithPrincipal stores the authenticated principal in the context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext extracts the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok || p.UserID == "" {
		return Principal{}, false
	}
	return p, true
}

// PrincipalFromClaims builds a principal from verified access-token claims.
func PrincipalFromClaims(claims map[string]any) Principal {
	p := Principal{
		UserID: claimString(claims, "sub"),
		Email:  claimString(claims, "email"),
	}
	if raw, ok := claims["groups"].([]any); ok {
		for _, g := range raw {
			if name, ok := g.(string); ok {
				p.Groups = append(p.Groups, name)
			}
		}
	}
	return p
}
