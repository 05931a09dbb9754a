package shared

import "context"

// Principal is the authenticated actor for a request, projected from the
// auth view of the users collection at authentication time.
type Principal struct {
	PrimaryKey  string
	DisplayName string
	Mail        string
	Language    string
	// Timestamp is the entry's last-modified marker carried inside the
	// bearer token; a mismatch invalidates the token.
	Timestamp string
	// Roles holds the resolved boolean role flags (isAdmin, isSuperuser, ...).
	Roles map[string]bool
	// Attrs is the full auth projection, returned verbatim by /auth/me.
	Attrs map[string]any
}

// HasRole reports whether the principal holds the named role.
func (p *Principal) HasRole(name string) bool {
	return p != nil && p.Roles[name]
}

type contextKey string

const principalKey contextKey = "principal"

// ContextWithPrincipal stores the authenticated principal in the context.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the authenticated principal, or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}
