package domain

import (
	"context"
	"slices"
	"strings"
)

const (
	RoleAdmin  = "admin"
	RoleClient = "client"
)

// Identity is the verified caller behind a bearer token.
type Identity struct {
	Subject string
	Email   string
	Roles   []string
}

func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

func (i Identity) IsAdmin() bool {
	return i.HasRole(RoleAdmin)
}

// NormalizedEmail is the lower-cased email used to match client rows.
func (i Identity) NormalizedEmail() string {
	return strings.ToLower(strings.TrimSpace(i.Email))
}

type Service interface {
	Authenticate(ctx context.Context, rawToken string) (*Identity, error)
}

type identityKey struct{}

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, identityKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	if ctx == nil {
		return nil, false
	}
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	return identity, ok && identity != nil
}
