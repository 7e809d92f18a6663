package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/smallbiznis/portal/internal/auth/domain"
	"github.com/smallbiznis/portal/internal/authorization"
	clientdomain "github.com/smallbiznis/portal/internal/client/domain"
)

// accessScope is what the caller may read: every client, or the one client
// row that matches their email.
type accessScope struct {
	identity *authdomain.Identity
	any      bool
	clientID snowflake.ID
}

func (sc accessScope) permits(clientID snowflake.ID) bool {
	return sc.any || (sc.clientID != 0 && sc.clientID == clientID)
}

func (s *Service) authorize(ctx context.Context, object, action string) (*authdomain.Identity, error) {
	identity, ok := authdomain.IdentityFromContext(ctx)
	if !ok {
		return nil, authorization.ErrInvalidActor
	}
	if err := s.authz.Authorize(ctx, identity, object, action); err != nil {
		return nil, err
	}
	return identity, nil
}

func (s *Service) resolveScope(ctx context.Context, object, anyAction, ownAction string) (accessScope, error) {
	identity, ok := authdomain.IdentityFromContext(ctx)
	if !ok {
		return accessScope{}, authorization.ErrInvalidActor
	}
	if s.authz.Allowed(ctx, identity, object, anyAction) {
		return accessScope{identity: identity, any: true}, nil
	}
	if !s.authz.Allowed(ctx, identity, object, ownAction) {
		return accessScope{}, authorization.ErrForbidden
	}

	email := identity.NormalizedEmail()
	if email == "" {
		return accessScope{}, authorization.ErrForbidden
	}
	client, err := s.clients.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, clientdomain.ErrNotFound) || errors.Is(err, clientdomain.ErrInvalidEmail) {
			return accessScope{}, authorization.ErrForbidden
		}
		return accessScope{}, err
	}
	return accessScope{identity: identity, clientID: client.ID}, nil
}
