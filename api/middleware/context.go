package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/rxdispatch/rxdispatch-backend/internal/identity"
	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
)

// UserIDFromContext is the authenticated caller's id, or "" before Auth ran.
func UserIDFromContext(ctx context.Context) string {
	p, ok := identity.FromContext(ctx)
	if !ok || p.ID == uuid.Nil {
		return ""
	}
	return p.ID.String()
}

func RoleFromContext(ctx context.Context) enums.UserRole {
	p, _ := identity.FromContext(ctx)
	return p.Role
}

// WithPrincipal is what Auth stores; handler tests use it to skip token setup.
func WithPrincipal(ctx context.Context, p identity.Principal) context.Context {
	return identity.WithPrincipal(ctx, p)
}
