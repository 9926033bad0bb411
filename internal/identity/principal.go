// Package identity holds the authenticated principal and the single capability
// table every role check in the service goes through.
package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rxdispatch/rxdispatch-backend/pkg/db/models"
	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
	pkgerrors "github.com/rxdispatch/rxdispatch-backend/pkg/errors"
)

// Principal is the resolved caller of a request.
type Principal struct {
	ID        uuid.UUID      `json:"id"`
	Email     string         `json:"email"`
	Role      enums.UserRole `json:"role"`
	IsBlocked bool           `json:"is_blocked"`
}

// IsZero reports whether the principal was never resolved.
func (p Principal) IsZero() bool {
	return p.ID == uuid.Nil
}

// Is reports whether the principal holds the role.
func (p Principal) Is(role enums.UserRole) bool {
	return p.Role == role
}

// FromUser builds a principal from the persisted user row.
func FromUser(u *models.User) Principal {
	if u == nil {
		return Principal{}
	}
	return Principal{
		ID:        u.ID,
		Email:     u.Email,
		Role:      u.Role,
		IsBlocked: u.IsBlocked,
	}
}

type userLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Resolver turns a verified token subject into a principal. The role and
// blocked flag always come from the users table so moderation takes effect on
// the next request rather than when the token expires.
type Resolver struct {
	users userLoader
}

func NewResolver(users userLoader) *Resolver {
	return &Resolver{users: users}
}

func (r *Resolver) Resolve(ctx context.Context, userID uuid.UUID) (Principal, error) {
	if userID == uuid.Nil {
		return Principal{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing subject")
	}
	user, err := r.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Principal{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "unknown principal")
		}
		return Principal{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load principal")
	}
	if user.IsBlocked {
		return Principal{}, pkgerrors.New(pkgerrors.CodeForbidden, "account blocked")
	}
	return FromUser(user), nil
}

type contextKey struct{}

// WithPrincipal stores the principal on the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext returns the principal placed by the auth middleware.
func FromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(contextKey{}).(Principal)
	if !ok || p.IsZero() {
		return Principal{}, false
	}
	return p, true
}
