package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/rxdispatch/rxdispatch-backend/api/responses"
	"github.com/rxdispatch/rxdispatch-backend/internal/identity"
	pkgAuth "github.com/rxdispatch/rxdispatch-backend/pkg/auth"
	"github.com/rxdispatch/rxdispatch-backend/pkg/auth/session"
	"github.com/rxdispatch/rxdispatch-backend/pkg/config"
	pkgerrors "github.com/rxdispatch/rxdispatch-backend/pkg/errors"
	"github.com/rxdispatch/rxdispatch-backend/pkg/logger"
)

// PrincipalResolver loads the current role and blocked flag for a token subject.
type PrincipalResolver interface {
	Resolve(ctx context.Context, userID uuid.UUID) (identity.Principal, error)
}

// Auth validates a bearer token, checks the session is still live and seeds the
// request context with the resolved principal.
func Auth(cfg config.JWTConfig, verifier session.AccessSessionChecker, resolver PrincipalResolver, logg *logger.Logger) func(http.Handler) http.Handler {
	a := authenticator{cfg: cfg, sessions: verifier, resolver: resolver}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := a.authenticate(r)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			ctx := WithPrincipal(r.Context(), principal)
			if logg != nil {
				ctx = logg.WithUserID(ctx, principal.ID.String())
				ctx = logg.WithActorRole(ctx, string(principal.Role))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type authenticator struct {
	cfg      config.JWTConfig
	sessions session.AccessSessionChecker
	resolver PrincipalResolver
}

// authenticate trusts the token's role only when no resolver is wired;
// otherwise role and blocked state come from the user record.
func (a authenticator) authenticate(r *http.Request) (identity.Principal, error) {
	token := BearerToken(r)
	if token == "" {
		return identity.Principal{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	claims, err := pkgAuth.ParseAccessToken(a.cfg, token)
	if err != nil {
		return identity.Principal{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token")
	}
	if claims.ID == "" {
		return identity.Principal{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing session id")
	}
	if a.sessions != nil {
		live, err := a.sessions.HasSession(r.Context(), claims.ID)
		if err != nil {
			return identity.Principal{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "validate session")
		}
		if !live {
			return identity.Principal{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "session unavailable")
		}
	}
	if a.resolver == nil {
		return identity.Principal{ID: claims.UserID, Role: claims.Role}, nil
	}
	return a.resolver.Resolve(r.Context(), claims.UserID)
}

// BearerToken extracts the token from the Authorization header. Browsers cannot
// set headers on websocket upgrades, so the access_token query parameter is
// accepted as a fallback.
func BearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	if strings.HasPrefix(strings.ToLower(raw), "bearer ") {
		return strings.TrimSpace(raw[7:])
	}
	return raw
}
