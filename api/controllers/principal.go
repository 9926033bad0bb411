package controllers

import (
	"net/http"

	"github.com/rxdispatch/rxdispatch-backend/internal/identity"
	pkgerrors "github.com/rxdispatch/rxdispatch-backend/pkg/errors"
)

func principalFrom(r *http.Request) (identity.Principal, error) {
	p, ok := identity.FromContext(r.Context())
	if !ok {
		return identity.Principal{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	return p, nil
}

func unavailable(name string) error {
	return pkgerrors.New(pkgerrors.CodeInternal, name+" unavailable")
}
