package controllers

import (
	"context"
	"net/http"

	"github.com/rxdispatch/rxdispatch-backend/api/responses"
	"github.com/rxdispatch/rxdispatch-backend/internal/identity"
	"github.com/rxdispatch/rxdispatch-backend/internal/medicines"
	"github.com/rxdispatch/rxdispatch-backend/pkg/logger"
)

type MedicineSuggester interface {
	Suggest(ctx context.Context, session, partial string) (medicines.Result, error)
}

// MedicineSuggestions answers ?q= with spelling suggestions. Each caller is its
// own session, so only the newest in-flight lookup per user returns results.
func MedicineSuggestions(svc MedicineSuggester, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("medicine lookup"))
			return
		}
		p, err := principalFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := identity.Require(p, identity.OpSuggestMedicines); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Suggest(r.Context(), p.ID.String(), r.URL.Query().Get("q"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
