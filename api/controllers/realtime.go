package controllers

import (
	"net/http"

	"github.com/rxdispatch/rxdispatch-backend/api/responses"
	"github.com/rxdispatch/rxdispatch-backend/internal/identity"
	"github.com/rxdispatch/rxdispatch-backend/pkg/logger"
)

type RealtimeHub interface {
	Serve(w http.ResponseWriter, r *http.Request, p identity.Principal) error
}

// RealtimeFeed upgrades to a websocket carrying prescription and response changes.
func RealtimeFeed(hub RealtimeHub, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hub == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("realtime hub"))
			return
		}
		p, err := principalFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := identity.Require(p, identity.OpSubscribeRealtime); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		// The upgrader has already answered the client when Serve fails.
		if err := hub.Serve(w, r, p); err != nil && logg != nil {
			logg.Warn(logg.WithField(r.Context(), "error", err.Error()), "realtime.serve_failed")
		}
	}
}
