package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rxdispatch/rxdispatch-backend/api/middleware"
	"github.com/rxdispatch/rxdispatch-backend/internal/identity"
	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
)

func principalOf(role enums.UserRole) identity.Principal {
	return identity.Principal{ID: uuid.New(), Email: string(role) + "@example.com", Role: role}
}

// newRequest builds a request carrying p and the given chi url params.
func newRequest(method, target string, body io.Reader, p identity.Principal, params map[string]string) *http.Request {
	req := httptest.NewRequest(method, target, body)
	ctx := req.Context()
	if !p.IsZero() {
		ctx = middleware.WithPrincipal(ctx, p)
	}
	if len(params) > 0 {
		rc := chi.NewRouteContext()
		for k, v := range params {
			rc.URLParams.Add(k, v)
		}
		ctx = context.WithValue(ctx, chi.RouteCtxKey, rc)
	}
	return req.WithContext(ctx)
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	return payload.Error.Code
}
