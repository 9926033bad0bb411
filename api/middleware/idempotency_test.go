package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rxdispatch/rxdispatch-backend/internal/identity"
	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
	pkgerrors "github.com/rxdispatch/rxdispatch-backend/pkg/errors"
)

func idempotentPost(path, key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	return req
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload.Error.Code
}

func TestIdempotencyTTL(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		want   time.Duration
		ok     bool
	}{
		{"rider claim", http.MethodPost, "/api/v1/rider/tasks/6b1d0c8e/claim", criticalIdempotencyTTL, true},
		{"pharmacy response", http.MethodPost, "/api/v1/pharmacy/requests/6b1d0c8e/responses/", criticalIdempotencyTTL, true},
		{"upload", http.MethodPost, "/api/v1/prescriptions/upload", defaultIdempotencyTTL, true},
		{"admin reject", http.MethodPost, "/api/v1/admin/prescriptions/6b1d0c8e/reject", defaultIdempotencyTTL, true},
		{"rider pickup", http.MethodPost, "/api/v1/rider/tasks/6b1d0c8e/pickup", 0, false},
		{"claim without id", http.MethodPost, "/api/v1/rider/tasks/claim", 0, false},
		{"listing", http.MethodGet, "/api/v1/prescriptions", 0, false},
		{"login", http.MethodPost, "/api/v1/auth/login", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ttl, ok := idempotencyTTL(tt.method, tt.path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, ttl)
		})
	}
}

func TestIdempotencyRequiresUsableKey(t *testing.T) {
	store, _ := newRateStore(t)
	called := false
	handler := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, idempotentPost("/api/v1/auth/register", "", `{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, idempotentPost("/api/v1/auth/register", strings.Repeat("k", maxIdempotencyKeyLen+1), `{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, called)
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	store, _ := newRateStore(t)
	calls := 0
	handler := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"claimed":true}`))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, idempotentPost("/api/v1/rider/tasks/abc/claim", "claim-1", `{}`))
	require.Equal(t, http.StatusAccepted, first.Code)
	assert.Empty(t, first.Header().Get(replayedHeader))

	replay := httptest.NewRecorder()
	handler.ServeHTTP(replay, idempotentPost("/api/v1/rider/tasks/abc/claim", "claim-1", `{}`))
	assert.Equal(t, http.StatusAccepted, replay.Code)
	assert.Equal(t, "application/json", replay.Header().Get("Content-Type"))
	assert.Equal(t, "true", replay.Header().Get(replayedHeader))
	assert.JSONEq(t, `{"claimed":true}`, replay.Body.String())
	assert.Equal(t, 1, calls)
}

func TestIdempotencyRejectsKeyReuseForDifferentRequest(t *testing.T) {
	store, _ := newRateStore(t)
	handler := Idempotency(store, nil)(http.HandlerFunc(okStatus))

	handler.ServeHTTP(httptest.NewRecorder(), idempotentPost("/api/v1/auth/register", "reg-1", `{"email":"a@rx.test"}`))

	tests := []struct {
		name string
		req  *http.Request
	}{
		{"different body", idempotentPost("/api/v1/auth/register", "reg-1", `{"email":"b@rx.test"}`)},
		{"different route", idempotentPost("/api/v1/pharmacies", "reg-1", `{"email":"a@rx.test"}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, tt.req)
			assert.Equal(t, http.StatusConflict, rec.Code)
			assert.Equal(t, string(pkgerrors.CodeIdempotency), errorCode(t, rec))
		})
	}
}

func TestIdempotencyConflictsWhileFirstRequestRuns(t *testing.T) {
	store, _ := newRateStore(t)
	var duplicate *httptest.ResponseRecorder
	var handler http.Handler
	handler = Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if duplicate == nil {
			duplicate = httptest.NewRecorder()
			handler.ServeHTTP(duplicate, idempotentPost("/api/v1/pharmacy/requests/p1/responses", "resp-1", `{"available":true}`))
		}
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, idempotentPost("/api/v1/pharmacy/requests/p1/responses", "resp-1", `{"available":true}`))

	assert.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, duplicate)
	assert.Equal(t, http.StatusConflict, duplicate.Code)
	assert.Equal(t, string(pkgerrors.CodeConflict), errorCode(t, duplicate))
}

func TestIdempotencyReleasesKeyOnServerError(t *testing.T) {
	store, mr := newRateStore(t)
	status := http.StatusBadGateway
	calls := 0
	handler := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(status)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, idempotentPost("/api/v1/prescriptions/search", "search-1", `{}`))
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Empty(t, mr.Keys())

	status = http.StatusOK
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, idempotentPost("/api/v1/prescriptions/search", "search-1", `{}`))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, calls)
	assert.Len(t, mr.Keys(), 1)
}

func TestIdempotencyKeysAreScopedPerUser(t *testing.T) {
	store, _ := newRateStore(t)
	calls := 0
	handler := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	for _, user := range []uuid.UUID{uuid.New(), uuid.New()} {
		req := idempotentPost("/api/v1/prescriptions/upload", "upload-1", `{}`)
		req = req.WithContext(WithPrincipal(req.Context(), identity.Principal{ID: user, Role: enums.UserRolePatient}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusCreated, rec.Code)
	}
	assert.Equal(t, 2, calls)
}

func TestIdempotencySkipsUnlistedRoutes(t *testing.T) {
	handler := Idempotency(nil, nil)(http.HandlerFunc(okStatus))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, idempotentPost("/api/v1/auth/register", "", `{}`))
	assert.Equal(t, http.StatusOK, rec.Code)

	store, mr := newRateStore(t)
	handler = Idempotency(store, nil)(http.HandlerFunc(okStatus))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, idempotentPost("/api/v1/auth/login", "", `{}`))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, mr.Keys())
}
