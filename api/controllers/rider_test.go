package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/rxdispatch/rxdispatch-backend/internal/identity"
	"github.com/rxdispatch/rxdispatch-backend/internal/prescriptions"
	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
	pkgerrors "github.com/rxdispatch/rxdispatch-backend/pkg/errors"
	"github.com/rxdispatch/rxdispatch-backend/pkg/pagination"
)

type stubRiderService struct {
	claimErr error
	claimed  uuid.UUID
	cursor   string
}

func (s *stubRiderService) ListClaimable(ctx context.Context, p identity.Principal, params pagination.Params) (pagination.Page[prescriptions.PrescriptionDTO], error) {
	s.cursor = params.Cursor
	return pagination.Page[prescriptions.PrescriptionDTO]{Items: []prescriptions.PrescriptionDTO{}}, nil
}

func (s *stubRiderService) ListMyTasks(ctx context.Context, p identity.Principal, params pagination.Params) (pagination.Page[prescriptions.PrescriptionDTO], error) {
	return pagination.Page[prescriptions.PrescriptionDTO]{}, nil
}

func (s *stubRiderService) ClaimTask(ctx context.Context, p identity.Principal, id uuid.UUID) (*prescriptions.PrescriptionDTO, error) {
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	s.claimed = id
	rider := p.ID
	return &prescriptions.PrescriptionDTO{ID: id, Status: enums.PrescriptionStatusAssigned, RiderID: &rider}, nil
}

type stubProgressService struct {
	last enums.PrescriptionStatus
}

func (s *stubProgressService) MarkPickedUp(ctx context.Context, p identity.Principal, id uuid.UUID) (*prescriptions.PrescriptionDTO, error) {
	s.last = enums.PrescriptionStatusPickedUp
	return &prescriptions.PrescriptionDTO{ID: id, Status: s.last}, nil
}

func (s *stubProgressService) MarkDelivered(ctx context.Context, p identity.Principal, id uuid.UUID) (*prescriptions.PrescriptionDTO, error) {
	s.last = enums.PrescriptionStatusDelivered
	return &prescriptions.PrescriptionDTO{ID: id, Status: s.last}, nil
}

func TestRiderClaimSuccess(t *testing.T) {
	svc := &stubRiderService{}
	id := uuid.New()

	req := newRequest(http.MethodPost, "/", nil, principalOf(enums.UserRoleRider), map[string]string{"prescriptionId": id.String()})
	rec := httptest.NewRecorder()
	RiderClaim(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if svc.claimed != id {
		t.Fatalf("expected claim of %s got %s", id, svc.claimed)
	}
}

func TestRiderClaimLostRaceIsConflict(t *testing.T) {
	svc := &stubRiderService{claimErr: pkgerrors.New(pkgerrors.CodeConflict, "task is no longer available")}

	req := newRequest(http.MethodPost, "/", nil, principalOf(enums.UserRoleRider), map[string]string{"prescriptionId": uuid.NewString()})
	rec := httptest.NewRecorder()
	RiderClaim(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != string(pkgerrors.CodeConflict) {
		t.Fatalf("expected CONFLICT got %s", code)
	}
}

func TestRiderClaimRejectsMalformedID(t *testing.T) {
	req := newRequest(http.MethodPost, "/", nil, principalOf(enums.UserRoleRider), map[string]string{"prescriptionId": "not-a-uuid"})
	rec := httptest.NewRecorder()
	RiderClaim(&stubRiderService{}, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestRiderAvailableTasksRejectsBadCursor(t *testing.T) {
	req := newRequest(http.MethodGet, "/?cursor=garbage!", nil, principalOf(enums.UserRoleRider), nil)
	rec := httptest.NewRecorder()
	RiderAvailableTasks(&stubRiderService{}, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestRiderProgressRoutes(t *testing.T) {
	svc := &stubProgressService{}
	id := uuid.New()

	for _, tc := range []struct {
		handler http.HandlerFunc
		want    enums.PrescriptionStatus
	}{
		{RiderPickup(svc, nil), enums.PrescriptionStatusPickedUp},
		{RiderDeliver(svc, nil), enums.PrescriptionStatusDelivered},
	} {
		req := newRequest(http.MethodPost, "/", nil, principalOf(enums.UserRoleRider), map[string]string{"prescriptionId": id.String()})
		rec := httptest.NewRecorder()
		tc.handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 got %d", rec.Code)
		}
		if svc.last != tc.want {
			t.Fatalf("expected %s got %s", tc.want, svc.last)
		}
	}
}

func TestRiderHandlersWithoutService(t *testing.T) {
	req := newRequest(http.MethodGet, "/", nil, principalOf(enums.UserRoleRider), nil)
	rec := httptest.NewRecorder()
	RiderTasks(nil, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rec.Code)
	}
}
