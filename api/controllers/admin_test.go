package controllers

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/rxdispatch/rxdispatch-backend/internal/auditlog"
	"github.com/rxdispatch/rxdispatch-backend/internal/identity"
	"github.com/rxdispatch/rxdispatch-backend/internal/moderation"
	"github.com/rxdispatch/rxdispatch-backend/internal/pharmacies"
	"github.com/rxdispatch/rxdispatch-backend/internal/prescriptions"
	"github.com/rxdispatch/rxdispatch-backend/internal/users"
	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
	pkgerrors "github.com/rxdispatch/rxdispatch-backend/pkg/errors"
	"github.com/rxdispatch/rxdispatch-backend/pkg/pagination"
)

type stubModeration struct {
	blocked *bool
	role    enums.UserRole
	filter  users.ListFilter
	err     error
}

func (s *stubModeration) SetUserBlocked(ctx context.Context, p identity.Principal, userID uuid.UUID, blocked bool) (*users.UserDTO, error) {
	s.blocked = &blocked
	return &users.UserDTO{ID: userID, IsBlocked: blocked}, s.err
}

func (s *stubModeration) SetUserRole(ctx context.Context, p identity.Principal, userID uuid.UUID, role enums.UserRole) (*users.UserDTO, error) {
	s.role = role
	return &users.UserDTO{ID: userID, Role: role}, s.err
}

func (s *stubModeration) SetPharmacyVerified(ctx context.Context, p identity.Principal, pharmacyID uuid.UUID, verified bool) (*pharmacies.PharmacyDTO, error) {
	return &pharmacies.PharmacyDTO{ID: pharmacyID, IsVerified: verified}, s.err
}

func (s *stubModeration) ListUsers(ctx context.Context, p identity.Principal, filter users.ListFilter, params pagination.Params) (pagination.Page[users.UserDTO], error) {
	s.filter = filter
	return pagination.Page[users.UserDTO]{Items: []users.UserDTO{}}, s.err
}

func (s *stubModeration) DashboardMetrics(ctx context.Context, p identity.Principal) (*moderation.Dashboard, error) {
	return &moderation.Dashboard{TotalPrescriptions: 3}, s.err
}

type stubAdminPrescriptions struct {
	status *enums.PrescriptionStatus
	reason string
}

func (s *stubAdminPrescriptions) ListAll(ctx context.Context, p identity.Principal, status *enums.PrescriptionStatus, params pagination.Params) (pagination.Page[prescriptions.PrescriptionDTO], error) {
	s.status = status
	return pagination.Page[prescriptions.PrescriptionDTO]{}, nil
}

func (s *stubAdminPrescriptions) Reject(ctx context.Context, p identity.Principal, id uuid.UUID, reason string) (*prescriptions.PrescriptionDTO, error) {
	s.reason = reason
	return &prescriptions.PrescriptionDTO{ID: id, Status: enums.PrescriptionStatusRejected}, nil
}

type stubAuditLog struct {
	filter auditlog.Filter
	err    error
}

func (s *stubAuditLog) List(ctx context.Context, p identity.Principal, filter auditlog.Filter, params pagination.Params) (pagination.Page[auditlog.EntryDTO], error) {
	s.filter = filter
	return pagination.Page[auditlog.EntryDTO]{}, s.err
}

func (s *stubAuditLog) Export(ctx context.Context, p identity.Principal, filter auditlog.Filter, w io.Writer) error {
	s.filter = filter
	if s.err != nil {
		return s.err
	}
	_, err := w.Write([]byte("PK\x03\x04"))
	return err
}

func TestAdminSetUserBlockedRequiresFlag(t *testing.T) {
	svc := &stubModeration{}
	params := map[string]string{"userId": uuid.NewString()}

	req := newRequest(http.MethodPatch, "/", strings.NewReader(`{}`), principalOf(enums.UserRoleAdmin), params)
	rec := httptest.NewRecorder()
	AdminSetUserBlocked(svc, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}

	req = newRequest(http.MethodPatch, "/", strings.NewReader(`{"blocked":false}`), principalOf(enums.UserRoleAdmin), params)
	rec = httptest.NewRecorder()
	AdminSetUserBlocked(svc, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if svc.blocked == nil || *svc.blocked {
		t.Fatal("expected explicit unblock to reach the service")
	}
}

func TestAdminSetUserRoleRejectsUnknownRole(t *testing.T) {
	svc := &stubModeration{}
	params := map[string]string{"userId": uuid.NewString()}

	req := newRequest(http.MethodPatch, "/", strings.NewReader(`{"role":"superuser"}`), principalOf(enums.UserRoleAdmin), params)
	rec := httptest.NewRecorder()
	AdminSetUserRole(svc, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}

	req = newRequest(http.MethodPatch, "/", strings.NewReader(`{"role":"rider"}`), principalOf(enums.UserRoleAdmin), params)
	rec = httptest.NewRecorder()
	AdminSetUserRole(svc, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || svc.role != enums.UserRoleRider {
		t.Fatalf("expected rider role applied, got %d %s", rec.Code, svc.role)
	}
}

func TestAdminUsersFilters(t *testing.T) {
	svc := &stubModeration{}

	req := newRequest(http.MethodGet, "/?role=pharmacy&q=acme", nil, principalOf(enums.UserRoleAdmin), nil)
	rec := httptest.NewRecorder()
	AdminUsers(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if svc.filter.Role == nil || *svc.filter.Role != enums.UserRolePharmacy || svc.filter.EmailSearch != "acme" {
		t.Fatalf("unexpected filter %+v", svc.filter)
	}
}

func TestAdminForbiddenFromService(t *testing.T) {
	svc := &stubModeration{err: pkgerrors.New(pkgerrors.CodeForbidden, "operation not permitted")}

	req := newRequest(http.MethodGet, "/", nil, principalOf(enums.UserRolePatient), nil)
	rec := httptest.NewRecorder()
	AdminDashboard(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rec.Code)
	}
}

func TestAdminPrescriptionsStatusFilter(t *testing.T) {
	svc := &stubAdminPrescriptions{}

	req := newRequest(http.MethodGet, "/?status=awaiting_pharmacy_response", nil, principalOf(enums.UserRoleAdmin), nil)
	rec := httptest.NewRecorder()
	AdminPrescriptions(svc, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if svc.status == nil || *svc.status != enums.PrescriptionStatusAwaitingPharmacyResponse {
		t.Fatalf("unexpected status filter %v", svc.status)
	}

	req = newRequest(http.MethodGet, "/?status=lost", nil, principalOf(enums.UserRoleAdmin), nil)
	rec = httptest.NewRecorder()
	AdminPrescriptions(svc, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestAdminRejectRequiresReason(t *testing.T) {
	svc := &stubAdminPrescriptions{}
	params := map[string]string{"prescriptionId": uuid.NewString()}

	req := newRequest(http.MethodPost, "/", strings.NewReader(`{"reason":""}`), principalOf(enums.UserRoleAdmin), params)
	rec := httptest.NewRecorder()
	AdminRejectPrescription(svc, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}

	req = newRequest(http.MethodPost, "/", strings.NewReader(`{"reason":" illegible scan "}`), principalOf(enums.UserRoleAdmin), params)
	rec = httptest.NewRecorder()
	AdminRejectPrescription(svc, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || svc.reason != "illegible scan" {
		t.Fatalf("expected trimmed reason, got %d %q", rec.Code, svc.reason)
	}
}

func TestAdminAuditExportWritesWorkbook(t *testing.T) {
	svc := &stubAuditLog{}

	req := newRequest(http.MethodGet, "/?action=user_blocked", nil, principalOf(enums.UserRoleAdmin), nil)
	rec := httptest.NewRecorder()
	AdminAuditExport(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != xlsxContentType {
		t.Fatalf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), ".xlsx") {
		t.Fatalf("expected attachment filename, got %q", rec.Header().Get("Content-Disposition"))
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")) {
		t.Fatal("expected zip payload")
	}
	if svc.filter.Action == nil || *svc.filter.Action != enums.AuditActionUserBlocked {
		t.Fatalf("unexpected filter %+v", svc.filter)
	}
}

func TestAdminAuditExportFailureIsJSON(t *testing.T) {
	svc := &stubAuditLog{err: pkgerrors.New(pkgerrors.CodeForbidden, "operation not permitted")}

	req := newRequest(http.MethodGet, "/", nil, principalOf(enums.UserRoleRider), nil)
	rec := httptest.NewRecorder()
	AdminAuditExport(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != string(pkgerrors.CodeForbidden) {
		t.Fatalf("expected FORBIDDEN got %s", code)
	}
}

func TestAdminAuditLogsRejectsUnknownAction(t *testing.T) {
	req := newRequest(http.MethodGet, "/?action=nope", nil, principalOf(enums.UserRoleAdmin), nil)
	rec := httptest.NewRecorder()
	AdminAuditLogs(&stubAuditLog{}, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}
