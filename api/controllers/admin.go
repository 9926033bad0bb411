package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/rxdispatch/rxdispatch-backend/api/responses"
	"github.com/rxdispatch/rxdispatch-backend/api/validators"
	"github.com/rxdispatch/rxdispatch-backend/internal/identity"
	"github.com/rxdispatch/rxdispatch-backend/internal/moderation"
	"github.com/rxdispatch/rxdispatch-backend/internal/pharmacies"
	"github.com/rxdispatch/rxdispatch-backend/internal/pharmacyresponses"
	"github.com/rxdispatch/rxdispatch-backend/internal/prescriptions"
	"github.com/rxdispatch/rxdispatch-backend/internal/users"
	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
	pkgerrors "github.com/rxdispatch/rxdispatch-backend/pkg/errors"
	"github.com/rxdispatch/rxdispatch-backend/pkg/logger"
	"github.com/rxdispatch/rxdispatch-backend/pkg/pagination"
)

type ModerationService interface {
	SetUserBlocked(ctx context.Context, p identity.Principal, userID uuid.UUID, blocked bool) (*users.UserDTO, error)
	SetUserRole(ctx context.Context, p identity.Principal, userID uuid.UUID, role enums.UserRole) (*users.UserDTO, error)
	SetPharmacyVerified(ctx context.Context, p identity.Principal, pharmacyID uuid.UUID, verified bool) (*pharmacies.PharmacyDTO, error)
	ListUsers(ctx context.Context, p identity.Principal, filter users.ListFilter, params pagination.Params) (pagination.Page[users.UserDTO], error)
	DashboardMetrics(ctx context.Context, p identity.Principal) (*moderation.Dashboard, error)
}

type PharmacyDirectory interface {
	ListPharmacies(ctx context.Context, p identity.Principal, params pagination.Params) (pagination.Page[pharmacies.PharmacyDTO], error)
}

type AdminPrescriptionService interface {
	ListAll(ctx context.Context, p identity.Principal, status *enums.PrescriptionStatus, params pagination.Params) (pagination.Page[prescriptions.PrescriptionDTO], error)
	Reject(ctx context.Context, p identity.Principal, id uuid.UUID, reason string) (*prescriptions.PrescriptionDTO, error)
}

type ResponseAuditor interface {
	ListResponses(ctx context.Context, p identity.Principal, prescriptionID uuid.UUID) ([]pharmacyresponses.ResponseDTO, error)
}

type blockedBody struct {
	Blocked *bool `json:"blocked" validate:"required"`
}

type roleBody struct {
	Role string `json:"role" validate:"required"`
}

type verifiedBody struct {
	Verified *bool `json:"verified" validate:"required"`
}

type rejectBody struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func AdminDashboard(svc ModerationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("moderation service"))
			return
		}
		p, err := principalFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dashboard, err := svc.DashboardMetrics(r.Context(), p)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dashboard)
	}
}

// AdminUsers supports ?role= and ?q= (email substring) filters.
func AdminUsers(svc ModerationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("moderation service"))
			return
		}
		p, err := principalFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		filter := users.ListFilter{EmailSearch: validators.SanitizeString(r.URL.Query().Get("q"), 200)}
		if raw := strings.TrimSpace(r.URL.Query().Get("role")); raw != "" {
			role, err := enums.ParseUserRole(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid role").WithDetails(map[string]any{"field": "role"}))
				return
			}
			filter.Role = &role
		}

		page, err := svc.ListUsers(r.Context(), p, filter, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func AdminSetUserBlocked(svc ModerationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("moderation service"))
			return
		}
		p, err := principalFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		userID, err := validators.ParseURLParamUUID(r, "userId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body blockedBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dto, err := svc.SetUserBlocked(r.Context(), p, userID, *body.Blocked)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto)
	}
}

func AdminSetUserRole(svc ModerationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("moderation service"))
			return
		}
		p, err := principalFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		userID, err := validators.ParseURLParamUUID(r, "userId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body roleBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		role, err := enums.ParseUserRole(body.Role)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid role").WithDetails(map[string]any{"field": "role"}))
			return
		}

		dto, err := svc.SetUserRole(r.Context(), p, userID, role)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto)
	}
}

func AdminPharmacies(svc PharmacyDirectory, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("pharmacy service"))
			return
		}
		p, err := principalFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.ListPharmacies(r.Context(), p, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func AdminSetPharmacyVerified(svc ModerationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("moderation service"))
			return
		}
		p, err := principalFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		pharmacyID, err := validators.ParseURLParamUUID(r, "pharmacyId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body verifiedBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dto, err := svc.SetPharmacyVerified(r.Context(), p, pharmacyID, *body.Verified)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto)
	}
}

// AdminPrescriptions lists every prescription, optionally filtered by ?status=.
func AdminPrescriptions(svc AdminPrescriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("prescription service"))
			return
		}
		p, err := principalFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var status *enums.PrescriptionStatus
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			parsed, err := enums.ParsePrescriptionStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status").WithDetails(map[string]any{"field": "status"}))
				return
			}
			status = &parsed
		}

		page, err := svc.ListAll(r.Context(), p, status, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func AdminRejectPrescription(svc AdminPrescriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("prescription service"))
			return
		}
		p, err := principalFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.ParseURLParamUUID(r, "prescriptionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body rejectBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dto, err := svc.Reject(r.Context(), p, id, validators.SanitizeString(body.Reason, 500))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto)
	}
}

func AdminPrescriptionResponses(svc ResponseAuditor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("response service"))
			return
		}
		p, err := principalFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.ParseURLParamUUID(r, "prescriptionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.ListResponses(r.Context(), p, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"items": rows})
	}
}
