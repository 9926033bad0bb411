package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rxdispatch/rxdispatch-backend/api/responses"
	"github.com/rxdispatch/rxdispatch-backend/api/validators"
	"github.com/rxdispatch/rxdispatch-backend/internal/identity"
	"github.com/rxdispatch/rxdispatch-backend/internal/pharmacies"
	"github.com/rxdispatch/rxdispatch-backend/internal/pharmacyresponses"
	"github.com/rxdispatch/rxdispatch-backend/internal/prescriptions"
	"github.com/rxdispatch/rxdispatch-backend/pkg/logger"
	"github.com/rxdispatch/rxdispatch-backend/pkg/pagination"
)

type PharmacyRequestLister interface {
	ListPharmacyRequests(ctx context.Context, p identity.Principal, params pagination.Params) (pagination.Page[prescriptions.PrescriptionDTO], error)
}

type ResponseSubmitter interface {
	SubmitResponse(ctx context.Context, p identity.Principal, prescriptionID uuid.UUID, in pharmacyresponses.SubmitInput) (*pharmacyresponses.SubmitResult, error)
}

type PharmacyRegistrar interface {
	RegisterPharmacy(ctx context.Context, p identity.Principal, in pharmacies.RegisterInput) (*pharmacies.PharmacyDTO, error)
}

type submitResponseBody struct {
	HasStock *bool            `json:"has_stock" validate:"required"`
	Price    *decimal.Decimal `json:"price" validate:"omitempty,money"`
	Notes    *string          `json:"notes" validate:"omitempty,max=1000"`
}

// PharmacyRequests lists prescriptions still waiting for pharmacy answers.
func PharmacyRequests(svc PharmacyRequestLister, logg *logger.Logger) http.HandlerFunc {
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

		page, err := svc.ListPharmacyRequests(r.Context(), p, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func PharmacySubmitResponse(svc ResponseSubmitter, logg *logger.Logger) http.HandlerFunc {
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

		var body submitResponseBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.SubmitResponse(r.Context(), p, id, pharmacyresponses.SubmitInput{
			HasStock: *body.HasStock,
			Price:    body.Price,
			Notes:    body.Notes,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

func PharmacyRegister(svc PharmacyRegistrar, logg *logger.Logger) http.HandlerFunc {
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

		var body pharmacies.RegisterInput
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dto, err := svc.RegisterPharmacy(r.Context(), p, body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dto)
	}
}
