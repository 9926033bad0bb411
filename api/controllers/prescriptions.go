package controllers

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/rxdispatch/rxdispatch-backend/api/responses"
	"github.com/rxdispatch/rxdispatch-backend/api/validators"
	"github.com/rxdispatch/rxdispatch-backend/internal/identity"
	"github.com/rxdispatch/rxdispatch-backend/internal/pharmacyresponses"
	"github.com/rxdispatch/rxdispatch-backend/internal/prescriptions"
	pkgerrors "github.com/rxdispatch/rxdispatch-backend/pkg/errors"
	"github.com/rxdispatch/rxdispatch-backend/pkg/logger"
	"github.com/rxdispatch/rxdispatch-backend/pkg/pagination"
)

// multipartOverhead leaves room for boundaries and headers around the image part.
const multipartOverhead = 1 << 20

type PrescriptionService interface {
	CreateUpload(ctx context.Context, p identity.Principal, img prescriptions.Image) (*prescriptions.PrescriptionDTO, error)
	CreateSearchRequest(ctx context.Context, p identity.Principal, medicine, strength string) (*prescriptions.PrescriptionDTO, error)
	Get(ctx context.Context, p identity.Principal, id uuid.UUID) (*prescriptions.PrescriptionDTO, error)
	ListMine(ctx context.Context, p identity.Principal, params pagination.Params) (pagination.Page[prescriptions.PrescriptionDTO], error)
}

type OfferLister interface {
	ListConfirmedOffers(ctx context.Context, p identity.Principal, prescriptionID uuid.UUID) ([]pharmacyresponses.ResponseDTO, error)
}

type searchRequestBody struct {
	MedicineName string `json:"medicine_name" validate:"required,max=200"`
	Strength     string `json:"strength" validate:"max=100"`
}

// PrescriptionUpload accepts a multipart form with an "image" part.
func PrescriptionUpload(svc PrescriptionService, maxBytes int64, logg *logger.Logger) http.HandlerFunc {
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

		r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
		file, header, err := r.FormFile("image")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "image file is required").WithDetails(map[string]any{"field": "image"}))
			return
		}
		defer file.Close()

		// One byte past the ceiling is enough for the service to reject it.
		data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read image"))
			return
		}

		dto, err := svc.CreateUpload(r.Context(), p, prescriptions.Image{Filename: header.Filename, Data: data})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dto)
	}
}

// PrescriptionSearchRequest records a medicine search as a prescription awaiting pharmacies.
func PrescriptionSearchRequest(svc PrescriptionService, logg *logger.Logger) http.HandlerFunc {
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

		var body searchRequestBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		medicine := validators.SanitizeString(body.MedicineName, 200)
		strength := validators.SanitizeString(body.Strength, 100)
		if strings.TrimSpace(medicine) == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Invalid("medicine_name", "medicine_name is required"))
			return
		}

		dto, err := svc.CreateSearchRequest(r.Context(), p, medicine, strength)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dto)
	}
}

func PrescriptionListMine(svc PrescriptionService, logg *logger.Logger) http.HandlerFunc {
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

		page, err := svc.ListMine(r.Context(), p, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func PrescriptionDetail(svc PrescriptionService, logg *logger.Logger) http.HandlerFunc {
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

		dto, err := svc.Get(r.Context(), p, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto)
	}
}

// PrescriptionOffers lists the in-stock pharmacy responses for the owner.
func PrescriptionOffers(svc OfferLister, logg *logger.Logger) http.HandlerFunc {
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

		offers, err := svc.ListConfirmedOffers(r.Context(), p, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"items": offers})
	}
}
