package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/rxdispatch/rxdispatch-backend/api/responses"
	"github.com/rxdispatch/rxdispatch-backend/api/validators"
	"github.com/rxdispatch/rxdispatch-backend/internal/identity"
	"github.com/rxdispatch/rxdispatch-backend/internal/prescriptions"
	"github.com/rxdispatch/rxdispatch-backend/pkg/logger"
	"github.com/rxdispatch/rxdispatch-backend/pkg/pagination"
)

type RiderTaskService interface {
	ListClaimable(ctx context.Context, p identity.Principal, params pagination.Params) (pagination.Page[prescriptions.PrescriptionDTO], error)
	ListMyTasks(ctx context.Context, p identity.Principal, params pagination.Params) (pagination.Page[prescriptions.PrescriptionDTO], error)
	ClaimTask(ctx context.Context, p identity.Principal, id uuid.UUID) (*prescriptions.PrescriptionDTO, error)
}

type RiderProgressService interface {
	MarkPickedUp(ctx context.Context, p identity.Principal, id uuid.UUID) (*prescriptions.PrescriptionDTO, error)
	MarkDelivered(ctx context.Context, p identity.Principal, id uuid.UUID) (*prescriptions.PrescriptionDTO, error)
}

type taskLister func(ctx context.Context, p identity.Principal, params pagination.Params) (pagination.Page[prescriptions.PrescriptionDTO], error)

type taskAction func(ctx context.Context, p identity.Principal, id uuid.UUID) (*prescriptions.PrescriptionDTO, error)

func RiderAvailableTasks(svc RiderTaskService, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return riderUnavailable(logg)
	}
	return listTasks(svc.ListClaimable, logg)
}

func RiderTasks(svc RiderTaskService, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return riderUnavailable(logg)
	}
	return listTasks(svc.ListMyTasks, logg)
}

// RiderClaim answers 409 when another rider won the task first.
func RiderClaim(svc RiderTaskService, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return riderUnavailable(logg)
	}
	return runTaskAction(svc.ClaimTask, logg)
}

func RiderPickup(svc RiderProgressService, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return riderUnavailable(logg)
	}
	return runTaskAction(svc.MarkPickedUp, logg)
}

func RiderDeliver(svc RiderProgressService, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return riderUnavailable(logg)
	}
	return runTaskAction(svc.MarkDelivered, logg)
}

func listTasks(list taskLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
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

		page, err := list(r.Context(), p, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func runTaskAction(action taskAction, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
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

		dto, err := action(r.Context(), p, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto)
	}
}

func riderUnavailable(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteError(r.Context(), logg, w, unavailable("rider service"))
	}
}
