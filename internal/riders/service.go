// Package riders arbitrates the pool of pending deliveries between riders.
package riders

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rxdispatch/rxdispatch-backend/internal/identity"
	"github.com/rxdispatch/rxdispatch-backend/internal/prescriptions"
	"github.com/rxdispatch/rxdispatch-backend/internal/realtime"
	"github.com/rxdispatch/rxdispatch-backend/pkg/db"
	"github.com/rxdispatch/rxdispatch-backend/pkg/db/models"
	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
	pkgerrors "github.com/rxdispatch/rxdispatch-backend/pkg/errors"
	"github.com/rxdispatch/rxdispatch-backend/pkg/logger"
	"github.com/rxdispatch/rxdispatch-backend/pkg/metrics"
	"github.com/rxdispatch/rxdispatch-backend/pkg/outbox"
	"github.com/rxdispatch/rxdispatch-backend/pkg/pagination"
)

type ServiceParams struct {
	DB       db.TxRunner
	Repo     *prescriptions.Repository
	Outbox   outbox.Emitter
	Realtime realtime.Publisher
	Metrics  *metrics.Domain
	Logger   *logger.Logger
}

type Service struct {
	db       db.TxRunner
	repo     *prescriptions.Repository
	outbox   outbox.Emitter
	realtime realtime.Publisher
	metrics  *metrics.Domain
	logg     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, errors.New("db is required")
	}
	if params.Repo == nil {
		return nil, errors.New("prescription repository is required")
	}
	return &Service{
		db:       params.DB,
		repo:     params.Repo,
		outbox:   params.Outbox,
		realtime: params.Realtime,
		metrics:  params.Metrics,
		logg:     params.Logger,
	}, nil
}

// ListClaimable returns pending, unassigned prescriptions oldest first.
func (s *Service) ListClaimable(ctx context.Context, p identity.Principal, params pagination.Params) (pagination.Page[prescriptions.PrescriptionDTO], error) {
	if err := identity.Require(p, identity.OpListClaimable); err != nil {
		return pagination.Page[prescriptions.PrescriptionDTO]{}, err
	}
	rows, err := s.repo.ListClaimable(ctx, params)
	return page(rows, params, err)
}

// ListMyTasks returns everything assigned to the caller, oldest first.
func (s *Service) ListMyTasks(ctx context.Context, p identity.Principal, params pagination.Params) (pagination.Page[prescriptions.PrescriptionDTO], error) {
	if err := identity.Require(p, identity.OpListOwnTasks); err != nil {
		return pagination.Page[prescriptions.PrescriptionDTO]{}, err
	}
	rows, err := s.repo.ListByRider(ctx, p.ID, params)
	return page(rows, params, err)
}

// ClaimTask assigns a pending prescription to the calling rider. The single
// conditional UPDATE decides between concurrent claimants; losers get
// CONFLICT. Rows riders never see are NOT_FOUND, same as missing ones.
func (s *Service) ClaimTask(ctx context.Context, p identity.Principal, id uuid.UUID) (*prescriptions.PrescriptionDTO, error) {
	if err := identity.Require(p, identity.OpClaimTask); err != nil {
		return nil, err
	}

	var claimed models.Prescription
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.Claim(ctx, id, p.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claim task")
		}
		if !ok {
			return s.claimRefusal(ctx, repo, id)
		}
		rx, err := repo.FindByID(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload task")
		}
		claimed = *rx
		return prescriptions.EmitStatusChanged(ctx, s.outbox, tx, p, claimed, enums.PrescriptionStatusPending, nil)
	})
	if err != nil {
		switch pkgerrors.CodeOf(err) {
		case pkgerrors.CodeConflict:
			s.metrics.IncClaim(metrics.ClaimConflict)
		case pkgerrors.CodeNotFound:
			s.metrics.IncClaim(metrics.ClaimNotFound)
		}
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claim task")
	}

	s.metrics.IncClaim(metrics.ClaimClaimed)
	s.metrics.IncTransition(string(enums.PrescriptionStatusAssigned))
	if s.realtime != nil {
		s.realtime.Publish(ctx, prescriptions.ChangeEvent(claimed, realtime.EventUpdate))
	}
	if s.logg != nil {
		logCtx := s.logg.WithPrescriptionID(ctx, id.String())
		s.logg.Info(s.logg.WithUserID(logCtx, p.ID.String()), "prescription.claimed")
	}
	dto := prescriptions.FromModel(claimed)
	return &dto, nil
}

// claimRefusal explains a claim that updated nothing. Only rows that entered
// the delivery pool report CONFLICT.
func (s *Service) claimRefusal(ctx context.Context, repo *prescriptions.Repository, id uuid.UUID) error {
	rx, err := repo.FindByID(ctx, id)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load task")
	}
	if err != nil || !inDeliveryPool(rx.Status) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "task not found")
	}
	return pkgerrors.New(pkgerrors.CodeConflict, "task is no longer available")
}

func inDeliveryPool(status enums.PrescriptionStatus) bool {
	switch status {
	case enums.PrescriptionStatusPending,
		enums.PrescriptionStatusAssigned,
		enums.PrescriptionStatusPickedUp,
		enums.PrescriptionStatusDelivered:
		return true
	}
	return false
}

func page(rows []models.Prescription, params pagination.Params, err error) (pagination.Page[prescriptions.PrescriptionDTO], error) {
	if err != nil {
		if pkgerrors.As(err) != nil {
			return pagination.Page[prescriptions.PrescriptionDTO]{}, err
		}
		return pagination.Page[prescriptions.PrescriptionDTO]{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list tasks")
	}
	return prescriptions.PageOf(rows, params.Limit), nil
}
