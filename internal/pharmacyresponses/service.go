// Package pharmacyresponses is the append-only ledger of pharmacy stock
// answers and the confirmation step it drives on a prescription.
package pharmacyresponses

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/rxdispatch/rxdispatch-backend/internal/identity"
	"github.com/rxdispatch/rxdispatch-backend/internal/prescriptions"
	"github.com/rxdispatch/rxdispatch-backend/internal/realtime"
	"github.com/rxdispatch/rxdispatch-backend/pkg/config"
	"github.com/rxdispatch/rxdispatch-backend/pkg/db"
	"github.com/rxdispatch/rxdispatch-backend/pkg/db/models"
	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
	pkgerrors "github.com/rxdispatch/rxdispatch-backend/pkg/errors"
	"github.com/rxdispatch/rxdispatch-backend/pkg/logger"
	"github.com/rxdispatch/rxdispatch-backend/pkg/metrics"
	"github.com/rxdispatch/rxdispatch-backend/pkg/outbox"
	"github.com/rxdispatch/rxdispatch-backend/pkg/outbox/payloads"
)

type ServiceParams struct {
	DB              db.TxRunner
	Repo            *Repository
	Prescriptions   *prescriptions.Repository
	Outbox          outbox.Emitter
	Realtime        realtime.Publisher
	Metrics         *metrics.Domain
	Logger          *logger.Logger
	DuplicatePolicy string
}

type Service struct {
	db            db.TxRunner
	repo          *Repository
	prescriptions *prescriptions.Repository
	outbox        outbox.Emitter
	realtime      realtime.Publisher
	metrics       *metrics.Domain
	logg          *logger.Logger
	policy        string
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, errors.New("db is required")
	}
	if params.Repo == nil || params.Prescriptions == nil {
		return nil, errors.New("repositories are required")
	}
	policy := strings.ToLower(strings.TrimSpace(params.DuplicatePolicy))
	switch policy {
	case "":
		policy = config.DuplicateAllow
	case config.DuplicateAllow, config.DuplicateDedupe, config.DuplicateReject:
	default:
		return nil, errors.New("unknown duplicate response policy " + params.DuplicatePolicy)
	}
	return &Service{
		db:            params.DB,
		repo:          params.Repo,
		prescriptions: params.Prescriptions,
		outbox:        params.Outbox,
		realtime:      params.Realtime,
		metrics:       params.Metrics,
		logg:          params.Logger,
		policy:        policy,
	}, nil
}

// SubmitResponse appends the pharmacy's answer and, for an in-stock answer,
// moves the prescription to pharmacy_confirmed. The first confirmation wins;
// later in-stock answers are still recorded but never revert or repeat the
// transition.
func (s *Service) SubmitResponse(ctx context.Context, p identity.Principal, prescriptionID uuid.UUID, in SubmitInput) (*SubmitResult, error) {
	if err := identity.Require(p, identity.OpSubmitResponse); err != nil {
		return nil, err
	}
	if in.Price != nil && !in.Price.GreaterThan(decimal.Zero) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price must be greater than zero").
			WithDetails(map[string]string{"price": "gt=0"})
	}
	if in.Notes != nil {
		trimmed := strings.TrimSpace(*in.Notes)
		if trimmed == "" {
			in.Notes = nil
		} else {
			in.Notes = &trimmed
		}
	}

	target := enums.PrescriptionStatusAwaitingPharmacyResponse
	if in.HasStock {
		target = enums.PrescriptionStatusPharmacyConfirmed
	}

	var (
		result   SubmitResult
		rx       models.Prescription
		inserted bool
	)
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		rxRepo := s.prescriptions.WithTx(tx)
		// The row lock serializes submissions per prescription, so the
		// duplicate check below and the insert act as one step.
		found, err := rxRepo.FindForUpdate(ctx, prescriptionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "prescription not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load prescription")
		}
		rx = *found
		if err := prescriptions.CheckTransition(p, &rx, target); err != nil {
			return err
		}

		repo := s.repo.WithTx(tx)
		pharmacyID := p.ID

		if s.policy != config.DuplicateAllow {
			existing, err := repo.FindFirst(ctx, prescriptionID, pharmacyID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load previous response")
			}
			if existing != nil {
				if s.policy == config.DuplicateReject {
					return pkgerrors.New(pkgerrors.CodeConflict, "pharmacy already responded to this prescription")
				}
				result = SubmitResult{Response: fromModel(*existing), PrescriptionStatus: rx.Status, Outcome: metrics.ResponseDeduped}
				return nil
			}
		}

		row := models.PharmacyResponse{
			PrescriptionID: prescriptionID,
			PharmacyID:     pharmacyID,
			HasStock:       in.HasStock,
			Notes:          in.Notes,
		}
		if in.Price != nil {
			row.Price = decimal.NewNullDecimal(in.Price.Round(2))
		}
		if err := repo.Create(ctx, &row); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record pharmacy response")
		}
		inserted = true

		outcome := metrics.ResponseNoStock
		if in.HasStock {
			confirmed, err := rxRepo.TransitionStatus(ctx, prescriptionID, enums.PrescriptionStatusAwaitingPharmacyResponse, enums.PrescriptionStatusPharmacyConfirmed, nil)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "confirm prescription")
			}
			outcome = metrics.ResponseLate
			if confirmed {
				outcome = metrics.ResponseConfirmed
				from := rx.Status
				rx.Status = enums.PrescriptionStatusPharmacyConfirmed
				if err := prescriptions.EmitStatusChanged(ctx, s.outbox, tx, p, rx, from, nil); err != nil {
					return err
				}
			} else if reloaded, err := rxRepo.FindByID(ctx, prescriptionID); err == nil {
				rx = *reloaded
			}
		}

		if err := s.emitRecorded(ctx, tx, p, row, outcome == metrics.ResponseConfirmed); err != nil {
			return err
		}
		result = SubmitResult{Response: fromModel(row), PrescriptionStatus: rx.Status, Outcome: outcome}
		return nil
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
			s.metrics.IncResponse(metrics.ResponseRefused)
		}
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "submit pharmacy response")
	}

	s.metrics.IncResponse(result.Outcome)
	if inserted {
		s.publish(ctx, realtime.Event{
			Table:    realtime.TablePharmacyResponses,
			Type:     realtime.EventInsert,
			RecordID: result.Response.ID,
			Status:   rx.Status,
			OwnerID:  rx.UserID,
		})
	}
	if result.Outcome == metrics.ResponseConfirmed {
		s.metrics.IncTransition(string(enums.PrescriptionStatusPharmacyConfirmed))
		s.publish(ctx, prescriptions.ChangeEvent(rx, realtime.EventUpdate))
	}
	if s.logg != nil {
		logCtx := s.logg.WithPrescriptionID(ctx, prescriptionID.String())
		logCtx = s.logg.WithField(logCtx, "outcome", result.Outcome)
		s.logg.Info(logCtx, "pharmacy_response.recorded")
	}
	return &result, nil
}

func (s *Service) emitRecorded(ctx context.Context, tx *gorm.DB, p identity.Principal, row models.PharmacyResponse, confirmed bool) error {
	if s.outbox == nil {
		return nil
	}
	var price *decimal.Decimal
	if row.Price.Valid {
		v := row.Price.Decimal
		price = &v
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPharmacyResponseRecorded,
		AggregateType: enums.AggregatePharmacyResponse,
		AggregateID:   row.ID,
		Actor:         prescriptions.ActorOf(p),
		Data: payloads.PharmacyResponseRecordedEvent{
			ResponseID:     row.ID,
			PrescriptionID: row.PrescriptionID,
			PharmacyID:     row.PharmacyID,
			HasStock:       row.HasStock,
			Price:          price,
			Confirmed:      confirmed,
			ResponseDate:   row.ResponseDate,
		},
	})
}

// ListConfirmedOffers returns the in-stock answers for the owner or an admin,
// newest first.
func (s *Service) ListConfirmedOffers(ctx context.Context, p identity.Principal, prescriptionID uuid.UUID) ([]ResponseDTO, error) {
	if err := identity.Require(p, identity.OpViewOffers); err != nil {
		return nil, err
	}
	rx, err := s.prescriptions.FindVisible(ctx, p, prescriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "prescription not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load prescription")
	}
	if !p.Is(enums.UserRoleAdmin) && rx.UserID != p.ID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the owner can view offers")
	}
	rows, err := s.repo.ListConfirmed(ctx, prescriptionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list offers")
	}
	return fromModels(rows), nil
}

// ListResponses is the admin review of every answer, in stock or not.
func (s *Service) ListResponses(ctx context.Context, p identity.Principal, prescriptionID uuid.UUID) ([]ResponseDTO, error) {
	if err := identity.Require(p, identity.OpListResponses); err != nil {
		return nil, err
	}
	exists, err := s.prescriptions.Exists(ctx, prescriptionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load prescription")
	}
	if !exists {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "prescription not found")
	}
	rows, err := s.repo.ListByPrescription(ctx, prescriptionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list responses")
	}
	return fromModels(rows), nil
}

func (s *Service) publish(ctx context.Context, evt realtime.Event) {
	if s.realtime != nil {
		s.realtime.Publish(ctx, evt)
	}
}
