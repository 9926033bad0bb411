package prescriptions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rxdispatch/rxdispatch-backend/internal/auditlog"
	"github.com/rxdispatch/rxdispatch-backend/internal/identity"
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

const defaultMaxUploadBytes = 10 << 20

// Store is the object storage surface the service uses, with a delete for
// cleaning up after a failed insert.
type Store interface {
	ObjectStore
	DeleteObject(ctx context.Context, object string) error
}

type ServiceParams struct {
	DB              db.TxRunner
	Repo            *Repository
	Outbox          outbox.Emitter
	Audit           *auditlog.Recorder
	Realtime        realtime.Publisher
	Store           Store
	Metrics         *metrics.Domain
	Logger          *logger.Logger
	FulfillmentFlow string
	MaxUploadBytes  int64
}

type Service struct {
	db             db.TxRunner
	repo           *Repository
	outbox         outbox.Emitter
	audit          *auditlog.Recorder
	realtime       realtime.Publisher
	store          Store
	metrics        *metrics.Domain
	logg           *logger.Logger
	initialStatus  enums.PrescriptionStatus
	maxUploadBytes int64
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, errors.New("db is required")
	}
	if params.Repo == nil {
		return nil, errors.New("prescription repository is required")
	}
	if params.Audit == nil {
		return nil, errors.New("audit recorder is required")
	}
	maxBytes := params.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}
	return &Service{
		db:             params.DB,
		repo:           params.Repo,
		outbox:         params.Outbox,
		audit:          params.Audit,
		realtime:       params.Realtime,
		store:          params.Store,
		metrics:        params.Metrics,
		logg:           params.Logger,
		initialStatus:  InitialStatus(params.FulfillmentFlow),
		maxUploadBytes: maxBytes,
	}, nil
}

// CreateUpload stores the image and inserts a prescription in the configured
// initial status.
func (s *Service) CreateUpload(ctx context.Context, p identity.Principal, img Image) (*PrescriptionDTO, error) {
	if err := identity.Require(p, identity.OpUploadPrescription); err != nil {
		return nil, err
	}
	if s.store == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "object storage not configured")
	}
	if int64(len(img.Data)) > s.maxUploadBytes {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("image exceeds %d bytes", s.maxUploadBytes))
	}
	contentType, ext, err := detectImage(img.Data)
	if err != nil {
		return nil, err
	}

	key := objectKey(p.ID, ext)
	if err := s.store.Upload(ctx, key, contentType, bytes.NewReader(img.Data)); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upload prescription image")
	}
	url := s.store.PublicURL(key)

	rx := models.Prescription{
		UserID:   p.ID,
		ImageURL: &url,
		Status:   s.initialStatus,
	}
	if err := s.insert(ctx, p, &rx); err != nil {
		if delErr := s.store.DeleteObject(ctx, key); delErr != nil && s.logg != nil {
			s.logg.Error(s.logg.WithField(ctx, "object", key), "prescriptions.orphan_image_cleanup_failed", delErr)
		}
		return nil, err
	}
	dto := FromModel(rx)
	return &dto, nil
}

// CreateSearchRequest records a digital request for a named medicine; it
// always waits for pharmacy responses regardless of the upload flow.
func (s *Service) CreateSearchRequest(ctx context.Context, p identity.Principal, medicine, strength string) (*PrescriptionDTO, error) {
	if err := identity.Require(p, identity.OpSearchRequest); err != nil {
		return nil, err
	}
	note, err := SearchNote(medicine, strength)
	if err != nil {
		return nil, err
	}
	rx := models.Prescription{
		UserID: p.ID,
		Status: enums.PrescriptionStatusAwaitingPharmacyResponse,
		Notes:  &note,
	}
	if err := s.insert(ctx, p, &rx); err != nil {
		return nil, err
	}
	dto := FromModel(rx)
	return &dto, nil
}

func (s *Service) insert(ctx context.Context, p identity.Principal, rx *models.Prescription) error {
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, rx); err != nil {
			return err
		}
		return emitCreated(ctx, s.outbox, tx, p, *rx)
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create prescription")
	}
	s.publish(ctx, *rx, realtime.EventInsert)
	return nil
}

// Get returns the prescription when p may read it; anything else is NOT_FOUND.
func (s *Service) Get(ctx context.Context, p identity.Principal, id uuid.UUID) (*PrescriptionDTO, error) {
	if err := identity.Require(p, identity.OpViewPrescription); err != nil {
		return nil, err
	}
	rx, err := s.repo.FindVisible(ctx, p, id)
	if err != nil {
		return nil, notFoundOr(err, "load prescription")
	}
	dto := FromModel(*rx)
	return &dto, nil
}

// ListMine lists the caller's own prescriptions, newest first.
func (s *Service) ListMine(ctx context.Context, p identity.Principal, params pagination.Params) (pagination.Page[PrescriptionDTO], error) {
	if err := identity.Require(p, identity.OpListOwnPrescriptions); err != nil {
		return pagination.Page[PrescriptionDTO]{}, err
	}
	rows, err := s.repo.ListByOwner(ctx, p.ID, params)
	return s.page(rows, params, err)
}

// ListPharmacyRequests lists every open request waiting on pharmacies.
func (s *Service) ListPharmacyRequests(ctx context.Context, p identity.Principal, params pagination.Params) (pagination.Page[PrescriptionDTO], error) {
	if err := identity.Require(p, identity.OpListPharmacyRequests); err != nil {
		return pagination.Page[PrescriptionDTO]{}, err
	}
	status := enums.PrescriptionStatusAwaitingPharmacyResponse
	rows, err := s.repo.ListByStatus(ctx, &status, params)
	return s.page(rows, params, err)
}

// ListAll is the admin listing with an optional status filter.
func (s *Service) ListAll(ctx context.Context, p identity.Principal, status *enums.PrescriptionStatus, params pagination.Params) (pagination.Page[PrescriptionDTO], error) {
	if err := identity.Require(p, identity.OpListAllPrescriptions); err != nil {
		return pagination.Page[PrescriptionDTO]{}, err
	}
	if status != nil && !status.IsValid() {
		return pagination.Page[PrescriptionDTO]{}, pkgerrors.New(pkgerrors.CodeValidation, "unknown status")
	}
	rows, err := s.repo.ListByStatus(ctx, status, params)
	return s.page(rows, params, err)
}

func (s *Service) page(rows []models.Prescription, params pagination.Params, err error) (pagination.Page[PrescriptionDTO], error) {
	if err != nil {
		return pagination.Page[PrescriptionDTO]{}, asDomainError(err, "list prescriptions")
	}
	return PageOf(rows, params.Limit), nil
}

// MarkPickedUp moves an assigned task to picked_up for its rider.
func (s *Service) MarkPickedUp(ctx context.Context, p identity.Principal, id uuid.UUID) (*PrescriptionDTO, error) {
	return s.advanceRiderTask(ctx, p, id, enums.PrescriptionStatusPickedUp)
}

// MarkDelivered completes a picked-up task for its rider.
func (s *Service) MarkDelivered(ctx context.Context, p identity.Principal, id uuid.UUID) (*PrescriptionDTO, error) {
	return s.advanceRiderTask(ctx, p, id, enums.PrescriptionStatusDelivered)
}

func (s *Service) advanceRiderTask(ctx context.Context, p identity.Principal, id uuid.UUID, to enums.PrescriptionStatus) (*PrescriptionDTO, error) {
	if err := identity.Require(p, identity.OpProgressTask); err != nil {
		return nil, err
	}
	var updated models.Prescription
	var from enums.PrescriptionStatus
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		rx, err := repo.FindVisible(ctx, p, id)
		if err != nil {
			return notFoundOr(err, "load prescription")
		}
		if err := CheckTransition(p, rx, to); err != nil {
			return err
		}
		from = rx.Status
		ok, err := repo.TransitionStatus(ctx, id, from, to, &p.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update prescription status")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "prescription changed concurrently")
		}
		reloaded, err := repo.FindByID(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload prescription")
		}
		updated = *reloaded
		return EmitStatusChanged(ctx, s.outbox, tx, p, updated, from, nil)
	})
	if err != nil {
		return nil, asDomainError(err, "advance rider task")
	}
	s.metrics.IncTransition(string(to))
	s.publish(ctx, updated, realtime.EventUpdate)
	dto := FromModel(updated)
	return &dto, nil
}

// Reject is the admin override from any non-terminal status. The status write
// and the audit entry commit together.
func (s *Service) Reject(ctx context.Context, p identity.Principal, id uuid.UUID, reason string) (*PrescriptionDTO, error) {
	if err := identity.Require(p, identity.OpRejectPrescription); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}

	var updated models.Prescription
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		rx, err := repo.FindForUpdate(ctx, id)
		if err != nil {
			return notFoundOr(err, "load prescription")
		}
		if err := CheckTransition(p, rx, enums.PrescriptionStatusRejected); err != nil {
			return err
		}
		from := rx.Status
		previousRider := rx.RiderID

		ok, err := repo.Reject(ctx, id, from)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reject prescription")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "prescription changed concurrently")
		}

		meta := map[string]any{
			"previous_status": string(from),
			"new_status":      string(enums.PrescriptionStatusRejected),
		}
		if previousRider != nil {
			meta["previous_rider_id"] = previousRider.String()
		}
		if reasonPtr != nil {
			meta["reason"] = reason
		}
		if _, err := s.audit.Record(ctx, tx, auditlog.Entry{
			ActorID:     ptrUUID(p.ID),
			Action:      enums.AuditActionPrescriptionRejected,
			TargetID:    ptrUUID(id),
			Description: fmt.Sprintf("Prescription rejected (was %s)", from),
			Metadata:    meta,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record audit entry")
		}

		reloaded, err := repo.FindByID(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload prescription")
		}
		updated = *reloaded
		return EmitStatusChanged(ctx, s.outbox, tx, p, updated, from, reasonPtr)
	})
	if err != nil {
		return nil, asDomainError(err, "reject prescription")
	}
	s.metrics.IncTransition(string(enums.PrescriptionStatusRejected))
	s.publish(ctx, updated, realtime.EventUpdate)
	dto := FromModel(updated)
	return &dto, nil
}

func (s *Service) publish(ctx context.Context, rx models.Prescription, typ realtime.EventType) {
	if s.realtime == nil {
		return
	}
	s.realtime.Publish(ctx, ChangeEvent(rx, typ))
}

func notFoundOr(err error, msg string) error {
	if isNotFound(err) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "prescription not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, msg)
}

// asDomainError keeps typed errors from inside a transaction and wraps the rest.
func asDomainError(err error, msg string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, msg)
}
