// Package moderation is the admin surface: account blocking and roles,
// pharmacy verification, and the dashboard counters. Every flag change is
// written together with its audit entry.
package moderation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rxdispatch/rxdispatch-backend/internal/auditlog"
	"github.com/rxdispatch/rxdispatch-backend/internal/identity"
	"github.com/rxdispatch/rxdispatch-backend/internal/pharmacies"
	"github.com/rxdispatch/rxdispatch-backend/internal/prescriptions"
	"github.com/rxdispatch/rxdispatch-backend/internal/users"
	"github.com/rxdispatch/rxdispatch-backend/pkg/db"
	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
	pkgerrors "github.com/rxdispatch/rxdispatch-backend/pkg/errors"
	"github.com/rxdispatch/rxdispatch-backend/pkg/logger"
	"github.com/rxdispatch/rxdispatch-backend/pkg/metrics"
	"github.com/rxdispatch/rxdispatch-backend/pkg/outbox"
	"github.com/rxdispatch/rxdispatch-backend/pkg/outbox/payloads"
	"github.com/rxdispatch/rxdispatch-backend/pkg/pagination"
)

// sessionRevoker drops every refresh session of a user.
type sessionRevoker interface {
	RevokeAll(ctx context.Context, userID uuid.UUID) error
}

type ServiceParams struct {
	DB            db.TxRunner
	Users         *users.Repository
	Pharmacies    *pharmacies.Repository
	Prescriptions *prescriptions.Repository
	Audit         *auditlog.Recorder
	Outbox        outbox.Emitter
	Sessions      sessionRevoker
	Metrics       *metrics.Domain
	Logger        *logger.Logger
}

type Service struct {
	db            db.TxRunner
	users         *users.Repository
	pharmacies    *pharmacies.Repository
	prescriptions *prescriptions.Repository
	audit         *auditlog.Recorder
	outbox        outbox.Emitter
	sessions      sessionRevoker
	metrics       *metrics.Domain
	logg          *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.DB == nil:
		return nil, errors.New("db is required")
	case params.Users == nil || params.Pharmacies == nil || params.Prescriptions == nil:
		return nil, errors.New("repositories are required")
	case params.Audit == nil:
		return nil, errors.New("audit recorder is required")
	}
	return &Service{
		db:            params.DB,
		users:         params.Users,
		pharmacies:    params.Pharmacies,
		prescriptions: params.Prescriptions,
		audit:         params.Audit,
		outbox:        params.Outbox,
		sessions:      params.Sessions,
		metrics:       params.Metrics,
		logg:          params.Logger,
	}, nil
}

func blockLabel(blocked bool) string {
	if blocked {
		return "blocked"
	}
	return "active"
}

func verifyLabel(verified bool) string {
	if verified {
		return "verified"
	}
	return "unverified"
}

// SetUserBlocked flips the account flag. Blocking also drops the user's
// refresh sessions once the change has committed.
func (s *Service) SetUserBlocked(ctx context.Context, p identity.Principal, userID uuid.UUID, blocked bool) (*users.UserDTO, error) {
	if err := identity.Require(p, identity.OpBlockUser); err != nil {
		return nil, err
	}
	if blocked && userID == p.ID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "admins cannot block their own account")
	}

	action := enums.AuditActionUserUnblocked
	if blocked {
		action = enums.AuditActionUserBlocked
	}

	var out *users.UserDTO
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.users.WithTx(tx)
		user, err := repo.FindByIDForUpdate(ctx, userID)
		if err != nil {
			return notFoundOr(err, "user")
		}
		previous := user.IsBlocked
		if err := repo.SetBlocked(ctx, userID, blocked); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update user")
		}
		verb := "Unblocked"
		if blocked {
			verb = "Blocked"
		}
		if _, err := s.audit.Record(ctx, tx, auditlog.Entry{
			ActorID:     &p.ID,
			Action:      action,
			TargetID:    &userID,
			Description: fmt.Sprintf("%s user %s", verb, user.Email),
			Metadata: map[string]any{
				"previous_status": blockLabel(previous),
				"new_status":      blockLabel(blocked),
				"email":           user.Email,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record audit entry")
		}
		if err := s.emit(ctx, tx, p, enums.EventUserBlockChanged, enums.AggregateUser, userID, payloads.UserBlockChangedEvent{
			UserID:    userID,
			IsBlocked: blocked,
			ActorID:   p.ID,
		}); err != nil {
			return err
		}
		user.IsBlocked = blocked
		out = users.FromModel(user)
		return nil
	})
	if err != nil {
		return nil, domainError(err, "set user blocked")
	}

	s.metrics.IncModeration(string(action))
	logCtx := ctx
	if s.logg != nil {
		logCtx = s.logg.WithUserID(ctx, userID.String())
	}
	if blocked && s.sessions != nil {
		if err := s.sessions.RevokeAll(ctx, userID); err != nil && s.logg != nil {
			s.logg.Error(logCtx, "moderation.revoke_sessions_failed", err)
		}
	}
	if s.logg != nil {
		if blocked {
			s.logg.Info(logCtx, "moderation.user_blocked")
		} else {
			s.logg.Info(logCtx, "moderation.user_unblocked")
		}
	}
	return out, nil
}

// SetUserRole assigns a platform role. The previous role is read under lock
// so the audit entry records what was actually replaced.
func (s *Service) SetUserRole(ctx context.Context, p identity.Principal, userID uuid.UUID, role enums.UserRole) (*users.UserDTO, error) {
	if err := identity.Require(p, identity.OpChangeUserRole); err != nil {
		return nil, err
	}
	if !role.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown role").
			WithDetails(map[string]string{"role": string(role)})
	}
	if userID == p.ID && role != enums.UserRoleAdmin {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "admins cannot demote their own account")
	}

	var out *users.UserDTO
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.users.WithTx(tx)
		user, err := repo.FindByIDForUpdate(ctx, userID)
		if err != nil {
			return notFoundOr(err, "user")
		}
		previous := user.Role
		if err := repo.SetRole(ctx, userID, role); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update user role")
		}
		if _, err := s.audit.Record(ctx, tx, auditlog.Entry{
			ActorID:     &p.ID,
			Action:      enums.AuditActionUserRoleChanged,
			TargetID:    &userID,
			Description: fmt.Sprintf("Changed role of %s from %s to %s", user.Email, previous, role),
			Metadata: map[string]any{
				"previous_status": string(previous),
				"new_status":      string(role),
				"email":           user.Email,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record audit entry")
		}
		if err := s.emit(ctx, tx, p, enums.EventUserRoleChanged, enums.AggregateUser, userID, payloads.UserRoleChangedEvent{
			UserID:   userID,
			Previous: previous,
			Role:     role,
			ActorID:  p.ID,
		}); err != nil {
			return err
		}
		user.Role = role
		out = users.FromModel(user)
		return nil
	})
	if err != nil {
		return nil, domainError(err, "set user role")
	}
	s.metrics.IncModeration(string(enums.AuditActionUserRoleChanged))
	return out, nil
}

// SetPharmacyVerified flips the verification flag of a pharmacy.
func (s *Service) SetPharmacyVerified(ctx context.Context, p identity.Principal, pharmacyID uuid.UUID, verified bool) (*pharmacies.PharmacyDTO, error) {
	if err := identity.Require(p, identity.OpVerifyPharmacy); err != nil {
		return nil, err
	}
	action := enums.AuditActionPharmacyUnverified
	if verified {
		action = enums.AuditActionPharmacyVerified
	}

	var out pharmacies.PharmacyDTO
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.pharmacies.WithTx(tx)
		pharmacy, err := repo.FindByIDForUpdate(ctx, pharmacyID)
		if err != nil {
			return notFoundOr(err, "pharmacy")
		}
		previous := pharmacy.IsVerified
		if err := repo.SetVerified(ctx, pharmacyID, verified); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update pharmacy")
		}
		verb := "Unverified"
		if verified {
			verb = "Verified"
		}
		if _, err := s.audit.Record(ctx, tx, auditlog.Entry{
			ActorID:     &p.ID,
			Action:      action,
			TargetID:    &pharmacyID,
			Description: fmt.Sprintf("%s pharmacy %s", verb, pharmacy.Name),
			Metadata: map[string]any{
				"previous_status": verifyLabel(previous),
				"new_status":      verifyLabel(verified),
				"pharmacy_name":   pharmacy.Name,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record audit entry")
		}
		if err := s.emit(ctx, tx, p, enums.EventPharmacyVerifyChanged, enums.AggregatePharmacy, pharmacyID, payloads.PharmacyVerifyChangedEvent{
			PharmacyID: pharmacyID,
			IsVerified: verified,
			ActorID:    p.ID,
		}); err != nil {
			return err
		}
		pharmacy.IsVerified = verified
		out = pharmacies.FromModel(*pharmacy)
		return nil
	})
	if err != nil {
		return nil, domainError(err, "set pharmacy verified")
	}
	s.metrics.IncModeration(string(action))
	return &out, nil
}

// ListUsers is the admin directory, newest accounts first.
func (s *Service) ListUsers(ctx context.Context, p identity.Principal, filter users.ListFilter, params pagination.Params) (pagination.Page[users.UserDTO], error) {
	if err := identity.Require(p, identity.OpListUsers); err != nil {
		return pagination.Page[users.UserDTO]{}, err
	}
	if filter.Role != nil && !filter.Role.IsValid() {
		return pagination.Page[users.UserDTO]{}, pkgerrors.New(pkgerrors.CodeValidation, "unknown role")
	}
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return pagination.Page[users.UserDTO]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, _, err := s.users.List(ctx, filter, params)
	if err != nil {
		return pagination.Page[users.UserDTO]{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list users")
	}
	page := pagination.BuildPage(rows, params.Limit, users.CursorOf)
	return pagination.Page[users.UserDTO]{Items: users.FromModels(page.Items), NextCursor: page.NextCursor}, nil
}

// Dashboard is the admin overview.
type Dashboard struct {
	TotalPrescriptions     int64 `json:"total_prescriptions"`
	PendingPrescriptions   int64 `json:"pending_prescriptions"`
	ConfirmedPrescriptions int64 `json:"confirmed_prescriptions"`
	RegisteredPharmacies   int64 `json:"registered_pharmacies"`
	ActiveUsers            int64 `json:"active_users"`
}

// DashboardMetrics counts pending as awaiting_pharmacy_response and confirmed
// as pharmacy_confirmed; active users are the non-blocked ones.
func (s *Service) DashboardMetrics(ctx context.Context, p identity.Principal) (*Dashboard, error) {
	if err := identity.Require(p, identity.OpViewDashboard); err != nil {
		return nil, err
	}
	var (
		out       Dashboard
		err       error
		awaiting  = enums.PrescriptionStatusAwaitingPharmacyResponse
		confirmed = enums.PrescriptionStatusPharmacyConfirmed
	)
	if out.TotalPrescriptions, err = s.prescriptions.CountByStatus(ctx, nil); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count prescriptions")
	}
	if out.PendingPrescriptions, err = s.prescriptions.CountByStatus(ctx, &awaiting); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count prescriptions")
	}
	if out.ConfirmedPrescriptions, err = s.prescriptions.CountByStatus(ctx, &confirmed); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count prescriptions")
	}
	if out.RegisteredPharmacies, err = s.pharmacies.Count(ctx); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count pharmacies")
	}
	if out.ActiveUsers, err = s.users.CountActive(ctx); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count users")
	}
	return &out, nil
}

func (s *Service) emit(ctx context.Context, tx *gorm.DB, p identity.Principal, typ enums.OutboxEventType, agg enums.OutboxAggregateType, id uuid.UUID, data any) error {
	if s.outbox == nil {
		return nil
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     typ,
		AggregateType: agg,
		AggregateID:   id,
		Actor:         prescriptions.ActorOf(p),
		Data:          data,
	})
}

func notFoundOr(err error, entity string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, entity+" not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load "+entity)
}

func domainError(err error, msg string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, msg)
}
