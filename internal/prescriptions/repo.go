package prescriptions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rxdispatch/rxdispatch-backend/internal/identity"
	"github.com/rxdispatch/rxdispatch-backend/pkg/db/models"
	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
	pkgerrors "github.com/rxdispatch/rxdispatch-backend/pkg/errors"
	"github.com/rxdispatch/rxdispatch-backend/pkg/pagination"
)

// Repository persists prescriptions. Status writes are conditional on the
// expected current state; callers treat zero affected rows as a lost race.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

func (r *Repository) Create(ctx context.Context, rx *models.Prescription) error {
	return r.db.WithContext(ctx).Create(rx).Error
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Prescription, error) {
	var rx models.Prescription
	if err := r.db.WithContext(ctx).First(&rx, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &rx, nil
}

// FindForUpdate loads the row under a row lock held until the transaction
// ends; call it on a repository bound with WithTx.
func (r *Repository) FindForUpdate(ctx context.Context, id uuid.UUID) (*models.Prescription, error) {
	var rx models.Prescription
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&rx, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &rx, nil
}

// FindVisible loads the row only when p may read it; otherwise gorm.ErrRecordNotFound.
func (r *Repository) FindVisible(ctx context.Context, p identity.Principal, id uuid.UUID) (*models.Prescription, error) {
	var rx models.Prescription
	err := r.db.WithContext(ctx).
		Scopes(VisibilityScope(p)).
		First(&rx, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &rx, nil
}

func (r *Repository) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Prescription{}).Where("id = ?", id).Count(&n).Error
	return n > 0, err
}

// ListByOwner returns the owner's prescriptions newest first.
func (r *Repository) ListByOwner(ctx context.Context, ownerID uuid.UUID, params pagination.Params) ([]models.Prescription, error) {
	return r.list(ctx, pagination.NewestFirst, params, func(q *gorm.DB) *gorm.DB {
		return q.Where("user_id = ?", ownerID)
	})
}

// ListByStatus returns rows newest first, optionally narrowed to one status.
func (r *Repository) ListByStatus(ctx context.Context, status *enums.PrescriptionStatus, params pagination.Params) ([]models.Prescription, error) {
	return r.list(ctx, pagination.NewestFirst, params, func(q *gorm.DB) *gorm.DB {
		if status != nil {
			return q.Where("status = ?", *status)
		}
		return q
	})
}

// ListClaimable returns the open pool oldest first.
func (r *Repository) ListClaimable(ctx context.Context, params pagination.Params) ([]models.Prescription, error) {
	return r.list(ctx, pagination.OldestFirst, params, func(q *gorm.DB) *gorm.DB {
		return q.Where("status = ? AND rider_id IS NULL", enums.PrescriptionStatusPending)
	})
}

// ListByRider returns a rider's tasks oldest first.
func (r *Repository) ListByRider(ctx context.Context, riderID uuid.UUID, params pagination.Params) ([]models.Prescription, error) {
	return r.list(ctx, pagination.OldestFirst, params, func(q *gorm.DB) *gorm.DB {
		return q.Where("rider_id = ?", riderID)
	})
}

func (r *Repository) list(ctx context.Context, dir pagination.Direction, params pagination.Params, filter func(*gorm.DB) *gorm.DB) ([]models.Prescription, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	var rows []models.Prescription
	err = r.db.WithContext(ctx).
		Model(&models.Prescription{}).
		Scopes(filter, pagination.Keyset("upload_date", dir, cursor, params.Limit)).
		Find(&rows).Error
	return rows, err
}

// TransitionStatus moves id from one status to another in a single
// compare-and-set UPDATE. When riderID is set the row must also belong to that rider.
func (r *Repository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.PrescriptionStatus, riderID *uuid.UUID) (bool, error) {
	q := r.db.WithContext(ctx).
		Model(&models.Prescription{}).
		Where("id = ? AND status = ?", id, from)
	if riderID != nil {
		q = q.Where("rider_id = ?", *riderID)
	}
	res := q.Updates(map[string]any{
		"status":     to,
		"updated_at": time.Now().UTC(),
	})
	return res.RowsAffected == 1, res.Error
}

// Claim assigns a pending, unassigned row to riderID. It reports false when
// another rider got there first or the row left the pool.
func (r *Repository) Claim(ctx context.Context, id, riderID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Prescription{}).
		Where("id = ? AND status = ? AND rider_id IS NULL", id, enums.PrescriptionStatusPending).
		Updates(map[string]any{
			"status":     enums.PrescriptionStatusAssigned,
			"rider_id":   riderID,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected == 1, res.Error
}

// Reject moves any non-terminal row to rejected, keyed on the status the caller saw.
// rider_id is cleared since a rejected row may not carry one.
func (r *Repository) Reject(ctx context.Context, id uuid.UUID, from enums.PrescriptionStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Prescription{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{
			"status":     enums.PrescriptionStatusRejected,
			"rider_id":   gorm.Expr("NULL"),
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected == 1, res.Error
}

// CountByStatus counts rows, optionally narrowed to one status.
func (r *Repository) CountByStatus(ctx context.Context, status *enums.PrescriptionStatus) (int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Prescription{})
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}

// CursorOf derives the keyset position of a row.
func CursorOf(rx models.Prescription) pagination.Cursor {
	return pagination.Cursor{At: rx.UploadDate, ID: rx.ID}
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
