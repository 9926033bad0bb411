package pharmacies

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rxdispatch/rxdispatch-backend/pkg/db/models"
	pkgerrors "github.com/rxdispatch/rxdispatch-backend/pkg/errors"
	"github.com/rxdispatch/rxdispatch-backend/pkg/pagination"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

func (r *Repository) Create(ctx context.Context, pharmacy *models.Pharmacy) error {
	return r.db.WithContext(ctx).Create(pharmacy).Error
}

// FindByIDForUpdate locks the row until the surrounding transaction ends.
func (r *Repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Pharmacy, error) {
	var pharmacy models.Pharmacy
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&pharmacy, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &pharmacy, nil
}

func (r *Repository) SetVerified(ctx context.Context, id uuid.UUID, verified bool) error {
	return r.db.WithContext(ctx).
		Model(&models.Pharmacy{}).
		Where("id = ?", id).
		Update("is_verified", verified).Error
}

// List returns pharmacies newest first, keyset-paginated on (created_at, id).
func (r *Repository) List(ctx context.Context, params pagination.Params) ([]models.Pharmacy, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	var rows []models.Pharmacy
	err = r.db.WithContext(ctx).
		Model(&models.Pharmacy{}).
		Scopes(pagination.Keyset("created_at", pagination.NewestFirst, cursor, params.Limit)).
		Find(&rows).Error
	return rows, err
}

func (r *Repository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Pharmacy{}).Count(&n).Error
	return n, err
}

// VerifiedOwnerIDs lists the accounts operating verified pharmacies.
func (r *Repository) VerifiedOwnerIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Pharmacy{}).
		Where("is_verified = ? AND owner_user_id IS NOT NULL", true).
		Distinct().
		Pluck("owner_user_id", &ids).Error
	return ids, err
}

func CursorOf(p models.Pharmacy) pagination.Cursor {
	return pagination.Cursor{At: p.CreatedAt, ID: p.ID}
}

func stamp(p *models.Pharmacy) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
}
