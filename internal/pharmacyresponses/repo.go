package pharmacyresponses

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rxdispatch/rxdispatch-backend/pkg/db/models"
)

// Repository is append-only: there is no update or delete path for responses.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

func (r *Repository) Create(ctx context.Context, row *models.PharmacyResponse) error {
	return r.db.WithContext(ctx).Create(row).Error
}

// FindFirst returns the earliest response a pharmacy gave for a prescription,
// or nil when there is none.
func (r *Repository) FindFirst(ctx context.Context, prescriptionID, pharmacyID uuid.UUID) (*models.PharmacyResponse, error) {
	var row models.PharmacyResponse
	err := r.db.WithContext(ctx).
		Where("prescription_id = ? AND pharmacy_id = ?", prescriptionID, pharmacyID).
		Order("response_date ASC").
		Order("id ASC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ListConfirmed returns the in-stock offers newest first.
func (r *Repository) ListConfirmed(ctx context.Context, prescriptionID uuid.UUID) ([]models.PharmacyResponse, error) {
	var rows []models.PharmacyResponse
	err := r.db.WithContext(ctx).
		Where("prescription_id = ? AND has_stock = ?", prescriptionID, true).
		Order("response_date DESC").
		Order("id DESC").
		Find(&rows).Error
	return rows, err
}

func (r *Repository) ListByPrescription(ctx context.Context, prescriptionID uuid.UUID) ([]models.PharmacyResponse, error) {
	var rows []models.PharmacyResponse
	err := r.db.WithContext(ctx).
		Where("prescription_id = ?", prescriptionID).
		Order("response_date DESC").
		Order("id DESC").
		Find(&rows).Error
	return rows, err
}
