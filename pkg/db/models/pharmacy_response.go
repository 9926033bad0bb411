package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PharmacyResponse is one pharmacy's stock/price answer. Rows are never
// updated or deleted.
type PharmacyResponse struct {
	ID             uuid.UUID           `gorm:"type:uuid;primaryKey"`
	PrescriptionID uuid.UUID           `gorm:"column:prescription_id;type:uuid;not null;index"`
	PharmacyID     uuid.UUID           `gorm:"column:pharmacy_id;type:uuid;not null"`
	HasStock       bool                `gorm:"column:has_stock;not null"`
	Price          decimal.NullDecimal `gorm:"column:price;type:numeric(12,2)"`
	ResponseDate   time.Time           `gorm:"column:response_date;not null"`
	Notes          *string             `gorm:"column:notes"`
}

func (r *PharmacyResponse) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.ResponseDate.IsZero() {
		r.ResponseDate = time.Now().UTC()
	}
	return nil
}
