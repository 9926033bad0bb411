package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
)

// Prescription is a patient's fulfillment request, either an uploaded image or
// a digital search request.
type Prescription struct {
	ID         uuid.UUID                `gorm:"type:uuid;primaryKey"`
	UserID     uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index"`
	ImageURL   *string                  `gorm:"column:image_url"`
	Status     enums.PrescriptionStatus `gorm:"column:status;type:text;not null"`
	UploadDate time.Time                `gorm:"column:upload_date;not null"`
	Notes      *string                  `gorm:"column:notes"`
	RiderID    *uuid.UUID               `gorm:"column:rider_id;type:uuid;index"`
	UpdatedAt  time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Prescription) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.UploadDate.IsZero() {
		p.UploadDate = time.Now().UTC()
	}
	return nil
}
