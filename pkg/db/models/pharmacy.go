package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Pharmacy is the registered business, distinct from the principal acting for it.
type Pharmacy struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Name         string     `gorm:"column:name;not null"`
	Address      string     `gorm:"column:address;not null"`
	ContactEmail string     `gorm:"column:contact_email;not null"`
	PhoneNumber  string     `gorm:"column:phone_number;not null"`
	IsVerified   bool       `gorm:"column:is_verified;not null;default:false"`
	OwnerUserID  *uuid.UUID `gorm:"column:owner_user_id;type:uuid"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (p *Pharmacy) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
