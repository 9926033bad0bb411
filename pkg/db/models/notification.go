package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
)

// Notification is an in-app message addressed to one user. EventID plus UserID
// is unique so redelivered events never duplicate a row.
type Notification struct {
	ID             uuid.UUID              `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID         uuid.UUID              `gorm:"column:user_id;type:uuid;not null" json:"user_id"`
	EventID        uuid.UUID              `gorm:"column:event_id;type:uuid;not null" json:"-"`
	Type           enums.NotificationType `gorm:"column:type;type:text;not null" json:"type"`
	Title          string                 `gorm:"column:title;not null" json:"title"`
	Message        string                 `gorm:"column:message;not null" json:"message"`
	PrescriptionID *uuid.UUID             `gorm:"column:prescription_id;type:uuid" json:"prescription_id,omitempty"`
	ReadAt         *time.Time             `gorm:"column:read_at" json:"read_at,omitempty"`
	CreatedAt      time.Time              `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (n *Notification) BeforeCreate(*gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}
