package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbtypes "github.com/rxdispatch/rxdispatch-backend/pkg/db/types"
	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
)

// AuditLog is an append-only record of an administrative action.
type AuditLog struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey"`
	Timestamp   time.Time         `gorm:"column:timestamp;not null"`
	UserID      *uuid.UUID        `gorm:"column:user_id;type:uuid"`
	Action      enums.AuditAction `gorm:"column:action;type:text;not null"`
	TargetID    *uuid.UUID        `gorm:"column:target_id;type:uuid"`
	Description string            `gorm:"column:description;not null;default:''"`
	Metadata    dbtypes.JSONMap   `gorm:"column:metadata;type:jsonb;not null"`
}

func (a *AuditLog) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	if a.Metadata == nil {
		a.Metadata = dbtypes.JSONMap{}
	}
	return nil
}
