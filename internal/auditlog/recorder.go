// Package auditlog is the append-only sink for administrative actions.
package auditlog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rxdispatch/rxdispatch-backend/pkg/db/models"
	dbtypes "github.com/rxdispatch/rxdispatch-backend/pkg/db/types"
	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
)

// Entry is what callers hand to Record.
type Entry struct {
	ActorID     *uuid.UUID
	Action      enums.AuditAction
	TargetID    *uuid.UUID
	Description string
	Metadata    map[string]any
}

// Recorder appends entries inside the caller's transaction so the audited
// change and its entry commit or roll back together.
type Recorder struct {
	now func() time.Time
}

func NewRecorder() *Recorder {
	return &Recorder{now: func() time.Time { return time.Now().UTC() }}
}

// Record inserts the entry using tx. There is no update or delete path.
func (r *Recorder) Record(ctx context.Context, tx *gorm.DB, entry Entry) (*models.AuditLog, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	if !entry.Action.IsValid() {
		return nil, errors.New("invalid audit action")
	}
	row := &models.AuditLog{
		Timestamp:   r.now(),
		UserID:      entry.ActorID,
		Action:      entry.Action,
		TargetID:    entry.TargetID,
		Description: entry.Description,
		Metadata:    dbtypes.JSONMap(entry.Metadata),
	}
	if err := tx.WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}
