package outbox

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/rxdispatch/rxdispatch-backend/pkg/db/models"
	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
)

const maxDLQErrorLen = 1024

var errTxRequired = errors.New("transaction required")

// DLQRepository owns outbox_dlq: rows the publisher stopped retrying.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// InsertTx records a dead letter inside the transaction that marks the
// source event, so an event is never both pending and dead-lettered.
func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errTxRequired
	}
	if !entry.ErrorReason.IsValid() {
		return errors.New("invalid dead letter reason: " + string(entry.ErrorReason))
	}
	if entry.ErrorMessage != nil {
		msg := clipUTF8(*entry.ErrorMessage, maxDLQErrorLen)
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}

// ReasonCount is the dead-letter backlog for a single failure reason.
type ReasonCount struct {
	Reason enums.OutboxDLQErrorReason `gorm:"column:error_reason"`
	Total  int64                      `gorm:"column:total"`
}

// Backlog groups the remaining dead letters by reason, largest first.
func (r *DLQRepository) Backlog(ctx context.Context) ([]ReasonCount, error) {
	var rows []ReasonCount
	err := r.db.WithContext(ctx).
		Model(&models.OutboxDLQ{}).
		Select("error_reason, COUNT(*) AS total").
		Group("error_reason").
		Order("total DESC").
		Scan(&rows).Error
	return rows, err
}

// DeleteFailedBefore drops dead letters whose failure predates cutoff.
func (r *DLQRepository) DeleteFailedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	if tx == nil {
		return 0, errTxRequired
	}
	res := tx.WithContext(ctx).Where("failed_at < ?", cutoff).Delete(&models.OutboxDLQ{})
	return res.RowsAffected, res.Error
}

// clipUTF8 cuts s to at most max bytes without splitting a rune.
func clipUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
