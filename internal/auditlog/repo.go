package auditlog

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/rxdispatch/rxdispatch-backend/pkg/db/models"
	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
	"github.com/rxdispatch/rxdispatch-backend/pkg/pagination"
)

// Filter narrows audit listings and exports.
type Filter struct {
	Action *enums.AuditAction
	Search string
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) filtered(ctx context.Context, filter Filter) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&models.AuditLog{})
	if filter.Action != nil {
		query = query.Where("action = ?", *filter.Action)
	}
	if search := strings.ToLower(strings.TrimSpace(filter.Search)); search != "" {
		query = query.Where("LOWER(description) LIKE ?", "%"+search+"%")
	}
	return query
}

// List returns entries newest first.
func (r *Repository) List(ctx context.Context, filter Filter, params pagination.Params) ([]models.AuditLog, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	var rows []models.AuditLog
	err = r.filtered(ctx, filter).
		Scopes(pagination.Keyset("timestamp", pagination.NewestFirst, cursor, params.Limit)).
		Find(&rows).Error
	return rows, err
}

// All returns up to max filtered entries, newest first, for export.
func (r *Repository) All(ctx context.Context, filter Filter, max int) ([]models.AuditLog, error) {
	var rows []models.AuditLog
	err := r.filtered(ctx, filter).
		Order("timestamp DESC").
		Order("id DESC").
		Limit(max).
		Find(&rows).Error
	return rows, err
}

// CursorOf derives the keyset position of an audit row.
func CursorOf(row models.AuditLog) pagination.Cursor {
	return pagination.Cursor{At: row.Timestamp, ID: row.ID}
}
