package auditlog

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/rxdispatch/rxdispatch-backend/internal/identity"
	"github.com/rxdispatch/rxdispatch-backend/pkg/db/models"
	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
	pkgerrors "github.com/rxdispatch/rxdispatch-backend/pkg/errors"
	"github.com/rxdispatch/rxdispatch-backend/pkg/pagination"
)

// MaxExportRows caps a single workbook.
const MaxExportRows = 10000

// EntryDTO is the admin-facing shape of an audit row.
type EntryDTO struct {
	ID          uuid.UUID         `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	UserID      *uuid.UUID        `json:"user_id,omitempty"`
	Action      enums.AuditAction `json:"action"`
	TargetID    *uuid.UUID        `json:"target_id,omitempty"`
	Description string            `json:"description"`
	Metadata    map[string]any    `json:"metadata"`
}

func fromModel(row models.AuditLog) EntryDTO {
	meta := map[string]any(row.Metadata)
	if meta == nil {
		meta = map[string]any{}
	}
	return EntryDTO{
		ID:          row.ID,
		Timestamp:   row.Timestamp,
		UserID:      row.UserID,
		Action:      row.Action,
		TargetID:    row.TargetID,
		Description: row.Description,
		Metadata:    meta,
	}
}

type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, p identity.Principal, filter Filter, params pagination.Params) (pagination.Page[EntryDTO], error) {
	if err := identity.Require(p, identity.OpViewAuditLog); err != nil {
		return pagination.Page[EntryDTO]{}, err
	}
	rows, err := s.repo.List(ctx, filter, params)
	if err != nil {
		return pagination.Page[EntryDTO]{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list audit logs")
	}
	page := pagination.BuildPage(rows, params.Limit, CursorOf)
	out := pagination.Page[EntryDTO]{Items: make([]EntryDTO, 0, len(page.Items)), NextCursor: page.NextCursor}
	for _, row := range page.Items {
		out.Items = append(out.Items, fromModel(row))
	}
	return out, nil
}

// Export writes the filtered entries as an xlsx workbook.
func (s *Service) Export(ctx context.Context, p identity.Principal, filter Filter, w io.Writer) error {
	if err := identity.Require(p, identity.OpViewAuditLog); err != nil {
		return err
	}
	rows, err := s.repo.All(ctx, filter, MaxExportRows)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load audit logs")
	}
	if err := writeWorkbook(rows, w); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "write audit workbook")
	}
	return nil
}
