// Package notifications keeps each user's in-app inbox. Rows are written by the
// event consumer and read through the API.
package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/rxdispatch/rxdispatch-backend/pkg/db/models"
	pkgerrors "github.com/rxdispatch/rxdispatch-backend/pkg/errors"
	"github.com/rxdispatch/rxdispatch-backend/pkg/pagination"
)

type ListParams struct {
	pagination.Params
	UnreadOnly bool
}

type Inbox struct {
	pagination.Page[models.Notification]
	Unread int64 `json:"unread"`
}

type Service struct {
	repo *Repository
	now  func() time.Time
}

func NewService(repo *Repository) (*Service, error) {
	if repo == nil {
		return nil, errors.New("notifications repository is required")
	}
	return &Service{repo: repo, now: time.Now}, nil
}

func (s *Service) List(ctx context.Context, userID uuid.UUID, params ListParams) (Inbox, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return Inbox{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.List(ctx, userID, cursor, params.Limit, params.UnreadOnly)
	if err != nil {
		return Inbox{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list notifications")
	}
	unread, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return Inbox{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count unread notifications")
	}
	return Inbox{
		Page:   pagination.BuildPage(rows, params.Limit, cursorOf),
		Unread: unread,
	}, nil
}

// MarkRead is idempotent; a notification owned by someone else reads as missing.
func (s *Service) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	found, err := s.repo.MarkRead(ctx, userID, id, s.now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark notification read")
	}
	if !found {
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
	}
	return nil
}

func (s *Service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, userID, s.now().UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark notifications read")
	}
	return n, nil
}
