package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rxdispatch/rxdispatch-backend/internal/notifications"
	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
	pkgerrors "github.com/rxdispatch/rxdispatch-backend/pkg/errors"
)

type stubInbox struct {
	userID uuid.UUID
	params notifications.ListParams
	err    error
}

func (s *stubInbox) List(ctx context.Context, userID uuid.UUID, params notifications.ListParams) (notifications.Inbox, error) {
	s.userID = userID
	s.params = params
	return notifications.Inbox{Unread: 2}, s.err
}

func (s *stubInbox) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	s.userID = userID
	return s.err
}

func (s *stubInbox) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	s.userID = userID
	return 3, s.err
}

func TestNotificationListPassesFilters(t *testing.T) {
	svc := &stubInbox{}
	p := principalOf(enums.UserRolePatient)
	rec := httptest.NewRecorder()

	NotificationList(svc, nil).ServeHTTP(rec, newRequest(http.MethodGet, "/api/v1/notifications?unread=true&limit=5", nil, p, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, p.ID, svc.userID)
	assert.True(t, svc.params.UnreadOnly)
	assert.Equal(t, 5, svc.params.Limit)
	assert.Contains(t, rec.Body.String(), `"unread":2`)
}

func TestNotificationListRejectsBadUnreadFlag(t *testing.T) {
	rec := httptest.NewRecorder()

	NotificationList(&stubInbox{}, nil).ServeHTTP(rec, newRequest(http.MethodGet, "/api/v1/notifications?unread=maybe", nil, principalOf(enums.UserRoleRider), nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeValidation), errorCode(t, rec))
}

func TestNotificationMarkReadMapsNotFound(t *testing.T) {
	svc := &stubInbox{err: pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")}
	rec := httptest.NewRecorder()
	req := newRequest(http.MethodPost, "/", nil, principalOf(enums.UserRolePharmacy), map[string]string{"notificationId": uuid.NewString()})

	NotificationMarkRead(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNotificationMarkReadValidatesID(t *testing.T) {
	rec := httptest.NewRecorder()
	req := newRequest(http.MethodPost, "/", nil, principalOf(enums.UserRolePatient), map[string]string{"notificationId": "nope"})

	NotificationMarkRead(&stubInbox{}, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotificationMarkAllReadBlockedUser(t *testing.T) {
	p := principalOf(enums.UserRolePatient)
	p.IsBlocked = true
	rec := httptest.NewRecorder()

	NotificationMarkAllRead(&stubInbox{}, nil).ServeHTTP(rec, newRequest(http.MethodPost, "/", nil, p, nil))

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestNotificationMarkAllReadReportsCount(t *testing.T) {
	rec := httptest.NewRecorder()

	NotificationMarkAllRead(&stubInbox{}, nil).ServeHTTP(rec, newRequest(http.MethodPost, "/", nil, principalOf(enums.UserRoleAdmin), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"updated":3`)
}
