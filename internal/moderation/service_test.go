package moderation

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/rxdispatch/rxdispatch-backend/internal/auditlog"
	"github.com/rxdispatch/rxdispatch-backend/internal/identity"
	"github.com/rxdispatch/rxdispatch-backend/internal/pharmacies"
	"github.com/rxdispatch/rxdispatch-backend/internal/prescriptions"
	"github.com/rxdispatch/rxdispatch-backend/internal/users"
	"github.com/rxdispatch/rxdispatch-backend/pkg/db"
	"github.com/rxdispatch/rxdispatch-backend/pkg/db/dbtest"
	"github.com/rxdispatch/rxdispatch-backend/pkg/db/models"
	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
	pkgerrors "github.com/rxdispatch/rxdispatch-backend/pkg/errors"
	"github.com/rxdispatch/rxdispatch-backend/pkg/outbox"
	"github.com/rxdispatch/rxdispatch-backend/pkg/pagination"
)

type revoker struct {
	revoked []uuid.UUID
}

func (r *revoker) RevokeAll(_ context.Context, id uuid.UUID) error {
	r.revoked = append(r.revoked, id)
	return nil
}

type brokenOutbox struct{}

func (brokenOutbox) Emit(context.Context, *gorm.DB, outbox.DomainEvent) error {
	return errors.New("outbox insert failed")
}

var admin = identity.Principal{ID: uuid.New(), Role: enums.UserRoleAdmin}

func newService(t *testing.T, emitter outbox.Emitter) (*Service, *gorm.DB, *revoker) {
	t.Helper()
	conn := dbtest.Open(t)
	sessions := &revoker{}
	if emitter == nil {
		emitter = outbox.NewService(outbox.NewRepository(conn), nil)
	}
	svc, err := NewService(ServiceParams{
		DB:            db.FromGorm(conn),
		Users:         users.NewRepository(conn),
		Pharmacies:    pharmacies.NewRepository(conn),
		Prescriptions: prescriptions.NewRepository(conn),
		Audit:         auditlog.NewRecorder(),
		Outbox:        emitter,
		Sessions:      sessions,
	})
	require.NoError(t, err)
	return svc, conn, sessions
}

func seedUser(t *testing.T, conn *gorm.DB, email string, role enums.UserRole) models.User {
	t.Helper()
	u := models.User{Email: email, PasswordHash: "x", Role: role}
	require.NoError(t, conn.Create(&u).Error)
	return u
}

func auditActions(t *testing.T, conn *gorm.DB, target uuid.UUID) []enums.AuditAction {
	t.Helper()
	var rows []models.AuditLog
	require.NoError(t, conn.Where("target_id = ?", target).Order("timestamp ASC").Find(&rows).Error)
	out := make([]enums.AuditAction, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Action)
	}
	return out
}

func TestBlockThenUnblockAppendsBothEntries(t *testing.T) {
	svc, conn, sessions := newService(t, nil)
	ctx := context.Background()
	u2 := seedUser(t, conn, "u2@example.com", enums.UserRolePatient)

	dto, err := svc.SetUserBlocked(ctx, admin, u2.ID, true)
	require.NoError(t, err)
	assert.True(t, dto.IsBlocked)
	assert.Equal(t, []uuid.UUID{u2.ID}, sessions.revoked)

	var stored models.User
	require.NoError(t, conn.First(&stored, "id = ?", u2.ID).Error)
	assert.True(t, stored.IsBlocked)
	assert.Equal(t, []enums.AuditAction{enums.AuditActionUserBlocked}, auditActions(t, conn, u2.ID))

	dto, err = svc.SetUserBlocked(ctx, admin, u2.ID, false)
	require.NoError(t, err)
	assert.False(t, dto.IsBlocked)
	assert.Len(t, sessions.revoked, 1)
	assert.Equal(t, []enums.AuditAction{enums.AuditActionUserBlocked, enums.AuditActionUserUnblocked}, auditActions(t, conn, u2.ID))

	var entry models.AuditLog
	require.NoError(t, conn.Where("action = ?", enums.AuditActionUserUnblocked).First(&entry).Error)
	assert.Equal(t, "blocked", entry.Metadata["previous_status"])
	assert.Equal(t, "active", entry.Metadata["new_status"])
	assert.Equal(t, "u2@example.com", entry.Metadata["email"])
	require.NotNil(t, entry.UserID)
	assert.Equal(t, admin.ID, *entry.UserID)
}

func TestBlockRollsBackWhenLaterWriteFails(t *testing.T) {
	svc, conn, sessions := newService(t, brokenOutbox{})
	u := seedUser(t, conn, "keep@example.com", enums.UserRoleRider)

	_, err := svc.SetUserBlocked(context.Background(), admin, u.ID, true)
	require.Error(t, err)

	var stored models.User
	require.NoError(t, conn.First(&stored, "id = ?", u.ID).Error)
	assert.False(t, stored.IsBlocked)
	assert.Empty(t, auditActions(t, conn, u.ID))
	assert.Empty(t, sessions.revoked)
}

func TestModerationGuards(t *testing.T) {
	svc, conn, _ := newService(t, nil)
	ctx := context.Background()
	u := seedUser(t, conn, "p@example.com", enums.UserRolePatient)

	_, err := svc.SetUserBlocked(ctx, identity.Principal{ID: uuid.New(), Role: enums.UserRolePharmacy}, u.ID, true)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	blockedAdmin := admin
	blockedAdmin.IsBlocked = true
	_, err = svc.SetUserBlocked(ctx, blockedAdmin, u.ID, true)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = svc.SetUserBlocked(ctx, admin, uuid.New(), true)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = svc.SetUserBlocked(ctx, admin, admin.ID, true)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.SetUserRole(ctx, admin, u.ID, enums.UserRole("superuser"))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestSetUserRole(t *testing.T) {
	svc, conn, _ := newService(t, nil)
	u := seedUser(t, conn, "r@example.com", enums.UserRolePatient)

	dto, err := svc.SetUserRole(context.Background(), admin, u.ID, enums.UserRoleRider)
	require.NoError(t, err)
	assert.Equal(t, enums.UserRoleRider, dto.Role)

	var stored models.User
	require.NoError(t, conn.First(&stored, "id = ?", u.ID).Error)
	assert.Equal(t, enums.UserRoleRider, stored.Role)
	assert.Equal(t, []enums.AuditAction{enums.AuditActionUserRoleChanged}, auditActions(t, conn, u.ID))

	var events int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventUserRoleChanged).Count(&events).Error)
	assert.EqualValues(t, 1, events)
}

func TestSetPharmacyVerified(t *testing.T) {
	svc, conn, _ := newService(t, nil)
	shop := models.Pharmacy{Name: "Corner Pharmacy", Address: "1 Main", ContactEmail: "c@example.com", PhoneNumber: "555"}
	require.NoError(t, conn.Create(&shop).Error)

	dto, err := svc.SetPharmacyVerified(context.Background(), admin, shop.ID, true)
	require.NoError(t, err)
	assert.True(t, dto.IsVerified)

	_, err = svc.SetPharmacyVerified(context.Background(), admin, shop.ID, false)
	require.NoError(t, err)
	assert.Equal(t, []enums.AuditAction{enums.AuditActionPharmacyVerified, enums.AuditActionPharmacyUnverified}, auditActions(t, conn, shop.ID))

	var entry models.AuditLog
	require.NoError(t, conn.Where("action = ?", enums.AuditActionPharmacyVerified).First(&entry).Error)
	assert.Equal(t, "Corner Pharmacy", entry.Metadata["pharmacy_name"])

	_, err = svc.SetPharmacyVerified(context.Background(), admin, uuid.New(), true)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestListUsersFilters(t *testing.T) {
	svc, conn, _ := newService(t, nil)
	seedUser(t, conn, "Alice@Example.com", enums.UserRolePatient)
	seedUser(t, conn, "bob@example.com", enums.UserRoleRider)
	seedUser(t, conn, "carol@other.org", enums.UserRolePatient)

	patient := enums.UserRolePatient
	page, err := svc.ListUsers(context.Background(), admin, users.ListFilter{Role: &patient, EmailSearch: "EXAMPLE"}, pagination.Params{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Alice@Example.com", page.Items[0].Email)

	_, err = svc.ListUsers(context.Background(), admin, users.ListFilter{}, pagination.Params{Cursor: "%%%"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestDashboardMetrics(t *testing.T) {
	svc, conn, _ := newService(t, nil)
	ctx := context.Background()
	u := seedUser(t, conn, "a@example.com", enums.UserRolePatient)
	blocked := seedUser(t, conn, "b@example.com", enums.UserRolePatient)
	require.NoError(t, conn.Model(&models.User{}).Where("id = ?", blocked.ID).Update("is_blocked", true).Error)

	for _, status := range []enums.PrescriptionStatus{
		enums.PrescriptionStatusAwaitingPharmacyResponse,
		enums.PrescriptionStatusAwaitingPharmacyResponse,
		enums.PrescriptionStatusPharmacyConfirmed,
		enums.PrescriptionStatusPending,
	} {
		require.NoError(t, conn.Create(&models.Prescription{UserID: u.ID, Status: status}).Error)
	}
	require.NoError(t, conn.Create(&models.Pharmacy{Name: "X", Address: "Y", ContactEmail: "x@y.z", PhoneNumber: "1"}).Error)

	got, err := svc.DashboardMetrics(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, Dashboard{
		TotalPrescriptions:     4,
		PendingPrescriptions:   2,
		ConfirmedPrescriptions: 1,
		RegisteredPharmacies:   1,
		ActiveUsers:            1,
	}, *got)

	_, err = svc.DashboardMetrics(ctx, identity.Principal{ID: u.ID, Role: enums.UserRolePatient})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}
