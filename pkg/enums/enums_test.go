package enums

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUserRoleNormalizes(t *testing.T) {
	role, err := ParseUserRole("  Pharmacy ")
	require.NoError(t, err)
	assert.Equal(t, UserRolePharmacy, role)

	_, err = ParseUserRole("superuser")
	assert.Error(t, err)
	assert.Equal(t, UserRolePatient, DefaultUserRole)
}

func TestPrescriptionStatusHelpers(t *testing.T) {
	for _, status := range PrescriptionStatuses() {
		assert.True(t, status.IsValid(), status)
	}
	assert.True(t, PrescriptionStatusDelivered.IsTerminal())
	assert.True(t, PrescriptionStatusRejected.IsTerminal())
	assert.False(t, PrescriptionStatusPending.IsTerminal())

	assert.True(t, PrescriptionStatusAssigned.AllowsRider())
	assert.True(t, PrescriptionStatusPickedUp.AllowsRider())
	assert.True(t, PrescriptionStatusDelivered.AllowsRider())
	assert.False(t, PrescriptionStatusPending.AllowsRider())
	assert.False(t, PrescriptionStatusPharmacyConfirmed.AllowsRider())

	_, err := ParsePrescriptionStatus("shipped")
	assert.Error(t, err)
}

func TestParseAuditActionIgnoresCase(t *testing.T) {
	action, err := ParseAuditAction("user_blocked")
	require.NoError(t, err)
	assert.Equal(t, AuditActionUserBlocked, action)

	_, err = ParseAuditAction("USER_DELETED")
	assert.Error(t, err)
}

func TestOutboxEnums(t *testing.T) {
	assert.True(t, EventPrescriptionStatusChanged.IsValid())
	assert.False(t, OutboxEventType("order_paid").IsValid())

	agg, err := ParseOutboxAggregateType("prescription")
	require.NoError(t, err)
	assert.Equal(t, AggregatePrescription, agg)
}

func TestOutboxDLQErrorReasonMatchesConstraint(t *testing.T) {
	assert.True(t, OutboxDLQReasonMaxAttempts.IsValid())
	assert.True(t, OutboxDLQReasonNonRetryable.IsValid())
	assert.False(t, OutboxDLQErrorReason("timeout").IsValid())
}

func TestNotificationTypes(t *testing.T) {
	assert.True(t, NotificationStockRequest.IsValid())
	assert.True(t, NotificationPrescriptionUpdate.IsValid())
	assert.False(t, NotificationType("system_announcement").IsValid())
}
