package enums

import (
	"fmt"
	"strings"
)

// AuditAction tags an audit log entry.
type AuditAction string

const (
	AuditActionUserBlocked          AuditAction = "USER_BLOCKED"
	AuditActionUserUnblocked        AuditAction = "USER_UNBLOCKED"
	AuditActionUserRoleChanged      AuditAction = "USER_ROLE_CHANGED"
	AuditActionPharmacyVerified     AuditAction = "PHARMACY_VERIFIED"
	AuditActionPharmacyUnverified   AuditAction = "PHARMACY_UNVERIFIED"
	AuditActionPrescriptionRejected AuditAction = "PRESCRIPTION_REJECTED"
)

var validAuditActions = []AuditAction{
	AuditActionUserBlocked,
	AuditActionUserUnblocked,
	AuditActionUserRoleChanged,
	AuditActionPharmacyVerified,
	AuditActionPharmacyUnverified,
	AuditActionPrescriptionRejected,
}

// String implements fmt.Stringer.
func (a AuditAction) String() string {
	return string(a)
}

// IsValid reports whether the value is a known AuditAction.
func (a AuditAction) IsValid() bool {
	for _, candidate := range validAuditActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAuditAction converts raw input into an AuditAction. Matching ignores case.
func ParseAuditAction(value string) (AuditAction, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	for _, candidate := range validAuditActions {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid audit action %q", value)
}
