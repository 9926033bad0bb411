package enums

import "fmt"

// PrescriptionStatus tracks a prescription through fulfillment.
type PrescriptionStatus string

const (
	PrescriptionStatusPending                  PrescriptionStatus = "pending"
	PrescriptionStatusAssigned                 PrescriptionStatus = "assigned"
	PrescriptionStatusPickedUp                 PrescriptionStatus = "picked_up"
	PrescriptionStatusDelivered                PrescriptionStatus = "delivered"
	PrescriptionStatusRejected                 PrescriptionStatus = "rejected"
	PrescriptionStatusAwaitingPharmacyResponse PrescriptionStatus = "awaiting_pharmacy_response"
	PrescriptionStatusPharmacyConfirmed        PrescriptionStatus = "pharmacy_confirmed"
)

var validPrescriptionStatuses = []PrescriptionStatus{
	PrescriptionStatusPending,
	PrescriptionStatusAssigned,
	PrescriptionStatusPickedUp,
	PrescriptionStatusDelivered,
	PrescriptionStatusRejected,
	PrescriptionStatusAwaitingPharmacyResponse,
	PrescriptionStatusPharmacyConfirmed,
}

// String implements fmt.Stringer.
func (s PrescriptionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known PrescriptionStatus.
func (s PrescriptionStatus) IsValid() bool {
	for _, candidate := range validPrescriptionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition may leave the status.
func (s PrescriptionStatus) IsTerminal() bool {
	return s == PrescriptionStatusDelivered || s == PrescriptionStatusRejected
}

// AllowsRider reports whether a rider_id may be attached in this status.
func (s PrescriptionStatus) AllowsRider() bool {
	switch s {
	case PrescriptionStatusAssigned, PrescriptionStatusPickedUp, PrescriptionStatusDelivered:
		return true
	default:
		return false
	}
}

// PrescriptionStatuses returns every known status in declaration order.
func PrescriptionStatuses() []PrescriptionStatus {
	return append([]PrescriptionStatus(nil), validPrescriptionStatuses...)
}

// ParsePrescriptionStatus converts raw input into a PrescriptionStatus.
func ParsePrescriptionStatus(value string) (PrescriptionStatus, error) {
	for _, candidate := range validPrescriptionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid prescription status %q", value)
}
