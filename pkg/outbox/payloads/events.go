package payloads

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
)

// PrescriptionCreatedEvent is emitted for uploads and search requests alike.
type PrescriptionCreatedEvent struct {
	PrescriptionID uuid.UUID                `json:"prescription_id"`
	UserID         uuid.UUID                `json:"user_id"`
	Status         enums.PrescriptionStatus `json:"status"`
	HasImage       bool                     `json:"has_image"`
	Notes          *string                  `json:"notes,omitempty"`
	UploadDate     time.Time                `json:"upload_date"`
}

func (e PrescriptionCreatedEvent) Validate() error {
	if e.PrescriptionID == uuid.Nil {
		return errors.New("prescription_id is required")
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("unknown status %q", e.Status)
	}
	return nil
}

// PrescriptionStatusChangedEvent records one lifecycle transition.
type PrescriptionStatusChangedEvent struct {
	PrescriptionID uuid.UUID                `json:"prescription_id"`
	UserID         uuid.UUID                `json:"user_id"`
	From           enums.PrescriptionStatus `json:"from"`
	To             enums.PrescriptionStatus `json:"to"`
	RiderID        *uuid.UUID               `json:"rider_id,omitempty"`
	Reason         *string                  `json:"reason,omitempty"`
}

func (e PrescriptionStatusChangedEvent) Validate() error {
	if e.PrescriptionID == uuid.Nil {
		return errors.New("prescription_id is required")
	}
	if !e.From.IsValid() || !e.To.IsValid() {
		return fmt.Errorf("unknown transition %q -> %q", e.From, e.To)
	}
	return nil
}

// PharmacyResponseRecordedEvent mirrors a ledger append.
type PharmacyResponseRecordedEvent struct {
	ResponseID     uuid.UUID        `json:"response_id"`
	PrescriptionID uuid.UUID        `json:"prescription_id"`
	PharmacyID     uuid.UUID        `json:"pharmacy_id"`
	HasStock       bool             `json:"has_stock"`
	Price          *decimal.Decimal `json:"price,omitempty"`
	Confirmed      bool             `json:"confirmed"`
	ResponseDate   time.Time        `json:"response_date"`
}

// UserBlockChangedEvent is emitted when an admin blocks or unblocks an account.
type UserBlockChangedEvent struct {
	UserID    uuid.UUID `json:"user_id"`
	IsBlocked bool      `json:"is_blocked"`
	ActorID   uuid.UUID `json:"actor_id"`
}

// UserRoleChangedEvent is emitted when an admin changes an account's role.
type UserRoleChangedEvent struct {
	UserID   uuid.UUID      `json:"user_id"`
	Previous enums.UserRole `json:"previous"`
	Role     enums.UserRole `json:"role"`
	ActorID  uuid.UUID      `json:"actor_id"`
}

// PharmacyVerifyChangedEvent is emitted when a pharmacy's verification flips.
type PharmacyVerifyChangedEvent struct {
	PharmacyID uuid.UUID `json:"pharmacy_id"`
	IsVerified bool      `json:"is_verified"`
	ActorID    uuid.UUID `json:"actor_id"`
}
