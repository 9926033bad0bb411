// Package realtime fans prescription changes out to subscribers in this process
// and, through Redis, to every other API instance.
package realtime

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
)

// EventType mirrors the row operation that produced the change.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
)

const (
	TablePrescriptions     = "prescriptions"
	TablePharmacyResponses = "pharmacy_responses"
)

// Event is one row change. OwnerID is the prescription's user_id so visibility
// can be decided without a database round trip.
type Event struct {
	ID         string                   `json:"id"`
	Table      string                   `json:"table"`
	Type       EventType                `json:"type"`
	RecordID   uuid.UUID                `json:"record_id"`
	Status     enums.PrescriptionStatus `json:"status,omitempty"`
	RiderID    *uuid.UUID               `json:"rider_id,omitempty"`
	OwnerID    uuid.UUID                `json:"owner_id"`
	OccurredAt time.Time                `json:"occurred_at"`
}

// Filter selects the events a subscription receives. Nil fields match anything.
type Filter struct {
	Table   string
	Status  *enums.PrescriptionStatus
	OwnerID *uuid.UUID
	RiderID *uuid.UUID
}

// Matches reports whether evt passes the filter.
func (f Filter) Matches(evt Event) bool {
	if f.Table != "" && f.Table != evt.Table {
		return false
	}
	if f.Status != nil && *f.Status != evt.Status {
		return false
	}
	if f.OwnerID != nil && *f.OwnerID != evt.OwnerID {
		return false
	}
	if f.RiderID != nil && (evt.RiderID == nil || *f.RiderID != *evt.RiderID) {
		return false
	}
	return true
}

var errUnknownTable = errors.New("unknown table")
