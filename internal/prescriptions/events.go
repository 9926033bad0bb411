package prescriptions

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rxdispatch/rxdispatch-backend/internal/identity"
	"github.com/rxdispatch/rxdispatch-backend/internal/realtime"
	"github.com/rxdispatch/rxdispatch-backend/pkg/db/models"
	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
	"github.com/rxdispatch/rxdispatch-backend/pkg/outbox"
	"github.com/rxdispatch/rxdispatch-backend/pkg/outbox/payloads"
)

// ChangeEvent builds the realtime notification for a prescription row.
func ChangeEvent(rx models.Prescription, typ realtime.EventType) realtime.Event {
	return realtime.Event{
		Table:    realtime.TablePrescriptions,
		Type:     typ,
		RecordID: rx.ID,
		Status:   rx.Status,
		RiderID:  rx.RiderID,
		OwnerID:  rx.UserID,
	}
}

// ActorOf turns a principal into the outbox actor reference.
func ActorOf(p identity.Principal) *outbox.ActorRef {
	return &outbox.ActorRef{UserID: p.ID, Role: p.Role}
}

// EmitStatusChanged queues a prescription_status_changed event in tx.
func EmitStatusChanged(ctx context.Context, emitter outbox.Emitter, tx *gorm.DB, p identity.Principal, rx models.Prescription, from enums.PrescriptionStatus, reason *string) error {
	if emitter == nil {
		return nil
	}
	return emitter.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPrescriptionStatusChanged,
		AggregateType: enums.AggregatePrescription,
		AggregateID:   rx.ID,
		Actor:         ActorOf(p),
		Data: payloads.PrescriptionStatusChangedEvent{
			PrescriptionID: rx.ID,
			UserID:         rx.UserID,
			From:           from,
			To:             rx.Status,
			RiderID:        rx.RiderID,
			Reason:         reason,
		},
	})
}

func emitCreated(ctx context.Context, emitter outbox.Emitter, tx *gorm.DB, p identity.Principal, rx models.Prescription) error {
	if emitter == nil {
		return nil
	}
	return emitter.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPrescriptionCreated,
		AggregateType: enums.AggregatePrescription,
		AggregateID:   rx.ID,
		Actor:         ActorOf(p),
		Data: payloads.PrescriptionCreatedEvent{
			PrescriptionID: rx.ID,
			UserID:         rx.UserID,
			Status:         rx.Status,
			HasImage:       rx.ImageURL != nil,
			Notes:          rx.Notes,
			UploadDate:     rx.UploadDate,
		},
	})
}

func ptrUUID(id uuid.UUID) *uuid.UUID {
	return &id
}
