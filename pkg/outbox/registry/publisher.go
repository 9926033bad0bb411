package registry

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rxdispatch/rxdispatch-backend/pkg/config"
	"github.com/rxdispatch/rxdispatch-backend/pkg/db/models"
	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
	"github.com/rxdispatch/rxdispatch-backend/pkg/outbox"
	"github.com/rxdispatch/rxdispatch-backend/pkg/outbox/payloads"
)

// EventDescriptor is where one event type is published and which aggregate
// it must belong to.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
}

// ResolvedEvent is a checked outbox row with its decoded payload.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// EventRegistry is the publisher-side catalog: routing per event type plus
// the same payload decoders consumers use, so a row that no consumer could
// read never leaves the outbox.
type EventRegistry struct {
	routes   map[enums.OutboxEventType]EventDescriptor
	decoders *Decoders
}

// NonRetryableError signals the dispatcher should stop retrying a row.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// NewEventRegistry routes prescription traffic and moderation traffic to
// their configured topics.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	switch {
	case cfg.PrescriptionsTopic == "":
		return nil, errors.New("prescriptions topic is required")
	case cfg.ModerationTopic == "":
		return nil, errors.New("moderation topic is required")
	}

	reg := &EventRegistry{
		routes: make(map[enums.OutboxEventType]EventDescriptor),
		decoders: NewDecoders(
			As[payloads.PrescriptionCreatedEvent](enums.EventPrescriptionCreated, 1),
			As[payloads.PrescriptionStatusChangedEvent](enums.EventPrescriptionStatusChanged, 1),
			As[payloads.PharmacyResponseRecordedEvent](enums.EventPharmacyResponseRecorded, 1),
			As[payloads.UserBlockChangedEvent](enums.EventUserBlockChanged, 1),
			As[payloads.UserRoleChangedEvent](enums.EventUserRoleChanged, 1),
			As[payloads.PharmacyVerifyChangedEvent](enums.EventPharmacyVerifyChanged, 1),
		),
	}
	reg.route(cfg.PrescriptionsTopic, enums.AggregatePrescription,
		enums.EventPrescriptionCreated, enums.EventPrescriptionStatusChanged)
	reg.route(cfg.PrescriptionsTopic, enums.AggregatePharmacyResponse, enums.EventPharmacyResponseRecorded)
	reg.route(cfg.ModerationTopic, enums.AggregateUser, enums.EventUserBlockChanged, enums.EventUserRoleChanged)
	reg.route(cfg.ModerationTopic, enums.AggregatePharmacy, enums.EventPharmacyVerifyChanged)
	return reg, nil
}

func (r *EventRegistry) route(topic string, aggregate enums.OutboxAggregateType, types ...enums.OutboxEventType) {
	for _, t := range types {
		r.routes[t] = EventDescriptor{EventType: t, AggregateType: aggregate, Topic: topic}
	}
}

// Resolve checks the row against the catalog and decodes its payload. Every
// failure is a NonRetryableError: retrying cannot fix a malformed row.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.routes[event.EventType]
	switch {
	case !ok:
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	case desc.AggregateType != event.AggregateType:
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	case event.AggregateID == uuid.Nil:
		return nil, NewNonRetryableError(errors.New("missing aggregate_id"))
	}

	envelope, _, err := outbox.ParseEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("%s: %w", event.EventType, err))
	}
	payload, err := r.decoders.Decode(event.EventType, envelope.Version, envelope.Data)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}

// NewNonRetryableError wraps an error to signal no retries.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}
