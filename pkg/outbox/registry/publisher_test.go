package registry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rxdispatch/rxdispatch-backend/pkg/config"
	"github.com/rxdispatch/rxdispatch-backend/pkg/db/models"
	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
	"github.com/rxdispatch/rxdispatch-backend/pkg/outbox"
	"github.com/rxdispatch/rxdispatch-backend/pkg/outbox/payloads"
)

func TestResolveDecodesTypedPayload(t *testing.T) {
	reg := newTestEventRegistry(t)
	rxID := uuid.New()

	resolved, err := reg.Resolve(models.OutboxEvent{
		EventType:     enums.EventPrescriptionStatusChanged,
		AggregateType: enums.AggregatePrescription,
		AggregateID:   rxID,
		Payload: envelopeJSON(t, 1, payloads.PrescriptionStatusChangedEvent{
			PrescriptionID: rxID,
			UserID:         uuid.New(),
			From:           enums.PrescriptionStatusPending,
			To:             enums.PrescriptionStatusAssigned,
		}),
	})
	require.NoError(t, err)
	assert.Equal(t, "prescriptions-topic", resolved.Descriptor.Topic)
	assert.NotEmpty(t, resolved.Envelope.EventID)
	assert.False(t, resolved.Envelope.OccurredAt.IsZero())

	payload, ok := resolved.Payload.(payloads.PrescriptionStatusChangedEvent)
	require.True(t, ok, "payload type %T", resolved.Payload)
	assert.Equal(t, rxID, payload.PrescriptionID)
	assert.Equal(t, enums.PrescriptionStatusAssigned, payload.To)
}

func TestResolveRoutesByEventType(t *testing.T) {
	reg := newTestEventRegistry(t)
	cases := []struct {
		eventType enums.OutboxEventType
		aggregate enums.OutboxAggregateType
		data      any
		topic     string
	}{
		{enums.EventUserBlockChanged, enums.AggregateUser, payloads.UserBlockChangedEvent{IsBlocked: true}, "moderation-topic"},
		{enums.EventUserRoleChanged, enums.AggregateUser, payloads.UserRoleChangedEvent{}, "moderation-topic"},
		{enums.EventPharmacyVerifyChanged, enums.AggregatePharmacy, payloads.PharmacyVerifyChangedEvent{}, "moderation-topic"},
		{enums.EventPharmacyResponseRecorded, enums.AggregatePharmacyResponse, payloads.PharmacyResponseRecordedEvent{HasStock: true}, "prescriptions-topic"},
	}
	for _, tc := range cases {
		t.Run(string(tc.eventType), func(t *testing.T) {
			resolved, err := reg.Resolve(models.OutboxEvent{
				EventType:     tc.eventType,
				AggregateType: tc.aggregate,
				AggregateID:   uuid.New(),
				Payload:       envelopeJSON(t, 1, tc.data),
			})
			require.NoError(t, err)
			assert.Equal(t, tc.topic, resolved.Descriptor.Topic)
			assert.IsType(t, tc.data, resolved.Payload)
		})
	}
}

func TestResolveRejectsPoisonRows(t *testing.T) {
	reg := newTestEventRegistry(t)
	valid := payloads.PrescriptionCreatedEvent{PrescriptionID: uuid.New(), Status: enums.PrescriptionStatusPending}

	cases := map[string]models.OutboxEvent{
		"unknown event type": {
			EventType:     "prescription_archived",
			AggregateType: enums.AggregatePrescription,
			AggregateID:   uuid.New(),
			Payload:       envelopeJSON(t, 1, valid),
		},
		"aggregate mismatch": {
			EventType:     enums.EventPrescriptionCreated,
			AggregateType: enums.AggregateUser,
			AggregateID:   uuid.New(),
			Payload:       envelopeJSON(t, 1, valid),
		},
		"missing aggregate id": {
			EventType:     enums.EventPrescriptionCreated,
			AggregateType: enums.AggregatePrescription,
			Payload:       envelopeJSON(t, 1, valid),
		},
		"null data": {
			EventType:     enums.EventPrescriptionCreated,
			AggregateType: enums.AggregatePrescription,
			AggregateID:   uuid.New(),
			Payload:       envelopeJSON(t, 1, nil),
		},
		"unknown version": {
			EventType:     enums.EventPrescriptionCreated,
			AggregateType: enums.AggregatePrescription,
			AggregateID:   uuid.New(),
			Payload:       envelopeJSON(t, 2, valid),
		},
		"payload fails validation": {
			EventType:     enums.EventPrescriptionCreated,
			AggregateType: enums.AggregatePrescription,
			AggregateID:   uuid.New(),
			Payload:       envelopeJSON(t, 1, payloads.PrescriptionCreatedEvent{Status: enums.PrescriptionStatusPending}),
		},
	}
	for name, row := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Resolve(row)
			var nonRetry NonRetryableError
			assert.ErrorAs(t, err, &nonRetry)
		})
	}
}

func TestNewEventRegistryRequiresTopics(t *testing.T) {
	_, err := NewEventRegistry(config.PubSubConfig{PrescriptionsTopic: "p"})
	assert.Error(t, err)
	_, err = NewEventRegistry(config.PubSubConfig{ModerationTopic: "m"})
	assert.Error(t, err)
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{
		PrescriptionsTopic: "prescriptions-topic",
		ModerationTopic:    "moderation-topic",
	})
	require.NoError(t, err)
	return reg
}

func envelopeJSON(t *testing.T, version int, data any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	out, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    version,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       raw,
	})
	require.NoError(t, err)
	return out
}
