package registry

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
	"github.com/rxdispatch/rxdispatch-backend/pkg/outbox/payloads"
)

func TestDecodersRouteByTypeAndVersion(t *testing.T) {
	d := NewDecoders(As[payloads.UserBlockChangedEvent](enums.EventUserBlockChanged, 1))
	userID := uuid.New()

	out, err := d.Decode(enums.EventUserBlockChanged, 1, json.RawMessage(`{"user_id":"`+userID.String()+`","is_blocked":true}`))
	require.NoError(t, err)
	evt, ok := out.(payloads.UserBlockChangedEvent)
	require.True(t, ok)
	assert.Equal(t, userID, evt.UserID)
	assert.True(t, evt.IsBlocked)

	assert.True(t, d.Handles(enums.EventUserBlockChanged))
	assert.False(t, d.Handles(enums.EventUserRoleChanged))

	_, err = d.Decode(enums.EventUserBlockChanged, 2, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrNoDecoder)
}

func TestPrescriptionDecoders(t *testing.T) {
	d := PrescriptionDecoders()
	rxID := uuid.New()

	raw, err := json.Marshal(payloads.PrescriptionStatusChangedEvent{
		PrescriptionID: rxID,
		From:           enums.PrescriptionStatusPending,
		To:             enums.PrescriptionStatusAssigned,
	})
	require.NoError(t, err)
	out, err := d.Decode(enums.EventPrescriptionStatusChanged, 1, raw)
	require.NoError(t, err)
	evt, ok := out.(payloads.PrescriptionStatusChangedEvent)
	require.True(t, ok)
	assert.Equal(t, rxID, evt.PrescriptionID)
	assert.Equal(t, enums.PrescriptionStatusAssigned, evt.To)

	tests := []struct {
		name      string
		eventType enums.OutboxEventType
		data      string
	}{
		{"truncated json", enums.EventPrescriptionCreated, `{"status":`},
		{"missing prescription id", enums.EventPrescriptionCreated, `{"status":"pending"}`},
		{"unknown status", enums.EventPrescriptionCreated, `{"prescription_id":"` + rxID.String() + `","status":"lost"}`},
		{"unknown transition", enums.EventPrescriptionStatusChanged, `{"prescription_id":"` + rxID.String() + `","from":"pending","to":""}`},
		{"moderation event", enums.EventUserBlockChanged, `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Decode(tt.eventType, 1, json.RawMessage(tt.data))
			assert.Error(t, err)
		})
	}
}
