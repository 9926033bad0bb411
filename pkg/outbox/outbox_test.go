package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/rxdispatch/rxdispatch-backend/pkg/db/dbtest"
	"github.com/rxdispatch/rxdispatch-backend/pkg/db/models"
	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
	"github.com/rxdispatch/rxdispatch-backend/pkg/outbox/payloads"
)

func TestEmitWritesEnvelopeInTransaction(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)
	actor := uuid.New()
	rxID := uuid.New()

	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventPrescriptionCreated,
			AggregateType: enums.AggregatePrescription,
			AggregateID:   rxID,
			Actor:         &ActorRef{UserID: actor, Role: enums.UserRolePatient},
			Data: payloads.PrescriptionCreatedEvent{
				PrescriptionID: rxID,
				UserID:         actor,
				Status:         enums.PrescriptionStatusPending,
			},
		})
	})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	require.Equal(t, rxID, rows[0].AggregateID)

	var env PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &env))
	require.Equal(t, 1, env.Version)
	require.NotEmpty(t, env.EventID)
	require.Equal(t, actor, env.Actor.UserID)

	var data payloads.PrescriptionCreatedEvent
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Equal(t, enums.PrescriptionStatusPending, data.Status)
}

func TestEmitRolledBackWithCaller(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)

	boom := errors.New("boom")
	err := conn.Transaction(func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventUserBlockChanged,
			AggregateType: enums.AggregateUser,
			AggregateID:   uuid.New(),
			Data:          payloads.UserBlockChangedEvent{IsBlocked: true},
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var n int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&n).Error)
	require.Zero(t, n)
}

func TestEmitValidatesEvent(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)

	require.Error(t, svc.Emit(context.Background(), nil, DomainEvent{}))
	require.Error(t, svc.Emit(context.Background(), conn, DomainEvent{
		EventType:     "order_created",
		AggregateType: enums.AggregatePrescription,
		AggregateID:   uuid.New(),
	}))
	require.ErrorIs(t, svc.Emit(context.Background(), conn, DomainEvent{
		EventType:     enums.EventPrescriptionCreated,
		AggregateType: enums.AggregatePrescription,
		Data:          payloads.PrescriptionCreatedEvent{},
	}), ErrInvalidEvent)
	require.ErrorIs(t, svc.Emit(context.Background(), conn, DomainEvent{
		EventType:     enums.EventPrescriptionCreated,
		AggregateType: enums.AggregatePrescription,
		AggregateID:   uuid.New(),
	}), ErrInvalidEvent)
}

func TestEmitStampsOccurredAtInUTC(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)
	fixed := time.Date(2026, 5, 4, 12, 0, 0, 0, time.FixedZone("UTC+2", 2*3600))
	svc.now = func() time.Time { return fixed }

	require.NoError(t, svc.Emit(context.Background(), conn, DomainEvent{
		EventType:     enums.EventUserBlockChanged,
		AggregateType: enums.AggregateUser,
		AggregateID:   uuid.New(),
		Data:          payloads.UserBlockChangedEvent{IsBlocked: true},
	}))

	var row models.OutboxEvent
	require.NoError(t, conn.First(&row).Error)
	var env PayloadEnvelope
	require.NoError(t, json.Unmarshal(row.Payload, &env))
	require.True(t, env.OccurredAt.Equal(fixed))
	require.Equal(t, time.UTC, env.OccurredAt.Location())
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Emit(ctx, conn, DomainEvent{
			EventType:     enums.EventPrescriptionStatusChanged,
			AggregateType: enums.AggregatePrescription,
			AggregateID:   uuid.New(),
			Data:          payloads.PrescriptionStatusChangedEvent{To: enums.PrescriptionStatusAssigned},
		}))
	}

	rows, err := repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	require.NoError(t, repo.MarkPublishedTx(conn, rows[0].ID))
	require.NoError(t, repo.MarkFailedTx(conn, rows[1].ID, errors.New("transient")))
	require.NoError(t, repo.MarkTerminalTx(conn, rows[2].ID, errors.New("bad payload"), 3))

	pending, err := repo.CountPending(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), pending)

	rows, err = repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 1, rows[0].AttemptCount)
	require.NotNil(t, rows[0].LastError)
	require.Equal(t, "transient", *rows[0].LastError)
}

func TestDLQRepositoryInsertAndBacklog(t *testing.T) {
	conn := dbtest.Open(t)
	dlq := NewDLQRepository(conn)
	long := strings.Repeat("é", 700)

	insert := func(reason enums.OutboxDLQErrorReason, msg *string) error {
		return dlq.InsertTx(conn, models.OutboxDLQ{
			EventID:       uuid.New(),
			EventType:     enums.EventPharmacyResponseRecorded,
			AggregateType: enums.AggregatePharmacyResponse,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{"version":1}`),
			ErrorReason:   reason,
			ErrorMessage:  msg,
		})
	}
	require.NoError(t, insert(enums.OutboxDLQReasonMaxAttempts, &long))
	require.NoError(t, insert(enums.OutboxDLQReasonMaxAttempts, nil))
	require.NoError(t, insert(enums.OutboxDLQReasonNonRetryable, nil))
	require.Error(t, insert("gave_up", nil))

	var stored models.OutboxDLQ
	require.NoError(t, conn.Where("error_message IS NOT NULL").First(&stored).Error)
	require.LessOrEqual(t, len(*stored.ErrorMessage), maxDLQErrorLen)
	require.True(t, utf8.ValidString(*stored.ErrorMessage))

	backlog, err := dlq.Backlog(context.Background())
	require.NoError(t, err)
	require.Equal(t, []ReasonCount{
		{Reason: enums.OutboxDLQReasonMaxAttempts, Total: 2},
		{Reason: enums.OutboxDLQReasonNonRetryable, Total: 1},
	}, backlog)
}

func TestParseEnvelope(t *testing.T) {
	id := uuid.New()
	good := `{"version":1,"eventId":"` + id.String() + `","occurredAt":"2026-03-01T10:00:00Z","data":{"prescription_id":"x"}}`

	env, eventID, err := ParseEnvelope([]byte(good))
	require.NoError(t, err)
	require.Equal(t, id, eventID)
	require.Equal(t, 1, env.Version)

	cases := map[string]string{
		"not json":     `{`,
		"zero version": `{"version":0,"eventId":"` + id.String() + `","data":{}}`,
		"bad id":       `{"version":1,"eventId":"nope","data":{}}`,
		"null data":    `{"version":1,"eventId":"` + id.String() + `","data":null}`,
		"missing data": `{"version":1,"eventId":"` + id.String() + `"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := ParseEnvelope([]byte(raw))
			require.Error(t, err)
		})
	}
}
