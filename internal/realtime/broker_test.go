package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
	"github.com/rxdispatch/rxdispatch-backend/pkg/metrics"
)

func pendingEvent() Event {
	return Event{
		Table:    TablePrescriptions,
		Type:     EventInsert,
		RecordID: uuid.New(),
		Status:   enums.PrescriptionStatusPending,
		OwnerID:  uuid.New(),
	}
}

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case evt, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestSubscribeRequiresTable(t *testing.T) {
	_, err := NewBroker(BrokerParams{}).Subscribe(Filter{})
	assert.Error(t, err)
}

func TestPublishStampsAndFilters(t *testing.T) {
	b := NewBroker(BrokerParams{})
	pending := enums.PrescriptionStatusPending
	all, err := b.Subscribe(Filter{Table: TablePrescriptions})
	require.NoError(t, err)
	onlyPending, err := b.Subscribe(Filter{Table: TablePrescriptions, Status: &pending})
	require.NoError(t, err)
	other, err := b.Subscribe(Filter{Table: TablePharmacyResponses})
	require.NoError(t, err)

	evt := pendingEvent()
	b.Publish(context.Background(), evt)

	got := receive(t, all)
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.OccurredAt.IsZero())
	assert.Equal(t, got.ID, receive(t, onlyPending).ID)

	assigned := pendingEvent()
	assigned.Status = enums.PrescriptionStatusAssigned
	b.Publish(context.Background(), assigned)
	assert.Equal(t, assigned.RecordID, receive(t, all).RecordID)

	assert.Empty(t, onlyPending.Events())
	assert.Empty(t, other.Events())
}

func TestFilterByRider(t *testing.T) {
	rider := uuid.New()
	f := Filter{Table: TablePrescriptions, RiderID: &rider}

	evt := pendingEvent()
	assert.False(t, f.Matches(evt))
	evt.RiderID = &rider
	assert.True(t, f.Matches(evt))
}

func TestSlowSubscriberDropsAndCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewRealtime(reg)
	b := NewBroker(BrokerParams{Buffer: 1, Metrics: m})
	sub, err := b.Subscribe(Filter{Table: TablePrescriptions})
	require.NoError(t, err)

	b.Publish(context.Background(), pendingEvent())
	b.Publish(context.Background(), pendingEvent())

	assert.Len(t, sub.Events(), 1)
	mfs, err := reg.Gather()
	require.NoError(t, err)
	var dropped float64
	for _, mf := range mfs {
		if mf.GetName() == "rxd_realtime_dropped_events_total" {
			dropped = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(1), dropped)
}

func TestUnsubscribeAndCloseEndChannels(t *testing.T) {
	b := NewBroker(BrokerParams{})
	first, err := b.Subscribe(Filter{Table: TablePrescriptions})
	require.NoError(t, err)
	second, err := b.Subscribe(Filter{Table: TablePrescriptions})
	require.NoError(t, err)
	assert.Equal(t, 2, b.SubscriberCount())

	first.Unsubscribe()
	first.Unsubscribe()
	_, open := <-first.Events()
	assert.False(t, open)

	b.Close()
	_, open = <-second.Events()
	assert.False(t, open)

	_, err = b.Subscribe(Filter{Table: TablePrescriptions})
	assert.ErrorIs(t, err, ErrBrokerClosed)
}

type failingRemote struct{ calls int }

func (f *failingRemote) Send(context.Context, Event) error {
	f.calls++
	return assert.AnError
}

func TestRemoteFailureStillDeliversLocally(t *testing.T) {
	b := NewBroker(BrokerParams{})
	r := &failingRemote{}
	b.AttachRemote(r)
	sub, err := b.Subscribe(Filter{Table: TablePrescriptions})
	require.NoError(t, err)

	b.Publish(context.Background(), pendingEvent())
	receive(t, sub)
	assert.Equal(t, 1, r.calls)
}
