package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rxdispatch/rxdispatch-backend/pkg/logger"
	"github.com/rxdispatch/rxdispatch-backend/pkg/metrics"
)

const defaultBuffer = 64

// ErrBrokerClosed is returned by Subscribe after Close.
var ErrBrokerClosed = errors.New("realtime broker closed")

// Publisher is what mutating services depend on.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

type remote interface {
	Send(ctx context.Context, evt Event) error
}

// Broker keeps the local subscriptions. Delivery is a non-blocking send; a
// subscriber whose buffer is full misses the event and the drop is counted.
type Broker struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	buffer  int
	remote  remote
	metrics *metrics.Realtime
	logg    *logger.Logger
	now     func() time.Time
}

// BrokerParams configures a Broker.
type BrokerParams struct {
	Buffer  int
	Metrics *metrics.Realtime
	Logger  *logger.Logger
}

func NewBroker(params BrokerParams) *Broker {
	buffer := params.Buffer
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Broker{
		subs:    make(map[uint64]*Subscription),
		buffer:  buffer,
		metrics: params.Metrics,
		logg:    logg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// AttachRemote makes Publish forward every event to other instances.
func (b *Broker) AttachRemote(r remote) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remote = r
}

// Subscription is a channel of matching events. Events is closed by
// Unsubscribe or when the broker closes.
type Subscription struct {
	id     uint64
	filter Filter
	ch     chan Event
	broker *Broker
	once   sync.Once
}

func (s *Subscription) Events() <-chan Event {
	return s.ch
}

func (s *Subscription) Filter() Filter {
	return s.filter
}

func (s *Subscription) Unsubscribe() {
	s.broker.remove(s.id)
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

func (b *Broker) Subscribe(filter Filter) (*Subscription, error) {
	if filter.Table == "" {
		return nil, errors.New("subscription table is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBrokerClosed
	}
	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		filter: filter,
		ch:     make(chan Event, b.buffer),
		broker: b,
	}
	b.subs[sub.id] = sub
	b.metrics.AddSubscribers(1)
	return sub, nil
}

func (b *Broker) remove(id uint64) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		b.metrics.AddSubscribers(-1)
		sub.close()
	}
}

// Publish stamps the event, delivers it locally and forwards it to the remote
// fan-out when one is attached. Forwarding failures are logged, never returned:
// the database change has already committed.
func (b *Broker) Publish(ctx context.Context, evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = b.now()
	}
	b.Deliver(evt)

	b.mu.RLock()
	r := b.remote
	b.mu.RUnlock()
	if r == nil {
		return
	}
	if err := r.Send(ctx, evt); err != nil {
		b.logg.Error(b.logg.WithField(ctx, "event_id", evt.ID), "realtime.remote_publish_failed", err)
	}
}

// Deliver hands evt to local subscribers only.
func (b *Broker) Deliver(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if !sub.filter.Matches(evt) {
			continue
		}
		select {
		case sub.ch <- evt:
			b.metrics.IncDelivered()
		default:
			b.metrics.IncDropped()
		}
	}
}

// SubscriberCount returns the number of open subscriptions.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends every subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[uint64]*Subscription)
	b.mu.Unlock()
	for _, sub := range subs {
		b.metrics.AddSubscribers(-1)
		sub.close()
	}
}
