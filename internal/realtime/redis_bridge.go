package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/rxdispatch/rxdispatch-backend/pkg/logger"
)

type envelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

type redisPubSub interface {
	Publish(ctx context.Context, channel string, message any) *goredis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *goredis.PubSub
}

// RedisBridge carries events between API instances over a Redis channel. Each
// instance tags what it sends with its origin id and ignores its own messages,
// since the local broker already delivered them.
type RedisBridge struct {
	rdb     redisPubSub
	channel string
	origin  string
	broker  *Broker
	logg    *logger.Logger
}

func NewRedisBridge(rdb *goredis.Client, channel string, broker *Broker, logg *logger.Logger) (*RedisBridge, error) {
	if rdb == nil {
		return nil, errors.New("redis client is required")
	}
	if channel == "" {
		return nil, errors.New("realtime channel is required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &RedisBridge{
		rdb:     rdb,
		channel: channel,
		origin:  uuid.NewString(),
		broker:  broker,
		logg:    logg,
	}, nil
}

// Send publishes evt for the other instances.
func (b *RedisBridge) Send(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(envelope{Origin: b.origin, Event: evt})
	if err != nil {
		return fmt.Errorf("encode realtime event: %w", err)
	}
	return b.rdb.Publish(ctx, b.channel, payload).Err()
}

// Run relays remote events into the local broker until ctx is cancelled.
// ready, when non-nil, is closed once the subscription is confirmed.
func (b *RedisBridge) Run(ctx context.Context, ready chan<- struct{}) error {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	defer func() { _ = pubsub.Close() }()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	if ready != nil {
		close(ready)
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			b.handle(ctx, msg.Payload)
		}
	}
}

func (b *RedisBridge) handle(ctx context.Context, payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.logg.Warn(b.logg.WithField(ctx, "channel", b.channel), "realtime.malformed_remote_event")
		return
	}
	if env.Origin == b.origin {
		return
	}
	b.broker.Deliver(env.Event)
}
