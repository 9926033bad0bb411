package main

import (
	"context"
	"sync"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

// topicPublisher sends one message and waits for the server ack.
type topicPublisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) (string, error)
}

type topicSource interface {
	Topic(name string) topicPublisher
}

type publisherFactory interface {
	Publisher(name string) *gcppubsub.Publisher
}

// pubsubTopics hands out one long-lived publisher per topic. Each
// gcppubsub.Publisher owns batching goroutines, so they are cached and stopped
// together on shutdown.
type pubsubTopics struct {
	client publisherFactory

	mu   sync.Mutex
	pubs map[string]*gcppubsub.Publisher
}

func newPubSubTopics(client publisherFactory) *pubsubTopics {
	return &pubsubTopics{client: client, pubs: map[string]*gcppubsub.Publisher{}}
}

func (t *pubsubTopics) Topic(name string) topicPublisher {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pub, ok := t.pubs[name]; ok {
		return ackingPublisher{pub}
	}
	pub := t.client.Publisher(name)
	if pub == nil {
		return nil
	}
	t.pubs[name] = pub
	return ackingPublisher{pub}
}

// Stop flushes and stops every publisher handed out so far.
func (t *pubsubTopics) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for name, pub := range t.pubs {
		pub.Stop()
		delete(t.pubs, name)
	}
}

type ackingPublisher struct {
	pub *gcppubsub.Publisher
}

func (p ackingPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) (string, error) {
	return p.pub.Publish(ctx, msg).Get(ctx)
}
