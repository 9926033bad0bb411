package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rxdispatch/rxdispatch-backend/pkg/db/models"
	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
	"github.com/rxdispatch/rxdispatch-backend/pkg/metrics"
	"github.com/rxdispatch/rxdispatch-backend/pkg/outbox/registry"
)

// dispatch settles one claimed row and returns its outcome label. A returned
// error aborts the whole batch transaction.
func (r *Relay) dispatch(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) (string, error) {
	ctx = r.logg.WithFields(ctx, map[string]any{
		"outbox_id":     event.ID.String(),
		"event_type":    event.EventType,
		"aggregate_id":  event.AggregateID.String(),
		"attempt_count": event.AttemptCount,
	})

	resolved, err := r.resolver.Resolve(event)
	if err != nil {
		return r.deadLetter(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, err)
	}
	ctx = r.logg.WithFields(ctx, map[string]any{
		"event_id": resolved.Envelope.EventID,
		"topic":    resolved.Descriptor.Topic,
	})

	if r.claimed(ctx, event.ID) {
		if err := r.store.MarkPublishedTx(tx, event.ID); err != nil {
			return "", fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		r.logg.Info(ctx, "outbox.event_deduped")
		return metrics.OutboxDeduped, nil
	}

	if err := r.send(ctx, event, resolved); err != nil {
		r.unclaim(ctx, event.ID)
		return r.retryOrBury(ctx, tx, event, err)
	}
	if err := r.store.MarkPublishedTx(tx, event.ID); err != nil {
		return "", fmt.Errorf("mark published %s: %w", event.ID, err)
	}
	r.logg.Debug(ctx, "outbox.event_published")
	return metrics.OutboxPublished, nil
}

func (r *Relay) retryOrBury(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, cause error) (string, error) {
	var nonRetry registry.NonRetryableError
	if errors.As(cause, &nonRetry) {
		return r.deadLetter(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, cause)
	}
	attempt := event.AttemptCount + 1
	if attempt >= r.maxAttempts {
		cause = fmt.Errorf("attempt %d of %d: %w", attempt, r.maxAttempts, cause)
		return r.deadLetter(ctx, tx, event, enums.OutboxDLQReasonMaxAttempts, cause)
	}

	r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
		"attempt": attempt,
		"error":   cause.Error(),
	}), "outbox.publish_retry")
	if err := r.store.MarkFailedTx(tx, event.ID, cause); err != nil {
		return "", fmt.Errorf("mark failed %s: %w", event.ID, err)
	}
	return metrics.OutboxRetried, nil
}

// deadLetter copies the row into outbox_dlq and pins it so it is never
// fetched again. Both writes share the batch transaction.
func (r *Relay) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) (string, error) {
	msg := cause.Error()
	err := r.dead.InsertTx(tx, models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  event.AttemptCount,
		FailedAt:      r.now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("dead-letter %s: %w", event.ID, err)
	}
	if err := r.store.MarkTerminalTx(tx, event.ID, cause, r.maxAttempts); err != nil {
		return "", fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
		"error_reason": reason,
		"error":        msg,
	}), "outbox.event_dead_lettered")
	return metrics.OutboxDeadLettered, nil
}

// send publishes the stored envelope unchanged; consumers route on the
// event_type attribute before decoding the body.
func (r *Relay) send(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := r.topics.Topic(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("no publisher for topic %q", topic))
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	_, err := pub.Publish(ctx, &gcppubsub.Message{
		Data: event.Payload,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"occurred_at":    resolved.Envelope.OccurredAt.UTC().Format(time.RFC3339Nano),
		},
	})
	return err
}

// claimed reports whether a previous, uncommitted batch already published the
// row. A guard outage is logged and treated as not claimed.
func (r *Relay) claimed(ctx context.Context, id uuid.UUID) bool {
	if r.guard == nil {
		return false
	}
	seen, err := r.guard.Claim(ctx, guardScope, id)
	if err != nil {
		r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "outbox.guard_unavailable")
		return false
	}
	return seen
}

func (r *Relay) unclaim(ctx context.Context, id uuid.UUID) {
	if r.guard == nil {
		return
	}
	if err := r.guard.Release(ctx, guardScope, id); err != nil {
		r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "outbox.guard_release_failed")
	}
}
