package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/rxdispatch/rxdispatch-backend/pkg/db/models"
	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
	"github.com/rxdispatch/rxdispatch-backend/pkg/logger"
	"github.com/rxdispatch/rxdispatch-backend/pkg/outbox"
	"github.com/rxdispatch/rxdispatch-backend/pkg/outbox/idempotency"
	"github.com/rxdispatch/rxdispatch-backend/pkg/outbox/payloads"
	"github.com/rxdispatch/rxdispatch-backend/pkg/outbox/registry"
)

const consumerScope = "notifications"

type writer interface {
	CreateBatch(ctx context.Context, rows []models.Notification) error
}

type pharmacyOwners interface {
	VerifiedOwnerIDs(ctx context.Context) ([]uuid.UUID, error)
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

type ConsumerParams struct {
	Repo         writer
	Owners       pharmacyOwners
	Subscription receiver
	Idempotency  *idempotency.Manager
	Logger       *logger.Logger
}

// Consumer turns prescription events from Pub/Sub into inbox rows.
type Consumer struct {
	repo         writer
	owners       pharmacyOwners
	subscription receiver
	idempotency  *idempotency.Manager
	decoders     *registry.Decoders
	logg         *logger.Logger
}

func NewConsumer(params ConsumerParams) (*Consumer, error) {
	switch {
	case params.Repo == nil:
		return nil, errors.New("notifications repository required")
	case params.Owners == nil:
		return nil, errors.New("pharmacy owner lookup required")
	case params.Subscription == nil:
		return nil, errors.New("subscription required")
	case params.Idempotency == nil:
		return nil, errors.New("idempotency manager required")
	case params.Logger == nil:
		return nil, errors.New("logger required")
	}
	return &Consumer{
		repo:         params.Repo,
		owners:       params.Owners,
		subscription: params.Subscription,
		idempotency:  params.Idempotency,
		decoders:     registry.PrescriptionDecoders(),
		logg:         params.Logger,
	}, nil
}

func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *gcppubsub.Message) {
		if c.handle(ctx, msg.ID, msg.Attributes, msg.Data) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// handle reports whether the message should be acked. Malformed messages are
// acked and logged since redelivery cannot fix them.
func (c *Consumer) handle(ctx context.Context, messageID string, attrs map[string]string, data []byte) bool {
	eventType := enums.OutboxEventType(attrs["event_type"])
	ctx = c.logg.WithFields(ctx, map[string]any{
		"message_id": messageID,
		"event_type": string(eventType),
	})
	if !c.decoders.Handles(eventType) {
		return true
	}

	envelope, eventID, err := outbox.ParseEnvelope(data)
	if err != nil {
		c.logg.Error(ctx, "notifications.decode_envelope_failed", err)
		return true
	}

	evt, err := c.decoders.Decode(eventType, envelope.Version, envelope.Data)
	if err != nil {
		c.logg.Error(ctx, "notifications.decode_payload_failed", err)
		return true
	}

	rows, err := c.compose(ctx, eventID, evt)
	if err != nil {
		// owner lookup failures are transient; let Pub/Sub redeliver
		c.logg.Error(ctx, "notifications.compose_failed", err)
		return false
	}
	if len(rows) == 0 {
		return true
	}

	ran, err := c.idempotency.Once(ctx, consumerScope, eventID, func(ctx context.Context) error {
		return c.repo.CreateBatch(ctx, rows)
	})
	if err != nil {
		c.logg.Error(ctx, "notifications.persist_failed", err)
		return false
	}
	if !ran {
		c.logg.Info(ctx, "notifications.duplicate_event")
		return true
	}
	c.logg.Info(c.logg.WithField(ctx, "recipients", len(rows)), "notifications.created")
	return true
}

func (c *Consumer) compose(ctx context.Context, eventID uuid.UUID, evt interface{}) ([]models.Notification, error) {
	switch evt := evt.(type) {
	case payloads.PrescriptionCreatedEvent:
		if evt.Status != enums.PrescriptionStatusAwaitingPharmacyResponse {
			return nil, nil
		}
		owners, err := c.owners.VerifiedOwnerIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list pharmacy owners: %w", err)
		}
		return stockRequests(eventID, evt, owners), nil
	case payloads.PrescriptionStatusChangedEvent:
		row, ok := statusUpdate(eventID, evt)
		if !ok {
			return nil, nil
		}
		return []models.Notification{row}, nil
	}
	return nil, nil
}

func stockRequests(eventID uuid.UUID, evt payloads.PrescriptionCreatedEvent, owners []uuid.UUID) []models.Notification {
	message := "A patient is looking for a medicine. Check your stock and respond."
	if evt.Notes != nil && strings.TrimSpace(*evt.Notes) != "" {
		message = fmt.Sprintf("%s. Check your stock and respond.", strings.TrimSpace(*evt.Notes))
	}
	rxID := evt.PrescriptionID
	rows := make([]models.Notification, 0, len(owners))
	for _, owner := range owners {
		if owner == evt.UserID {
			continue
		}
		rows = append(rows, models.Notification{
			UserID:         owner,
			EventID:        eventID,
			Type:           enums.NotificationStockRequest,
			Title:          "New stock request",
			Message:        message,
			PrescriptionID: &rxID,
		})
	}
	return rows
}

func statusUpdate(eventID uuid.UUID, evt payloads.PrescriptionStatusChangedEvent) (models.Notification, bool) {
	var title, message string
	switch evt.To {
	case enums.PrescriptionStatusPharmacyConfirmed:
		title, message = "Medicine available", "A pharmacy confirmed it has your medicine in stock."
	case enums.PrescriptionStatusAssigned:
		title, message = "Rider assigned", "A rider accepted your prescription."
	case enums.PrescriptionStatusPickedUp:
		title, message = "On the way", "Your medicine has been picked up and is on its way."
	case enums.PrescriptionStatusDelivered:
		title, message = "Delivered", "Your medicine has been delivered."
	case enums.PrescriptionStatusRejected:
		title, message = "Prescription rejected", "Your prescription was rejected."
		if evt.Reason != nil && strings.TrimSpace(*evt.Reason) != "" {
			message = fmt.Sprintf("Your prescription was rejected: %s", strings.TrimSpace(*evt.Reason))
		}
	default:
		return models.Notification{}, false
	}
	rxID := evt.PrescriptionID
	return models.Notification{
		UserID:         evt.UserID,
		EventID:        eventID,
		Type:           enums.NotificationPrescriptionUpdate,
		Title:          title,
		Message:        message,
		PrescriptionID: &rxID,
	}, true
}
