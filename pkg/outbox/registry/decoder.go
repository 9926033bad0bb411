package registry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
	"github.com/rxdispatch/rxdispatch-backend/pkg/outbox/payloads"
)

// ErrNoDecoder is returned for an event type and version nobody registered.
var ErrNoDecoder = errors.New("no decoder registered")

type decodeFunc func(json.RawMessage) (any, error)

type decoderKey struct {
	eventType enums.OutboxEventType
	version   int
}

// Decoders turns envelope data into typed payloads on the consumer side. It
// is fixed at construction, so it is safe for concurrent use.
type Decoders struct {
	byKey map[decoderKey]decodeFunc
	types map[enums.OutboxEventType]bool
}

// DecoderOption registers one event type and version.
type DecoderOption func(*Decoders)

// As decodes eventType at version into a T value. If T has a Validate
// method it runs after unmarshalling.
func As[T any](eventType enums.OutboxEventType, version int) DecoderOption {
	return func(d *Decoders) {
		d.byKey[decoderKey{eventType, version}] = func(raw json.RawMessage) (any, error) {
			var out T
			if err := json.Unmarshal(raw, &out); err != nil {
				return nil, err
			}
			if v, ok := any(out).(interface{ Validate() error }); ok {
				if err := v.Validate(); err != nil {
					return nil, err
				}
			}
			return out, nil
		}
		d.types[eventType] = true
	}
}

func NewDecoders(opts ...DecoderOption) *Decoders {
	d := &Decoders{
		byKey: make(map[decoderKey]decodeFunc),
		types: make(map[enums.OutboxEventType]bool),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handles reports whether any version of eventType is registered.
func (d *Decoders) Handles(eventType enums.OutboxEventType) bool {
	return d.types[eventType]
}

func (d *Decoders) Decode(eventType enums.OutboxEventType, version int, data json.RawMessage) (any, error) {
	decode, ok := d.byKey[decoderKey{eventType, version}]
	if !ok {
		return nil, fmt.Errorf("%w for %s@v%d", ErrNoDecoder, eventType, version)
	}
	out, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s@v%d: %w", eventType, version, err)
	}
	return out, nil
}

// PrescriptionDecoders covers the prescription events the notification
// worker reacts to.
func PrescriptionDecoders() *Decoders {
	return NewDecoders(
		As[payloads.PrescriptionCreatedEvent](enums.EventPrescriptionCreated, 1),
		As[payloads.PrescriptionStatusChangedEvent](enums.EventPrescriptionStatusChanged, 1),
	)
}
