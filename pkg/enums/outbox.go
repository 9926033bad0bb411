package enums

import "fmt"

// OutboxAggregateType names the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregatePrescription     OutboxAggregateType = "prescription"
	AggregatePharmacyResponse OutboxAggregateType = "pharmacy_response"
	AggregateUser             OutboxAggregateType = "user"
	AggregatePharmacy         OutboxAggregateType = "pharmacy"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregatePrescription,
	AggregatePharmacyResponse,
	AggregateUser,
	AggregatePharmacy,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType names a domain event persisted through the outbox.
type OutboxEventType string

const (
	EventPrescriptionCreated       OutboxEventType = "prescription_created"
	EventPrescriptionStatusChanged OutboxEventType = "prescription_status_changed"
	EventPharmacyResponseRecorded  OutboxEventType = "pharmacy_response_recorded"
	EventUserBlockChanged          OutboxEventType = "user_block_changed"
	EventUserRoleChanged           OutboxEventType = "user_role_changed"
	EventPharmacyVerifyChanged     OutboxEventType = "pharmacy_verify_changed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventPrescriptionCreated,
	EventPrescriptionStatusChanged,
	EventPharmacyResponseRecorded,
	EventUserBlockChanged,
	EventUserRoleChanged,
	EventPharmacyVerifyChanged,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// OutboxDLQErrorReason records why the publisher gave up on an event.
type OutboxDLQErrorReason string

const (
	// OutboxDLQReasonMaxAttempts: retryable failures exhausted RXD_OUTBOX_MAX_ATTEMPTS.
	OutboxDLQReasonMaxAttempts OutboxDLQErrorReason = "max_attempts"
	// OutboxDLQReasonNonRetryable: the event could not be resolved or Pub/Sub
	// rejected it permanently.
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

// IsValid matches the CHECK constraint on outbox_dlq.error_reason.
func (r OutboxDLQErrorReason) IsValid() bool {
	switch r {
	case OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable:
		return true
	}
	return false
}
