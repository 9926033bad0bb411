package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rxdispatch/rxdispatch-backend/pkg/redis"
)

// DefaultTTL bounds how long a delivered event id is remembered.
const DefaultTTL = 24 * time.Hour

// Manager remembers delivered event ids per scope using Redis SETNX with a TTL.
// Keys follow the `rxd:idempotency:evt:<scope>:<event_id>` pattern.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewManager builds a guard that keeps event ids for the given TTL.
func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		store: store,
		ttl:   ttl,
	}, nil
}

// Claim returns true when the event was already claimed in scope; otherwise it
// claims it for the configured TTL.
func (m *Manager) Claim(ctx context.Context, scope string, eventID uuid.UUID) (bool, error) {
	key, err := m.key(scope, eventID)
	if err != nil {
		return false, err
	}
	set, err := m.store.SetNX(ctx, key, "1", m.ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

// Once runs fn the first time eventID is seen in scope. A failing fn gives
// the claim back so a redelivery can try again. ran is false for duplicates.
func (m *Manager) Once(ctx context.Context, scope string, eventID uuid.UUID, fn func(context.Context) error) (ran bool, err error) {
	already, err := m.Claim(ctx, scope, eventID)
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	if already {
		return false, nil
	}
	if err := fn(ctx); err != nil {
		if relErr := m.Release(ctx, scope, eventID); relErr != nil {
			return true, errors.Join(err, fmt.Errorf("release: %w", relErr))
		}
		return true, err
	}
	return true, nil
}

// Release drops a claim so a later attempt can retry the event.
func (m *Manager) Release(ctx context.Context, scope string, eventID uuid.UUID) error {
	key, err := m.key(scope, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) key(scope string, eventID uuid.UUID) (string, error) {
	if scope == "" {
		return "", errors.New("scope is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return m.store.IdempotencyKey(fmt.Sprintf("evt:%s", scope), eventID.String()), nil
}
