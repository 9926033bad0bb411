package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rxdispatch/rxdispatch-backend/pkg/config"
	"github.com/rxdispatch/rxdispatch-backend/pkg/db"
	"github.com/rxdispatch/rxdispatch-backend/pkg/db/models"
	"github.com/rxdispatch/rxdispatch-backend/pkg/logger"
	"github.com/rxdispatch/rxdispatch-backend/pkg/metrics"
	"github.com/rxdispatch/rxdispatch-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize   = 50
	defaultPoll        = 500 * time.Millisecond
	defaultMaxAttempts = 10
	publishTimeout     = 15 * time.Second
	maxErrorBackoff    = 10 * time.Second
	jitterWindow       = 250 * time.Millisecond
	guardScope         = "outbox-publisher"
)

type eventStore interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetterStore interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type resolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// publishGuard remembers event ids already handed to Pub/Sub, so a batch whose
// commit failed after publishing does not publish them twice.
type publishGuard interface {
	Claim(ctx context.Context, scope string, eventID uuid.UUID) (bool, error)
	Release(ctx context.Context, scope string, eventID uuid.UUID) error
}

// Check is a dependency probed once before the relay starts polling.
type Check struct {
	Name string
	Ping func(context.Context) error
}

type RelayParams struct {
	Config      config.OutboxConfig
	Logger      *logger.Logger
	DB          db.TxRunner
	Store       eventStore
	DeadLetters deadLetterStore
	Resolver    resolver
	Topics      topicSource
	Guard       publishGuard
	Metrics     *metrics.Outbox
	Checks      []Check
}

// Relay moves committed outbox rows to Pub/Sub. Each batch is claimed with
// FOR UPDATE SKIP LOCKED inside one transaction, so several relays can run
// side by side without publishing the same row twice.
type Relay struct {
	logg        *logger.Logger
	db          db.TxRunner
	store       eventStore
	dead        deadLetterStore
	resolver    resolver
	topics      topicSource
	guard       publishGuard
	metrics     *metrics.Outbox
	checks      []Check
	batchSize   int
	maxAttempts int
	poll        time.Duration
	now         func() time.Time
}

func NewRelay(p RelayParams) (*Relay, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	case p.DB == nil:
		return nil, errors.New("database is required")
	case p.Store == nil:
		return nil, errors.New("outbox store is required")
	case p.DeadLetters == nil:
		return nil, errors.New("dead letter store is required")
	case p.Resolver == nil:
		return nil, errors.New("event registry is required")
	case p.Topics == nil:
		return nil, errors.New("topic source is required")
	}
	r := &Relay{
		logg:        p.Logger,
		db:          p.DB,
		store:       p.Store,
		dead:        p.DeadLetters,
		resolver:    p.Resolver,
		topics:      p.Topics,
		guard:       p.Guard,
		metrics:     p.Metrics,
		checks:      p.Checks,
		batchSize:   orDefault(p.Config.BatchSize, defaultBatchSize),
		maxAttempts: orDefault(p.Config.MaxAttempts, defaultMaxAttempts),
		poll:        time.Duration(p.Config.PollIntervalMS) * time.Millisecond,
		now:         time.Now,
	}
	if r.poll <= 0 {
		r.poll = defaultPoll
	}
	return r, nil
}

// Run polls until ctx is cancelled. A full batch is followed immediately by
// the next one; a failed batch doubles the wait up to maxErrorBackoff.
func (r *Relay) Run(ctx context.Context) error {
	for _, check := range r.checks {
		if err := check.Ping(ctx); err != nil {
			return fmt.Errorf("%s unavailable: %w", check.Name, err)
		}
	}

	wait := r.poll
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		handled, err := r.drain(ctx)
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox.batch_failed", err)
			wait = min(wait*2, maxErrorBackoff)
		case handled == r.batchSize:
			wait = r.poll
			continue
		default:
			wait = r.poll
		}
		if err := sleep(ctx, wait+rand.N(jitterWindow)); err != nil {
			return err
		}
	}
}

// drain handles one batch and reports how many rows it claimed. Outcome
// metrics are only recorded once the batch commits.
func (r *Relay) drain(ctx context.Context) (int, error) {
	started := r.now()
	defer func() { r.metrics.ObserveBatch(r.now().Sub(started)) }()

	outcomes := map[string]int{}
	var claimed int
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := r.store.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("claim batch: %w", err)
		}
		claimed = len(events)
		for _, event := range events {
			outcome, err := r.dispatch(ctx, tx, event)
			if err != nil {
				return err
			}
			outcomes[outcome]++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if claimed == 0 {
		return 0, nil
	}

	fields := map[string]any{"claimed": claimed}
	for outcome, n := range outcomes {
		r.metrics.AddOutcome(outcome, n)
		fields[outcome] = n
	}
	r.logg.Info(r.logg.WithFields(ctx, fields), "outbox.batch_complete")
	return claimed, nil
}

func orDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
