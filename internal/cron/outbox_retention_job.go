package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/rxdispatch/rxdispatch-backend/pkg/db"
	"github.com/rxdispatch/rxdispatch-backend/pkg/logger"
	"github.com/rxdispatch/rxdispatch-backend/pkg/outbox"
)

const (
	defaultOutboxRetentionDays = 30
	defaultDLQRetentionDays    = 90
)

type publishedPurger interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type deadLetterStore interface {
	DeleteFailedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
	Backlog(ctx context.Context) ([]outbox.ReasonCount, error)
}

type OutboxRetentionJobParams struct {
	Logger *logger.Logger
	DB     db.TxRunner
	Outbox publishedPurger
	DLQ    deadLetterStore
	// Days to keep published events and dead letters.
	OutboxDays int
	DLQDays    int
}

// NewOutboxRetentionJob prunes published outbox rows and aged dead letters in
// separate transactions. Unpublished rows are never touched.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.DB == nil {
		return nil, errors.New("db runner required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:       params.Logger,
		db:         params.DB,
		outbox:     params.Outbox,
		dlq:        params.DLQ,
		outboxDays: params.OutboxDays,
		dlqDays:    params.DLQDays,
		now:        time.Now,
	}
	if job.outboxDays <= 0 {
		job.outboxDays = defaultOutboxRetentionDays
	}
	if job.dlqDays <= 0 {
		job.dlqDays = defaultDLQRetentionDays
	}
	return job, nil
}

type outboxRetentionJob struct {
	logg       *logger.Logger
	db         db.TxRunner
	outbox     publishedPurger
	dlq        deadLetterStore
	outboxDays int
	dlqDays    int
	now        func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	outboxCutoff := now.AddDate(0, 0, -j.outboxDays)
	dlqCutoff := now.AddDate(0, 0, -j.dlqDays)

	var errs []error
	published, err := j.purge(ctx, func(tx *gorm.DB) (int64, error) {
		return j.outbox.DeletePublishedBefore(ctx, tx, outboxCutoff)
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("purge published events: %w", err))
	}
	var dead int64
	if j.dlq != nil {
		dead, err = j.purge(ctx, func(tx *gorm.DB) (int64, error) {
			return j.dlq.DeleteFailedBefore(ctx, tx, dlqCutoff)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("purge dead letters: %w", err))
		}
	}

	ctx = j.logg.WithFields(ctx, map[string]any{
		"outbox_cutoff":  outboxCutoff,
		"dlq_cutoff":     dlqCutoff,
		"events_deleted": published,
		"dlq_deleted":    dead,
	})
	j.logg.Info(ctx, "cron.outbox_retention_complete")
	if j.dlq != nil {
		j.reportBacklog(ctx)
	}
	return multierr.Combine(errs...)
}

// reportBacklog warns about dead letters that survived the purge; they need
// an operator to replay or drop them.
func (j *outboxRetentionJob) reportBacklog(ctx context.Context) {
	backlog, err := j.dlq.Backlog(ctx)
	if err != nil {
		j.logg.Error(ctx, "cron.outbox_dlq_backlog_failed", err)
		return
	}
	if len(backlog) == 0 {
		return
	}
	fields := make(map[string]any, len(backlog))
	for _, row := range backlog {
		fields["dlq_"+string(row.Reason)] = row.Total
	}
	j.logg.Warn(j.logg.WithFields(ctx, fields), "cron.outbox_dlq_backlog")
}

func (j *outboxRetentionJob) purge(ctx context.Context, fn func(tx *gorm.DB) (int64, error)) (int64, error) {
	var n int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		n, err = fn(tx)
		return err
	})
	return n, err
}
