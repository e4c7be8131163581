package postgres

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/arbwatch/errs"
	"github.com/coachpo/arbwatch/internal/domain/schema"
	"github.com/coachpo/arbwatch/internal/infra/telemetry"
	"github.com/coachpo/arbwatch/internal/observability"
	"github.com/coachpo/arbwatch/lib/async"
)

const journalWriteTimeout = 5 * time.Second

// Inserter persists a single notification.
type Inserter interface {
	Insert(ctx context.Context, n schema.Notification) error
}

// Journal writes notifications asynchronously so scope actors never wait on
// the database. When the queue is full the notification is dropped and counted.
type Journal struct {
	store   Inserter
	pool    *async.Pool
	logger  observability.Logger
	dropped metric.Int64Counter
	written metric.Int64Counter
}

// NewJournal starts workers writing through store.
func NewJournal(store Inserter, workers, queue int, logger observability.Logger) (*Journal, error) {
	if store == nil {
		return nil, errs.New("postgres/journal", errs.CodeInvalid, errs.WithMessage("store required"))
	}
	log := observability.OrGlobal(logger)
	pool, err := async.NewPool(workers, queue, async.WithErrorHandler(func(err error) {
		log.Warn("journal write failed", observability.Err(err))
	}))
	if err != nil {
		return nil, err
	}
	meter := otel.Meter("arbwatch.journal")
	j := &Journal{store: store, pool: pool, logger: log}
	j.dropped, _ = meter.Int64Counter("arbwatch.journal.dropped",
		metric.WithDescription("Notifications dropped because the journal queue was full"),
		metric.WithUnit("{notification}"))
	j.written, _ = meter.Int64Counter("arbwatch.journal.written",
		metric.WithDescription("Notifications persisted to the journal"),
		metric.WithUnit("{notification}"))
	return j, nil
}

// Record queues n for persistence without blocking.
func (j *Journal) Record(n schema.Notification) {
	attrs := metric.WithAttributes(telemetry.NotificationAttributes(telemetry.Environment(), n.Scope, string(n.Type))...)
	err := j.pool.Submit(context.Background(), func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, journalWriteTimeout)
		defer cancel()
		if err := j.store.Insert(ctx, n); err != nil {
			return err
		}
		if j.written != nil {
			j.written.Add(ctx, 1, attrs)
		}
		return nil
	})
	if err != nil {
		if j.dropped != nil {
			j.dropped.Add(context.Background(), 1, attrs)
		}
		j.logger.Warn("journal dropped notification",
			observability.F("scope", n.Scope),
			observability.F("id", n.ID),
			observability.Err(err))
	}
}

// Close drains queued writes until ctx expires.
func (j *Journal) Close(ctx context.Context) error {
	return j.pool.Shutdown(ctx)
}
