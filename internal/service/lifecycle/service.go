// Package lifecycle owns every mutation of a tracked record's stage and the
// job to relationship transform. Callers identify themselves with a
// domain.AuditInfo; its Actor is also the owner every read and write is
// scoped to.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pipeboard/pipeboard/internal/domain"
	"github.com/pipeboard/pipeboard/internal/platform/locker"
	"github.com/pipeboard/pipeboard/internal/platform/metrics"
	"github.com/pipeboard/pipeboard/internal/platform/tracing"
	"github.com/pipeboard/pipeboard/internal/repo"
)

type Options struct {
	Locker  locker.Locker
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
	NewID   func() string
	// LogCreationEvent writes a first stage event (previous stage null)
	// when a record is created.
	LogCreationEvent bool
}

type Service struct {
	store            repo.Store
	locker           locker.Locker
	metrics          *metrics.Metrics
	logger           *slog.Logger
	tracer           trace.Tracer
	now              func() time.Time
	newID            func() string
	logCreationEvent bool
}

func New(store repo.Store, opts Options) *Service {
	if store == nil {
		return nil
	}
	s := &Service{
		store:            store,
		locker:           opts.Locker,
		metrics:          opts.Metrics,
		logger:           opts.Logger,
		tracer:           tracing.Tracer(tracing.Scope + "/lifecycle"),
		now:              opts.Now,
		newID:            opts.NewID,
		logCreationEvent: opts.LogCreationEvent,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// run wraps one unit of work in a span and records its duration.
func (s *Service) run(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(ctx context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "lifecycle."+op, trace.WithAttributes(attrs...))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	s.metrics.ObserveTx(op, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// withEntityLock holds the per-entity lock around fn. The lock only bounds
// waiting; the row lock taken inside the transaction is what serializes.
func (s *Service) withEntityLock(ctx context.Context, kind domain.Kind, id string, fn func() error) error {
	if s.locker == nil {
		return fn()
	}
	unlock, err := s.locker.Lock(ctx, string(kind)+":"+id)
	if err != nil {
		if errors.Is(err, locker.ErrLockTimeout) {
			return fmt.Errorf("%s %s: %w", kind, id, domain.ErrBusy)
		}
		return err
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("entity unlock failed", "kind", kind, "id", id, "error", err)
		}
	}()
	return fn()
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func entityAttrs(kind domain.Kind, id string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("pipeboard.kind", string(kind)),
		attribute.String("pipeboard.entity_id", id),
	}
}

// readTracked returns the header of a record without taking a row lock.
func readTracked(ctx context.Context, tx repo.Tx, kind domain.Kind, owner, id string) (domain.Tracked, error) {
	switch kind {
	case domain.KindJob:
		job, err := tx.GetJob(ctx, owner, id)
		if err != nil {
			return domain.Tracked{}, err
		}
		return job.Tracked, nil
	case domain.KindRelationship:
		rel, err := tx.GetRelationship(ctx, owner, id)
		if err != nil {
			return domain.Tracked{}, err
		}
		return rel.Tracked, nil
	default:
		return domain.Tracked{}, fmt.Errorf("unknown kind %q", kind)
	}
}
