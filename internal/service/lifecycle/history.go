package lifecycle

import (
	"context"
	"errors"

	"github.com/pipeboard/pipeboard/internal/domain"
	"github.com/pipeboard/pipeboard/internal/repo"
)

// RecordTransition moves a record to a new stage and appends the matching
// history event in one transaction. Moving to the current stage returns
// domain.ErrNoOpTransition and writes nothing.
func (s *Service) RecordTransition(ctx context.Context, info domain.AuditInfo, kind domain.Kind, id, rawStage string) (domain.StageEvent, error) {
	if !kind.Valid() {
		return domain.StageEvent{}, errors.New("unknown entity kind")
	}
	target, err := domain.ParseStage(kind, rawStage)
	if err != nil {
		s.metrics.TransitionRejected(string(kind), "invalid_stage")
		return domain.StageEvent{}, err
	}

	var event domain.StageEvent
	err = s.withEntityLock(ctx, kind, id, func() error {
		return s.run(ctx, "transition", entityAttrs(kind, id), func(ctx context.Context) error {
			return s.store.WithTx(ctx, func(tx repo.Tx) error {
				tracked, err := tx.LockEntity(ctx, kind, info.Actor, id)
				if err != nil {
					return err
				}
				if tracked.Locked {
					return domain.ErrLocked
				}
				event, err = s.recordTransition(ctx, tx, info, tracked, target)
				return err
			})
		})
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNoOpTransition):
			s.metrics.TransitionRejected(string(kind), "no_op")
		case errors.Is(err, domain.ErrLocked):
			s.metrics.TransitionRejected(string(kind), "locked")
		}
		return domain.StageEvent{}, err
	}
	s.metrics.Transition(string(kind), string(event.NewStage))
	return event, nil
}

// recordTransition must run on a row-locked header.
func (s *Service) recordTransition(ctx context.Context, tx repo.Tx, info domain.AuditInfo, tracked domain.Tracked, to domain.Stage) (domain.StageEvent, error) {
	if err := domain.ValidateTransition(tracked.Kind, tracked.Stage, to); err != nil {
		return domain.StageEvent{}, err
	}
	last, err := tx.LastStageEvent(ctx, tracked.Kind, tracked.ID)
	if err != nil {
		return domain.StageEvent{}, err
	}
	seq := int64(1)
	if last != nil {
		seq = last.Seq + 1
		if last.NewStage != tracked.Stage {
			s.logger.Warn("stage history disagrees with record",
				"kind", tracked.Kind,
				"id", tracked.ID,
				"record_stage", tracked.Stage,
				"last_event_stage", last.NewStage,
			)
		}
	}

	from := tracked.Stage
	event := domain.StageEvent{
		ID:            s.newID(),
		EntityKind:    tracked.Kind,
		EntityID:      tracked.ID,
		Seq:           seq,
		PreviousStage: &from,
		NewStage:      to,
		ChangedAt:     domain.NextChangedAt(last, s.now()),
	}
	if err := event.Validate(); err != nil {
		return domain.StageEvent{}, err
	}
	if err := tx.AppendStageEvent(ctx, event); err != nil {
		return domain.StageEvent{}, err
	}
	if err := tx.SetStage(ctx, tracked.Kind, tracked.ID, to, event.ChangedAt); err != nil {
		return domain.StageEvent{}, err
	}
	if err := s.audit(ctx, tx, info.Event(string(tracked.Kind)+".stage_changed", string(tracked.Kind), tracked.ID, map[string]any{
		"from": string(from),
		"to":   string(to),
		"seq":  seq,
	})); err != nil {
		return domain.StageEvent{}, err
	}
	return event, nil
}

func (s *Service) appendCreationEvent(ctx context.Context, tx repo.Tx, tracked domain.Tracked) error {
	if !s.logCreationEvent {
		return nil
	}
	return tx.AppendStageEvent(ctx, domain.StageEvent{
		ID:         s.newID(),
		EntityKind: tracked.Kind,
		EntityID:   tracked.ID,
		Seq:        1,
		NewStage:   tracked.Stage,
		ChangedAt:  tracked.CreatedAt,
	})
}

// History returns the stage events of an owned record, oldest first.
func (s *Service) History(ctx context.Context, owner string, kind domain.Kind, id string) ([]domain.StageEvent, error) {
	events, _, err := s.history(ctx, owner, kind, id)
	return events, err
}

// Journey returns the display path of an owned record.
func (s *Service) Journey(ctx context.Context, owner string, kind domain.Kind, id string) ([]domain.JourneyNode, error) {
	events, tracked, err := s.history(ctx, owner, kind, id)
	if err != nil {
		return nil, err
	}
	return domain.ReconstructJourney(events, tracked.Stage, s.now()), nil
}

func (s *Service) history(ctx context.Context, owner string, kind domain.Kind, id string) ([]domain.StageEvent, domain.Tracked, error) {
	if !kind.Valid() {
		return nil, domain.Tracked{}, errors.New("unknown entity kind")
	}
	var (
		events  []domain.StageEvent
		tracked domain.Tracked
	)
	err := s.store.WithTx(ctx, func(tx repo.Tx) error {
		var err error
		tracked, err = readTracked(ctx, tx, kind, owner, id)
		if err != nil {
			return err
		}
		events, err = tx.ListStageEvents(ctx, kind, id)
		return err
	})
	if err != nil {
		return nil, domain.Tracked{}, err
	}
	if events == nil {
		events = []domain.StageEvent{}
	}
	return events, tracked, nil
}
