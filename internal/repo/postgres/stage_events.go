package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/pipeboard/pipeboard/internal/domain"
)

const insertStageEventQuery = `INSERT INTO stage_events (
		event_id,
		job_id,
		relationship_id,
		seq,
		previous_stage,
		new_stage,
		changed_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7)`

func lastStageEventQuery(column string) string {
	return fmt.Sprintf(
		`SELECT event_id, seq, previous_stage, new_stage, changed_at
		 FROM stage_events
		 WHERE %s = $1
		 ORDER BY seq DESC
		 LIMIT 1`,
		column,
	)
}

func listStageEventsQuery(column string) string {
	return fmt.Sprintf(
		`SELECT event_id, seq, previous_stage, new_stage, changed_at
		 FROM stage_events
		 WHERE %s = $1
		 ORDER BY changed_at ASC, seq ASC`,
		column,
	)
}

func scanStageEvent(row rowScanner, kind domain.Kind, entityID string) (domain.StageEvent, error) {
	var (
		ev       domain.StageEvent
		previous sql.NullString
		next     string
	)
	if err := row.Scan(&ev.ID, &ev.Seq, &previous, &next, &ev.ChangedAt); err != nil {
		return domain.StageEvent{}, err
	}
	ev.EntityKind = kind
	ev.EntityID = entityID
	ev.NewStage = domain.Stage(next)
	if previous.Valid {
		prev := domain.Stage(previous.String)
		ev.PreviousStage = &prev
	}
	ev.ChangedAt = ev.ChangedAt.UTC()
	return ev, nil
}

func (s *txStore) LastStageEvent(ctx context.Context, kind domain.Kind, entityID string) (*domain.StageEvent, error) {
	column, err := ownerColumn(kind)
	if err != nil {
		return nil, err
	}
	ev, err := scanStageEvent(s.db.QueryRowContext(ctx, lastStageEventQuery(column), strings.TrimSpace(entityID)), kind, entityID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select last stage event: %w", err)
	}
	return &ev, nil
}

func (s *txStore) AppendStageEvent(ctx context.Context, event domain.StageEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	jobID, relationshipID, err := ownerColumns(event.EntityKind, event.EntityID)
	if err != nil {
		return err
	}
	var previous sql.NullString
	if event.PreviousStage != nil {
		previous = sql.NullString{String: string(*event.PreviousStage), Valid: true}
	}
	_, err = s.db.ExecContext(
		ctx,
		insertStageEventQuery,
		strings.TrimSpace(event.ID),
		jobID,
		relationshipID,
		event.Seq,
		previous,
		string(event.NewStage),
		event.ChangedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert stage event: %w", err)
	}
	return nil
}

func (s *txStore) ListStageEvents(ctx context.Context, kind domain.Kind, entityID string) ([]domain.StageEvent, error) {
	column, err := ownerColumn(kind)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, listStageEventsQuery(column), strings.TrimSpace(entityID))
	if err != nil {
		return nil, fmt.Errorf("list stage events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.StageEvent, 0)
	for rows.Next() {
		ev, err := scanStageEvent(rows, kind, entityID)
		if err != nil {
			return nil, fmt.Errorf("scan stage event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stage events: %w", err)
	}
	return events, nil
}
