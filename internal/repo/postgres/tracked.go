package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pipeboard/pipeboard/internal/domain"
	"github.com/pipeboard/pipeboard/internal/repo"
)

func lockEntityQuery(table, keyColumn string) string {
	return fmt.Sprintf(
		`SELECT %s, owner_id, stage, locked, origin, created_at, updated_at
		 FROM %s
		 WHERE %s = $1 AND owner_id = $2
		 FOR UPDATE`,
		keyColumn, table, keyColumn,
	)
}

func setStageQuery(table, keyColumn string) string {
	return fmt.Sprintf(`UPDATE %s SET stage = $2, updated_at = $3 WHERE %s = $1`, table, keyColumn)
}

func (s *txStore) LockEntity(ctx context.Context, kind domain.Kind, ownerID, id string) (domain.Tracked, error) {
	table, keyColumn, err := tableFor(kind)
	if err != nil {
		return domain.Tracked{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Tracked{}, repo.ErrNotFound
	}
	var (
		tracked domain.Tracked
		stage   string
		origin  string
	)
	row := s.db.QueryRowContext(ctx, lockEntityQuery(table, keyColumn), id, ownerID)
	if err := row.Scan(&tracked.ID, &tracked.OwnerID, &stage, &tracked.Locked, &origin, &tracked.CreatedAt, &tracked.UpdatedAt); err != nil {
		return domain.Tracked{}, handleNotFound(err)
	}
	tracked.Kind = kind
	tracked.Stage = domain.Stage(stage)
	tracked.Origin = domain.Origin(origin)
	return tracked, nil
}

func (s *txStore) SetStage(ctx context.Context, kind domain.Kind, id string, stage domain.Stage, at time.Time) error {
	table, keyColumn, err := tableFor(kind)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, setStageQuery(table, keyColumn), id, string(stage), normalizeTime(at))
	if err != nil {
		return fmt.Errorf("update %s stage: %w", kind, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s stage: %w", kind, err)
	}
	if affected == 0 {
		return repo.ErrNotFound
	}
	return nil
}
