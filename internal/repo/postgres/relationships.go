package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pipeboard/pipeboard/internal/domain"
	"github.com/pipeboard/pipeboard/internal/repo"
)

const relationshipColumns = `relationship_id, owner_id, stage, locked, origin, relationship_type, name, contact_person, email, website, location, notes, source_job_id, created_at, updated_at`

const (
	insertRelationshipQuery = `INSERT INTO relationship_records (` + relationshipColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`

	selectRelationshipQuery = `SELECT ` + relationshipColumns + ` FROM relationship_records WHERE relationship_id = $1 AND owner_id = $2`

	updateRelationshipQuery = `UPDATE relationship_records
		SET relationship_type = $3, name = $4, contact_person = $5, email = $6, website = $7,
			location = $8, notes = $9, updated_at = $10
		WHERE relationship_id = $1 AND owner_id = $2`

	deleteRelationshipQuery = `DELETE FROM relationship_records WHERE relationship_id = $1 AND owner_id = $2`
)

func scanRelationship(row rowScanner) (domain.RelationshipRecord, error) {
	var (
		rel       domain.RelationshipRecord
		stage     string
		origin    string
		relType   string
		sourceJob sql.NullString
	)
	if err := row.Scan(
		&rel.ID,
		&rel.OwnerID,
		&stage,
		&rel.Locked,
		&origin,
		&relType,
		&rel.Name,
		&rel.ContactPerson,
		&rel.Email,
		&rel.Website,
		&rel.Location,
		&rel.Notes,
		&sourceJob,
		&rel.CreatedAt,
		&rel.UpdatedAt,
	); err != nil {
		return domain.RelationshipRecord{}, err
	}
	rel.Kind = domain.KindRelationship
	rel.Stage = domain.Stage(stage)
	rel.Origin = domain.Origin(origin)
	rel.Type = domain.RelationshipType(relType)
	if sourceJob.Valid {
		rel.SourceJobID = sourceJob.String
	}
	return rel, nil
}

func (s *txStore) CreateRelationship(ctx context.Context, rel domain.RelationshipRecord) error {
	if err := rel.Validate(); err != nil {
		return err
	}
	createdAt := normalizeTime(rel.CreatedAt)
	updatedAt := createdAt
	if !rel.UpdatedAt.IsZero() {
		updatedAt = rel.UpdatedAt.UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		insertRelationshipQuery,
		strings.TrimSpace(rel.ID),
		strings.TrimSpace(rel.OwnerID),
		string(rel.Stage),
		rel.Locked,
		string(rel.Origin),
		string(rel.Type),
		strings.TrimSpace(rel.Name),
		strings.TrimSpace(rel.ContactPerson),
		strings.TrimSpace(rel.Email),
		strings.TrimSpace(rel.Website),
		strings.TrimSpace(rel.Location),
		rel.Notes,
		nullString(rel.SourceJobID),
		createdAt,
		updatedAt,
	)
	if err != nil {
		// Mapped here: the transform checks for a duplicate source job
		// before the transaction ends.
		return fmt.Errorf("insert relationship: %w", mapError(err))
	}
	return nil
}

func (s *txStore) GetRelationship(ctx context.Context, ownerID, id string) (domain.RelationshipRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.RelationshipRecord{}, repo.ErrNotFound
	}
	rel, err := scanRelationship(s.db.QueryRowContext(ctx, selectRelationshipQuery, id, ownerID))
	if err != nil {
		return domain.RelationshipRecord{}, handleNotFound(err)
	}
	return rel, nil
}

func buildListRelationshipsQuery(filter repo.RelationshipFilter) (string, []any) {
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 4)

	args = append(args, filter.OwnerID)
	clauses = append(clauses, fmt.Sprintf("owner_id = $%d", len(args)))
	if filter.Stage != "" {
		args = append(args, string(filter.Stage))
		clauses = append(clauses, fmt.Sprintf("stage = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		clauses = append(clauses, fmt.Sprintf("relationship_type = $%d", len(args)))
	}

	query := `SELECT ` + relationshipColumns + ` FROM relationship_records WHERE ` + strings.Join(clauses, " AND ")
	query += " ORDER BY created_at DESC, relationship_id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}

func (s *txStore) ListRelationships(ctx context.Context, filter repo.RelationshipFilter) ([]domain.RelationshipRecord, error) {
	query, args := buildListRelationshipsQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	defer rows.Close()

	out := make([]domain.RelationshipRecord, 0)
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		out = append(out, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	return out, nil
}

func (s *txStore) UpdateRelationship(ctx context.Context, rel domain.RelationshipRecord) error {
	res, err := s.db.ExecContext(
		ctx,
		updateRelationshipQuery,
		strings.TrimSpace(rel.ID),
		strings.TrimSpace(rel.OwnerID),
		string(rel.Type),
		strings.TrimSpace(rel.Name),
		strings.TrimSpace(rel.ContactPerson),
		strings.TrimSpace(rel.Email),
		strings.TrimSpace(rel.Website),
		strings.TrimSpace(rel.Location),
		rel.Notes,
		normalizeTime(rel.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("update relationship: %w", err)
	}
	return requireAffected(res, "update relationship")
}

func (s *txStore) DeleteRelationship(ctx context.Context, ownerID, id string) error {
	res, err := s.db.ExecContext(ctx, deleteRelationshipQuery, strings.TrimSpace(id), ownerID)
	if err != nil {
		return fmt.Errorf("delete relationship: %w", err)
	}
	return requireAffected(res, "delete relationship")
}
