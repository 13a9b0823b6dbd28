package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pipeboard/pipeboard/internal/domain"
	"github.com/pipeboard/pipeboard/internal/repo"
)

const jobColumns = `job_id, owner_id, stage, locked, origin, unseen, rating, company, position, location, salary, contact_name, organization, notes, created_at, updated_at`

const (
	insertJobQuery = `INSERT INTO job_records (` + jobColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`

	selectJobQuery = `SELECT ` + jobColumns + ` FROM job_records WHERE job_id = $1 AND owner_id = $2`

	updateJobQuery = `UPDATE job_records
		SET unseen = $3, rating = $4, company = $5, position = $6, location = $7, salary = $8,
			contact_name = $9, organization = $10, notes = $11, updated_at = $12
		WHERE job_id = $1 AND owner_id = $2`

	deleteJobQuery = `DELETE FROM job_records WHERE job_id = $1 AND owner_id = $2`

	// The locked predicate makes the lock a compare-and-set.
	markJobLockedQuery = `UPDATE job_records SET locked = true, updated_at = $2 WHERE job_id = $1 AND locked = false`
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.JobRecord, error) {
	var (
		job    domain.JobRecord
		stage  string
		origin string
	)
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&stage,
		&job.Locked,
		&origin,
		&job.Unseen,
		&job.Rating,
		&job.Company,
		&job.Position,
		&job.Location,
		&job.Salary,
		&job.ContactName,
		&job.Organization,
		&job.Notes,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return domain.JobRecord{}, err
	}
	job.Kind = domain.KindJob
	job.Stage = domain.Stage(stage)
	job.Origin = domain.Origin(origin)
	return job, nil
}

func (s *txStore) CreateJob(ctx context.Context, job domain.JobRecord) error {
	if err := job.Validate(); err != nil {
		return err
	}
	createdAt := normalizeTime(job.CreatedAt)
	updatedAt := createdAt
	if !job.UpdatedAt.IsZero() {
		updatedAt = job.UpdatedAt.UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		insertJobQuery,
		strings.TrimSpace(job.ID),
		strings.TrimSpace(job.OwnerID),
		string(job.Stage),
		job.Locked,
		string(job.Origin),
		job.Unseen,
		job.Rating,
		strings.TrimSpace(job.Company),
		strings.TrimSpace(job.Position),
		strings.TrimSpace(job.Location),
		strings.TrimSpace(job.Salary),
		strings.TrimSpace(job.ContactName),
		strings.TrimSpace(job.Organization),
		job.Notes,
		createdAt,
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *txStore) GetJob(ctx context.Context, ownerID, id string) (domain.JobRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.JobRecord{}, repo.ErrNotFound
	}
	job, err := scanJob(s.db.QueryRowContext(ctx, selectJobQuery, id, ownerID))
	if err != nil {
		return domain.JobRecord{}, handleNotFound(err)
	}
	return job, nil
}

func buildListJobsQuery(filter repo.JobFilter) (string, []any) {
	clauses := make([]string, 0, 4)
	args := make([]any, 0, 5)

	args = append(args, filter.OwnerID)
	clauses = append(clauses, fmt.Sprintf("owner_id = $%d", len(args)))
	if filter.Stage != "" {
		args = append(args, string(filter.Stage))
		clauses = append(clauses, fmt.Sprintf("stage = $%d", len(args)))
	}
	if filter.Origin != "" {
		args = append(args, string(filter.Origin))
		clauses = append(clauses, fmt.Sprintf("origin = $%d", len(args)))
	}
	if filter.Unseen != nil {
		args = append(args, *filter.Unseen)
		clauses = append(clauses, fmt.Sprintf("unseen = $%d", len(args)))
	}

	query := `SELECT ` + jobColumns + ` FROM job_records WHERE ` + strings.Join(clauses, " AND ")
	query += " ORDER BY created_at DESC, job_id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}

func (s *txStore) ListJobs(ctx context.Context, filter repo.JobFilter) ([]domain.JobRecord, error) {
	query, args := buildListJobsQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]domain.JobRecord, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

func (s *txStore) UpdateJob(ctx context.Context, job domain.JobRecord) error {
	res, err := s.db.ExecContext(
		ctx,
		updateJobQuery,
		strings.TrimSpace(job.ID),
		strings.TrimSpace(job.OwnerID),
		job.Unseen,
		job.Rating,
		strings.TrimSpace(job.Company),
		strings.TrimSpace(job.Position),
		strings.TrimSpace(job.Location),
		strings.TrimSpace(job.Salary),
		strings.TrimSpace(job.ContactName),
		strings.TrimSpace(job.Organization),
		job.Notes,
		normalizeTime(job.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return requireAffected(res, "update job")
}

func (s *txStore) DeleteJob(ctx context.Context, ownerID, id string) error {
	res, err := s.db.ExecContext(ctx, deleteJobQuery, strings.TrimSpace(id), ownerID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return requireAffected(res, "delete job")
}

func (s *txStore) MarkJobLocked(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, markJobLockedQuery, strings.TrimSpace(id), normalizeTime(at))
	if err != nil {
		return fmt.Errorf("lock job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("lock job: %w", err)
	}
	if affected == 0 {
		return domain.ErrAlreadyTransformed
	}
	return nil
}

func requireAffected(res sql.Result, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return repo.ErrNotFound
	}
	return nil
}
