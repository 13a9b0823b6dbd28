package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pipeboard/pipeboard/internal/domain"
	"github.com/pipeboard/pipeboard/internal/repo"
)

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeLockNotAvailable    = "55P03"
	codeSerialization       = "40001"
	codeDeadlock            = "40P01"
)

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func handleNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return repo.ErrNotFound
	}
	return err
}

func nullString(value string) sql.NullString {
	value = strings.TrimSpace(value)
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// mapError translates driver failures into domain errors callers can match.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	switch pgCode(err) {
	case codeUniqueViolation:
		return fmt.Errorf("%w: %v", domain.ErrConflict, err)
	case codeForeignKeyViolation:
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	case codeLockNotAvailable:
		return fmt.Errorf("%w: %v", domain.ErrBusy, err)
	}
	return err
}

// isRetryableError reports transient failures where re-running the whole
// transaction may succeed.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	switch pgCode(err) {
	case codeSerialization, codeDeadlock:
		return true
	}
	var commitErr *commitError
	if errors.As(err, &commitErr) {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	for _, marker := range []string{"driver: bad connection", "broken pipe", "connection reset", "connection refused", "unexpected eof"} {
		if strings.Contains(errStr, marker) {
			return true
		}
	}
	return false
}

// tableFor returns the table and key column storing records of kind.
func tableFor(kind domain.Kind) (table string, keyColumn string, err error) {
	switch kind {
	case domain.KindJob:
		return "job_records", "job_id", nil
	case domain.KindRelationship:
		return "relationship_records", "relationship_id", nil
	default:
		return "", "", fmt.Errorf("unknown kind %q", kind)
	}
}

// ownerColumn returns the per-kind foreign key column on stage_events and
// attachments.
func ownerColumn(kind domain.Kind) (string, error) {
	_, column, err := tableFor(kind)
	return column, err
}

func ownerColumns(kind domain.Kind, entityID string) (jobID, relationshipID sql.NullString, err error) {
	switch kind {
	case domain.KindJob:
		return nullString(entityID), sql.NullString{}, nil
	case domain.KindRelationship:
		return sql.NullString{}, nullString(entityID), nil
	default:
		return sql.NullString{}, sql.NullString{}, fmt.Errorf("unknown kind %q", kind)
	}
}
