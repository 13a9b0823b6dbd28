package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pipeboard/pipeboard/internal/repo"
)

// Store runs repo.Tx units of work on Postgres. A unit that fails with a
// transient error is re-run in full on a fresh transaction.
type Store struct {
	db          *sql.DB
	lockTimeout time.Duration
	retryFor    time.Duration
}

type Option func(*Store)

// WithLockTimeout bounds how long a statement waits for a row lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.lockTimeout = d
	}
}

// WithRetryWindow bounds the total time spent retrying transient failures.
func WithRetryWindow(d time.Duration) Option {
	return func(s *Store) {
		s.retryFor = d
	}
}

func NewStore(db *sql.DB, opts ...Option) *Store {
	if db == nil {
		return nil
	}
	s := &Store{db: db, lockTimeout: 5 * time.Second, retryFor: 5 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) newBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 20 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = s.retryFor
	return bo
}

func (s *Store) WithTx(ctx context.Context, fn func(tx repo.Tx) error) error {
	if s == nil || s.db == nil {
		return errors.New("postgres store not initialized")
	}
	if fn == nil {
		return errors.New("tx func is required")
	}
	err := backoff.Retry(func() error {
		err := s.runOnce(ctx, fn)
		if err != nil && isRetryableError(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(s.newBackoff(), ctx))
	return mapError(err)
}

func (s *Store) runOnce(ctx context.Context, fn func(tx repo.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if s.lockTimeout > 0 {
		// SET LOCAL does not accept bind parameters.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := sqlTx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}

	if err := fn(&txStore{db: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return &commitError{err: err}
	}
	return nil
}

// commitError marks a failed COMMIT. Unless the server reported the abort
// itself, the outcome is unknown and the unit must not run again.
type commitError struct {
	err error
}

func (e *commitError) Error() string { return "commit tx: " + e.err.Error() }
func (e *commitError) Unwrap() error { return e.err }

// txStore implements repo.Tx over one open transaction.
type txStore struct {
	db DB
}

var _ repo.Tx = (*txStore)(nil)
