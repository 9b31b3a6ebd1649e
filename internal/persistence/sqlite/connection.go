package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/go-faster/errors"
	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/example/course-scheduler/internal/persistence"
	"github.com/example/course-scheduler/internal/persistence/sqlite/migration"
)

// Transient conditions a batch may be retried on.
var (
	ErrDatabaseLocked = errors.New("sqlite: database locked")
	ErrDatabaseBusy   = errors.New("sqlite: database busy")
)

// ConnectionPool owns the *sql.DB behind a Store.
type ConnectionPool struct {
	db *sql.DB
}

// NewConnectionPool opens the database described by config.
func NewConnectionPool(config migration.SQLiteConfig) (*ConnectionPool, error) {
	db, err := migration.Open(config)
	if err != nil {
		return nil, errors.Wrapf(err, "sqlite: open %s", config.DSN)
	}
	return &ConnectionPool{db: db}, nil
}

func (cp *ConnectionPool) DB() *sql.DB {
	return cp.db
}

func (cp *ConnectionPool) Close() error {
	if cp.db == nil {
		return nil
	}
	return cp.db.Close()
}

// WithTransaction runs fn inside one database transaction. Every document of
// a commit batch is written through the same *sql.Tx so the batch lands or
// rolls back as a unit.
func (cp *ConnectionPool) WithTransaction(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := cp.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite: begin")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = errors.Errorf("%w (rollback: %v)", err, rbErr)
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "sqlite: commit")
	}
	return nil
}

// MapError translates driver errors into persistence and retry sentinels.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.ErrNotFound
	}

	var driverErr *moderncsqlite.Error
	if errors.As(err, &driverErr) {
		switch driverErr.Code() & 0xff {
		case sqlite3.SQLITE_LOCKED:
			return errors.Errorf("%w: %v", ErrDatabaseLocked, err)
		case sqlite3.SQLITE_BUSY:
			return errors.Errorf("%w: %v", ErrDatabaseBusy, err)
		}
		return err
	}

	// Errors that crossed a wrapping boundary only keep their text.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "database table is locked"):
		return errors.Errorf("%w: %v", ErrDatabaseLocked, err)
	case strings.Contains(msg, "SQLITE_BUSY"):
		return errors.Errorf("%w: %v", ErrDatabaseBusy, err)
	}
	return err
}

// RetryPolicy retries writes that failed on a locked or busy database with
// exponential backoff.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy allows three retries starting at 100ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// Do runs fn until it succeeds, fails with a non-transient error, the
// retries are exhausted, or ctx ends.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	delay := p.InitialDelay
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay = min(time.Duration(float64(delay)*p.BackoffFactor), p.MaxDelay)
		}

		lastErr = MapError(fn())
		if lastErr == nil || !transient(lastErr) {
			return lastErr
		}
	}
	return errors.Wrapf(lastErr, "sqlite: gave up after %d retries", p.MaxRetries)
}

func transient(err error) bool {
	return errors.Is(err, ErrDatabaseLocked) || errors.Is(err, ErrDatabaseBusy)
}
