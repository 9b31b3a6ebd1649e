package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"log/slog"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/go-faster/errors"

	"github.com/example/course-scheduler/internal/persistence"
	"github.com/example/course-scheduler/internal/persistence/sqlite/migration"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store is a DocumentStore persisting JSON documents in SQLite.
type Store struct {
	pool       *ConnectionPool
	retry      RetryPolicy
	logger     *slog.Logger
	batchLimit int
	now        func() time.Time
}

var _ persistence.DocumentStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithBatchLimit caps the number of operations accepted by BatchWrite.
func WithBatchLimit(limit int) Option {
	return func(s *Store) {
		if limit > 0 && limit <= persistence.MaxBatchOperations {
			s.batchLimit = limit
		}
	}
}

// WithClock overrides the time source used for updated_at columns.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger used by migrations.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRetry overrides the retry policy for transient lock errors.
func WithRetry(policy RetryPolicy) Option {
	return func(s *Store) {
		s.retry = policy
	}
}

// Open connects to the SQLite database described by config.
func Open(config migration.SQLiteConfig, opts ...Option) (*Store, error) {
	pool, err := NewConnectionPool(config)
	if err != nil {
		return nil, err
	}

	store := &Store{
		pool:       pool,
		retry:      DefaultRetryPolicy(),
		logger:     slog.Default(),
		batchLimit: persistence.MaxBatchOperations,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	manager := migration.NewMigrationManager(
		migration.NewFileScanner(migrationFiles),
		migration.NewSQLiteExecutor(s.pool.DB()),
		"migrations",
		s.logger,
	)
	return manager.RunMigrations(ctx)
}

// GetAll returns every document of the collection ordered by ID.
func (s *Store) GetAll(ctx context.Context, collection string) ([]persistence.Document, error) {
	rows, err := s.pool.DB().QueryContext(ctx,
		`SELECT id, body FROM documents WHERE collection = ? ORDER BY id`, collection)
	if err != nil {
		return nil, errors.Wrapf(MapError(err), "sqlite: list %s", collection)
	}
	defer rows.Close()

	docs := make([]persistence.Document, 0)
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, errors.Wrapf(err, "sqlite: scan %s", collection)
		}
		fields, err := persistence.DecodeDocument([]byte(body))
		if err != nil {
			return nil, errors.Wrapf(err, "sqlite: %s/%s", collection, id)
		}
		docs = append(docs, persistence.Document{ID: id, Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "sqlite: iterate %s", collection)
	}
	return docs, nil
}

// GetByID returns a single document or persistence.ErrNotFound.
func (s *Store) GetByID(ctx context.Context, collection, id string) (persistence.Document, error) {
	var body string
	err := s.pool.DB().QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&body)
	if err != nil {
		return persistence.Document{}, MapError(err)
	}
	fields, err := persistence.DecodeDocument([]byte(body))
	if err != nil {
		return persistence.Document{}, errors.Wrapf(err, "sqlite: %s/%s", collection, id)
	}
	return persistence.Document{ID: id, Fields: fields}, nil
}

// Upsert merges fields into the document, creating it when absent.
func (s *Store) Upsert(ctx context.Context, collection, id string, fields persistence.Fields) error {
	return s.BatchWrite(ctx, []persistence.WriteOp{{
		Collection: collection,
		ID:         id,
		Action:     persistence.WriteMerge,
		Fields:     fields,
	}})
}

// DeleteByID removes the document if it exists.
func (s *Store) DeleteByID(ctx context.Context, collection, id string) error {
	return s.BatchWrite(ctx, []persistence.WriteOp{{
		Collection: collection,
		ID:         id,
		Action:     persistence.WriteDelete,
	}})
}

// BatchWrite applies ops in one SQLite transaction.
func (s *Store) BatchWrite(ctx context.Context, ops []persistence.WriteOp) error {
	if err := persistence.ValidateBatch(ops, s.batchLimit); err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}

	return s.retry.Do(ctx, func() error {
		return s.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			updatedAt := s.now().UTC().Format(time.RFC3339Nano)
			for _, op := range ops {
				if err := applyOp(ctx, tx, op, updatedAt); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

func applyOp(ctx context.Context, tx *sql.Tx, op persistence.WriteOp, updatedAt string) error {
	switch op.Action {
	case persistence.WriteDelete:
		_, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, op.Collection, op.ID)
		return err
	case persistence.WriteSet:
		body, err := op.Fields.JSON()
		if err != nil {
			return err
		}
		return writeBody(ctx, tx, op, body, updatedAt)
	case persistence.WriteMerge:
		patch, err := op.Fields.JSON()
		if err != nil {
			return err
		}
		var current string
		err = tx.QueryRowContext(ctx,
			`SELECT body FROM documents WHERE collection = ? AND id = ?`, op.Collection, op.ID).Scan(&current)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			current = "{}"
		case err != nil:
			return err
		}
		merged, err := jsonpatch.MergePatch([]byte(current), patch)
		if err != nil {
			return errors.Wrapf(err, "sqlite: merge %s/%s", op.Collection, op.ID)
		}
		return writeBody(ctx, tx, op, merged, updatedAt)
	default:
		return persistence.ErrInvalidOperation
	}
}

func writeBody(ctx context.Context, tx *sql.Tx, op persistence.WriteOp, body []byte, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO documents (collection, id, body, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		op.Collection, op.ID, string(body), updatedAt)
	return err
}

// AppendAudit stores an audit record. Appending the same record ID twice is a no-op.
func (s *Store) AppendAudit(ctx context.Context, record persistence.AuditRecord) error {
	fields, err := record.Fields.JSON()
	if err != nil {
		return err
	}

	return s.retry.Do(ctx, func() error {
		_, err := s.pool.DB().ExecContext(ctx, `
			INSERT INTO audit_log (id, transaction_id, change_id, collection, action, target_id, fields, digest, applied_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`,
			record.ID, record.TransactionID, record.ChangeID, record.Collection, record.Action,
			record.TargetID, string(fields), record.Digest, record.AppliedAt.UTC().Format(time.RFC3339Nano))
		return err
	})
}

// ListAudit returns the audit records of a transaction in append order.
// An empty transactionID lists every record.
func (s *Store) ListAudit(ctx context.Context, transactionID string) ([]persistence.AuditRecord, error) {
	query := `SELECT id, transaction_id, change_id, collection, action, target_id, fields, digest, applied_at
		FROM audit_log`
	var args []any
	if transactionID != "" {
		query += ` WHERE transaction_id = ?`
		args = append(args, transactionID)
	}
	query += ` ORDER BY seq`

	rows, err := s.pool.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(MapError(err), "sqlite: list audit")
	}
	defer rows.Close()

	records := make([]persistence.AuditRecord, 0)
	for rows.Next() {
		var (
			record    persistence.AuditRecord
			fields    string
			appliedAt string
		)
		if err := rows.Scan(&record.ID, &record.TransactionID, &record.ChangeID, &record.Collection,
			&record.Action, &record.TargetID, &fields, &record.Digest, &appliedAt); err != nil {
			return nil, errors.Wrap(err, "sqlite: scan audit")
		}
		if err := json.Unmarshal([]byte(fields), &record.Fields); err != nil {
			return nil, errors.Wrapf(err, "sqlite: audit %s fields", record.ID)
		}
		record.AppliedAt, err = time.Parse(time.RFC3339Nano, appliedAt)
		if err != nil {
			return nil, errors.Wrapf(err, "sqlite: audit %s applied_at", record.ID)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite: iterate audit")
	}
	return records, nil
}
