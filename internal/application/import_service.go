package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/course-scheduler/internal/parse"
	"github.com/example/course-scheduler/internal/persistence"
)

// ImportServiceConfig tunes the import engine. Zero values select defaults.
type ImportServiceConfig struct {
	BatchLimit      int
	TransactionTTL  time.Duration
	MaxTransactions int
	Classifier      *parse.RoleClassifier
	IDGenerator     func() string
	Now             func() time.Time
}

// BuildParams describes one import run.
type BuildParams struct {
	Semester      string
	Rows          []InputRow
	DirectoryRows []DirectoryRow
	Options       BuildOptions
}

// ImportService builds reviewable import transactions and commits the
// reviewer's selection.
type ImportService struct {
	store        persistence.DocumentStore
	builder      *ChangeSetBuilder
	transactions *TransactionStore
	engine       *CommitEngine
	now          func() time.Time
	logger       *slog.Logger
	metrics      *metrics
}

// NewImportService wires the engine against store.
func NewImportService(store persistence.DocumentStore, cfg ImportServiceConfig) *ImportService {
	return NewImportServiceWithLogger(store, cfg, nil)
}

// NewImportServiceWithLogger constructs an import service with a specified logger.
func NewImportServiceWithLogger(store persistence.DocumentStore, cfg ImportServiceConfig, logger *slog.Logger) *ImportService {
	if cfg.IDGenerator == nil {
		cfg.IDGenerator = newUUID
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	transactions := NewTransactionStore(cfg.TransactionTTL, cfg.MaxTransactions, cfg.Now)
	return &ImportService{
		store:        store,
		builder:      NewChangeSetBuilder(cfg.Classifier, cfg.IDGenerator, cfg.Now),
		transactions: transactions,
		engine:       NewCommitEngine(store, transactions, cfg.BatchLimit, cfg.IDGenerator, cfg.Now),
		now:          cfg.Now,
		logger:       defaultLogger(logger),
		metrics:      getMetrics(),
	}
}

func (s *ImportService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ImportService", operation, attrs...)
}

// BuildTransaction snapshots the store and builds a pending transaction with
// every change selected.
func (s *ImportService) BuildTransaction(ctx context.Context, params BuildParams) (tx Transaction, err error) {
	if s == nil {
		err = fmt.Errorf("ImportService is nil")
		return
	}

	logger := s.loggerWith(ctx, "BuildTransaction",
		"semester", params.Semester,
		"row_count", len(params.Rows),
		"directory_row_count", len(params.DirectoryRows),
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to build import transaction", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"transaction_id", tx.ID,
			"change_count", len(tx.Changes),
			"issue_count", len(tx.Issues),
			"warning_count", len(tx.Warnings),
		).InfoContext(ctx, "import transaction built")
	}()

	snapshot, err := s.LoadSnapshot(ctx, params.Semester)
	if err != nil {
		return Transaction{}, err
	}
	return s.buildFromSnapshot(params, snapshot)
}

// BuildFromSnapshot builds a pending transaction against a caller-supplied
// snapshot without reading the store.
func (s *ImportService) BuildFromSnapshot(ctx context.Context, params BuildParams, snapshot Snapshot) (tx Transaction, err error) {
	if s == nil {
		err = fmt.Errorf("ImportService is nil")
		return
	}

	logger := s.loggerWith(ctx, "BuildFromSnapshot", "semester", params.Semester, "row_count", len(params.Rows))
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to build import transaction", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("transaction_id", tx.ID, "change_count", len(tx.Changes)).InfoContext(ctx, "import transaction built")
	}()

	return s.buildFromSnapshot(params, snapshot)
}

func (s *ImportService) buildFromSnapshot(params BuildParams, snapshot Snapshot) (Transaction, error) {
	built, err := s.builder.Build(BuildInput{
		Semester:      params.Semester,
		Rows:          params.Rows,
		DirectoryRows: params.DirectoryRows,
		Snapshot:      snapshot,
		Options:       params.Options,
	})
	if err != nil {
		s.metrics.transactionsBuilt.WithLabelValues(ErrorKind(err)).Inc()
		return Transaction{}, err
	}
	s.metrics.observeTransaction(built)

	s.transactions.Put(built)
	tx, _, err := s.transactions.Get(built.ID)
	return tx, err
}

// LoadSnapshot reads people, rooms and the semester's schedules concurrently.
func (s *ImportService) LoadSnapshot(ctx context.Context, semester string) (Snapshot, error) {
	semester = strings.TrimSpace(semester)
	var snapshot Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		snapshot.People, err = loadCollection(gctx, s.store, persistence.CollectionPeople,
			func(p *persistence.Person, id string) { p.ID = id })
		return err
	})
	g.Go(func() (err error) {
		snapshot.Rooms, err = loadCollection(gctx, s.store, persistence.CollectionRooms,
			func(r *persistence.Room, id string) { r.ID = id })
		return err
	})
	g.Go(func() error {
		schedules, err := loadCollection(gctx, s.store, persistence.CollectionSchedules,
			func(sc *persistence.Schedule, id string) { sc.ID = id })
		if err != nil {
			return err
		}
		snapshot.Schedules = make([]persistence.Schedule, 0, len(schedules))
		for _, schedule := range schedules {
			if schedule.Semester == semester {
				snapshot.Schedules = append(snapshot.Schedules, schedule)
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snapshot, nil
}

func loadCollection[T any](ctx context.Context, store persistence.DocumentStore, collection string, setID func(*T, string)) ([]T, error) {
	docs, err := store.GetAll(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", collection, err)
	}
	records := make([]T, 0, len(docs))
	for _, doc := range docs {
		var record T
		if err := persistence.DecodeFields(doc.Fields, &record); err != nil {
			return nil, fmt.Errorf("load %s/%s: %w", collection, doc.ID, err)
		}
		setID(&record, doc.ID)
		records = append(records, record)
	}
	return records, nil
}

// GetTransaction returns a transaction and its current selection.
func (s *ImportService) GetTransaction(ctx context.Context, transactionID string) (tx Transaction, sel Selection, err error) {
	if s == nil {
		err = fmt.Errorf("ImportService is nil")
		return
	}
	tx, sel, err = s.transactions.Get(transactionID)
	if err != nil {
		s.loggerWith(ctx, "GetTransaction", "transaction_id", transactionID).
			DebugContext(ctx, "transaction lookup failed", "error", err, "error_kind", ErrorKind(err))
	}
	return tx, sel, err
}

// SetSelection replaces the selected changes and per-change field subsets.
func (s *ImportService) SetSelection(ctx context.Context, transactionID string, changeIDs []string, fieldMap map[string][]string) (err error) {
	if s == nil {
		return fmt.Errorf("ImportService is nil")
	}

	logger := s.loggerWith(ctx, "SetSelection", "transaction_id", transactionID, "change_count", len(changeIDs))
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to set selection", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "selection updated")
	}()

	return s.transactions.SetSelection(transactionID, changeIDs, fieldMap)
}

// Toggle selects or deselects one change and its group.
func (s *ImportService) Toggle(ctx context.Context, transactionID, changeID string, selected bool) (err error) {
	if s == nil {
		return fmt.Errorf("ImportService is nil")
	}

	logger := s.loggerWith(ctx, "Toggle", "transaction_id", transactionID, "change_id", changeID, "selected", selected)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to toggle change", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "change toggled")
	}()

	return s.transactions.Toggle(transactionID, changeID, selected)
}

// Commit applies the selected changes of a pending transaction.
func (s *ImportService) Commit(ctx context.Context, transactionID string) (result CommitResult, err error) {
	if s == nil {
		err = fmt.Errorf("ImportService is nil")
		return
	}
	return s.commit(ctx, "Commit", transactionID, s.engine.Commit)
}

// RetryCommit resumes a commit that failed part way.
func (s *ImportService) RetryCommit(ctx context.Context, transactionID string) (result CommitResult, err error) {
	if s == nil {
		err = fmt.Errorf("ImportService is nil")
		return
	}
	return s.commit(ctx, "RetryCommit", transactionID, s.engine.RetryCommit)
}

func (s *ImportService) commit(ctx context.Context, operation, transactionID string, apply func(context.Context, string) (CommitResult, error)) (result CommitResult, err error) {
	logger := s.loggerWith(ctx, operation, "transaction_id", transactionID)
	started := s.now()
	defer func() {
		s.metrics.commits.WithLabelValues(outcome(err)).Inc()
		s.metrics.commitDuration.WithLabelValues(outcome(err)).Observe(s.now().Sub(started).Seconds())
		if err != nil {
			logger.ErrorContext(ctx, "failed to commit import transaction", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"added", result.Added,
			"modified", result.Modified,
			"deleted", result.Deleted,
			"batches", result.Batches,
			"dropped_references", len(result.Dropped),
		).InfoContext(ctx, "import transaction committed")
	}()

	return apply(ctx, transactionID)
}

// Cancel discards a pending transaction.
func (s *ImportService) Cancel(ctx context.Context, transactionID string) (err error) {
	if s == nil {
		return fmt.Errorf("ImportService is nil")
	}

	logger := s.loggerWith(ctx, "Cancel", "transaction_id", transactionID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to cancel import transaction", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "import transaction cancelled")
	}()

	return s.engine.Cancel(transactionID)
}
