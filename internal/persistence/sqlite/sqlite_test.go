package sqlite_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/course-scheduler/internal/persistence"
	"github.com/example/course-scheduler/internal/persistence/sqlite"
	"github.com/example/course-scheduler/internal/persistence/sqlite/migration"
	"github.com/example/course-scheduler/internal/testfixtures"
)

func TestStore_Contract(t *testing.T) {
	testfixtures.RunDocumentStoreContract(t, func(t *testing.T) persistence.DocumentStore {
		return testfixtures.NewSQLiteStore(t)
	})
}

func TestStore_MigrateIsIdempotent(t *testing.T) {
	store := testfixtures.NewSQLiteStore(t)
	require.NoError(t, store.Migrate(context.Background()))
}

func TestStore_AppendAuditIgnoresDuplicates(t *testing.T) {
	ctx := context.Background()
	store := testfixtures.NewSQLiteStore(t)

	record := persistence.AuditRecord{
		ID:            "audit-1",
		TransactionID: "tx-1",
		ChangeID:      "c-1",
		Collection:    persistence.CollectionPeople,
		Action:        "modify",
		TargetID:      "p-1",
		Digest:        "d",
		AppliedAt:     testfixtures.ReferenceTime(),
	}
	require.NoError(t, store.AppendAudit(ctx, record))
	require.NoError(t, store.AppendAudit(ctx, record))

	records, err := store.ListAudit(ctx, "tx-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].AppliedAt.Equal(record.AppliedAt))
	assert.Empty(t, records[0].Fields)
}

func TestStore_BatchLimitOption(t *testing.T) {
	store := testfixtures.NewSQLiteStore(t, sqlite.WithBatchLimit(1))

	err := store.BatchWrite(context.Background(), []persistence.WriteOp{
		{Collection: persistence.CollectionRooms, ID: "a", Action: persistence.WriteDelete},
		{Collection: persistence.CollectionRooms, ID: "b", Action: persistence.WriteDelete},
	})
	require.ErrorIs(t, err, persistence.ErrBatchTooLarge)
}

func TestStore_InMemoryDatabase(t *testing.T) {
	store, err := sqlite.Open(migration.InMemoryTestSQLiteConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	require.NoError(t, store.Upsert(context.Background(), persistence.CollectionRooms, "r", testfixtures.MustFields(t, map[string]any{"name": "R"})))
	docs, err := store.GetAll(context.Background(), persistence.CollectionRooms)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestRetryPolicy(t *testing.T) {
	policy := sqlite.RetryPolicy{
		MaxRetries:    2,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
		BackoffFactor: 2,
	}

	t.Run("retries lock errors", func(t *testing.T) {
		attempts := 0
		err := policy.Do(context.Background(), func() error {
			attempts++
			if attempts < 2 {
				return errDatabaseLocked{}
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, attempts)
	})

	t.Run("returns other errors immediately", func(t *testing.T) {
		attempts := 0
		err := policy.Do(context.Background(), func() error {
			attempts++
			return assert.AnError
		})
		require.ErrorIs(t, err, assert.AnError)
		assert.Equal(t, 1, attempts)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		attempts := 0
		err := policy.Do(context.Background(), func() error {
			attempts++
			return errDatabaseLocked{}
		})
		require.ErrorIs(t, err, sqlite.ErrDatabaseLocked)
		assert.Equal(t, 3, attempts)
	})

	t.Run("stops when the context ends", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		attempts := 0
		err := policy.Do(ctx, func() error {
			attempts++
			cancel()
			return errDatabaseLocked{}
		})
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, attempts)
	})
}

func TestMapError(t *testing.T) {
	assert.NoError(t, sqlite.MapError(nil))
	assert.ErrorIs(t, sqlite.MapError(sql.ErrNoRows), persistence.ErrNotFound)
	assert.ErrorIs(t, sqlite.MapError(errDatabaseLocked{}), sqlite.ErrDatabaseLocked)
	assert.ErrorIs(t, sqlite.MapError(errors.New("step: SQLITE_BUSY")), sqlite.ErrDatabaseBusy)
	assert.Equal(t, assert.AnError, sqlite.MapError(assert.AnError))
}

type errDatabaseLocked struct{}

func (errDatabaseLocked) Error() string { return "database is locked (5) (SQLITE_BUSY)" }
