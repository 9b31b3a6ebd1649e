package testfixtures

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/course-scheduler/internal/persistence"
)

// RunDocumentStoreContract exercises the behaviour every DocumentStore
// implementation must share. newStore must return an empty store.
func RunDocumentStoreContract(t *testing.T, newStore func(t *testing.T) persistence.DocumentStore) {
	t.Helper()

	t.Run("upsert merges into existing documents", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		require.NoError(t, store.Upsert(ctx, persistence.CollectionRooms, "room-1", MustFields(t, map[string]any{
			"name":     "Science 101",
			"building": "Science",
		})))
		require.NoError(t, store.Upsert(ctx, persistence.CollectionRooms, "room-1", MustFields(t, map[string]any{
			"number": "101",
		})))

		doc, err := store.GetByID(ctx, persistence.CollectionRooms, "room-1")
		require.NoError(t, err)

		var room persistence.Room
		require.NoError(t, persistence.DecodeFields(doc.Fields, &room))
		assert.Equal(t, "Science 101", room.Name)
		assert.Equal(t, "Science", room.Building)
		assert.Equal(t, "101", room.Number)
	})

	t.Run("get missing document", func(t *testing.T) {
		store := newStore(t)
		_, err := store.GetByID(context.Background(), persistence.CollectionPeople, "nobody")
		require.ErrorIs(t, err, persistence.ErrNotFound)
	})

	t.Run("get all orders by id and isolates collections", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		for _, id := range []string{"b", "a", "c"} {
			require.NoError(t, store.Upsert(ctx, persistence.CollectionPeople, id, MustFields(t, map[string]any{"lastName": id})))
		}
		require.NoError(t, store.Upsert(ctx, persistence.CollectionRooms, "r", MustFields(t, map[string]any{"name": "R"})))

		docs, err := store.GetAll(ctx, persistence.CollectionPeople)
		require.NoError(t, err)
		require.Len(t, docs, 3)
		assert.Equal(t, []string{"a", "b", "c"}, []string{docs[0].ID, docs[1].ID, docs[2].ID})

		empty, err := store.GetAll(ctx, persistence.CollectionSchedules)
		require.NoError(t, err)
		assert.NotNil(t, empty)
		assert.Empty(t, empty)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		require.NoError(t, store.Upsert(ctx, persistence.CollectionRooms, "room-1", MustFields(t, map[string]any{"name": "A"})))
		require.NoError(t, store.DeleteByID(ctx, persistence.CollectionRooms, "room-1"))
		require.NoError(t, store.DeleteByID(ctx, persistence.CollectionRooms, "room-1"))

		_, err := store.GetByID(ctx, persistence.CollectionRooms, "room-1")
		require.ErrorIs(t, err, persistence.ErrNotFound)
	})

	t.Run("batch write applies every op", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		require.NoError(t, store.Upsert(ctx, persistence.CollectionRooms, "old", MustFields(t, map[string]any{"name": "Old"})))
		require.NoError(t, store.Upsert(ctx, persistence.CollectionRooms, "keep", MustFields(t, map[string]any{"name": "Keep", "building": "B"})))

		err := store.BatchWrite(ctx, []persistence.WriteOp{
			{Collection: persistence.CollectionRooms, ID: "new", Action: persistence.WriteSet, Fields: MustFields(t, map[string]any{"name": "New"})},
			{Collection: persistence.CollectionRooms, ID: "keep", Action: persistence.WriteSet, Fields: MustFields(t, map[string]any{"name": "Replaced"})},
			{Collection: persistence.CollectionRooms, ID: "old", Action: persistence.WriteDelete},
		})
		require.NoError(t, err)

		docs, err := store.GetAll(ctx, persistence.CollectionRooms)
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "keep", docs[0].ID)
		assert.NotContains(t, docs[0].Fields, "building")
		assert.Equal(t, "new", docs[1].ID)
	})

	t.Run("batch write replays to the same state", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		ops := []persistence.WriteOp{
			{Collection: persistence.CollectionPeople, ID: "p1", Action: persistence.WriteMerge, Fields: MustFields(t, map[string]any{"lastName": "Yoo"})},
			{Collection: persistence.CollectionPeople, ID: "p2", Action: persistence.WriteDelete},
		}
		require.NoError(t, store.BatchWrite(ctx, ops))
		first, err := store.GetAll(ctx, persistence.CollectionPeople)
		require.NoError(t, err)

		require.NoError(t, store.BatchWrite(ctx, ops))
		second, err := store.GetAll(ctx, persistence.CollectionPeople)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("batch write rejects oversized and malformed batches", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		ops := make([]persistence.WriteOp, persistence.MaxBatchOperations+1)
		for i := range ops {
			ops[i] = persistence.WriteOp{Collection: persistence.CollectionRooms, ID: "r", Action: persistence.WriteDelete}
		}
		require.ErrorIs(t, store.BatchWrite(ctx, ops), persistence.ErrBatchTooLarge)

		err := store.BatchWrite(ctx, []persistence.WriteOp{
			{Collection: persistence.CollectionRooms, ID: "ok", Action: persistence.WriteSet, Fields: MustFields(t, map[string]any{"name": "X"})},
			{Collection: persistence.CollectionRooms, ID: "", Action: persistence.WriteSet},
		})
		require.ErrorIs(t, err, persistence.ErrInvalidOperation)

		_, err = store.GetByID(ctx, persistence.CollectionRooms, "ok")
		require.ErrorIs(t, err, persistence.ErrNotFound)
	})

	t.Run("audit records list per transaction in order", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		at := ReferenceTime()

		for i, txID := range []string{"tx-1", "tx-2", "tx-1"} {
			record := persistence.AuditRecord{
				ID:            fmt.Sprintf("audit-%d", i),
				TransactionID: txID,
				ChangeID:      "change",
				Collection:    persistence.CollectionRooms,
				Action:        "add",
				TargetID:      "room-1",
				Fields:        MustFields(t, map[string]any{"name": "Room"}),
				Digest:        "digest",
				AppliedAt:     at.Add(time.Duration(i) * time.Second),
			}
			require.NoError(t, store.AppendAudit(ctx, record))
			// A replayed commit appends the same record again.
			require.NoError(t, store.AppendAudit(ctx, record))
		}

		records, err := store.ListAudit(ctx, "tx-1")
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.True(t, records[0].AppliedAt.Before(records[1].AppliedAt))
		assert.JSONEq(t, `"Room"`, string(records[0].Fields["name"]))

		all, err := store.ListAudit(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})
}

// MustFields encodes v into document fields or fails the test.
func MustFields(tb testing.TB, v any) persistence.Fields {
	tb.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		tb.Fatalf("marshal fields: %v", err)
	}
	fields, err := persistence.DecodeDocument(raw)
	if err != nil {
		tb.Fatalf("decode fields: %v", err)
	}
	return fields
}
