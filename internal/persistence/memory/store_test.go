package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/course-scheduler/internal/persistence"
	"github.com/example/course-scheduler/internal/persistence/memory"
	"github.com/example/course-scheduler/internal/testfixtures"
)

func TestStore_Contract(t *testing.T) {
	testfixtures.RunDocumentStoreContract(t, func(*testing.T) persistence.DocumentStore {
		return memory.New(0)
	})
}

func TestStore_FailNextBatch(t *testing.T) {
	ctx := context.Background()
	store := memory.New(10)
	boom := errors.New("unavailable")

	store.FailNextBatch(boom)
	err := store.Upsert(ctx, persistence.CollectionRooms, "r1", testfixtures.MustFields(t, map[string]any{"name": "A"}))
	require.ErrorIs(t, err, boom)

	_, err = store.GetByID(ctx, persistence.CollectionRooms, "r1")
	require.ErrorIs(t, err, persistence.ErrNotFound)

	require.NoError(t, store.Upsert(ctx, persistence.CollectionRooms, "r1", testfixtures.MustFields(t, map[string]any{"name": "A"})))
}

func TestStore_BatchLimit(t *testing.T) {
	store := memory.New(2)
	ops := []persistence.WriteOp{
		{Collection: persistence.CollectionRooms, ID: "a", Action: persistence.WriteDelete},
		{Collection: persistence.CollectionRooms, ID: "b", Action: persistence.WriteDelete},
		{Collection: persistence.CollectionRooms, ID: "c", Action: persistence.WriteDelete},
	}
	require.ErrorIs(t, store.BatchWrite(context.Background(), ops), persistence.ErrBatchTooLarge)
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := memory.New(0)
	require.NoError(t, store.Upsert(ctx, persistence.CollectionRooms, "r1", testfixtures.MustFields(t, map[string]any{"name": "A"})))

	doc, err := store.GetByID(ctx, persistence.CollectionRooms, "r1")
	require.NoError(t, err)
	doc.Fields["name"] = []byte(`"mutated"`)

	again, err := store.GetByID(ctx, persistence.CollectionRooms, "r1")
	require.NoError(t, err)
	require.JSONEq(t, `"A"`, string(again.Fields["name"]))
}
