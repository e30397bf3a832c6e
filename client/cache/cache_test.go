package cache

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"clausesync/internal/comment/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "clausesync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreCommentMarksOfflinePending(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	c := &model.Comment{
		DocumentID: "doc-1",
		ClauseID:   "clause-1",
		Content:    "written on a plane",
		AuthorID:   "alice",
		Metadata:   json.RawMessage(`{"priority":"high"}`),
	}
	item, err := store.StoreComment(ctx, c)
	require.NoError(t, err)

	assert.NotEmpty(t, c.ID)
	assert.True(t, c.IsOffline)
	assert.Equal(t, model.SyncPending, c.SyncStatus)
	assert.Equal(t, item.ID, c.ClientToken, "Queue item id doubles as the idempotency token")

	assert.Equal(t, "comment", item.Type)
	assert.Equal(t, "create", item.Action)
	assert.Equal(t, c.ID, item.ItemID)
	assert.Zero(t, item.RetryCount)

	loaded, err := store.GetComment(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Content, loaded.Content)
	assert.JSONEq(t, `{"priority":"high"}`, string(loaded.Metadata))
	assert.Equal(t, model.StatusActive, loaded.Status)
}

func TestReadsServeLocalUI(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, content := range []string{"first", "second"} {
		_, err := store.StoreComment(ctx, &model.Comment{
			DocumentID: "doc-1", ClauseID: "clause-1", Content: content, AuthorID: "alice",
		})
		require.NoError(t, err)
	}
	_, err := store.StoreComment(ctx, &model.Comment{
		DocumentID: "doc-2", ClauseID: "clause-9", Content: "elsewhere", AuthorID: "alice",
	})
	require.NoError(t, err)

	comments, err := store.ListByDocument(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "first", comments[0].Content)
	assert.Equal(t, "second", comments[1].Content)

	pending, err := store.ListBySyncStatus(ctx, model.SyncPending)
	require.NoError(t, err)
	assert.Len(t, pending, 3)
}

func TestQueueIsAppendOnly(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	c := &model.Comment{DocumentID: "doc-1", ClauseID: "clause-1", Content: "x", AuthorID: "alice"}
	item, err := store.StoreComment(ctx, c)
	require.NoError(t, err)

	queue, err := store.PendingQueue(ctx, "comment")
	require.NoError(t, err)
	require.Len(t, queue, 1)

	// Marking the entity synced empties the pending view, but the
	// queue row itself is never deleted: a later failure elsewhere
	// must not resurrect it.
	require.NoError(t, store.MarkSynced(ctx, c.ID))

	queue, err = store.PendingQueue(ctx, "comment")
	require.NoError(t, err)
	assert.Empty(t, queue)

	synced, err := store.ListBySyncStatus(ctx, model.SyncSynced)
	require.NoError(t, err)
	require.Len(t, synced, 1)
	assert.Equal(t, item.ItemID, synced[0].ID)
}

func TestRecordAttemptAndMarkError(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	c := &model.Comment{DocumentID: "doc-1", ClauseID: "clause-1", Content: "x", AuthorID: "alice"}
	item, err := store.StoreComment(ctx, c)
	require.NoError(t, err)

	require.NoError(t, store.RecordAttempt(ctx, item.ID))
	require.NoError(t, store.RecordAttempt(ctx, item.ID))

	queue, err := store.PendingQueue(ctx, "comment")
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, 2, queue[0].RetryCount)
	assert.False(t, queue[0].AttemptedAt.IsZero())

	require.NoError(t, store.MarkError(ctx, c.ID))

	queue, err = store.PendingQueue(ctx, "comment")
	require.NoError(t, err)
	assert.Empty(t, queue, "Errored entities are no longer swept")

	errored, err := store.ListBySyncStatus(ctx, model.SyncError)
	require.NoError(t, err)
	assert.Len(t, errored, 1)
}

func TestPendingQueueOrderIsCreationOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		c := &model.Comment{DocumentID: "doc-1", ClauseID: "clause-1", Content: "x", AuthorID: "alice"}
		item, err := store.StoreComment(ctx, c)
		require.NoError(t, err)
		ids = append(ids, item.ID)
	}

	queue, err := store.PendingQueue(ctx, "comment")
	require.NoError(t, err)
	require.Len(t, queue, 5)
	for i, item := range queue {
		assert.Equal(t, ids[i], item.ID)
	}
}
