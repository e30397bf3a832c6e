package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"clausesync/client/cache"
	"clausesync/internal/comment/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *cache.Store {
	t.Helper()
	store, err := cache.Open(filepath.Join(t.TempDir(), "clausesync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func storeOffline(t *testing.T, store *cache.Store, content string) *model.Comment {
	t.Helper()
	c := &model.Comment{
		DocumentID: "doc-1",
		ClauseID:   "clause-1",
		Content:    content,
		AuthorID:   "alice",
	}
	_, err := store.StoreComment(context.Background(), c)
	require.NoError(t, err)
	return c
}

func newReconciler(store *cache.Store, serverURL string) *Reconciler {
	r := NewReconciler(store, NewRemote(serverURL, "test-token"))
	r.BackoffBase = time.Nanosecond
	return r
}

func TestSweepSuccess(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	requests := 0
	var gotKey, gotAuth string
	var gotReq model.CreateCommentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := storeOffline(t, store, "offline thought")
	newReconciler(store, srv.URL).Sync(ctx)

	assert.Equal(t, 1, requests)
	assert.Equal(t, c.ClientToken, gotKey)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "offline thought", gotReq.Content)
	assert.Equal(t, "doc-1", gotReq.DocumentID)
	assert.True(t, gotReq.IsOffline)

	synced, err := store.ListBySyncStatus(ctx, model.SyncSynced)
	require.NoError(t, err)
	require.Len(t, synced, 1)

	pending, err := store.PendingQueue(ctx, "comment")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRetriesAreBoundedThenTerminal(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	storeOffline(t, store, "doomed")
	r := newReconciler(store, srv.URL)
	r.MaxAttempts = 3

	for i := 0; i < 3; i++ {
		r.Sync(ctx)
	}
	assert.Equal(t, 3, requests)

	errored, err := store.ListBySyncStatus(ctx, model.SyncError)
	require.NoError(t, err)
	assert.Len(t, errored, 1, "Attempt cap reached, entity parked in error")

	// Parked entities must not generate further traffic.
	r.Sync(ctx)
	assert.Equal(t, 3, requests)
}

func TestFailureDoesNotAbortSweep(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req model.CreateCommentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Content == "rejected" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	bad := storeOffline(t, store, "rejected")
	good := storeOffline(t, store, "accepted")

	newReconciler(store, srv.URL).Sync(ctx)

	loadedGood, err := store.GetComment(ctx, good.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncSynced, loadedGood.SyncStatus)

	loadedBad, err := store.GetComment(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncPending, loadedBad.SyncStatus)

	queue, err := store.PendingQueue(ctx, "comment")
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, 1, queue[0].RetryCount)
}

// Delivery is at-least-once: when the server applies a create but the
// response is lost, the next sweep replays it and the server ends up
// with two copies. The idempotency key travels with both submissions
// so the server could collapse them, but this engine does not assume
// it does.
func TestReplayAfterLostResponseDuplicates(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	applied := 0
	keys := []string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		applied++
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		if applied == 1 {
			// The comment was written server-side, but the client
			// never learns that.
			http.Error(w, "connection reset", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	storeOffline(t, store, "twice")
	r := newReconciler(store, srv.URL)
	r.Sync(ctx)
	r.Sync(ctx)

	assert.Equal(t, 2, applied)
	require.Len(t, keys, 2)
	assert.Equal(t, keys[0], keys[1], "Both submissions carry the same idempotency key")

	synced, err := store.ListBySyncStatus(ctx, model.SyncSynced)
	require.NoError(t, err)
	assert.Len(t, synced, 1)
}

func TestBackoffSkipsRecentlyFailedItems(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	storeOffline(t, store, "patience")
	r := newReconciler(store, srv.URL)
	r.BackoffBase = time.Hour

	r.Sync(ctx)
	require.Equal(t, 1, requests)

	// Still inside the backoff window: the item is seen but skipped.
	r.Sync(ctx)
	assert.Equal(t, 1, requests)

	pending, err := store.ListBySyncStatus(ctx, model.SyncPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestNotifyOnlineTriggersImmediateSweep(t *testing.T) {
	store := openTestStore(t)

	synced := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		select {
		case synced <- struct{}{}:
		default:
		}
	}))
	defer srv.Close()

	storeOffline(t, store, "back online")
	r := newReconciler(store, srv.URL)
	r.Interval = time.Hour // the ticker must not be what fires

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	r.NotifyOnline()
	select {
	case <-synced:
	case <-time.After(2 * time.Second):
		t.Fatal("online signal did not trigger a sweep")
	}
}
