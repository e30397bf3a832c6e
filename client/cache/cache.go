// Package cache is the client-resident durable store. It lets the user
// keep annotating while the network is down: comments written here are
// marked offline/pending and queued for the reconciler, and reads serve
// the local UI with no network dependency. Nothing is ever evicted.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"clausesync/internal/comment/model"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const schema = `
CREATE TABLE IF NOT EXISTS comments (
	id           TEXT PRIMARY KEY,
	document_id  TEXT NOT NULL,
	clause_id    TEXT NOT NULL,
	content      TEXT NOT NULL,
	author_id    TEXT NOT NULL,
	parent_id    TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'active',
	metadata     TEXT NOT NULL DEFAULT '',
	is_offline   INTEGER NOT NULL DEFAULT 1,
	sync_status  TEXT NOT NULL DEFAULT 'pending',
	client_token TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS comments_document ON comments (document_id, created_at);
CREATE INDEX IF NOT EXISTS comments_sync ON comments (sync_status);

CREATE TABLE IF NOT EXISTS sync_queue (
	id           TEXT PRIMARY KEY,
	type         TEXT NOT NULL,
	item_id      TEXT NOT NULL,
	action       TEXT NOT NULL,
	priority     INTEGER NOT NULL DEFAULT 0,
	created_at   TEXT NOT NULL,
	retry_count  INTEGER NOT NULL DEFAULT 0,
	attempted_at TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS sync_queue_type ON sync_queue (type, id);
`

// QueueItem is one append-only sync-queue entry. Items are never
// deleted; only the referenced entity's sync status changes. The id is
// a ULID, so lexicographic order is creation order.
type QueueItem struct {
	ID          string
	Type        string // entity kind: "comment"
	ItemID      string
	Action      string // create/update/delete
	Priority    int
	CreatedAt   time.Time
	RetryCount  int
	AttemptedAt time.Time // zero until the first sync attempt
}

// Store is the durable cache, a SQLite file in the client's data
// directory. WAL keeps reads from blocking the reconciler's writes.
type Store struct {
	pool *sqlitex.Pool
}

func Open(path string) (*Store, error) {
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: 4,
		PrepareConn: func(conn *sqlite.Conn) error {
			pragmas := []string{
				"PRAGMA journal_mode=WAL;",
				"PRAGMA synchronous=NORMAL;",
				"PRAGMA busy_timeout=5000;",
			}
			for _, pragma := range pragmas {
				if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
					return fmt.Errorf("cache: %s: %w", pragma, err)
				}
			}
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("cache: opening %s: %w", path, err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	return s.pool.Close()
}

// StoreComment persists a comment written while offline and appends one
// sync-queue item for it. The comment is marked offline/pending and its
// client token (used later as the idempotency key on the outbound
// create) is assigned here if the caller didn't set one.
func (s *Store) StoreComment(ctx context.Context, c *model.Comment) (*QueueItem, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache: take: %w", err)
	}
	defer s.pool.Put(conn)

	now := time.Now().UTC()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = model.StatusActive
	}
	c.IsOffline = true
	c.SyncStatus = model.SyncPending

	item := &QueueItem{
		ID:        ulid.Make().String(),
		Type:      "comment",
		ItemID:    c.ID,
		Action:    "create",
		CreatedAt: now,
	}
	if c.ClientToken == "" {
		c.ClientToken = item.ID
	}

	endTx, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, fmt.Errorf("cache: begin: %w", err)
	}
	defer endTx(&err)

	err = sqlitex.Execute(conn, `
		INSERT INTO comments (id, document_id, clause_id, content, author_id, parent_id,
			status, metadata, is_offline, sync_status, client_token, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []interface{}{
			c.ID, c.DocumentID, c.ClauseID, c.Content, c.AuthorID, c.ParentID,
			c.Status, string(c.Metadata), c.SyncStatus, c.ClientToken,
			c.CreatedAt.Format(time.RFC3339Nano), c.UpdatedAt.Format(time.RFC3339Nano),
		}})
	if err != nil {
		return nil, fmt.Errorf("cache: insert comment: %w", err)
	}

	err = sqlitex.Execute(conn, `
		INSERT INTO sync_queue (id, type, item_id, action, priority, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []interface{}{
			item.ID, item.Type, item.ItemID, item.Action, item.Priority,
			item.CreatedAt.Format(time.RFC3339Nano),
		}})
	if err != nil {
		return nil, fmt.Errorf("cache: enqueue: %w", err)
	}

	return item, nil
}

func commentFromStmt(stmt *sqlite.Stmt) *model.Comment {
	c := &model.Comment{
		ID:          stmt.ColumnText(0),
		DocumentID:  stmt.ColumnText(1),
		ClauseID:    stmt.ColumnText(2),
		Content:     stmt.ColumnText(3),
		AuthorID:    stmt.ColumnText(4),
		ParentID:    stmt.ColumnText(5),
		Status:      stmt.ColumnText(6),
		IsOffline:   stmt.ColumnInt64(8) != 0,
		SyncStatus:  stmt.ColumnText(9),
		ClientToken: stmt.ColumnText(10),
	}
	if raw := stmt.ColumnText(7); raw != "" {
		c.Metadata = json.RawMessage(raw)
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, stmt.ColumnText(11))
	c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, stmt.ColumnText(12))
	return c
}

const commentSelect = `
	SELECT id, document_id, clause_id, content, author_id, parent_id,
		status, metadata, is_offline, sync_status, client_token, created_at, updated_at
	FROM comments`

func (s *Store) listComments(ctx context.Context, where string, args ...interface{}) ([]*model.Comment, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache: take: %w", err)
	}
	defer s.pool.Put(conn)

	comments := []*model.Comment{}
	err = sqlitex.Execute(conn, commentSelect+where, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			comments = append(comments, commentFromStmt(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("cache: list comments: %w", err)
	}
	return comments, nil
}

// ListByDocument serves the local UI: every locally cached comment for
// the document, oldest first, regardless of sync state.
func (s *Store) ListByDocument(ctx context.Context, docID string) ([]*model.Comment, error) {
	return s.listComments(ctx, ` WHERE document_id = ? ORDER BY created_at ASC`, docID)
}

func (s *Store) ListBySyncStatus(ctx context.Context, syncStatus string) ([]*model.Comment, error) {
	return s.listComments(ctx, ` WHERE sync_status = ? ORDER BY created_at ASC`, syncStatus)
}

func (s *Store) GetComment(ctx context.Context, id string) (*model.Comment, error) {
	comments, err := s.listComments(ctx, ` WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(comments) == 0 {
		return nil, fmt.Errorf("cache: comment %s not found", id)
	}
	return comments[0], nil
}

// PendingQueue returns the queue items of one entity type whose
// referenced entity is still sync-pending, in creation (ULID) order.
func (s *Store) PendingQueue(ctx context.Context, entityType string) ([]QueueItem, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache: take: %w", err)
	}
	defer s.pool.Put(conn)

	items := []QueueItem{}
	err = sqlitex.Execute(conn, `
		SELECT q.id, q.type, q.item_id, q.action, q.priority, q.created_at, q.retry_count, q.attempted_at
		FROM sync_queue q JOIN comments c ON c.id = q.item_id
		WHERE q.type = ? AND c.sync_status = 'pending'
		ORDER BY q.id ASC`,
		&sqlitex.ExecOptions{
			Args: []interface{}{entityType},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				item := QueueItem{
					ID:         stmt.ColumnText(0),
					Type:       stmt.ColumnText(1),
					ItemID:     stmt.ColumnText(2),
					Action:     stmt.ColumnText(3),
					Priority:   int(stmt.ColumnInt64(4)),
					RetryCount: int(stmt.ColumnInt64(6)),
				}
				item.CreatedAt, _ = time.Parse(time.RFC3339Nano, stmt.ColumnText(5))
				if raw := stmt.ColumnText(7); raw != "" {
					item.AttemptedAt, _ = time.Parse(time.RFC3339Nano, raw)
				}
				items = append(items, item)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("cache: pending queue: %w", err)
	}
	return items, nil
}

func (s *Store) setSyncStatus(ctx context.Context, id, syncStatus string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("cache: take: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		UPDATE comments SET sync_status = ?, updated_at = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []interface{}{
			syncStatus, time.Now().UTC().Format(time.RFC3339Nano), id,
		}})
	if err != nil {
		return fmt.Errorf("cache: set sync status: %w", err)
	}
	return nil
}

// MarkSynced flips the entity to synced. The queue item stays; the
// queue is append-only.
func (s *Store) MarkSynced(ctx context.Context, itemID string) error {
	return s.setSyncStatus(ctx, itemID, model.SyncSynced)
}

// MarkError parks the entity in the terminal error state. It will no
// longer be swept.
func (s *Store) MarkError(ctx context.Context, itemID string) error {
	return s.setSyncStatus(ctx, itemID, model.SyncError)
}

// RecordAttempt bumps the queue item's retry counter and stamps the
// attempt time, which the reconciler's backoff keys off.
func (s *Store) RecordAttempt(ctx context.Context, queueID string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("cache: take: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		UPDATE sync_queue SET retry_count = retry_count + 1, attempted_at = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []interface{}{
			time.Now().UTC().Format(time.RFC3339Nano), queueID,
		}})
	if err != nil {
		return fmt.Errorf("cache: record attempt: %w", err)
	}
	return nil
}
