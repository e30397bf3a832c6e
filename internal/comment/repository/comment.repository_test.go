package repository

import (
	"testing"
	"time"

	"clausesync/internal/comment/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var commentCols = []string{
	"id", "document_id", "clause_id", "content", "author_id",
	"parent_id", "status", "metadata", "is_offline", "sync_status",
	"client_token", "created_at", "updated_at", "resolved_at",
	"resolved_by", "display_name", "email",
}

func addComment(rows *sqlmock.Rows, id, clauseID, status string, createdAt time.Time) *sqlmock.Rows {
	return rows.AddRow(
		id, "doc-1", clauseID, "note "+id, "alice",
		"", status, nil, false, "synced",
		"", createdAt, createdAt, nil,
		"", "Alice", "alice@example.com",
	)
}

func newRepo(t *testing.T) (*CommentRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewCommentRepository(db), mock
}

// The document view is the live view: only active comments, oldest
// first. Resolved and deleted rows never reach it.
func TestListByDocumentSelectsActiveOldestFirst(t *testing.T) {
	repo, mock := newRepo(t)

	base := time.Now()
	rows := sqlmock.NewRows(commentCols)
	addComment(rows, "c1", "clause-1", model.StatusActive, base)
	addComment(rows, "c2", "clause-2", model.StatusActive, base.Add(time.Minute))

	mock.ExpectQuery(`SELECT (.+) FROM comments c JOIN users u ON u\.id = c\.author_id WHERE c\.document_id = \$1 AND c\.status = 'active' ORDER BY c\.created_at ASC`).
		WithArgs("doc-1").
		WillReturnRows(rows)

	comments, err := repo.ListByDocument("doc-1")
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "c1", comments[0].ID)
	assert.Equal(t, "c2", comments[1].ID)
	assert.Equal(t, "Alice", comments[0].AuthorName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListByClauseSelectsActiveWithinClause(t *testing.T) {
	repo, mock := newRepo(t)

	rows := sqlmock.NewRows(commentCols)
	addComment(rows, "c1", "clause-7", model.StatusActive, time.Now())

	mock.ExpectQuery(`SELECT (.+) FROM comments c JOIN users u ON u\.id = c\.author_id WHERE c\.document_id = \$1 AND c\.clause_id = \$2 AND c\.status = 'active' ORDER BY c\.created_at ASC`).
		WithArgs("doc-1", "clause-7").
		WillReturnRows(rows)

	comments, err := repo.ListByClause("doc-1", "clause-7")
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "clause-7", comments[0].ClauseID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Threads keep their history: a resolved parent and a deleted reply
// stay visible alongside the active ones.
func TestListThreadKeepsAllStatuses(t *testing.T) {
	repo, mock := newRepo(t)

	base := time.Now()
	rows := sqlmock.NewRows(commentCols)
	addComment(rows, "c1", "clause-1", model.StatusResolved, base)
	addComment(rows, "c2", "clause-1", model.StatusDeleted, base.Add(time.Minute))
	addComment(rows, "c3", "clause-1", model.StatusActive, base.Add(2*time.Minute))

	mock.ExpectQuery(`SELECT (.+) FROM comments c JOIN users u ON u\.id = c\.author_id WHERE c\.id = \$1 OR c\.parent_id = \$1 ORDER BY c\.created_at ASC`).
		WithArgs("c1").
		WillReturnRows(rows)

	thread, err := repo.ListThread("c1")
	require.NoError(t, err)
	require.Len(t, thread, 3)
	assert.Equal(t, model.StatusResolved, thread[0].Status)
	assert.Equal(t, model.StatusDeleted, thread[1].Status)
	assert.Equal(t, model.StatusActive, thread[2].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatisticsGroupsByClauseAndAuthor(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\), COUNT\(\*\) FILTER \(WHERE status = 'active'\), COUNT\(\*\) FILTER \(WHERE status = 'resolved'\) FROM comments WHERE document_id = \$1`).
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"total", "active", "resolved"}).AddRow(5, 2, 2))

	mock.ExpectQuery(`SELECT clause_id, (.+) GROUP BY clause_id ORDER BY clause_id`).
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"key", "total", "active", "resolved"}).
			AddRow("clause-1", 3, 1, 1).
			AddRow("clause-2", 2, 1, 1))

	mock.ExpectQuery(`SELECT u\.display_name, (.+) GROUP BY u\.display_name ORDER BY u\.display_name`).
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"key", "total", "active", "resolved"}).
			AddRow("Alice", 4, 2, 1).
			AddRow("Bob", 1, 0, 1))

	stats, err := repo.Statistics("doc-1")
	require.NoError(t, err)

	// Total counts every status; deleted rows show up only there.
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 2, stats.Active)
	assert.Equal(t, 2, stats.Resolved)

	require.Len(t, stats.ByClause, 2)
	assert.Equal(t, model.StatCount{Key: "clause-1", Total: 3, Active: 1, Resolved: 1}, stats.ByClause[0])
	require.Len(t, stats.ByAuthor, 2)
	assert.Equal(t, model.StatCount{Key: "Alice", Total: 4, Active: 2, Resolved: 1}, stats.ByAuthor[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}
