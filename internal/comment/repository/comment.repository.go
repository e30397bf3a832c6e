package repository

import (
	"database/sql"
	"encoding/json"
	"time"

	"clausesync/internal/comment/model"
	"clausesync/pkg/logger"
)

type CommentRepository struct {
	DB *sql.DB
}

func NewCommentRepository(db *sql.DB) *CommentRepository {
	return &CommentRepository{DB: db}
}

const commentColumns = `c.id, c.document_id, c.clause_id, c.content, c.author_id,
	COALESCE(c.parent_id::text, ''), c.status, c.metadata, c.is_offline, c.sync_status,
	COALESCE(c.client_token, ''), c.created_at, c.updated_at, c.resolved_at,
	COALESCE(c.resolved_by, ''), u.display_name, u.email`

func scanComment(row interface{ Scan(...interface{}) error }) (*model.Comment, error) {
	var c model.Comment
	var metadata []byte
	var resolvedAt sql.NullTime
	err := row.Scan(&c.ID, &c.DocumentID, &c.ClauseID, &c.Content, &c.AuthorID,
		&c.ParentID, &c.Status, &metadata, &c.IsOffline, &c.SyncStatus,
		&c.ClientToken, &c.CreatedAt, &c.UpdatedAt, &resolvedAt,
		&c.ResolvedBy, &c.AuthorName, &c.AuthorEmail)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		c.Metadata = json.RawMessage(metadata)
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		c.ResolvedAt = &t
	}
	return &c, nil
}

func (r *CommentRepository) Create(c *model.Comment) error {
	// lib/pq wants JSONB as a string, not []byte.
	var metadata interface{}
	if len(c.Metadata) > 0 {
		metadata = string(c.Metadata)
	}
	var parentID interface{}
	if c.ParentID != "" {
		parentID = c.ParentID
	}
	var clientToken interface{}
	if c.ClientToken != "" {
		clientToken = c.ClientToken
	}

	err := r.DB.QueryRow(`
		INSERT INTO comments (id, document_id, clause_id, content, author_id, parent_id,
			status, metadata, is_offline, sync_status, client_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		RETURNING created_at, updated_at`,
		c.ID, c.DocumentID, c.ClauseID, c.Content, c.AuthorID, parentID,
		c.Status, metadata, c.IsOffline, c.SyncStatus, clientToken,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		logger.Sugar.Errorf("Failed to create comment on doc %s: %v", c.DocumentID, err)
	}
	return err
}

func (r *CommentRepository) GetByID(id string) (*model.Comment, error) {
	row := r.DB.QueryRow(`
		SELECT `+commentColumns+`
		FROM comments c JOIN users u ON u.id = c.author_id
		WHERE c.id = $1`, id)
	c, err := scanComment(row)
	if err != nil && err != sql.ErrNoRows {
		logger.Sugar.Errorf("Failed to get comment %s: %v", id, err)
	}
	return c, err
}

func (r *CommentRepository) listRows(query string, args ...interface{}) ([]*model.Comment, error) {
	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	comments := []*model.Comment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			logger.Sugar.Errorf("Failed to scan comment row: %v", err)
			continue
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// ListByDocument returns the live view: active comments only, oldest first.
func (r *CommentRepository) ListByDocument(docID string) ([]*model.Comment, error) {
	comments, err := r.listRows(`
		SELECT `+commentColumns+`
		FROM comments c JOIN users u ON u.id = c.author_id
		WHERE c.document_id = $1 AND c.status = 'active'
		ORDER BY c.created_at ASC`, docID)
	if err != nil {
		logger.Sugar.Errorf("Failed to list comments for doc %s: %v", docID, err)
	}
	return comments, err
}

func (r *CommentRepository) ListByClause(docID, clauseID string) ([]*model.Comment, error) {
	comments, err := r.listRows(`
		SELECT `+commentColumns+`
		FROM comments c JOIN users u ON u.id = c.author_id
		WHERE c.document_id = $1 AND c.clause_id = $2 AND c.status = 'active'
		ORDER BY c.created_at ASC`, docID, clauseID)
	if err != nil {
		logger.Sugar.Errorf("Failed to list comments for doc %s clause %s: %v", docID, clauseID, err)
	}
	return comments, err
}

// ListThread returns the parent and its direct replies regardless of status.
func (r *CommentRepository) ListThread(parentID string) ([]*model.Comment, error) {
	comments, err := r.listRows(`
		SELECT `+commentColumns+`
		FROM comments c JOIN users u ON u.id = c.author_id
		WHERE c.id = $1 OR c.parent_id = $1
		ORDER BY c.created_at ASC`, parentID)
	if err != nil {
		logger.Sugar.Errorf("Failed to list thread %s: %v", parentID, err)
	}
	return comments, err
}

func (r *CommentRepository) Update(id string, content *string, metadata json.RawMessage) error {
	var metadataArg interface{}
	if len(metadata) > 0 {
		metadataArg = string(metadata)
	}
	_, err := r.DB.Exec(`
		UPDATE comments
		SET content = COALESCE($2, content), metadata = COALESCE($3, metadata), updated_at = NOW()
		WHERE id = $1`, id, content, metadataArg)
	if err != nil {
		logger.Sugar.Errorf("Failed to update comment %s: %v", id, err)
	}
	return err
}

func (r *CommentRepository) Resolve(id, userID string, resolvedAt time.Time) error {
	_, err := r.DB.Exec(`
		UPDATE comments
		SET status = 'resolved', resolved_at = $3, resolved_by = $2, updated_at = NOW()
		WHERE id = $1`, id, userID, resolvedAt)
	if err != nil {
		logger.Sugar.Errorf("Failed to resolve comment %s: %v", id, err)
	}
	return err
}

// SoftDelete marks the comment deleted; the row stays queryable by thread.
func (r *CommentRepository) SoftDelete(id string) error {
	_, err := r.DB.Exec(`
		UPDATE comments SET status = 'deleted', updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		logger.Sugar.Errorf("Failed to delete comment %s: %v", id, err)
	}
	return err
}

func (r *CommentRepository) statCounts(query string, docID string) ([]model.StatCount, error) {
	rows, err := r.DB.Query(query, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := []model.StatCount{}
	for rows.Next() {
		var s model.StatCount
		if err := rows.Scan(&s.Key, &s.Total, &s.Active, &s.Resolved); err != nil {
			continue
		}
		counts = append(counts, s)
	}
	return counts, rows.Err()
}

// Statistics counts total/active/resolved comments grouped by clause and by
// author display name. Deleted comments count toward totals only.
func (r *CommentRepository) Statistics(docID string) (*model.DocumentStatistics, error) {
	stats := &model.DocumentStatistics{DocumentID: docID}

	err := r.DB.QueryRow(`
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'active'),
			COUNT(*) FILTER (WHERE status = 'resolved')
		FROM comments WHERE document_id = $1`, docID,
	).Scan(&stats.Total, &stats.Active, &stats.Resolved)
	if err != nil {
		logger.Sugar.Errorf("Failed to count comments for doc %s: %v", docID, err)
		return nil, err
	}

	stats.ByClause, err = r.statCounts(`
		SELECT clause_id, COUNT(*),
			COUNT(*) FILTER (WHERE status = 'active'),
			COUNT(*) FILTER (WHERE status = 'resolved')
		FROM comments WHERE document_id = $1
		GROUP BY clause_id ORDER BY clause_id`, docID)
	if err != nil {
		logger.Sugar.Errorf("Failed to count comments by clause for doc %s: %v", docID, err)
		return nil, err
	}

	stats.ByAuthor, err = r.statCounts(`
		SELECT u.display_name, COUNT(*),
			COUNT(*) FILTER (WHERE c.status = 'active'),
			COUNT(*) FILTER (WHERE c.status = 'resolved')
		FROM comments c JOIN users u ON u.id = c.author_id
		WHERE c.document_id = $1
		GROUP BY u.display_name ORDER BY u.display_name`, docID)
	if err != nil {
		logger.Sugar.Errorf("Failed to count comments by author for doc %s: %v", docID, err)
		return nil, err
	}

	return stats, nil
}
