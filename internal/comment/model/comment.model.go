package model

import (
	"encoding/json"
	"time"
)

// Comment lifecycle states. Transitions are one-way: an active comment can
// be resolved or deleted, a resolved comment can still be deleted by its
// author, and deleted is terminal.
const (
	StatusActive   = "active"
	StatusResolved = "resolved"
	StatusDeleted  = "deleted"
)

// Sync states for comments created while offline.
const (
	SyncPending = "pending"
	SyncSynced  = "synced"
	SyncError   = "error"
)

type Comment struct {
	ID         string          `json:"id"`
	DocumentID string          `json:"document_id"`
	ClauseID   string          `json:"clause_id"`
	Content    string          `json:"content"`
	AuthorID   string          `json:"author_id"`
	ParentID   string          `json:"parent_id,omitempty"`
	Status     string          `json:"status"`
	Metadata   json.RawMessage `json:"metadata,omitempty"` // cursor position, text range, priority, tags

	IsOffline   bool   `json:"is_offline"`
	SyncStatus  string `json:"sync_status"`
	ClientToken string `json:"client_token,omitempty"` // client-generated idempotency token

	// Author display fields hydrated from the identity read model.
	AuthorName  string `json:"author_name,omitempty"`
	AuthorEmail string `json:"author_email,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
}

type CreateCommentRequest struct {
	DocumentID  string          `json:"document_id"`
	ClauseID    string          `json:"clause_id"`
	Content     string          `json:"content"`
	ParentID    string          `json:"parent_id,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	IsOffline   bool            `json:"is_offline,omitempty"`
	ClientToken string          `json:"client_token,omitempty"`
}

// UpdateCommentRequest is a partial patch. Nil fields are left untouched.
type UpdateCommentRequest struct {
	Content  *string         `json:"content,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

type AuthorInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CommentEvent is the payload broadcast to a document room after a
// comment mutation.
type CommentEvent struct {
	Type       string      `json:"type"`
	DocumentID string      `json:"document_id"`
	ClauseID   string      `json:"clause_id"`
	Comment    *Comment    `json:"comment"`
	Author     AuthorInfo  `json:"author"`
}

// StatCount is one row of the per-clause / per-author breakdowns.
type StatCount struct {
	Key      string `json:"key"`
	Total    int    `json:"total"`
	Active   int    `json:"active"`
	Resolved int    `json:"resolved"`
}

type DocumentStatistics struct {
	DocumentID string      `json:"document_id"`
	Total      int         `json:"total"`
	Active     int         `json:"active"`
	Resolved   int         `json:"resolved"`
	ByClause   []StatCount `json:"by_clause"`
	ByAuthor   []StatCount `json:"by_author"`
}
