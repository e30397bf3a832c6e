package socket

import (
	"encoding/json"
	"time"
)

// Wire protocol for document rooms.
//
// Mutation events (comment_*) are sent to the entire room including the
// connection that performed the mutation, so clients can reconcile
// optimistic local state. Ephemeral events (typing, cursor, selection)
// are relayed to every room member except the sender and carry no
// ordering or durability guarantees.
const (
	// client -> server
	JoinDocumentType  = "join_document"
	LeaveDocumentType = "leave_document"

	// server -> room
	UserJoinedType = "user_joined"
	UserLeftType   = "user_left"

	// server -> joining client only
	DocumentCommentsType = "document_comments"

	// client -> server -> room (excluding sender)
	TypingStartType     = "typing_start"
	TypingStopType      = "typing_stop"
	CursorPositionType  = "cursor_position"
	SelectionChangeType = "selection_change"

	// server -> entire room (including sender)
	CommentAddedType    = "comment_added"
	CommentUpdatedType  = "comment_updated"
	CommentResolvedType = "comment_resolved"
	CommentDeletedType  = "comment_deleted"
)

type Event struct {
	Type       string          `json:"type"`
	DocumentID string          `json:"document_id,omitempty"`
	UserID     string          `json:"user_id,omitempty"`
	Timestamp  time.Time       `json:"timestamp,omitzero"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

func isEphemeral(eventType string) bool {
	switch eventType {
	case TypingStartType, TypingStopType, CursorPositionType, SelectionChangeType:
		return true
	}
	return false
}
