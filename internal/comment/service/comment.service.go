package service

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"clausesync/internal/comment/model"
	"clausesync/internal/comment/repository"
	"clausesync/pkg/logger"
	"clausesync/socket"

	"github.com/google/uuid"
)

// Sentinel errors surfaced to callers. Handlers map them onto HTTP
// status codes.
var (
	ErrNotFound          = errors.New("comment not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrBadParent         = errors.New("parent comment belongs to a different document")
)

// Broadcaster fans room events out to connected clients. *socket.Hub
// satisfies it; tests substitute a recorder.
type Broadcaster interface {
	BroadcastToRoom(docID string, evt socket.Event)
}

type CommentService struct {
	Repo *repository.CommentRepository
	Hub  Broadcaster
}

func NewCommentService(repo *repository.CommentRepository, hub Broadcaster) *CommentService {
	return &CommentService{Repo: repo, Hub: hub}
}

// Create inserts a new active comment and broadcasts comment_added to
// the whole room, the creator's connection included. A reply must
// anchor to a parent in the same document. Comments written through the
// offline path arrive with IsOffline set and start out sync-pending;
// direct creates are immediately synced.
func (s *CommentService) Create(req model.CreateCommentRequest, authorID string) (*model.Comment, error) {
	if req.ParentID != "" {
		parent, err := s.Repo.GetByID(req.ParentID)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("parent %s: %w", req.ParentID, ErrNotFound)
		}
		if err != nil {
			return nil, err
		}
		if parent.DocumentID != req.DocumentID {
			return nil, ErrBadParent
		}
	}

	syncStatus := model.SyncSynced
	if req.IsOffline {
		syncStatus = model.SyncPending
	}

	c := &model.Comment{
		ID:          uuid.NewString(),
		DocumentID:  req.DocumentID,
		ClauseID:    req.ClauseID,
		Content:     req.Content,
		AuthorID:    authorID,
		ParentID:    req.ParentID,
		Status:      model.StatusActive,
		Metadata:    req.Metadata,
		IsOffline:   req.IsOffline,
		SyncStatus:  syncStatus,
		ClientToken: req.ClientToken,
	}
	if err := s.Repo.Create(c); err != nil {
		return nil, err
	}

	// Re-read to hydrate the author display fields.
	created, err := s.Repo.GetByID(c.ID)
	if err != nil {
		return nil, err
	}

	s.broadcast(socket.CommentAddedType, created, authorID)
	return created, nil
}

func (s *CommentService) ListByDocument(docID string) ([]*model.Comment, error) {
	return s.Repo.ListByDocument(docID)
}

func (s *CommentService) ListByClause(docID, clauseID string) ([]*model.Comment, error) {
	return s.Repo.ListByClause(docID, clauseID)
}

// ListThread returns the parent comment and its direct replies in
// creation order, regardless of status.
func (s *CommentService) ListThread(parentID string) ([]*model.Comment, error) {
	if _, err := s.get(parentID); err != nil {
		return nil, err
	}
	return s.Repo.ListThread(parentID)
}

// Update applies a partial patch. Content edits are reserved to the
// author; a deleted comment accepts no edits.
func (s *CommentService) Update(id string, patch model.UpdateCommentRequest, userID string) (*model.Comment, error) {
	c, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if c.Status == model.StatusDeleted {
		return nil, fmt.Errorf("comment %s is deleted: %w", id, ErrInvalidTransition)
	}
	if patch.Content != nil && userID != c.AuthorID {
		return nil, fmt.Errorf("only the author may edit content: %w", ErrForbidden)
	}

	if err := s.Repo.Update(id, patch.Content, patch.Metadata); err != nil {
		return nil, err
	}

	updated, err := s.Repo.GetByID(id)
	if err != nil {
		return nil, err
	}

	s.broadcast(socket.CommentUpdatedType, updated, userID)
	return updated, nil
}

// Resolve marks an active comment resolved. Resolution is a
// collaborative action: any room participant may resolve, not just the
// author, and the resolver is recorded.
func (s *CommentService) Resolve(id, userID string) (*model.Comment, error) {
	c, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if c.Status != model.StatusActive {
		return nil, fmt.Errorf("comment %s is %s: %w", id, c.Status, ErrInvalidTransition)
	}

	now := time.Now().UTC()
	if err := s.Repo.Resolve(id, userID, now); err != nil {
		return nil, err
	}

	c.Status = model.StatusResolved
	c.ResolvedAt = &now
	c.ResolvedBy = userID
	c.UpdatedAt = now

	s.broadcast(socket.CommentResolvedType, c, userID)
	return c, nil
}

// Delete soft-deletes a comment. Author only; allowed from active and
// resolved, and deleted is terminal.
func (s *CommentService) Delete(id, userID string) (*model.Comment, error) {
	c, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if c.Status == model.StatusDeleted {
		return nil, fmt.Errorf("comment %s already deleted: %w", id, ErrInvalidTransition)
	}
	if userID != c.AuthorID {
		return nil, fmt.Errorf("only the author may delete: %w", ErrForbidden)
	}

	if err := s.Repo.SoftDelete(id); err != nil {
		return nil, err
	}

	c.Status = model.StatusDeleted

	s.broadcast(socket.CommentDeletedType, c, userID)
	return c, nil
}

func (s *CommentService) Statistics(docID string) (*model.DocumentStatistics, error) {
	return s.Repo.Statistics(docID)
}

func (s *CommentService) get(id string) (*model.Comment, error) {
	c, err := s.Repo.GetByID(id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("comment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *CommentService) broadcast(eventType string, c *model.Comment, actorID string) {
	if s.Hub == nil {
		return
	}
	payload, err := json.Marshal(model.CommentEvent{
		Type:       eventType,
		DocumentID: c.DocumentID,
		ClauseID:   c.ClauseID,
		Comment:    c,
		Author: model.AuthorInfo{
			ID:    c.AuthorID,
			Name:  c.AuthorName,
			Email: c.AuthorEmail,
		},
	})
	if err != nil {
		logger.Sugar.Errorf("Error marshalling %s event for comment %s: %v", eventType, c.ID, err)
		return
	}
	s.Hub.BroadcastToRoom(c.DocumentID, socket.Event{
		Type:       eventType,
		DocumentID: c.DocumentID,
		UserID:     actorID,
		Payload:    payload,
	})
}
