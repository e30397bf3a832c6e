package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"clausesync/internal/comment/model"
	"clausesync/internal/comment/service"
	"clausesync/middleware"
	"clausesync/pkg/logger"
)

type CommentHandler struct {
	Service *service.CommentService
}

func NewCommentHandler(svc *service.CommentService) *CommentHandler {
	return &CommentHandler{Service: svc}
}

// writeError maps service sentinels onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, service.ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, service.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, service.ErrBadParent):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (h *CommentHandler) CreateComment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req model.CreateCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.DocumentID == "" || req.Content == "" {
		http.Error(w, "Document ID and Content are required", http.StatusBadRequest)
		return
	}

	// The reconciler sends its client-generated token as a header;
	// the body field wins when both are present.
	if req.ClientToken == "" {
		req.ClientToken = r.Header.Get("Idempotency-Key")
	}

	userID := middleware.UserID(r)

	created, err := h.Service.Create(req, userID)
	if err != nil {
		logger.Sugar.Errorf("Failed to create comment: %v", err)
		writeError(w, err)
		return
	}

	writeJSON(w, created)
}

func (h *CommentHandler) GetComments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	docID := r.URL.Query().Get("docId")
	if docID == "" {
		http.Error(w, "Missing docId parameter", http.StatusBadRequest)
		return
	}

	var comments []*model.Comment
	var err error
	if clauseID := r.URL.Query().Get("clauseId"); clauseID != "" {
		comments, err = h.Service.ListByClause(docID, clauseID)
	} else {
		comments, err = h.Service.ListByDocument(docID)
	}
	if err != nil {
		logger.Sugar.Errorf("Error fetching comments: %v", err)
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, comments)
}

func (h *CommentHandler) GetThread(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	parentID := r.URL.Query().Get("parentId")
	if parentID == "" {
		http.Error(w, "Missing parentId parameter", http.StatusBadRequest)
		return
	}

	thread, err := h.Service.ListThread(parentID)
	if err != nil {
		logger.Sugar.Errorf("Error fetching thread %s: %v", parentID, err)
		writeError(w, err)
		return
	}

	writeJSON(w, thread)
}

func (h *CommentHandler) UpdateComment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	commentID := r.URL.Query().Get("commentId")
	if commentID == "" {
		http.Error(w, "Missing commentId parameter", http.StatusBadRequest)
		return
	}

	var patch model.UpdateCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	userID := middleware.UserID(r)

	updated, err := h.Service.Update(commentID, patch, userID)
	if err != nil {
		logger.Sugar.Errorf("Failed to update comment %s: %v", commentID, err)
		writeError(w, err)
		return
	}

	writeJSON(w, updated)
}

func (h *CommentHandler) ResolveComment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	commentID := r.URL.Query().Get("commentId")
	if commentID == "" {
		http.Error(w, "Missing commentId parameter", http.StatusBadRequest)
		return
	}

	userID := middleware.UserID(r)

	resolved, err := h.Service.Resolve(commentID, userID)
	if err != nil {
		logger.Sugar.Errorf("Failed to resolve comment %s: %v", commentID, err)
		writeError(w, err)
		return
	}

	writeJSON(w, resolved)
}

func (h *CommentHandler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	commentID := r.URL.Query().Get("commentId")
	if commentID == "" {
		http.Error(w, "Missing commentId parameter", http.StatusBadRequest)
		return
	}

	userID := middleware.UserID(r)

	if _, err := h.Service.Delete(commentID, userID); err != nil {
		logger.Sugar.Errorf("Failed to delete comment %s: %v", commentID, err)
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Comment deleted"))
}

func (h *CommentHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	docID := r.URL.Query().Get("docId")
	if docID == "" {
		http.Error(w, "Missing docId parameter", http.StatusBadRequest)
		return
	}

	stats, err := h.Service.Statistics(docID)
	if err != nil {
		logger.Sugar.Errorf("Error fetching statistics for doc %s: %v", docID, err)
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, stats)
}
