package router

import (
	"database/sql"
	"encoding/json"
	"net/http"

	commentHandler "clausesync/internal/comment"
	"clausesync/internal/comment/repository"
	"clausesync/internal/comment/service"
	"clausesync/middleware"
	"clausesync/socket"
)

func Setup(db *sql.DB, hub *socket.Hub) http.Handler {
	mux := http.NewServeMux()

	// WebSocket
	wsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserID(r)
		socket.ServeWs(hub, w, r, userID)
	})
	mux.Handle("/ws", middleware.AuthMiddleware(wsHandler))

	// REST API
	repo := repository.NewCommentRepository(db)
	svc := service.NewCommentService(repo, hub)
	hub.Loader = svc
	handler := commentHandler.NewCommentHandler(svc)
	auth := middleware.AuthMiddleware

	mux.Handle("/api/comments/create", auth(http.HandlerFunc(handler.CreateComment)))
	mux.Handle("/api/comments", auth(http.HandlerFunc(handler.GetComments)))
	mux.Handle("/api/comments/thread", auth(http.HandlerFunc(handler.GetThread)))
	mux.Handle("/api/comments/update", auth(http.HandlerFunc(handler.UpdateComment)))
	mux.Handle("/api/comments/resolve", auth(http.HandlerFunc(handler.ResolveComment)))
	mux.Handle("/api/comments/delete", auth(http.HandlerFunc(handler.DeleteComment)))
	mux.Handle("/api/comments/statistics", auth(http.HandlerFunc(handler.GetStatistics)))

	mux.Handle("/api/presence", auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		docID := r.URL.Query().Get("docId")
		if docID == "" {
			http.Error(w, "Missing docId parameter", http.StatusBadRequest)
			return
		}
		viewers, err := hub.Viewers(r.Context(), docID)
		if err != nil {
			http.Error(w, "Presence lookup failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"document_id": docID, "viewers": viewers})
	})))

	return middleware.CORSMiddleware(mux)
}
