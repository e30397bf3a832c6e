package socket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"clausesync/internal/comment/model"
	"clausesync/pkg/logger"
)

// CommentLoader supplies the hydration payload sent to a client joining
// a document room.
type CommentLoader interface {
	ListByDocument(docID string) ([]*model.Comment, error)
}

// Hub owns the document rooms. Join, leave, disconnect, and ephemeral
// relay all run on the hub goroutine, one event at a time; mutation
// broadcasts arrive from the service layer on other goroutines, so room
// membership is additionally guarded by a mutex.
type Hub struct {
	Register   chan *Client
	Unregister chan *Client
	Inbound    chan ClientEvent

	// Loader hydrates joining clients. Set after construction to keep
	// the service -> hub dependency one-directional.
	Loader CommentLoader

	registry Registry

	rooms map[string]map[*Client]bool
	mu    sync.Mutex
}

// ClientEvent is an inbound event paired with the connection it came from.
type ClientEvent struct {
	Client *Client
	Event  Event
}

func NewHub(registry Registry) *Hub {
	return &Hub{
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Inbound:    make(chan ClientEvent),
		registry:   registry,
		rooms:      make(map[string]map[*Client]bool),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			logger.Sugar.Infof("Connection %s opened for user %s", client.ConnID, client.UserID)

		case client := <-h.Unregister:
			h.disconnect(client)

		case in := <-h.Inbound:
			h.dispatch(in.Client, in.Event)
		}
	}
}

func (h *Hub) dispatch(client *Client, evt Event) {
	switch {
	case evt.Type == JoinDocumentType:
		h.joinDocument(client, evt.DocumentID)
	case evt.Type == LeaveDocumentType:
		h.leaveDocument(client, evt.DocumentID)
	case isEphemeral(evt.Type):
		// Informational to peers only: never echoed to the sender,
		// never persisted.
		h.broadcastToOthers(evt.DocumentID, client, evt)
	default:
		logger.Sugar.Warnf("Dropping unknown event type %q from user %s", evt.Type, client.UserID)
	}
}

func (h *Hub) joinDocument(client *Client, docID string) {
	if docID == "" {
		return
	}

	h.mu.Lock()
	if h.rooms[docID] == nil {
		h.rooms[docID] = make(map[*Client]bool)
	}
	h.rooms[docID][client] = true
	client.rooms[docID] = true
	h.mu.Unlock()

	if err := h.registry.Join(context.Background(), docID, client.UserID, client.ConnID); err != nil {
		logger.Sugar.Errorf("Registry join failed for %s/%s: %v", docID, client.UserID, err)
	}

	h.broadcastToOthers(docID, client, Event{
		Type:       UserJoinedType,
		DocumentID: docID,
		UserID:     client.UserID,
		Timestamp:  time.Now().UTC(),
	})

	// Hydration is point-to-point: only the joining connection gets the
	// current comment set.
	comments := []*model.Comment{}
	if h.Loader != nil {
		loaded, err := h.Loader.ListByDocument(docID)
		if err != nil {
			logger.Sugar.Errorf("Failed to hydrate doc %s for user %s: %v", docID, client.UserID, err)
		} else {
			comments = loaded
		}
	}
	payload, _ := json.Marshal(struct {
		DocumentID string           `json:"document_id"`
		Comments   []*model.Comment `json:"comments"`
	}{docID, comments})
	h.sendEvent(client, Event{Type: DocumentCommentsType, DocumentID: docID, Payload: payload})
}

func (h *Hub) leaveDocument(client *Client, docID string) {
	if docID == "" {
		return
	}

	h.mu.Lock()
	if room, ok := h.rooms[docID]; ok {
		delete(room, client)
		if len(room) == 0 {
			delete(h.rooms, docID)
		}
	}
	delete(client.rooms, docID)
	h.mu.Unlock()

	if err := h.registry.Leave(context.Background(), docID, client.UserID); err != nil {
		logger.Sugar.Errorf("Registry leave failed for %s/%s: %v", docID, client.UserID, err)
	}

	h.BroadcastToRoom(docID, Event{
		Type:       UserLeftType,
		DocumentID: docID,
		UserID:     client.UserID,
		Timestamp:  time.Now().UTC(),
	})
}

// disconnect handles a connection closing without explicit leaves. The
// registry does the reverse lookup and the full viewer-set scan; every
// room the user was still in gets a user_left.
func (h *Hub) disconnect(client *Client) {
	userID, docIDs, err := h.registry.Disconnect(context.Background(), client.ConnID)
	if err != nil {
		logger.Sugar.Errorf("Registry disconnect failed for conn %s: %v", client.ConnID, err)
	}

	h.mu.Lock()
	for docID := range client.rooms {
		if room, ok := h.rooms[docID]; ok {
			delete(room, client)
			if len(room) == 0 {
				delete(h.rooms, docID)
			}
		}
	}
	client.rooms = make(map[string]bool)
	alreadyClosed := client.closed
	client.closed = true
	h.mu.Unlock()

	if userID != "" {
		now := time.Now().UTC()
		for _, docID := range docIDs {
			h.BroadcastToRoom(docID, Event{
				Type:       UserLeftType,
				DocumentID: docID,
				UserID:     userID,
				Timestamp:  now,
			})
		}
	}

	if !alreadyClosed {
		close(client.Send)
	}
	logger.Sugar.Infof("Connection %s closed for user %s", client.ConnID, client.UserID)
}

// BroadcastToRoom delivers evt to every member of the room, sender
// included. Mutation events use this: self-delivery lets clients
// reconcile optimistic local state.
func (h *Hub) BroadcastToRoom(docID string, evt Event) {
	h.fanOut(docID, nil, evt)
}

// broadcastToOthers delivers evt to every room member except sender.
func (h *Hub) broadcastToOthers(docID string, sender *Client, evt Event) {
	h.fanOut(docID, sender, evt)
}

func (h *Hub) fanOut(docID string, exclude *Client, evt Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling broadcast event: %v", err)
		return
	}

	// Copy the recipient list so no I/O happens under the lock.
	h.mu.Lock()
	recipients := make([]*Client, 0, len(h.rooms[docID]))
	for client := range h.rooms[docID] {
		if client != exclude {
			recipients = append(recipients, client)
		}
	}
	h.mu.Unlock()

	for _, client := range recipients {
		h.deliver(client, payload)
	}
}

func (h *Hub) sendEvent(client *Client, evt Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling event: %v", err)
		return
	}
	h.deliver(client, payload)
}

func (h *Hub) deliver(client *Client, payload []byte) {
	// A broadcaster may have snapshotted the room before a disconnect
	// removed this client. disconnect flips closed under the same mutex
	// before it closes Send, so checking here keeps the send ordered
	// strictly before the close.
	h.mu.Lock()
	defer h.mu.Unlock()
	if client.closed {
		return
	}

	select {
	case client.Send <- payload:
	default:
		// A full send buffer means the client is lagging badly. Close
		// the connection; the read pump will unregister it.
		logger.Sugar.Warnf("Client %s's send buffer is full, closing connection", client.UserID)
		client.Conn.Close()
	}
}

// Viewers reports the users currently viewing a document.
func (h *Hub) Viewers(ctx context.Context, docID string) ([]string, error) {
	return h.registry.Viewers(ctx, docID)
}
