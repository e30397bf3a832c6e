package socket

import (
	"encoding/json"
	"net/http"
	"time"

	"clausesync/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CheckOrigin allows connections from the dev frontend origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one websocket connection. A connection can join any number
// of document rooms via join_document events; membership is tracked in
// rooms (guarded by the hub's mutex).
type Client struct {
	Hub    *Hub
	Conn   *websocket.Conn
	UserID string
	ConnID string
	Send   chan []byte

	rooms  map[string]bool
	closed bool
}

func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Sugar.Error(err)
		return
	}

	client := &Client{
		Hub:    hub,
		Conn:   conn,
		UserID: userID,
		ConnID: uuid.NewString(),
		Send:   make(chan []byte, 256),
		rooms:  make(map[string]bool),
	}

	client.Hub.Register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	for {
		_, rawMessage, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Sugar.Errorf("error: %v", err)
			}
			break
		}

		var evt Event
		if err := json.Unmarshal(rawMessage, &evt); err != nil {
			logger.Sugar.Errorf("Error unmarshalling event: %v", err)
			continue
		}

		// Overwrite the sender identity with the server-authoritative
		// value so a client cannot emit events on behalf of others.
		evt.UserID = c.UserID

		c.Hub.Inbound <- ClientEvent{Client: c, Event: evt}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second) // ping to detect dead connections
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.Send:
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return // Connection is dead
			}
		case <-ticker.C:
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return // Connection is dead
			}
		}
	}
}
