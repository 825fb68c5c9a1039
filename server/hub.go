package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"minimal-sessions/common"
	"minimal-sessions/session"
)

const (
	sendBufferSize = 16
	writeTimeout   = 5 * time.Second
)

// Hub pushes session events to connected participants over websockets.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]map[*subscriber]struct{}
	logger      *logrus.Logger

	upgrader *websocket.Upgrader
}

type subscriber struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		subscribers: make(map[string]map[*subscriber]struct{}),
		logger:      logger,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Emit delivers ev to the owner and the peer if they are connected. Slow
// subscribers miss events rather than stall the negotiation.
func (h *Hub) Emit(_ context.Context, ev common.SessionEvent) {
	if ev.OwnerID == "" && ev.PeerID == "" {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.WithError(err).Error("Error marshalling session event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, userID := range []string{ev.OwnerID, ev.PeerID} {
		for sub := range h.subscribers[userID] {
			select {
			case sub.send <- data:
			default:
				h.logger.WithFields(logrus.Fields{
					"user_id": userID,
					"event":   string(ev.Type),
				}).Warn("Dropping session event for slow subscriber")
			}
		}
	}
}

// ServeWS upgrades the request and streams events for userID until the
// connection closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorf("Error upgrading to WebSocket: %v", err)
		return
	}
	defer ws.Close()

	sub := &subscriber{userID: userID, conn: ws, send: make(chan []byte, sendBufferSize)}
	h.add(sub)
	h.logger.Infof("User %s subscribed to session events", userID)

	go h.writeLoop(sub)

	// Nothing is expected from the client; reading only detects disconnects.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}

	h.remove(sub)
	h.logger.Infof("User %s unsubscribed from session events", userID)
}

func (h *Hub) writeLoop(sub *subscriber) {
	for msg := range sub.send {
		_ = sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.logger.Errorf("Error sending event to user %s: %v", sub.userID, err)
			_ = sub.conn.Close()
			return
		}
	}
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subscribers[sub.userID] == nil {
		h.subscribers[sub.userID] = make(map[*subscriber]struct{})
	}
	h.subscribers[sub.userID][sub] = struct{}{}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subscribers[sub.userID]
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.subscribers, sub.userID)
	}
	close(sub.send)
}

// Connected returns how many live subscriptions userID has.
func (h *Hub) Connected(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[userID])
}

// Close drops every connection. ServeWS loops notice and unregister.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, subs := range h.subscribers {
		for sub := range subs {
			_ = sub.conn.Close()
		}
	}
}

var _ session.EventSink = (*Hub)(nil)
