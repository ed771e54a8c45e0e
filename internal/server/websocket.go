package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/livetemplate/labkit/internal/session"
	"go.uber.org/zap"
)

// Message types sent over /ws.
const (
	MessageNotification = "notification"
	MessageLabChanged   = "lab-changed"
)

// Message is one event pushed to a session's sockets.
type Message struct {
	Type         string                `json:"type"`
	Notification *session.Notification `json:"notification,omitempty"`
	Lab          string                `json:"lab,omitempty"`
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 32
)

// wsClient is one socket; writes happen only on its write loop.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans messages out to the sockets of each session.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[string]map[*wsClient]struct{}
}

// NewHub creates a hub. allowOrigin decides cross-origin upgrades; nil
// accepts same-origin requests only.
func NewHub(allowOrigin func(r *http.Request) bool, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: allowOrigin},
		logger:   logger.Named("ws"),
		clients:  make(map[string]map[*wsClient]struct{}),
	}
}

// Notifier returns a session notifier that publishes to the session's sockets.
func (h *Hub) Notifier(sessionID string) session.Notifier {
	return session.NotifierFunc(func(n session.Notification) {
		h.Publish(sessionID, Message{Type: MessageNotification, Notification: &n})
	})
}

// Publish queues msg for every socket of the session. Slow sockets drop
// messages rather than block the publisher.
func (h *Hub) Publish(sessionID string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[sessionID] {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping message for slow client", zap.String("session", sessionID))
		}
	}
}

// Clients returns the number of sockets attached to a session.
func (h *Hub) Clients(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

// Disconnect closes every socket of a session.
func (h *Hub) Disconnect(sessionID string) {
	h.mu.Lock()
	clients := h.clients[sessionID]
	delete(h.clients, sessionID)
	h.mu.Unlock()

	for c := range clients {
		close(c.send)
	}
}

func (h *Hub) register(sessionID string, c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[sessionID] == nil {
		h.clients[sessionID] = make(map[*wsClient]struct{})
	}
	h.clients[sessionID][c] = struct{}{}
	h.logger.Debug("socket registered", zap.String("session", sessionID), zap.Int("sockets", len(h.clients[sessionID])))
}

// unregister reports whether c was still registered; only then is its send
// channel closed here.
func (h *Hub) unregister(sessionID string, c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[sessionID]
	if !ok {
		return false
	}
	if _, ok := set[c]; !ok {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, sessionID)
	}
	close(c.send)
	return true
}

// Serve upgrades the request and attaches the socket to sessionID. It
// returns when the socket closes.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, sendBuffer)}
	h.register(sessionID, c)

	go h.writeLoop(c)
	h.readLoop(sessionID, c)
}

// readLoop drains client frames so pongs and close frames are processed.
func (h *Hub) readLoop(sessionID string, c *wsClient) {
	defer func() {
		h.unregister(sessionID, c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("socket read error", zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writeLoop(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
