package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/DanielVega-Smll94/whatsapp-service/pkg/logger"
)

// Live feed of session transitions and inbound traffic. The feed is one-way:
// frames sent by clients are read only to keep the connection alive.

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendQueue  = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || isAllowedOrigin(origin) {
			return true
		}
		logger.WarnCF("ws", "Rejected WebSocket from disallowed origin", map[string]interface{}{"origin": origin})
		return false
	},
}

// WSEvent is one frame of the feed.
type WSEvent struct {
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
}

// WSHub fans events out to connected feed clients. A client whose queue is
// full is dropped rather than slowing the publisher down.
type WSHub struct {
	server         *Server
	statusInterval time.Duration

	mu      sync.Mutex
	clients map[*feedClient]struct{}
	closed  bool
}

// NewWSHub creates a hub that reads session state from server.
func NewWSHub(server *Server) *WSHub {
	return &WSHub{
		server:         server,
		statusInterval: 5 * time.Second,
		clients:        make(map[*feedClient]struct{}),
	}
}

// Run pushes a status_update every statusInterval while clients are
// connected, and disconnects everyone when ctx is done.
func (h *WSHub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			h.closed = true
			for c := range h.clients {
				h.dropLocked(c)
			}
			h.mu.Unlock()
			return
		case <-ticker.C:
			if h.clientCount() > 0 {
				h.Broadcast("status_update", h.snapshot())
			}
		}
	}
}

// Broadcast sends an event to all connected clients.
func (h *WSHub) Broadcast(eventType string, data interface{}) {
	frame, err := encodeFrame(eventType, data)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			h.dropLocked(c)
		}
	}
}

// HandleWebSocket upgrades the request and subscribes the connection. The
// upgrade request is authenticated by authMiddleware like any other route.
func (h *WSHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.ErrorCF("ws", "WebSocket upgrade failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	c := &feedClient{conn: conn, send: make(chan []byte, wsSendQueue)}
	if frame, err := encodeFrame("initial_state", h.snapshot()); err == nil {
		c.send <- frame
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	logger.DebugC("ws", "Client connected")

	go h.writeLoop(c)
	go h.readLoop(c)
}

func (h *WSHub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// dropLocked removes c once. Callers hold h.mu.
func (h *WSHub) dropLocked(c *feedClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *WSHub) snapshot() map[string]interface{} {
	st := h.server.sessions.Status()
	session := map[string]interface{}{
		"state":        st.State.String(),
		"is_ready":     st.IsReady,
		"last_updated": st.LastUpdated.UTC().Format(time.RFC3339),
	}
	if st.HasPairingCode() && !st.IsReady {
		session["qr"] = st.PendingPairingCode
	}
	return map[string]interface{}{
		"uptime_seconds": int(time.Since(h.server.startTime).Seconds()),
		"session":        session,
	}
}

func encodeFrame(eventType string, data interface{}) ([]byte, error) {
	return json.Marshal(WSEvent{
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	})
}

func (h *WSHub) readLoop(c *feedClient) {
	defer func() {
		h.mu.Lock()
		h.dropLocked(c)
		h.mu.Unlock()
		c.conn.Close()
		logger.DebugC("ws", "Client disconnected")
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WSHub) writeLoop(c *feedClient) {
	ping := time.NewTicker(wsPingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
