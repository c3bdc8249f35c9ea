package stream

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/gotradegate/tradegate/internal/model"
	"github.com/gotradegate/tradegate/internal/pkg/logger"
)

const writeTimeout = 5 * time.Second

// Hub fans security events out to connected WebSocket clients. It is wired
// as an audit-pipeline subscriber, so publishing happens off the request
// path; a slow client is dropped rather than allowed to hold up the fanout.
type Hub struct {
	mu       sync.Mutex
	conns    map[*websocket.Conn]struct{}
	upgrader websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		conns: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Admin permission is enforced by the route's middleware.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Publish sends the event to every subscriber. Satisfies the audit
// service's listener signature.
func (h *Hub) Publish(event *model.SecurityEvent) {
	if event == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(event); err != nil {
			logger.Debug("Dropping slow event-stream subscriber", "error", err.Error())
			conn.Close()
			delete(h.conns, conn)
		}
	}
}

// ServeWS upgrades the request and holds the connection open until the
// client goes away. Inbound frames are drained and discarded; the stream
// is one-way.
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed", "error", err.Error())
		return
	}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()

	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.conns, conn)
			h.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Subscribers reports the current connection count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}
