package api

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ComputClaw/airlock/pkg/types"
)

// ExecutionEvent is one status transition pushed to console clients.
type ExecutionEvent struct {
	ExecutionID string                `json:"execution_id"`
	Status      types.ExecutionStatus `json:"status"`
	Timestamp   string                `json:"timestamp"`
}

// EventHub fans execution status transitions out to websocket clients.
type EventHub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*websocket.Conn]bool

	// writeMu serializes writes; gorilla connections allow only one
	// concurrent writer.
	writeMu sync.Mutex
}

// NewEventHub creates an EventHub.
func NewEventHub() *EventHub {
	return &EventHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// The console is served from the same host.
				return true
			},
		},
		clients: make(map[*websocket.Conn]bool),
	}
}

// Publish sends an event to every connected client. Never blocks the
// dispatcher; dead connections are dropped.
func (h *EventHub) Publish(executionID string, status types.ExecutionStatus) {
	event := ExecutionEvent{
		ExecutionID: executionID,
		Status:      status,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(event); err != nil {
			h.drop(conn)
		}
	}
}

// Handle upgrades a request to a websocket subscription.
func (h *EventHub) Handle(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	// Reader loop exists only to detect disconnects; clients never send.
	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *EventHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	h.mu.Unlock()
}
