package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/mudra/internal/sampling"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

const (
	progressBuffer = 256
	writeTimeout   = time.Second
)

// ProgressHandler broadcasts session progress via WebSocket.
type ProgressHandler struct {
	clients map[*websocket.Conn]bool
	mu      sync.RWMutex
	events  chan []byte
	done    chan struct{}
	once    sync.Once
	logger  *slog.Logger
}

// NewProgressHandler creates a ProgressHandler and starts its broadcaster.
func NewProgressHandler(logger *slog.Logger) *ProgressHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &ProgressHandler{
		clients: make(map[*websocket.Conn]bool),
		events:  make(chan []byte, progressBuffer),
		done:    make(chan struct{}),
		logger:  logger.With("component", "server"),
	}
	go h.broadcast()
	return h
}

// Publish queues one progress event. Events are dropped when nobody
// listens or the queue is full, so the capture loop never blocks.
func (h *ProgressHandler) Publish(p sampling.Progress) {
	h.mu.RLock()
	listeners := len(h.clients)
	h.mu.RUnlock()
	if listeners == 0 {
		return
	}

	msg, err := json.Marshal(p)
	if err != nil {
		return
	}
	select {
	case h.events <- msg:
	default:
	}
}

// Clients returns the number of connected clients.
func (h *ProgressHandler) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close stops the broadcaster.
func (h *ProgressHandler) Close() {
	h.once.Do(func() { close(h.done) })
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *ProgressHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// broadcast sends queued progress events to all connected clients.
func (h *ProgressHandler) broadcast() {
	for {
		select {
		case <-h.done:
			return
		case msg := <-h.events:
			h.mu.RLock()
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					h.logger.Debug("websocket write failed", "error", err)
				}
			}
			h.mu.RUnlock()
		}
	}
}
