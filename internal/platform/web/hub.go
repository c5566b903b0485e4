package web

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// completedFrame is pushed to a subscriber once its job completes.
type completedFrame struct {
	ImageID string `json:"image_id"`
	Status  string `json:"status"`
}

// Hub tracks websocket subscribers by job id and pushes a frame when the job completes.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*websocket.Conn]struct{}

	// isCompleted covers jobs that finished before the client subscribed.
	isCompleted func(id string) bool
	upgrader    websocket.Upgrader
	logger      *slog.Logger
}

// NewHub returns a Hub. isCompleted is consulted when a client subscribes.
func NewHub(isCompleted func(id string) bool, logger *slog.Logger) *Hub {
	return &Hub{
		subs:        make(map[string]map[*websocket.Conn]struct{}),
		isCompleted: isCompleted,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Notify pushes the completion frame to every subscriber of jobID and closes them.
func (h *Hub) Notify(jobID string) {
	h.mu.Lock()
	conns := h.subs[jobID]
	delete(h.subs, jobID)
	h.mu.Unlock()

	for conn := range conns {
		h.send(conn, jobID)
	}
}

func (h *Hub) send(conn *websocket.Conn, jobID string) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(completedFrame{ImageID: jobID, Status: "completed"}); err != nil {
		h.logger.Warn("Failed to write to websocket", "jobID", jobID, "error", err)
	}
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
}

func (h *Hub) register(jobID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[*websocket.Conn]struct{})
	}
	h.subs[jobID][conn] = struct{}{}
}

// unregister reports whether conn was still subscribed, i.e. Notify has not claimed it.
func (h *Hub) unregister(jobID string, conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[jobID]
	if !ok {
		return false
	}
	if _, ok := set[conn]; !ok {
		return false
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(h.subs, jobID)
	}
	return true
}

// Subscribers returns the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}

// ServeWS upgrades the request and waits for the completion of ?image_id=.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("image_id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "image_id is required")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}
	h.logger.Debug("Client connected via WebSocket", "jobID", jobID, "remoteAddr", conn.RemoteAddr())

	h.register(jobID, conn)
	// Checked after registering so a completion landing in between is not missed.
	if h.isCompleted(jobID) {
		if h.unregister(jobID, conn) {
			h.send(conn, jobID)
		}
		return
	}

	// Keep reading until the client disconnects or Notify closes the connection.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	if h.unregister(jobID, conn) {
		conn.Close()
	}
}
