package socketserver

import (
	"sort"
	"sync"
	"time"

	"github.com/codefionn/scriptserve/internal/logger"
)

// SessionInfo describes one live connection
type SessionInfo struct {
	ID         string    `json:"id"`
	RemoteAddr string    `json:"remote_addr"`
	Since      time.Time `json:"since"`
	Served     int64     `json:"served"`
}

type hubEntry struct {
	handler *Handler
	since   time.Time
}

// Hub maintains the set of live connection handlers
type Hub struct {
	mu       sync.RWMutex
	handlers map[string]hubEntry
}

// NewHub creates a new hub
func NewHub() *Hub {
	return &Hub{
		handlers: make(map[string]hubEntry),
	}
}

// Register adds a handler to the hub
func (h *Hub) Register(handler *Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.handlers[handler.ID] = hubEntry{handler: handler, since: time.Now()}
	logger.Debug("Connection registered: %s (total: %d)", handler.ID, len(h.handlers))
}

// Unregister removes a handler from the hub
func (h *Hub) Unregister(handler *Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.handlers[handler.ID]; ok {
		delete(h.handlers, handler.ID)
		logger.Debug("Connection unregistered: %s (total: %d)", handler.ID, len(h.handlers))
	}
}

// Count returns the number of live connections
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.handlers)
}

// Sessions lists the live connections, oldest first
func (h *Hub) Sessions() []SessionInfo {
	h.mu.RLock()
	sessions := make([]SessionInfo, 0, len(h.handlers))
	for id, entry := range h.handlers {
		sessions = append(sessions, SessionInfo{
			ID:         id,
			RemoteAddr: entry.handler.conn.RemoteAddr().String(),
			Since:      entry.since,
			Served:     entry.handler.Served(),
		})
	}
	h.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].Since.Equal(sessions[j].Since) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].Since.Before(sessions[j].Since)
	})
	return sessions
}

// CloseAll closes every live connection. Handlers blocked in a read return
// with an error and exit; a handler in the middle of a request fails its
// write.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	handlers := make([]*Handler, 0, len(h.handlers))
	for _, entry := range h.handlers {
		handlers = append(handlers, entry.handler)
	}
	h.mu.RUnlock()

	if len(handlers) > 0 {
		logger.Info("Closing %d live connections", len(handlers))
	}
	for _, handler := range handlers {
		handler.Close()
	}
}
