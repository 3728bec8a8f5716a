package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Frame is the JSON envelope exchanged with web chat clients.
type Frame struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

const (
	FrameMessage = "message"
	FrameReply   = "reply"
	FramePing    = "ping"
	FramePong    = "pong"
	FrameError   = "error"
)

// Hub tracks live chat sockets per user and tab.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// Register adds a socket for a user's tab, closing any socket it replaces.
func (h *Hub) Register(userID, sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[userID]; !exists {
		h.active[userID] = make(map[string]*websocket.Conn)
	}

	if existing, exists := h.active[userID][sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}

	h.active[userID][sessionID] = conn
	slog.Info("Chat socket registered", "user_id", userID, "session_id", sessionID)
}

// Unregister removes a socket if it is still the current one for the tab.
func (h *Hub) Unregister(userID, sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sessions, ok := h.active[userID]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(h.active, userID)
			}
			slog.Info("Chat socket unregistered", "user_id", userID, "session_id", sessionID)
		}
	}
}

// Connected reports whether userID has at least one live socket.
func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[userID]) > 0
}

// Send writes a reply frame to every socket of userID.
func (h *Hub) Send(ctx context.Context, userID, text string) error {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.active[userID]))
	for _, c := range h.active[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return fmt.Errorf("%w: %s", ErrNoRoute, userID)
	}

	var errs []error
	for _, c := range conns {
		if err := writeFrame(ctx, c, Frame{Type: FrameReply, Text: text}); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(conns) {
		return fmt.Errorf("write reply: %w", errors.Join(errs...))
	}
	return nil
}

// writeFrame bounds a single write so a client that stops reading cannot
// stall the sender.
func writeFrame(ctx context.Context, c *websocket.Conn, f Frame) error {
	ctx, cancel := context.WithTimeout(ctx, chatWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, c, f)
}

// CloseAll closes every socket, used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, sessions := range h.active {
		for _, conn := range sessions {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		delete(h.active, userID)
	}
}
