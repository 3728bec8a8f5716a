package messaging

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/ashureev/formrelay/internal/identity"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

var chatWriteTimeout = 5 * time.Second

// ChatHandler serves the web chat socket. Inbound "message" frames are
// handed to the submitter; replies reach the client through the hub.
type ChatHandler struct {
	hub            *Hub
	submitter      Submitter
	allowedOrigins []string
	isDev          bool
}

// NewChatHandler creates a chat socket handler.
func NewChatHandler(hub *Hub, submitter Submitter, allowedOrigins []string, isDev bool) *ChatHandler {
	return &ChatHandler{
		hub:            hub,
		submitter:      submitter,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
	}
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	slog.Info("Chat connection request", "user_id", userID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "chat ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.hub.Register(userID, sessionID, ws)
	defer h.hub.Unregister(userID, sessionID, ws)

	h.readLoop(r.Context(), ws, userID)
	slog.Info("Chat connection ended", "user_id", userID)
}

func (h *ChatHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(h.allowedOrigins, "*") {
		return true
	}
	if slices.Contains(h.allowedOrigins, origin) {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

func (h *ChatHandler) readLoop(ctx context.Context, ws *websocket.Conn, userID string) {
	for {
		var frame Frame
		if err := wsjson.Read(ctx, ws, &frame); err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		switch frame.Type {
		case FramePing:
			h.write(ctx, ws, Frame{Type: FramePong})
		case FrameMessage:
			text := strings.TrimSpace(frame.Text)
			if text == "" {
				continue
			}
			err := h.submitter.Submit(ctx, Inbound{UserID: userID, Text: text})
			switch {
			case err == nil:
			case errors.Is(err, ErrRateLimited):
				h.write(ctx, ws, Frame{Type: FrameError, Text: "rate_limited"})
			default:
				slog.Error("Failed to submit chat message", "error", err, "user_id", userID)
				h.write(ctx, ws, Frame{Type: FrameError, Text: "unavailable"})
			}
		default:
			slog.Debug("Ignoring unknown chat frame", "type", frame.Type, "user_id", userID)
		}
	}
}

func (h *ChatHandler) write(ctx context.Context, ws *websocket.Conn, frame Frame) {
	if err := writeFrame(ctx, ws, frame); err != nil {
		slog.Debug("Failed to write chat frame", "error", err, "type", frame.Type)
	}
}
