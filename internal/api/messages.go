package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/formrelay/internal/conversation"
	"github.com/ashureev/formrelay/internal/messaging"
)

const (
	maxUserIDLen   = 128
	maxMessageBody = 1 << 20
)

// PostMessage accepts one inbound message from an external channel. Replies
// are delivered asynchronously through the outbound sender.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxMessageBody)
	var in messaging.Inbound
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "body_too_large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid_body")
		return
	}
	in.UserID = strings.TrimSpace(in.UserID)
	if in.UserID == "" || len(in.UserID) > maxUserIDLen {
		Error(w, http.StatusBadRequest, "invalid_user_id")
		return
	}
	in.Text = strings.TrimSpace(in.Text)

	err := h.submitter.Submit(r.Context(), in)
	switch {
	case err == nil:
		JSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	case errors.Is(err, messaging.ErrRateLimited):
		Error(w, http.StatusTooManyRequests, "rate_limited")
	case errors.Is(err, conversation.ErrMailboxFull):
		Error(w, http.StatusServiceUnavailable, "mailbox_full")
	case errors.Is(err, conversation.ErrDispatcherClosed):
		Error(w, http.StatusServiceUnavailable, "shutting_down")
	default:
		slog.Error("Failed to submit inbound message", "error", err, "user_id", in.UserID)
		Error(w, http.StatusInternalServerError, "submit_failed")
	}
}
