package messaging

import (
	"context"
	"fmt"
	"log/slog"
)

// Router sends over a live chat socket when the user has one and falls back
// to the webhook otherwise. Either leg may be nil.
type Router struct {
	hub     *Hub
	webhook Sender
}

// NewRouter creates a router.
func NewRouter(hub *Hub, webhook Sender) *Router {
	return &Router{hub: hub, webhook: webhook}
}

// Send implements Sender.
func (r *Router) Send(ctx context.Context, userID, text string) error {
	if r.hub != nil && r.hub.Connected(userID) {
		err := r.hub.Send(ctx, userID, text)
		if err == nil {
			return nil
		}
		if r.webhook == nil {
			return err
		}
		slog.Warn("Chat socket send failed, falling back to webhook", "user_id", userID, "error", err)
	}
	if r.webhook != nil {
		return r.webhook.Send(ctx, userID, text)
	}
	return fmt.Errorf("%w: %s", ErrNoRoute, userID)
}
