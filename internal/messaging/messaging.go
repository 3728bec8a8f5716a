// Package messaging is the boundary to chat transports: inbound text events
// keyed by user identity, and outbound replies to that identity.
package messaging

import (
	"context"
	"errors"
)

var (
	// ErrNoRoute is returned when no transport can currently reach the user.
	ErrNoRoute = errors.New("no route to user")
	// ErrRateLimited is returned when a user sends faster than allowed.
	ErrRateLimited = errors.New("rate limited")
)

// Inbound is one text message received from a user.
type Inbound struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

// Sender delivers a reply to a user.
type Sender interface {
	Send(ctx context.Context, userID, text string) error
}

// Submitter accepts inbound messages for processing.
type Submitter interface {
	Submit(ctx context.Context, in Inbound) error
}
