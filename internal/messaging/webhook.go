package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/formrelay/internal/middleware"
	"golang.org/x/time/rate"
)

// WebhookSender delivers replies by POSTing them to an outbound bridge (for
// example a WhatsApp gateway) as {"user_id","text"}.
type WebhookSender struct {
	url     string
	secret  string
	client  *http.Client
	limiter *rate.Limiter
}

// WebhookOptions tunes the sender.
type WebhookOptions struct {
	Secret  string
	Timeout time.Duration
	// PerSecond caps outbound requests; zero means unlimited.
	PerSecond float64
	Burst     int
}

// NewWebhookSender creates a sender that posts to url.
func NewWebhookSender(url string, opts WebhookOptions) *WebhookSender {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if opts.PerSecond > 0 {
		limit = rate.Limit(opts.PerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &WebhookSender{
		url:     url,
		secret:  opts.Secret,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Send posts the reply. Non-2xx responses are errors.
func (s *WebhookSender) Send(ctx context.Context, userID, text string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for webhook slot: %w", err)
	}

	body, err := json.Marshal(Inbound{UserID: userID, Text: text})
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.secret != "" {
		req.Header.Set(middleware.SignatureHeader, middleware.Sign(s.secret, body))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post webhook: unexpected status %d", resp.StatusCode)
	}
	slog.Debug("Reply delivered via webhook", "user_id", userID, "status", resp.StatusCode)
	return nil
}
