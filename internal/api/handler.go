// Package api provides HTTP handlers for the relay API.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ashureev/formrelay/internal/flow"
	"github.com/ashureev/formrelay/internal/messaging"
	"github.com/ashureev/formrelay/internal/middleware"
	"github.com/ashureev/formrelay/internal/store"
	"github.com/go-chi/chi/v5"
)

// Handler serves the inbound webhook and the read-only ledger and flow views.
type Handler struct {
	repo          store.Repository
	flow          *flow.Flow
	submitter     messaging.Submitter
	webhookSecret string
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, f *flow.Flow, submitter messaging.Submitter, webhookSecret string) *Handler {
	return &Handler{
		repo:          repo,
		flow:          f,
		submitter:     submitter,
		webhookSecret: webhookSecret,
	}
}

// RegisterRoutes registers API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.With(middleware.Signature(h.webhookSecret)).Post("/messages", h.PostMessage)
		r.Get("/flow", h.GetFlow)
		r.Get("/attempts", h.ListAttempts)
		r.Get("/attempts/{id}", h.GetAttempt)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
