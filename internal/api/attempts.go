package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/formrelay/internal/flow"
	"github.com/go-chi/chi/v5"
)

const maxListLimit = 200

type stageView struct {
	Stage     flow.Stage `json:"stage"`
	Field     string     `json:"field"`
	Validator string     `json:"validator"`
	Prompt    string     `json:"prompt"`
	DelayMS   int64      `json:"delay_ms,omitempty"`
}

// GetFlow describes the configured stage sequence.
func (h *Handler) GetFlow(w http.ResponseWriter, r *http.Request) {
	stages := make([]stageView, 0, len(h.flow.Fields))
	for _, f := range h.flow.Fields {
		stages = append(stages, stageView{
			Stage:     f.Stage(),
			Field:     f.Name,
			Validator: f.Validator,
			Prompt:    f.Prompt,
			DelayMS:   f.Delay.Milliseconds(),
		})
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"name":     h.flow.Name,
		"stages":   stages,
		"terminal": flow.StageTerminal,
	})
}

// ListAttempts returns recent ledger entries, optionally for one identity.
func (h *Handler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			Error(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		limit = min(n, maxListLimit)
	}
	userID := r.URL.Query().Get("user_id")

	recs, err := h.repo.ListAttempts(r.Context(), userID, limit)
	if err != nil {
		slog.Error("Failed to list attempts", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "ledger_unavailable")
		return
	}

	out := make([]map[string]interface{}, 0, len(recs))
	for _, rec := range recs {
		item := map[string]interface{}{
			"id":         rec.ID,
			"user_id":    rec.UserID,
			"flow":       rec.Flow,
			"outcome":    rec.Outcome,
			"started_at": rec.StartedAt.UTC().Format(time.RFC3339),
		}
		if rec.FinishedAt != nil {
			item["finished_at"] = rec.FinishedAt.UTC().Format(time.RFC3339)
			item["duration_ms"] = rec.Duration().Milliseconds()
		}
		if rec.FailedStage != "" {
			item["failed_stage"] = rec.FailedStage
		}
		out = append(out, item)
	}
	JSON(w, http.StatusOK, map[string]interface{}{"attempts": out})
}

// GetAttempt returns one ledger entry.
func (h *Handler) GetAttempt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := h.repo.GetAttempt(r.Context(), id)
	if err != nil {
		slog.Error("Failed to get attempt", "error", err, "attempt_id", id)
		Error(w, http.StatusInternalServerError, "ledger_unavailable")
		return
	}
	if rec == nil {
		Error(w, http.StatusNotFound, "attempt_not_found")
		return
	}
	JSON(w, http.StatusOK, rec)
}
