// Package domain contains core domain types for the registration relay.
package domain

import (
	"maps"
	"time"
)

// Attempt is the complete, validated field set handed to the form driver.
// It owns its own copy of the values; nothing aliases the session it came
// from.
type Attempt struct {
	ID        string
	UserID    string
	Flow      string
	Fields    map[string]string
	StartedAt time.Time
}

// NewAttempt copies fields into a new attempt.
func NewAttempt(id, userID, flow string, fields map[string]string) Attempt {
	return Attempt{
		ID:        id,
		UserID:    userID,
		Flow:      flow,
		Fields:    maps.Clone(fields),
		StartedAt: time.Now(),
	}
}

// Value returns the named field, or "" if the attempt doesn't carry it.
func (a Attempt) Value(field string) (string, bool) {
	v, ok := a.Fields[field]
	return v, ok
}

// Outcome is the terminal result of an attempt.
type Outcome string

const (
	OutcomeRunning   Outcome = "running"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// AttemptRecord is the ledger entry for an attempt. It never carries field
// values.
type AttemptRecord struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Flow        string     `json:"flow"`
	Outcome     Outcome    `json:"outcome"`
	FailedStage string     `json:"failed_stage,omitempty"`
	Artifact    string     `json:"artifact,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Duration returns how long the attempt ran, or 0 if it hasn't finished.
func (r *AttemptRecord) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
