// Package store persists attempt metadata. Collected field values are never
// written; only who ran which flow, when, and how it ended.
package store

import (
	"context"
	"time"

	"github.com/ashureev/formrelay/internal/domain"
)

// Repository is the attempt ledger.
type Repository interface {
	// RecordStart inserts a running attempt.
	RecordStart(ctx context.Context, rec *domain.AttemptRecord) error

	// RecordFinish stores an attempt's outcome, failed stage, artifact and
	// finish time.
	RecordFinish(ctx context.Context, rec *domain.AttemptRecord) error

	// GetAttempt returns one attempt, or nil if it does not exist.
	GetAttempt(ctx context.Context, id string) (*domain.AttemptRecord, error)

	// ListAttempts returns the most recent attempts, newest first. An empty
	// userID lists every identity.
	ListAttempts(ctx context.Context, userID string, limit int) ([]*domain.AttemptRecord, error)

	// AbandonRunning marks attempts still running from a previous process as
	// failed and returns how many were updated.
	AbandonRunning(ctx context.Context, at time.Time) (int64, error)

	// PruneAttempts deletes finished attempts older than retention.
	PruneAttempts(ctx context.Context, retention time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
