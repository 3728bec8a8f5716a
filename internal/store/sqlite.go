package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/formrelay/internal/domain"
	"github.com/ashureev/formrelay/internal/shared"
	_ "modernc.org/sqlite"
)

// StageAbandoned is the failed stage recorded for attempts cut short by a
// process restart.
const StageAbandoned = "abandoned"

const defaultListLimit = 50

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed ledger.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets the API read the ledger while attempts are being recorded.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS attempts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		flow TEXT NOT NULL,
		outcome TEXT NOT NULL,
		failed_stage TEXT,
		artifact TEXT,
		started_at INTEGER NOT NULL,
		finished_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_attempts_user ON attempts(user_id, started_at);
	CREATE INDEX IF NOT EXISTS idx_attempts_finished ON attempts(finished_at) WHERE finished_at IS NOT NULL;
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RecordStart inserts a running attempt.
func (s *SQLiteStore) RecordStart(ctx context.Context, rec *domain.AttemptRecord) error {
	query := `
	INSERT INTO attempts (id, user_id, flow, outcome, started_at)
	VALUES (?, ?, ?, ?, ?)`

	err := shared.RetrySQLite(ctx, s.retry, "record_start", func() error {
		_, err := s.db.ExecContext(ctx, query,
			rec.ID, rec.UserID, rec.Flow, string(domain.OutcomeRunning), rec.StartedAt.UnixMilli(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// RecordFinish stores the outcome of an attempt. Attempts that were never
// started in the ledger are inserted whole.
func (s *SQLiteStore) RecordFinish(ctx context.Context, rec *domain.AttemptRecord) error {
	if rec.FinishedAt == nil {
		return errors.New("record finish: finished_at is required")
	}
	query := `
	INSERT INTO attempts (id, user_id, flow, outcome, failed_stage, artifact, started_at, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		outcome = excluded.outcome,
		failed_stage = excluded.failed_stage,
		artifact = excluded.artifact,
		finished_at = excluded.finished_at`

	err := shared.RetrySQLite(ctx, s.retry, "record_finish", func() error {
		_, err := s.db.ExecContext(ctx, query,
			rec.ID, rec.UserID, rec.Flow, string(rec.Outcome),
			nullable(rec.FailedStage), nullable(rec.Artifact),
			rec.StartedAt.UnixMilli(), rec.FinishedAt.UnixMilli(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("finish attempt: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

const attemptColumns = `id, user_id, flow, outcome, failed_stage, artifact, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row scanner) (*domain.AttemptRecord, error) {
	var rec domain.AttemptRecord
	var outcome string
	var failedStage, artifact sql.NullString
	var startedAt int64
	var finishedAt sql.NullInt64

	if err := row.Scan(&rec.ID, &rec.UserID, &rec.Flow, &outcome, &failedStage, &artifact, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	rec.Outcome = domain.Outcome(outcome)
	rec.FailedStage = failedStage.String
	rec.Artifact = artifact.String
	rec.StartedAt = time.UnixMilli(startedAt)
	if finishedAt.Valid {
		ts := time.UnixMilli(finishedAt.Int64)
		rec.FinishedAt = &ts
	}
	return &rec, nil
}

// GetAttempt returns one attempt, or nil if it does not exist.
func (s *SQLiteStore) GetAttempt(ctx context.Context, id string) (*domain.AttemptRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE id = ?`, id)
	rec, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan attempt row: %w", err)
	}
	return rec, nil
}

// ListAttempts returns recent attempts, newest first.
func (s *SQLiteStore) ListAttempts(ctx context.Context, userID string, limit int) ([]*domain.AttemptRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT ` + attemptColumns + ` FROM attempts`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("Failed to close attempt rows", "error", closeErr)
		}
	}()

	var out []*domain.AttemptRecord
	for rows.Next() {
		rec, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attempt row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}

// AbandonRunning closes out attempts left running by a previous process.
func (s *SQLiteStore) AbandonRunning(ctx context.Context, at time.Time) (int64, error) {
	query := `
	UPDATE attempts SET outcome = ?, failed_stage = ?, finished_at = ?
	WHERE outcome = ?`

	var affected int64
	err := shared.RetrySQLite(ctx, s.retry, "abandon_running", func() error {
		res, err := s.db.ExecContext(ctx, query,
			string(domain.OutcomeFailed), StageAbandoned, at.UnixMilli(), string(domain.OutcomeRunning),
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("abandon running attempts: %w", err)
	}
	return affected, nil
}

// PruneAttempts deletes finished attempts older than retention.
func (s *SQLiteStore) PruneAttempts(ctx context.Context, retention time.Duration) (int64, error) {
	threshold := time.Now().Add(-retention).UnixMilli()

	var affected int64
	err := shared.RetrySQLite(ctx, s.retry, "prune_attempts", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM attempts WHERE finished_at IS NOT NULL AND finished_at < ?`, threshold)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune attempts: %w", err)
	}
	return affected, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
