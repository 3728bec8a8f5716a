// Package conversation turns inbound chat messages into stage transitions
// and, once every field is collected, runs the form driver for the user.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/formrelay/internal/automation"
	"github.com/ashureev/formrelay/internal/domain"
	"github.com/ashureev/formrelay/internal/flow"
	"github.com/ashureev/formrelay/internal/messaging"
	"github.com/ashureev/formrelay/internal/session"
	"github.com/google/uuid"
)

// ErrSessionBusy is returned when a message arrives while the identity has
// an attempt or a delayed validation in flight.
var ErrSessionBusy = errors.New("session busy")

const (
	defaultAttemptTimeout = 5 * time.Minute
	ledgerTimeout         = 5 * time.Second
)

// Driver runs one registration attempt against the external form.
type Driver interface {
	Run(ctx context.Context, attempt domain.Attempt) automation.Result
}

// Ledger records attempt metadata.
type Ledger interface {
	RecordStart(ctx context.Context, rec *domain.AttemptRecord) error
	RecordFinish(ctx context.Context, rec *domain.AttemptRecord) error
}

// Options configures a Machine.
type Options struct {
	// AttemptTimeout bounds a whole driver run.
	AttemptTimeout time.Duration
	// Ledger is optional.
	Ledger Ledger
	// NewID generates attempt IDs; defaults to UUIDv4.
	NewID func() string
}

// Machine applies one transition per inbound message. It holds no state of
// its own beyond the session store.
type Machine struct {
	flow           *flow.Flow
	store          *session.Store
	driver         Driver
	sender         messaging.Sender
	ledger         Ledger
	attemptTimeout time.Duration
	newID          func() string

	root   context.Context
	cancel context.CancelFunc
}

// NewMachine creates a machine for f.
func NewMachine(f *flow.Flow, store *session.Store, driver Driver, sender messaging.Sender, opts Options) *Machine {
	timeout := opts.AttemptTimeout
	if timeout <= 0 {
		timeout = defaultAttemptTimeout
	}
	newID := opts.NewID
	if newID == nil {
		newID = func() string { return uuid.NewString() }
	}
	root, cancel := context.WithCancel(context.Background())
	return &Machine{
		flow:           f,
		store:          store,
		driver:         driver,
		sender:         sender,
		ledger:         opts.Ledger,
		attemptTimeout: timeout,
		newID:          newID,
		root:           root,
		cancel:         cancel,
	}
}

// Flow returns the configured stage sequence.
func (m *Machine) Flow() *flow.Flow {
	return m.flow
}

// Busy reports whether userID has an attempt or delayed validation in flight.
func (m *Machine) Busy(userID string) bool {
	return m.store.Busy(userID)
}

// RejectBusy answers a message that arrived while the identity was busy.
func (m *Machine) RejectBusy(ctx context.Context, in messaging.Inbound) error {
	slog.Info("Rejected message for busy session", "user_id", in.UserID)
	if err := m.reply(ctx, in.UserID, m.flow.Busy); err != nil {
		return err
	}
	return ErrSessionBusy
}

// Handle applies the transition for one inbound message.
func (m *Machine) Handle(ctx context.Context, in messaging.Inbound) error {
	h := m.store.Acquire(in.UserID)

	if h.Busy() {
		h.Release()
		return m.RejectBusy(ctx, in)
	}

	if !h.Exists() {
		first := m.flow.First()
		h.Begin(first)
		h.Release()
		slog.Info("Conversation started", "user_id", in.UserID, "flow", m.flow.Name, "stage", first)
		field, _ := m.flow.FieldFor(first)
		return m.reply(ctx, in.UserID, field.Prompt)
	}

	stage := h.Stage()
	field, ok := m.flow.FieldFor(stage)
	if !ok {
		// A session outside the sequence can only come from a flow change
		// under a live store; restart it rather than guess.
		h.Delete()
		h.Release()
		slog.Warn("Session stage not in flow, restarting", "user_id", in.UserID, "stage", stage)
		return m.Handle(ctx, in)
	}

	if field.Delay > 0 {
		m.deferValidation(h, field, in.Text)
		if field.Processing != "" {
			return m.reply(ctx, in.UserID, field.Processing)
		}
		return nil
	}

	return m.apply(ctx, h, field, in.Text)
}

// deferValidation schedules field's validation after its delay. The session
// is busy until the deferral runs or the session is deleted. h is released.
func (m *Machine) deferValidation(h *session.Handle, field flow.Field, raw string) {
	userID := h.UserID()
	h.Defer(field.Delay, func(token uint64) {
		m.resume(userID, field, raw, token)
	})
	h.Touch()
	h.Release()
	slog.Debug("Validation deferred", "user_id", userID, "field", field.Name, "delay", field.Delay)
}

func (m *Machine) resume(userID string, field flow.Field, raw string, token uint64) {
	h := m.store.Acquire(userID)
	if !h.HasPending(token) {
		h.Release()
		return
	}
	h.ClearPending()
	if h.Stage() != field.Stage() {
		h.Release()
		slog.Warn("Deferred validation outlived its stage", "user_id", userID, "field", field.Name)
		return
	}
	if err := m.apply(m.root, h, field, raw); err != nil {
		slog.Error("Deferred reply failed", "user_id", userID, "field", field.Name, "error", err)
	}
}

// apply validates raw for field and advances. h is released.
func (m *Machine) apply(ctx context.Context, h *session.Handle, field flow.Field, raw string) error {
	userID := h.UserID()

	if !field.Check(raw) {
		h.Touch()
		h.Release()
		slog.Info("Field rejected", "user_id", userID, "field", field.Name)
		return m.reply(ctx, userID, field.Reject)
	}

	next := m.flow.Next(field.Stage())
	h.Put(field.Name, field.Normalize(raw), next)
	slog.Info("Field accepted", "user_id", userID, "field", field.Name, "next", next)

	if next == flow.StageTerminal {
		return m.finish(ctx, h)
	}

	nextField, _ := m.flow.FieldFor(next)
	h.Release()
	return m.reply(ctx, userID, nextField.Prompt)
}

// finish hands the collected fields to the driver and ends the session
// whatever the outcome. h is released before the driver runs so busy
// checks for the identity stay responsive.
func (m *Machine) finish(ctx context.Context, h *session.Handle) error {
	userID := h.UserID()
	h.MarkBusy()
	attempt := domain.NewAttempt(m.newID(), userID, m.flow.Name, h.Snapshot())
	h.Release()

	log := slog.With("user_id", userID, "attempt_id", attempt.ID)
	log.Info("Registration attempt starting", "flow", attempt.Flow)

	if m.flow.Starting != "" {
		if err := m.reply(ctx, userID, m.flow.Starting); err != nil {
			log.Warn("Failed to send starting notice", "error", err)
		}
	}

	rec := &domain.AttemptRecord{
		ID:        attempt.ID,
		UserID:    userID,
		Flow:      attempt.Flow,
		Outcome:   domain.OutcomeRunning,
		StartedAt: attempt.StartedAt,
	}
	m.record(ctx, rec, true)

	runCtx, cancel := context.WithTimeout(ctx, m.attemptTimeout)
	res := m.driver.Run(runCtx, attempt)
	cancel()

	h = m.store.Acquire(userID)
	h.Delete()
	h.Release()

	finished := time.Now()
	rec.FinishedAt = &finished
	rec.Artifact = res.Artifact
	reply := m.flow.Success
	if res.OK {
		rec.Outcome = domain.OutcomeSucceeded
		log.Info("Registration attempt succeeded", "duration", rec.Duration())
	} else {
		rec.Outcome = domain.OutcomeFailed
		rec.FailedStage = res.Stage
		reply = m.flow.Failure
		log.Error("Registration attempt failed", "stage", res.Stage, "error", res.Err, "artifact", res.Artifact)
	}
	m.record(ctx, rec, false)

	return m.reply(ctx, userID, reply)
}

func (m *Machine) record(ctx context.Context, rec *domain.AttemptRecord, start bool) {
	if m.ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
	defer cancel()

	var err error
	if start {
		err = m.ledger.RecordStart(ctx, rec)
	} else {
		err = m.ledger.RecordFinish(ctx, rec)
	}
	if err != nil {
		slog.Error("Failed to record attempt", "attempt_id", rec.ID, "outcome", rec.Outcome, "error", err)
	}
}

func (m *Machine) reply(ctx context.Context, userID, text string) error {
	if err := m.sender.Send(ctx, userID, text); err != nil {
		slog.Error("Failed to send reply", "user_id", userID, "error", err)
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

// Close cancels deferred work and running attempts started from it.
func (m *Machine) Close() {
	m.cancel()
}
