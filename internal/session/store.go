// Package session keeps per-identity conversation state with per-key
// exclusive access.
package session

import (
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/formrelay/internal/flow"
)

// Session is the conversation state of one identity.
type Session struct {
	UserID    string
	Stage     flow.Stage
	Fields    map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type entry struct {
	mu      sync.Mutex
	session *Session
	pending *pending
	removed bool // set once the entry has left the map; holders must re-acquire
	busy    atomic.Bool
}

// pending is a deferred validation. token identifies it to the callback so
// a stale timer can tell it has been superseded.
type pending struct {
	token uint64
	timer *time.Timer
}

// Store maps identities to sessions. The store-level mutex only guards the
// map; transitions hold the identity's own lock.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
	tokens  atomic.Uint64
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Acquire locks the entry for userID, creating it if needed. The caller must
// call Release on the returned handle.
func (s *Store) Acquire(userID string) *Handle {
	for {
		s.mu.Lock()
		e, ok := s.entries[userID]
		if !ok {
			e = &entry{}
			s.entries[userID] = e
		}
		s.mu.Unlock()

		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		return &Handle{store: s, userID: userID, e: e}
	}
}

// Busy reports whether userID has an attempt or a delayed validation in
// flight. It never blocks on the identity's lock.
func (s *Store) Busy(userID string) bool {
	s.mu.Lock()
	e, ok := s.entries[userID]
	s.mu.Unlock()
	return ok && e.busy.Load()
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if !e.removed {
			n++
		}
	}
	return n
}

// Sweep removes sessions idle for longer than idle. Busy sessions are left
// alone; their attempt is bounded by its own timeout.
func (s *Store) Sweep(idle time.Duration) []string {
	s.mu.Lock()
	candidates := make(map[string]*entry, len(s.entries))
	maps.Copy(candidates, s.entries)
	s.mu.Unlock()

	cutoff := s.now().Add(-idle)
	var reaped []string
	for userID, e := range candidates {
		if e.busy.Load() {
			continue
		}
		e.mu.Lock()
		if e.removed || e.busy.Load() || (e.session != nil && e.session.UpdatedAt.After(cutoff)) {
			e.mu.Unlock()
			continue
		}
		s.removeLocked(userID, e)
		e.mu.Unlock()
		reaped = append(reaped, userID)
	}
	return reaped
}

// removeLocked drops e from the map. e.mu must be held.
func (s *Store) removeLocked(userID string, e *entry) {
	if e.pending != nil {
		e.pending.timer.Stop()
		e.pending = nil
	}
	e.session = nil
	e.busy.Store(false)

	// removed is written under both locks so Len can read it under s.mu.
	s.mu.Lock()
	e.removed = true
	if s.entries[userID] == e {
		delete(s.entries, userID)
	}
	s.mu.Unlock()
}

// Handle is exclusive access to one identity's entry.
type Handle struct {
	store    *Store
	userID   string
	e        *entry
	released bool
}

// UserID returns the identity this handle locks.
func (h *Handle) UserID() string {
	return h.userID
}

// Exists reports whether a session has been started.
func (h *Handle) Exists() bool {
	return h.e.session != nil
}

// Stage returns the current stage.
func (h *Handle) Stage() flow.Stage {
	if h.e.session == nil {
		return ""
	}
	return h.e.session.Stage
}

// Begin starts a new session at stage.
func (h *Handle) Begin(stage flow.Stage) {
	now := h.store.now()
	h.e.session = &Session{
		UserID:    h.userID,
		Stage:     stage,
		Fields:    make(map[string]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Put records an accepted field value and moves to next.
func (h *Handle) Put(field, value string, next flow.Stage) {
	if h.e.session == nil {
		return
	}
	h.e.session.Fields[field] = value
	h.e.session.Stage = next
	h.e.session.UpdatedAt = h.store.now()
}

// Touch refreshes the idle clock without changing state.
func (h *Handle) Touch() {
	if h.e.session != nil {
		h.e.session.UpdatedAt = h.store.now()
	}
}

// Snapshot returns a copy of the collected fields.
func (h *Handle) Snapshot() map[string]string {
	if h.e.session == nil {
		return map[string]string{}
	}
	return maps.Clone(h.e.session.Fields)
}

// Busy reports whether the session is mid-attempt or awaiting a delayed
// validation.
func (h *Handle) Busy() bool {
	return h.e.busy.Load()
}

// MarkBusy flags the session as owned by an in-flight attempt.
func (h *Handle) MarkBusy() {
	h.e.busy.Store(true)
}

// Defer schedules fn after delay as the session's deferred validation and
// marks the session busy. A previous deferral is stopped. fn receives the
// token to pass to HasPending once it has re-acquired the session.
func (h *Handle) Defer(delay time.Duration, fn func(token uint64)) {
	if h.e.pending != nil {
		h.e.pending.timer.Stop()
	}
	// Tokens are store-wide so a timer from a deleted session never matches
	// its successor.
	token := h.store.tokens.Add(1)
	p := &pending{token: token}
	h.e.pending = p
	h.e.busy.Store(true)
	p.timer = time.AfterFunc(delay, func() { fn(token) })
}

// HasPending reports whether token is the session's current deferral.
func (h *Handle) HasPending(token uint64) bool {
	return h.e.pending != nil && h.e.pending.token == token
}

// ClearPending drops the deferred validation timer.
func (h *Handle) ClearPending() {
	h.e.pending = nil
	h.e.busy.Store(false)
}

// Delete removes the session and everything it holds.
func (h *Handle) Delete() {
	h.store.removeLocked(h.userID, h.e)
}

// Release unlocks the entry. Entries that never started a session are
// dropped so probes don't accumulate.
func (h *Handle) Release() {
	if h.released {
		return
	}
	h.released = true
	if !h.e.removed && h.e.session == nil && !h.e.busy.Load() {
		h.store.removeLocked(h.userID, h.e)
	}
	h.e.mu.Unlock()
}
