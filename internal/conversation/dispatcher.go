package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/formrelay/internal/messaging"
)

var (
	// ErrDispatcherClosed is returned by Submit after Close.
	ErrDispatcherClosed = errors.New("dispatcher closed")
	// ErrMailboxFull is returned when an identity has too many queued messages.
	ErrMailboxFull = errors.New("mailbox full")
)

const (
	defaultMailboxSize = 16
	defaultMailboxIdle = 30 * time.Second
)

// Limiter decides whether an identity may send another message.
type Limiter interface {
	Allow(key string) bool
}

// DispatcherOptions tunes a Dispatcher.
type DispatcherOptions struct {
	MailboxSize int
	// MailboxIdle is how long a mailbox goroutine lingers without messages.
	MailboxIdle time.Duration
	Limiter     Limiter
}

// Dispatcher gives every identity its own mailbox goroutine, so one
// identity's messages are handled in arrival order while different
// identities proceed concurrently.
type Dispatcher struct {
	machine *Machine
	opts    DispatcherOptions

	mu        sync.Mutex
	mailboxes map[string]chan messaging.Inbound
	closed    bool
	wg        sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewDispatcher creates a dispatcher in front of m.
func NewDispatcher(m *Machine, opts DispatcherOptions) *Dispatcher {
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = defaultMailboxSize
	}
	if opts.MailboxIdle <= 0 {
		opts.MailboxIdle = defaultMailboxIdle
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		machine:   m,
		opts:      opts,
		mailboxes: make(map[string]chan messaging.Inbound),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Submit queues in for its identity. Messages for an identity with an
// attempt in flight are answered with the busy reply instead of queueing
// behind the attempt.
func (d *Dispatcher) Submit(ctx context.Context, in messaging.Inbound) error {
	if d.opts.Limiter != nil && !d.opts.Limiter.Allow(in.UserID) {
		slog.Warn("Inbound message rate limited", "user_id", in.UserID)
		return messaging.ErrRateLimited
	}

	if d.machine.Busy(in.UserID) {
		err := d.machine.RejectBusy(ctx, in)
		if errors.Is(err, ErrSessionBusy) {
			return nil
		}
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	mb, ok := d.mailboxes[in.UserID]
	if !ok {
		mb = make(chan messaging.Inbound, d.opts.MailboxSize)
		d.mailboxes[in.UserID] = mb
		d.wg.Add(1)
		go d.run(in.UserID, mb)
	}

	select {
	case mb <- in:
		return nil
	default:
		slog.Warn("Mailbox full, dropping message", "user_id", in.UserID)
		return ErrMailboxFull
	}
}

func (d *Dispatcher) run(userID string, mb chan messaging.Inbound) {
	defer d.wg.Done()
	idle := time.NewTimer(d.opts.MailboxIdle)
	defer idle.Stop()

	for {
		select {
		case in, ok := <-mb:
			if !ok {
				return
			}
			if err := d.machine.Handle(d.ctx, in); err != nil && !errors.Is(err, ErrSessionBusy) {
				slog.Error("Failed to handle message", "user_id", userID, "error", err)
			}
			idle.Reset(d.opts.MailboxIdle)
		case <-idle.C:
			d.mu.Lock()
			if len(mb) > 0 || d.closed {
				d.mu.Unlock()
				idle.Reset(d.opts.MailboxIdle)
				continue
			}
			delete(d.mailboxes, userID)
			d.mu.Unlock()
			return
		}
	}
}

// Mailboxes returns the number of live mailbox goroutines.
func (d *Dispatcher) Mailboxes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.mailboxes)
}

// Close stops accepting messages and drains queued ones. If ctx ends first,
// running attempts are cancelled and Close returns ctx's error once every
// mailbox has exited.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for userID, mb := range d.mailboxes {
			close(mb)
			delete(d.mailboxes, userID)
		}
	}
	d.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		d.machine.Close()
		<-drained
		return ctx.Err()
	}
}
