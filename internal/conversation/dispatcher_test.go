package conversation

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/formrelay/internal/flow"
	"github.com/ashureev/formrelay/internal/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherOrdersPerIdentity(t *testing.T) {
	h := newHarness(t, quick(flow.Registration(), 5*time.Millisecond))
	d := NewDispatcher(h.machine, DispatcherOptions{MailboxIdle: 50 * time.Millisecond})

	ctx := context.Background()
	for _, text := range []string{"oi", "Maria Silva", "maria@", "maria@example.com"} {
		require.NoError(t, d.Submit(ctx, messaging.Inbound{UserID: "U1", Text: text}))
	}
	require.NoError(t, d.Close(ctx))

	assert.Equal(t, []string{
		h.prompt(flow.FieldName),
		h.prompt(flow.FieldEmail),
		h.reject(flow.FieldEmail),
		h.prompt(flow.FieldPhone),
	}, h.out.all("U1"))
}

func TestDispatcherManyIdentities(t *testing.T) {
	h := newHarness(t, flow.Registration())
	d := NewDispatcher(h.machine, DispatcherOptions{})

	var wg sync.WaitGroup
	for i := range 40 {
		userID := "user-" + strconv.Itoa(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, d.Submit(context.Background(), messaging.Inbound{UserID: userID, Text: "oi"}))
			assert.NoError(t, d.Submit(context.Background(), messaging.Inbound{UserID: userID, Text: "Maria Silva"}))
		}()
	}
	wg.Wait()
	require.NoError(t, d.Close(context.Background()))

	for i := range 40 {
		userID := "user-" + strconv.Itoa(i)
		assert.Equal(t, flow.StageFor(flow.FieldEmail), h.stage(userID), userID)
	}
}

func TestDispatcherRejectsWhileAttemptRuns(t *testing.T) {
	f := quick(flow.Registration(), 5*time.Millisecond)
	h := newHarness(t, f)
	h.driver.started = make(chan struct{}, 1)
	h.driver.release = make(chan struct{})
	d := NewDispatcher(h.machine, DispatcherOptions{})

	h.send(t, "U1", "start")
	for range f.Fields[:len(f.Fields)-1] {
		h.advance(t, "U1")
	}

	ctx := context.Background()
	require.NoError(t, d.Submit(ctx, messaging.Inbound{UserID: "U1", Text: validInputs[flow.FieldPostalCode]}))
	<-h.driver.started

	require.NoError(t, d.Submit(ctx, messaging.Inbound{UserID: "U1", Text: "oi?"}))
	assert.Equal(t, f.Busy, h.out.last("U1"))

	close(h.driver.release)
	require.NoError(t, d.Close(ctx))
	assert.Equal(t, f.Success, h.out.last("U1"))
	assert.Len(t, h.driver.runs(), 1, "the busy message must not start another attempt")
}

func TestDispatcherIdleMailboxesExit(t *testing.T) {
	h := newHarness(t, flow.Registration())
	d := NewDispatcher(h.machine, DispatcherOptions{MailboxIdle: 20 * time.Millisecond})

	require.NoError(t, d.Submit(context.Background(), messaging.Inbound{UserID: "U1", Text: "oi"}))
	require.Eventually(t, func() bool { return d.Mailboxes() == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, d.Close(context.Background()))
}

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

func TestDispatcherRateLimit(t *testing.T) {
	h := newHarness(t, flow.Registration())
	d := NewDispatcher(h.machine, DispatcherOptions{Limiter: denyAll{}})
	defer func() { _ = d.Close(context.Background()) }()

	err := d.Submit(context.Background(), messaging.Inbound{UserID: "U1", Text: "oi"})
	assert.ErrorIs(t, err, messaging.ErrRateLimited)
	assert.Empty(t, h.out.all("U1"))
}

func TestDispatcherClosed(t *testing.T) {
	h := newHarness(t, flow.Registration())
	d := NewDispatcher(h.machine, DispatcherOptions{})
	require.NoError(t, d.Close(context.Background()))

	err := d.Submit(context.Background(), messaging.Inbound{UserID: "U1", Text: "oi"})
	assert.ErrorIs(t, err, ErrDispatcherClosed)
}

func TestDispatcherCloseDeadlineCancelsAttempt(t *testing.T) {
	f := quick(flow.Registration(), 5*time.Millisecond)
	h := newHarness(t, f)
	h.driver.started = make(chan struct{}, 1)
	h.driver.release = make(chan struct{})
	d := NewDispatcher(h.machine, DispatcherOptions{})

	h.send(t, "U1", "start")
	for range f.Fields[:len(f.Fields)-1] {
		h.advance(t, "U1")
	}
	require.NoError(t, d.Submit(context.Background(), messaging.Inbound{UserID: "U1", Text: validInputs[flow.FieldPostalCode]}))
	<-h.driver.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
	assert.Equal(t, f.Failure, h.out.last("U1"))
	assert.Equal(t, 0, h.store.Len())
}
