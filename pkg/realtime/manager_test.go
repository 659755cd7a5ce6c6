package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chatsync/pkg/models"
)

// scriptConn feeds events from a channel and fails when it closes.
type scriptConn struct {
	events chan models.ChangeEvent
	closed atomic.Bool
}

func (c *scriptConn) Next(ctx context.Context) (models.ChangeEvent, error) {
	select {
	case ev, ok := <-c.events:
		if !ok {
			return models.ChangeEvent{}, errors.New("transport reset")
		}
		return ev, nil
	case <-ctx.Done():
		return models.ChangeEvent{}, ctx.Err()
	}
}

func (c *scriptConn) Close() error {
	c.closed.Store(true)
	return nil
}

type scriptDialer struct {
	mu    sync.Mutex
	fails int // dial attempts to fail before succeeding
	dials int
	conns []*scriptConn
}

func (d *scriptDialer) dial(ctx context.Context, chatID string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.fails > 0 {
		d.fails--
		return nil, errors.New("connect refused")
	}
	c := &scriptConn{events: make(chan models.ChangeEvent, 8)}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *scriptDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *scriptDialer) conn(i int) *scriptConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func waitFor(t *testing.T, d time.Duration, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestManagerSubscribesAndDeliversEvents(t *testing.T) {
	d := &scriptDialer{}
	var got atomic.Int64
	m := NewManager(ManagerConfig{
		ChatID:  "c1",
		Dial:    d.dial,
		OnEvent: func(models.ChangeEvent) { got.Add(1) },
	})
	m.Start(context.Background())
	defer m.Close()

	waitFor(t, time.Second, func() bool { return m.Status() == StatusSubscribed }, "subscribed")
	conn := d.conn(0)
	conn.events <- models.ChangeEvent{Table: models.TableMessage, Op: models.OpInsert, ChatID: "c1", RecordID: "m1"}
	conn.events <- models.ChangeEvent{Table: models.TableMessage, Op: models.OpInsert, ChatID: "c1", RecordID: "m2"}
	waitFor(t, time.Second, func() bool { return got.Load() == 2 }, "events delivered")
	if m.Retries() != 0 {
		t.Fatalf("healthy subscription counted retries: %d", m.Retries())
	}
}

func TestManagerRetriesFailedDialAndForcesRefetch(t *testing.T) {
	d := &scriptDialer{fails: 2}
	var gaps atomic.Int64
	m := NewManager(ManagerConfig{
		ChatID:  "c1",
		Dial:    d.dial,
		OnGap:   func() { gaps.Add(1) },
		Backoff: 5 * time.Millisecond,
	})
	m.Start(context.Background())
	defer m.Close()

	waitFor(t, time.Second, func() bool { return m.Status() == StatusSubscribed }, "eventual subscription")
	if m.Retries() != 2 {
		t.Fatalf("expected 2 retries, got %d", m.Retries())
	}
	// each failed attempt forces a re-fetch, plus one on the
	// re-subscription after the failures
	if gaps.Load() != 3 {
		t.Fatalf("expected 3 gap recoveries, got %d", gaps.Load())
	}
}

func TestManagerDegradesAndReconnectsAfterBackoff(t *testing.T) {
	d := &scriptDialer{}
	var gaps atomic.Int64
	m := NewManager(ManagerConfig{
		ChatID:  "c1",
		Dial:    d.dial,
		OnGap:   func() { gaps.Add(1) },
		Backoff: 10 * time.Millisecond,
	})
	m.Start(context.Background())
	defer m.Close()

	waitFor(t, time.Second, func() bool { return m.Status() == StatusSubscribed }, "first subscription")
	close(d.conn(0).events) // transport failure

	waitFor(t, time.Second, func() bool { return d.dialCount() == 2 }, "reconnect dial")
	waitFor(t, time.Second, func() bool { return m.Status() == StatusSubscribed }, "re-subscription")
	if m.Retries() != 1 {
		t.Fatalf("expected 1 retry after transport failure, got %d", m.Retries())
	}
	// the fresh subscription cannot replay missed events, so it must
	// force a re-fetch
	if gaps.Load() != 1 {
		t.Fatalf("expected gap recovery on re-subscription, got %d", gaps.Load())
	}
}

// A backend that refuses connections instantly must not be re-dialed in
// a tight loop: every failed attempt is paced by the backoff.
func TestManagerPacesInstantDialFailures(t *testing.T) {
	var dials atomic.Int64
	var gaps atomic.Int64
	refused := func(ctx context.Context, chatID string) (Conn, error) {
		dials.Add(1)
		return nil, errors.New("connect refused")
	}
	m := NewManager(ManagerConfig{
		ChatID:  "c1",
		Dial:    refused,
		OnGap:   func() { gaps.Add(1) },
		Backoff: 25 * time.Millisecond,
	})
	m.Start(context.Background())
	defer m.Close()

	time.Sleep(100 * time.Millisecond)
	// ~4 backoff windows fit in the observation period; anything well
	// beyond that means the loop is spinning between attempts
	if got := dials.Load(); got > 6 {
		t.Fatalf("dial attempts not paced by backoff: %d in 100ms", got)
	}
	if g, d := gaps.Load(), dials.Load(); g > d {
		t.Fatalf("more gap recoveries (%d) than dial attempts (%d)", g, d)
	}
}

func TestManagerWatchdogBoundsSubscribeAttempt(t *testing.T) {
	// dialer honors ctx and never answers: the watchdog must cut it off
	hung := func(ctx context.Context, chatID string) (Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	var gaps atomic.Int64
	m := NewManager(ManagerConfig{
		ChatID:   "c1",
		Dial:     hung,
		OnGap:    func() { gaps.Add(1) },
		Watchdog: 15 * time.Millisecond,
		Backoff:  5 * time.Millisecond,
	})
	m.Start(context.Background())
	defer m.Close()

	waitFor(t, time.Second, func() bool { return m.Retries() >= 2 && gaps.Load() >= 2 }, "watchdog expiries")
	if m.Status() == StatusSubscribed {
		t.Fatalf("hung dial cannot reach subscribed")
	}
}

func TestManagerCloseIsCleanNoReconnect(t *testing.T) {
	d := &scriptDialer{}
	m := NewManager(ManagerConfig{ChatID: "c1", Dial: d.dial, Backoff: 5 * time.Millisecond})
	m.Start(context.Background())
	waitFor(t, time.Second, func() bool { return m.Status() == StatusSubscribed }, "subscribed")

	m.Close()
	if m.Status() != StatusClosed {
		t.Fatalf("expected closed status, got %s", m.Status())
	}
	if !d.conn(0).closed.Load() {
		t.Fatalf("underlying connection not closed")
	}
	dials := d.dialCount()
	time.Sleep(30 * time.Millisecond)
	if d.dialCount() != dials {
		t.Fatalf("manager reconnected after a clean close")
	}
	// Close is idempotent
	m.Close()
}
