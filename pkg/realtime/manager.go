package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// Status is the subscription lifecycle state.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusSubscribed Status = "subscribed"
	StatusDegraded   Status = "degraded"
	StatusClosed     Status = "closed"
)

// SubscriptionError marks a transport-level feed failure. It is handled
// internally by the manager's reconnect policy and surfaces only through
// Retries() when attempts repeat.
type SubscriptionError struct {
	Err error
}

func (e *SubscriptionError) Error() string { return "subscription: " + e.Err.Error() }
func (e *SubscriptionError) Unwrap() error { return e.Err }

// Manager owns connect/acknowledge/retry/teardown for one chat's change
// feed. Each reconnect is a fresh logical subscription; missed events are
// never replayed, gap recovery is a forced re-fetch.
type Manager struct {
	chatID   string
	dial     Dialer
	onEvent  func(models.ChangeEvent)
	onGap    func() // forced full page re-fetch
	watchdog time.Duration
	backoff  time.Duration

	status  atomic.Value // Status
	retries atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// ManagerConfig collects the construction knobs.
type ManagerConfig struct {
	ChatID  string
	Dial    Dialer
	OnEvent func(models.ChangeEvent)
	// OnGap is invoked whenever events may have been missed: watchdog
	// expiry and every re-subscription after a degraded period.
	OnGap    func()
	Watchdog time.Duration // default 5s
	Backoff  time.Duration // default 2s
}

// NewManager returns an unstarted manager.
func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		chatID:   cfg.ChatID,
		dial:     cfg.Dial,
		onEvent:  cfg.OnEvent,
		onGap:    cfg.OnGap,
		watchdog: cfg.Watchdog,
		backoff:  cfg.Backoff,
	}
	if m.watchdog <= 0 {
		m.watchdog = 5 * time.Second
	}
	if m.backoff <= 0 {
		m.backoff = 2 * time.Second
	}
	m.status.Store(StatusClosed)
	return m
}

// Status returns the current lifecycle state.
func (m *Manager) Status() Status {
	return m.status.Load().(Status)
}

// Retries returns how many subscription attempts have failed since Start.
func (m *Manager) Retries() int {
	return int(m.retries.Load())
}

// Start launches the subscription loop. It returns immediately; Close
// (or cancelling ctx) tears the feed down without a reconnect, which is
// the normal path when the user leaves the chat.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.retries.Store(0)
	go m.run(runCtx)
}

// Close tears down the subscription and waits for the loop to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	defer m.status.Store(StatusClosed)

	resubscribe := false
	for {
		if ctx.Err() != nil {
			return
		}
		m.status.Store(StatusConnecting)

		// the watchdog bounds dial plus acknowledgement
		dialCtx, cancel := context.WithTimeout(ctx, m.watchdog)
		conn, err := m.dial(dialCtx, m.chatID)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			serr := &SubscriptionError{Err: err}
			m.retries.Add(1)
			logger.Warn("subscription_connect_failed", "chat", m.chatID, "retries", m.Retries(), "error", serr)
			// the watchdog's forced re-fetch keeps data eventually
			// correct even without a live channel
			if m.onGap != nil {
				m.onGap()
			}
			resubscribe = true
			// a refused dial fails far faster than the watchdog window;
			// pace the next attempt so a down backend is not hammered
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.backoff):
			}
			continue
		}

		m.status.Store(StatusSubscribed)
		logger.Info("subscription_established", "chat", m.chatID, "resubscribe", resubscribe)
		if resubscribe && m.onGap != nil {
			m.onGap()
		}
		resubscribe = true

		err = m.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}

		m.status.Store(StatusDegraded)
		m.retries.Add(1)
		logger.Warn("subscription_degraded", "chat", m.chatID, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.backoff):
		}
	}
}

func (m *Manager) consume(ctx context.Context, conn Conn) error {
	for {
		ev, err := conn.Next(ctx)
		if err != nil {
			return err
		}
		if m.onEvent != nil {
			m.onEvent(ev)
		}
	}
}
