// Package engine keeps one chat's visible message list correct and
// ordered while three asynchronous inputs mutate it: paginated history
// fetches, the realtime change feed, and locally-originated optimistic
// writes.
//
// All store mutation flows through a single apply goroutine, so every
// mutation is serialized; async completions (network responses, timers,
// feed events) re-enter through the same path. Ordering of completions is
// not guaranteed, which is why every mutation is idempotent and keyed by
// stable id.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/realtime"
	"chatsync/pkg/store"
	"chatsync/pkg/threads"
	"chatsync/pkg/utils"
)

// Context carries the identity an engine instance is bound to. It replaces
// ambient "which chat is foregrounded" globals: lifecycle is tied to
// engine creation and teardown, one engine per active chat.
type Context struct {
	ChatID string
	UserID string
}

// RecordCache is an optional local mirror of confirmed records, used to
// paint the last-known window before the first page fetch returns.
// Tentative records are never cached.
type RecordCache interface {
	Put(recs []models.MessageRecord) error
	Delete(id string) error
	Load(chatID string) ([]models.MessageRecord, error)
}

// Engine is the timeline synchronization engine for one chat.
type Engine struct {
	ec      Context
	backend Backend
	tl      *store.Timeline

	cache   RecordCache
	dial    realtime.Dialer
	manager *realtime.Manager

	pageSize     int
	watchdog     time.Duration
	backoff      time.Duration
	hydrateLimit *rate.Limiter

	now            func() int64
	newTentativeID func() string

	ops    chan func()
	runCtx context.Context
	cancel context.CancelFunc
	loopWG sync.WaitGroup

	startMu sync.Mutex
	started bool

	// pagination state, guarded by pageMu
	pageMu   sync.Mutex
	cursor   string
	hasMore  bool
	loaded   bool
	pageCall *pageCall

	invalidating atomic.Bool

	composeMu sync.Mutex
	composing map[string]struct{}

	threadMu sync.RWMutex
	thread   *models.Thread

	stats engineStats
}

type pageCall struct {
	done chan struct{}
	err  error
}

type engineStats struct {
	eventsAccepted  atomic.Int64
	eventsDiscarded atomic.Int64
	hydrations      atomic.Int64
	hydrationFails  atomic.Int64
	pageLoads       atomic.Int64
	invalidations   atomic.Int64
	confirmed       atomic.Int64
	rolledBack      atomic.Int64
}

// Stats is a point-in-time counter snapshot for debug overlays.
type Stats struct {
	Records         int
	EventsAccepted  int64
	EventsDiscarded int64
	Hydrations      int64
	HydrationFails  int64
	PageLoads       int64
	Invalidations   int64
	Confirmed       int64
	RolledBack      int64
	Subscription    realtime.Status
	Retries         int
}

// Option mutates the engine during construction.
type Option func(*Engine)

// WithCache attaches a local record cache.
func WithCache(c RecordCache) Option { return func(e *Engine) { e.cache = c } }

// WithFeed attaches a change feed dialer; without one the engine runs
// fetch-only.
func WithFeed(d realtime.Dialer) Option { return func(e *Engine) { e.dial = d } }

// WithPageSize overrides the default 25-message page.
func WithPageSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// WithWatchdog overrides the 5s subscribe watchdog.
func WithWatchdog(d time.Duration) Option { return func(e *Engine) { e.watchdog = d } }

// WithBackoff overrides the 2s reconnect backoff.
func WithBackoff(d time.Duration) Option { return func(e *Engine) { e.backoff = d } }

// WithHydrateLimit bounds fetch-by-id traffic caused by the feed.
func WithHydrateLimit(rps float64, burst int) Option {
	return func(e *Engine) { e.hydrateLimit = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithClock injects the timestamp source for tentative records.
func WithClock(now func() int64) Option { return func(e *Engine) { e.now = now } }

// WithTentativeIDs injects the tentative id generator.
func WithTentativeIDs(gen func() string) Option { return func(e *Engine) { e.newTentativeID = gen } }

// New builds an engine bound to one chat. Call Start before use.
func New(ec Context, backend Backend, opts ...Option) *Engine {
	e := &Engine{
		ec:             ec,
		backend:        backend,
		tl:             store.NewTimeline(ec.ChatID),
		pageSize:       25,
		watchdog:       5 * time.Second,
		backoff:        2 * time.Second,
		hydrateLimit:   rate.NewLimiter(rate.Limit(20), 40),
		now:            func() int64 { return time.Now().UTC().UnixNano() },
		newTentativeID: utils.GenTentativeID,
		ops:            make(chan func(), 256),
		composing:      make(map[string]struct{}),
		hasMore:        true,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Start launches the apply loop, warm-starts from the cache, performs the
// initial page load and opens the change feed. The returned error is the
// initial load's; the engine keeps running either way (the feed's gap
// recovery re-fetches on its own).
func (e *Engine) Start(ctx context.Context) error {
	e.startMu.Lock()
	if e.started {
		e.startMu.Unlock()
		return nil
	}
	e.started = true
	e.runCtx, e.cancel = context.WithCancel(ctx)
	e.loopWG.Add(1)
	go e.loop()
	e.startMu.Unlock()

	if e.cache != nil {
		if recs, err := e.cache.Load(e.ec.ChatID); err != nil {
			logger.Warn("cache_warm_start_failed", "chat", e.ec.ChatID, "error", err)
		} else if len(recs) > 0 {
			e.applySync(func() { e.mergeRecords(recs) })
			logger.Info("cache_warm_start", "chat", e.ec.ChatID, "records", len(recs))
		}
	}

	if e.dial != nil {
		e.manager = realtime.NewManager(realtime.ManagerConfig{
			ChatID:   e.ec.ChatID,
			Dial:     e.dial,
			OnEvent:  e.HandleEvent,
			OnGap:    func() { go e.Invalidate() },
			Watchdog: e.watchdog,
			Backoff:  e.backoff,
		})
		e.manager.Start(e.runCtx)
	}

	return e.LoadInitial(ctx)
}

// Close tears the engine down: feed first (clean Closed, no reconnect),
// then the apply loop.
func (e *Engine) Close() {
	e.startMu.Lock()
	if !e.started {
		e.startMu.Unlock()
		return
	}
	e.started = false
	e.startMu.Unlock()

	if e.manager != nil {
		e.manager.Close()
	}
	e.cancel()
	e.loopWG.Wait()
}

func (e *Engine) loop() {
	defer e.loopWG.Done()
	for {
		select {
		case fn := <-e.ops:
			fn()
			metricStoreSize.WithLabelValues(e.ec.ChatID).Set(float64(e.tl.Len()))
		case <-e.runCtx.Done():
			return
		}
	}
}

// submit enqueues a mutation onto the serialized apply path. It reports
// false when the engine is shut down (the mutation is discarded, which is
// the completion-boundary guard for stale async results).
func (e *Engine) submit(fn func()) bool {
	select {
	case e.ops <- fn:
		return true
	case <-e.runCtx.Done():
		return false
	}
}

// applySync runs fn on the apply goroutine and waits for it.
func (e *Engine) applySync(fn func()) bool {
	done := make(chan struct{})
	if !e.submit(func() {
		fn()
		close(done)
	}) {
		return false
	}
	select {
	case <-done:
		return true
	case <-e.runCtx.Done():
		return false
	}
}

// mergeRecords upserts a batch, skipping records for other chats and ids
// tombstoned since the batch was fetched. Runs on the apply goroutine.
func (e *Engine) mergeRecords(recs []models.MessageRecord) int {
	applied := 0
	for _, r := range recs {
		if r.ChatID != e.ec.ChatID {
			logger.Warn("merge_foreign_record_dropped", "chat", e.ec.ChatID, "id", r.ID, "record_chat", r.ChatID)
			continue
		}
		if e.tl.Tombstoned(r.ID) {
			continue
		}
		if err := e.tl.Upsert(r); err == nil {
			applied++
		}
	}
	return applied
}

// cachePut mirrors confirmed records into the local cache, off the apply
// goroutine.
func (e *Engine) cachePut(recs []models.MessageRecord) {
	if e.cache == nil || len(recs) == 0 {
		return
	}
	confirmed := make([]models.MessageRecord, 0, len(recs))
	for _, r := range recs {
		if !r.Tentative() {
			confirmed = append(confirmed, r)
		}
	}
	if len(confirmed) == 0 {
		return
	}
	go func() {
		if err := e.cache.Put(confirmed); err != nil {
			logger.Warn("cache_put_failed", "chat", e.ec.ChatID, "error", err)
		}
	}()
}

func (e *Engine) cacheDelete(id string) {
	if e.cache == nil {
		return
	}
	go func() {
		if err := e.cache.Delete(id); err != nil {
			logger.Warn("cache_delete_failed", "chat", e.ec.ChatID, "id", id, "error", err)
		}
	}()
}

// Store exposes the canonical timeline for read-only consumers
// (rendering, thread filtering). Nothing outside the engine mutates it.
func (e *Engine) Store() *store.Timeline { return e.tl }

// Snapshot returns the ordered canonical sequence, newest first.
func (e *Engine) Snapshot() []models.MessageRecord { return e.tl.GetAll() }

// SetActiveThread installs the thread whose rules drive Filtered. Nil
// clears it.
func (e *Engine) SetActiveThread(t *models.Thread) {
	e.threadMu.Lock()
	e.thread = t
	e.threadMu.Unlock()
}

// ActiveThread returns the installed thread, or nil.
func (e *Engine) ActiveThread() *models.Thread {
	e.threadMu.RLock()
	defer e.threadMu.RUnlock()
	return e.thread
}

// Filtered returns the active thread's projection of the canonical store.
// Without an active thread it equals Snapshot.
func (e *Engine) Filtered() []models.MessageRecord {
	recs := e.tl.GetAll()
	t := e.ActiveThread()
	if t == nil {
		return recs
	}
	return threads.Filter(recs, t.Rules)
}

// SetComposing marks or clears an agent's "composing" indicator. The
// indicator is also cleared automatically when the agent's message
// arrives on the feed.
func (e *Engine) SetComposing(agentID string, on bool) {
	if agentID == "" {
		return
	}
	e.composeMu.Lock()
	if on {
		e.composing[agentID] = struct{}{}
	} else {
		delete(e.composing, agentID)
	}
	e.composeMu.Unlock()
}

// Composing lists agents currently marked as composing.
func (e *Engine) Composing() []string {
	e.composeMu.Lock()
	defer e.composeMu.Unlock()
	out := make([]string, 0, len(e.composing))
	for id := range e.composing {
		out = append(out, id)
	}
	return out
}

// Subscription reports feed health, or nil when running fetch-only.
func (e *Engine) Subscription() *realtime.Manager { return e.manager }

// Stats returns a point-in-time counter snapshot.
func (e *Engine) Stats() Stats {
	s := Stats{
		Records:         e.tl.Len(),
		EventsAccepted:  e.stats.eventsAccepted.Load(),
		EventsDiscarded: e.stats.eventsDiscarded.Load(),
		Hydrations:      e.stats.hydrations.Load(),
		HydrationFails:  e.stats.hydrationFails.Load(),
		PageLoads:       e.stats.pageLoads.Load(),
		Invalidations:   e.stats.invalidations.Load(),
		Confirmed:       e.stats.confirmed.Load(),
		RolledBack:      e.stats.rolledBack.Load(),
		Subscription:    realtime.StatusClosed,
	}
	if e.manager != nil {
		s.Subscription = e.manager.Status()
		s.Retries = e.manager.Retries()
	}
	return s
}

// ClearHistory empties the canonical store and is the hook for the
// external bulk "clear history" operation.
func (e *Engine) ClearHistory() {
	e.applySync(func() { e.tl.Clear() })
	e.pageMu.Lock()
	e.cursor = ""
	e.hasMore = true
	e.loaded = false
	e.pageMu.Unlock()
}
