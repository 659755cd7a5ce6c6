package cache

import (
	"context"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"chatsync/pkg/logger"
)

// RetentionConfig controls the periodic sweep of aged cache records.
type RetentionConfig struct {
	// Period is how long records stay cached. Zero disables the age sweep.
	Period time.Duration
	// Cron is the sweep schedule. Defaults to daily at 03:00.
	Cron string
	// MaxBytes caps the on-disk cache size. After the age sweep the
	// oldest records are dropped until the cache fits. Zero means
	// unbounded.
	MaxBytes int64
}

const defaultSweepCron = "0 3 * * *"

// Sweeper deletes cached records older than the retention period on a
// cron schedule.
type Sweeper struct {
	cache  *Cache
	cfg    RetentionConfig
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSweeper builds a sweeper for the given cache. Returns an error if
// the cron expression is invalid.
func NewSweeper(c *Cache, cfg RetentionConfig) (*Sweeper, error) {
	if cfg.Cron == "" {
		cfg.Cron = defaultSweepCron
	}
	g := gronx.New()
	if !g.IsValid(cfg.Cron) {
		return nil, &BadCronError{Expr: cfg.Cron}
	}
	return &Sweeper{cache: c, cfg: cfg}, nil
}

// BadCronError reports an unparseable cron expression.
type BadCronError struct{ Expr string }

func (e *BadCronError) Error() string { return "invalid cron expression: " + e.Expr }

// Start launches the scheduler goroutine. No-op when retention is
// disabled.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil || (s.cfg.Period <= 0 && s.cfg.MaxBytes <= 0) {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
	logger.Info("cache_retention_started", "cron", s.cfg.Cron, "period", s.cfg.Period.String(), "max_bytes", s.cfg.MaxBytes)
}

// Stop stops the scheduler and waits for any in-flight sweep.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()
	for {
		next, err := gronx.NextTickAfter(s.cfg.Cron, time.Now(), false)
		if err != nil {
			logger.Error("cache_retention_next_tick_failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(30 * time.Second):
				continue
			}
		}
		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		s.SweepNow()
	}
}

// SweepNow runs one sweep synchronously: the age sweep first, then the
// size trim so the budget check sees the post-sweep footprint.
func (s *Sweeper) SweepNow() {
	if s.cfg.Period > 0 {
		cutoff := time.Now().Add(-s.cfg.Period).UnixNano()
		purged, err := s.cache.SweepOlderThan(cutoff)
		if err != nil {
			logger.Error("cache_sweep_failed", "error", err)
			return
		}
		logger.Debug("cache_sweep_done", "purged", purged)
	}
	if s.cfg.MaxBytes > 0 {
		if _, err := s.cache.SweepToSize(s.cfg.MaxBytes); err != nil {
			logger.Error("cache_size_trim_failed", "error", err)
		}
	}
}
