package engine

import (
	"context"

	"chatsync/pkg/logger"
)

// LoadInitial fetches the newest history window. It is called once on
// entry by Start, and again by Invalidate when the feed forces a
// re-fetch. Failure leaves the store unchanged.
func (e *Engine) LoadInitial(ctx context.Context) error {
	return e.loadWindow(ctx, true)
}

// Invalidate re-fetches the visible window after the feed may have
// dropped events or a hydration failed. Concurrent invalidations
// coalesce; pagination position is preserved once established.
func (e *Engine) Invalidate() {
	if !e.invalidating.CompareAndSwap(false, true) {
		return
	}
	defer e.invalidating.Store(false)
	e.stats.invalidations.Add(1)
	metricInvalidations.WithLabelValues(e.ec.ChatID).Inc()

	e.pageMu.Lock()
	setCursor := !e.loaded
	e.pageMu.Unlock()
	if err := e.loadWindow(e.runCtx, setCursor); err != nil {
		logger.Warn("window_invalidation_failed", "chat", e.ec.ChatID, "error", err)
	}
}

// loadWindow fetches the newest page and merges it. When setCursor is
// false the pagination position is left alone so an invalidation cannot
// rewind a deep history walk.
func (e *Engine) loadWindow(ctx context.Context, setCursor bool) error {
	page, err := e.backend.FetchPage(ctx, e.ec.ChatID, e.ec.UserID, "")
	if err != nil {
		metricPages.WithLabelValues(e.ec.ChatID, "error").Inc()
		return &FetchError{Op: "page", Err: err}
	}
	if !e.applySync(func() { e.mergeRecords(page.Messages) }) {
		// engine shut down before the fetch resolved; discard
		return nil
	}
	e.cachePut(page.Messages)
	e.stats.pageLoads.Add(1)
	metricPages.WithLabelValues(e.ec.ChatID, "ok").Inc()

	e.pageMu.Lock()
	if setCursor || !e.loaded {
		e.cursor = page.NextCursor
		e.hasMore = page.HasMore
		e.loaded = true
	}
	e.pageMu.Unlock()
	logger.Info("page_loaded", "chat", e.ec.ChatID, "records", len(page.Messages), "has_more", page.HasMore)
	return nil
}

// LoadMore appends the next older page using the cursor from the previous
// call. It is a no-op once history is exhausted, and concurrent re-entrant
// calls coalesce into the in-flight request instead of issuing duplicates.
// Failure surfaces to the caller and leaves the store unchanged; there is
// no automatic retry.
func (e *Engine) LoadMore(ctx context.Context) error {
	e.pageMu.Lock()
	if c := e.pageCall; c != nil {
		e.pageMu.Unlock()
		metricPages.WithLabelValues(e.ec.ChatID, "coalesced").Inc()
		select {
		case <-c.done:
			return c.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if !e.hasMore || e.cursor == "" {
		e.hasMore = false
		e.pageMu.Unlock()
		metricPages.WithLabelValues(e.ec.ChatID, "exhausted").Inc()
		logger.Debug("load_more_exhausted", "chat", e.ec.ChatID)
		return nil
	}
	call := &pageCall{done: make(chan struct{})}
	e.pageCall = call
	cursor := e.cursor
	e.pageMu.Unlock()

	call.err = e.loadOlder(ctx, cursor)

	e.pageMu.Lock()
	e.pageCall = nil
	e.pageMu.Unlock()
	close(call.done)
	return call.err
}

func (e *Engine) loadOlder(ctx context.Context, cursor string) error {
	page, err := e.backend.FetchPage(ctx, e.ec.ChatID, e.ec.UserID, cursor)
	if err != nil {
		metricPages.WithLabelValues(e.ec.ChatID, "error").Inc()
		return &FetchError{Op: "page", Err: err}
	}
	if !e.applySync(func() { e.mergeRecords(page.Messages) }) {
		return nil
	}
	e.cachePut(page.Messages)
	e.stats.pageLoads.Add(1)
	metricPages.WithLabelValues(e.ec.ChatID, "ok").Inc()

	e.pageMu.Lock()
	e.cursor = page.NextCursor
	e.hasMore = page.HasMore
	e.pageMu.Unlock()
	logger.Info("older_page_loaded", "chat", e.ec.ChatID, "records", len(page.Messages), "has_more", page.HasMore)
	return nil
}

// HasMore reports whether older history remains behind the current
// cursor.
func (e *Engine) HasMore() bool {
	e.pageMu.Lock()
	defer e.pageMu.Unlock()
	return e.hasMore
}
