package engine

import (
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/validation"
)

// The event mapper is a linear pipeline: classify → (optionally fetch) →
// apply. Raw payloads are never trusted to carry denormalized fields, so
// inserts and updates hydrate the full record by id before touching the
// store.

type eventAction int

const (
	actionDiscard eventAction = iota
	actionRemove
	actionHydrate
)

// classify decides what an accepted event requires. For reaction events
// the hydration target is the owning message, never the reaction row
// itself: reactions are not standalone store entries.
func classify(ev models.ChangeEvent) (eventAction, string) {
	switch ev.Table {
	case models.TableMessage:
		if ev.Op == models.OpDelete {
			return actionRemove, ev.RecordID
		}
		return actionHydrate, ev.RecordID
	case models.TableReaction:
		if ev.MessageID == "" {
			return actionDiscard, ""
		}
		return actionHydrate, ev.MessageID
	}
	return actionDiscard, ""
}

// HandleEvent consumes one raw change notification. The push transport
// cannot filter by chat, so every event is checked against the active
// chat here; foreign events are discarded with no side effect.
func (e *Engine) HandleEvent(ev models.ChangeEvent) {
	if err := validation.ValidateEvent(ev); err != nil {
		e.stats.eventsDiscarded.Add(1)
		metricEvents.WithLabelValues(e.ec.ChatID, "invalid").Inc()
		logger.Warn("feed_event_invalid", "chat", e.ec.ChatID, "error", err)
		return
	}
	if ev.ChatID != e.ec.ChatID {
		e.stats.eventsDiscarded.Add(1)
		metricEvents.WithLabelValues(e.ec.ChatID, "foreign").Inc()
		return
	}
	e.stats.eventsAccepted.Add(1)
	metricEvents.WithLabelValues(e.ec.ChatID, "accepted").Inc()

	action, target := classify(ev)
	switch action {
	case actionRemove:
		e.submit(func() {
			e.tl.Remove(target)
		})
		e.cacheDelete(target)
		logger.Debug("feed_remove_applied", "chat", e.ec.ChatID, "id", target)
	case actionHydrate:
		agentID := ""
		if ev.Table == models.TableMessage && ev.Op == models.OpInsert {
			agentID = ev.AgentID
		}
		go e.hydrate(target, agentID)
	default:
		e.stats.eventsDiscarded.Add(1)
		logger.Warn("feed_event_unmappable", "chat", e.ec.ChatID, "table", ev.Table, "op", ev.Op, "record", ev.RecordID)
	}
}

// hydrate fetches the full record by id and upserts it. Hydrations may
// resolve out of order relative to the feed; a late upsert after a delete
// is still applied. Every mutation is idempotent by id and the next full
// re-fetch converges, so availability wins over strict ordering. On fetch
// failure the whole visible window is invalidated rather than leaving a
// partial record.
func (e *Engine) hydrate(id, agentID string) {
	if err := e.hydrateLimit.Wait(e.runCtx); err != nil {
		return
	}
	rec, err := e.backend.FetchMessage(e.runCtx, id)
	if err != nil {
		e.stats.hydrationFails.Add(1)
		metricHydrations.WithLabelValues(e.ec.ChatID, "error").Inc()
		logger.Warn("hydration_failed", "chat", e.ec.ChatID, "id", id, "error", err)
		e.Invalidate()
		return
	}
	e.stats.hydrations.Add(1)
	metricHydrations.WithLabelValues(e.ec.ChatID, "ok").Inc()

	applied := e.submit(func() {
		if rec.ChatID != e.ec.ChatID {
			return
		}
		_ = e.tl.Upsert(rec)
	})
	if !applied {
		return
	}
	e.cachePut([]models.MessageRecord{rec})

	// an automated sender's message supersedes its composing indicator
	if agentID != "" || rec.FromAgent() {
		if agentID == "" {
			agentID = rec.AgentID
		}
		e.SetComposing(agentID, false)
		logger.Debug("composing_cleared", "chat", e.ec.ChatID, "agent", agentID)
	}
}
