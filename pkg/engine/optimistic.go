package engine

import (
	"context"
	"fmt"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/validation"
)

// The optimistic mutation coordinator: user-initiated writes mutate the
// store immediately with a tentative record, then reconcile with the
// server response or roll back. Reconciliation is keyed off the tentative
// id (send) or the stable record id (edit/delete/react), never content
// matching, so an interleaved feed event for the same logical message
// cannot confuse the swap. Rollback is targeted: only the affected record
// is touched, so no concurrent mutation is lost.

// Send applies a tentative record immediately and reconciles it with the
// server-confirmed one. On failure the tentative record is removed and a
// MutationError returned.
func (e *Engine) Send(ctx context.Context, draft models.Draft) (models.MessageRecord, error) {
	if draft.ChatID == "" {
		draft.ChatID = e.ec.ChatID
	}
	if draft.SenderID == "" {
		draft.SenderID = e.ec.UserID
	}
	if draft.Kind == "" {
		draft.Kind = models.KindText
	}
	if err := validation.ValidateDraft(draft); err != nil {
		return models.MessageRecord{}, err
	}

	tmp := models.MessageRecord{
		ID:         e.newTentativeID(),
		ChatID:     draft.ChatID,
		SenderID:   draft.SenderID,
		Kind:       draft.Kind,
		Content:    draft.Content,
		CreatedAt:  e.now(),
		ReplyToID:  draft.ReplyToID,
		Attachment: draft.Attachment,
	}
	e.applySync(func() { _ = e.tl.Upsert(tmp) })
	logger.Debug("optimistic_send", "chat", e.ec.ChatID, "tentative", tmp.ID)

	confirmed, err := e.backend.SendMessage(ctx, draft)
	if err != nil {
		// targeted rollback: the tentative id is still unique, so
		// removing it restores the pre-mutation state without touching
		// anything that changed meanwhile
		e.applySync(func() { e.tl.Remove(tmp.ID) })
		e.noteRollback("send")
		return models.MessageRecord{}, &MutationError{Op: "send", Err: err}
	}

	// the tentative-to-confirmed swap is one serialized apply, atomic
	// with respect to interleaved feed events; the confirmed record is
	// inserted, never mutated in place
	e.applySync(func() {
		e.tl.Remove(tmp.ID)
		_ = e.tl.Upsert(confirmed)
	})
	e.cachePut([]models.MessageRecord{confirmed})
	e.noteConfirmed("send")
	logger.Info("send_confirmed", "chat", e.ec.ChatID, "tentative", tmp.ID, "id", confirmed.ID)
	return confirmed, nil
}

// Edit patches the record in place tentatively, then reconciles with the
// refreshed server record or restores the snapshot.
func (e *Engine) Edit(ctx context.Context, id, content string) (models.MessageRecord, error) {
	snap, ok := e.snapshotAndPatch(id, func(r *models.MessageRecord) {
		r.Content = content
		r.EditedAt = e.now()
	})
	if !ok {
		return models.MessageRecord{}, &MutationError{Op: "edit", Err: fmt.Errorf("unknown message %s", id)}
	}

	confirmed, err := e.backend.EditMessage(ctx, id, content)
	if err != nil {
		e.restore(snap)
		e.noteRollback("edit")
		return models.MessageRecord{}, &MutationError{Op: "edit", Err: err}
	}
	e.applySync(func() { _ = e.tl.Upsert(confirmed) })
	e.cachePut([]models.MessageRecord{confirmed})
	e.noteConfirmed("edit")
	return confirmed, nil
}

// Delete flags the record as retracted tentatively (it keeps its position
// for layout stability), then on ack removes it; the feed's delete event
// for the same id is an idempotent no-op when it arrives.
func (e *Engine) Delete(ctx context.Context, id string) error {
	snap, ok := e.snapshotAndPatch(id, func(r *models.MessageRecord) {
		r.Retracted = true
	})
	if !ok {
		return &MutationError{Op: "delete", Err: fmt.Errorf("unknown message %s", id)}
	}

	if err := e.backend.DeleteMessage(ctx, id); err != nil {
		e.restore(snap)
		e.noteRollback("delete")
		return &MutationError{Op: "delete", Err: err}
	}
	e.applySync(func() { e.tl.Remove(id) })
	e.cacheDelete(id)
	e.noteConfirmed("delete")
	return nil
}

// React attaches a tentative reaction to the owning record, then
// reconciles with the refreshed record.
func (e *Engine) React(ctx context.Context, messageID, emoji string) (models.MessageRecord, error) {
	tentativeReaction := models.Reaction{
		ID:        e.newTentativeID(),
		Emoji:     emoji,
		ReactorID: e.ec.UserID,
	}
	snap, ok := e.snapshotAndPatch(messageID, func(r *models.MessageRecord) {
		r.Reactions = append(r.Reactions, tentativeReaction)
	})
	if !ok {
		return models.MessageRecord{}, &MutationError{Op: "react", Err: fmt.Errorf("unknown message %s", messageID)}
	}

	confirmed, err := e.backend.AddReaction(ctx, messageID, emoji, e.ec.UserID)
	if err != nil {
		e.restore(snap)
		e.noteRollback("react")
		return models.MessageRecord{}, &MutationError{Op: "react", Err: err}
	}
	e.applySync(func() { _ = e.tl.Upsert(confirmed) })
	e.cachePut([]models.MessageRecord{confirmed})
	e.noteConfirmed("react")
	return confirmed, nil
}

// Unreact removes a reaction tentatively, then reconciles with the
// refreshed record.
func (e *Engine) Unreact(ctx context.Context, messageID, reactionID string) (models.MessageRecord, error) {
	snap, ok := e.snapshotAndPatch(messageID, func(r *models.MessageRecord) {
		kept := r.Reactions[:0]
		for _, rx := range r.Reactions {
			if rx.ID != reactionID {
				kept = append(kept, rx)
			}
		}
		r.Reactions = kept
	})
	if !ok {
		return models.MessageRecord{}, &MutationError{Op: "unreact", Err: fmt.Errorf("unknown message %s", messageID)}
	}

	confirmed, err := e.backend.RemoveReaction(ctx, messageID, reactionID)
	if err != nil {
		e.restore(snap)
		e.noteRollback("unreact")
		return models.MessageRecord{}, &MutationError{Op: "unreact", Err: err}
	}
	e.applySync(func() { _ = e.tl.Upsert(confirmed) })
	e.cachePut([]models.MessageRecord{confirmed})
	e.noteConfirmed("unreact")
	return confirmed, nil
}

// snapshotAndPatch copies the record with the given id, applies patch to
// a clone and upserts it, all in one serialized apply. It returns the
// pre-mutation snapshot.
func (e *Engine) snapshotAndPatch(id string, patch func(*models.MessageRecord)) (models.MessageRecord, bool) {
	var snap models.MessageRecord
	var ok bool
	e.applySync(func() {
		snap, ok = e.tl.Get(id)
		if !ok {
			return
		}
		patched := snap.Clone()
		patch(&patched)
		_ = e.tl.Upsert(patched)
	})
	return snap, ok
}

// restore puts the snapshotted record back, unless a concurrent feed
// event removed it entirely (a rollback must not resurrect deletions).
func (e *Engine) restore(snap models.MessageRecord) {
	e.applySync(func() {
		if e.tl.Has(snap.ID) {
			_ = e.tl.Upsert(snap)
		}
	})
}

func (e *Engine) noteConfirmed(op string) {
	e.stats.confirmed.Add(1)
	metricMutations.WithLabelValues(e.ec.ChatID, op, "confirmed").Inc()
}

func (e *Engine) noteRollback(op string) {
	e.stats.rolledBack.Add(1)
	metricMutations.WithLabelValues(e.ec.ChatID, op, "rolled_back").Inc()
	logger.Warn("optimistic_rollback", "chat", e.ec.ChatID, "op", op)
}
