// Package store holds the canonical in-memory timeline for one chat: an
// ordered, deduplicated collection of message records. All mutation goes
// through the engine's serialized apply path; the store itself only needs
// a lock for concurrent readers and a change-notification hook.
package store

import (
	"sort"
	"sync"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/validation"
)

// Timeline is the canonical store for a single chat. Enumeration order is
// strictly CreatedAt descending (newest first), ties broken by id.
type Timeline struct {
	mu      sync.RWMutex
	chatID  string
	records []models.MessageRecord
	pos     map[string]int
	// tombstones remembers explicitly removed ids so replayed pagination
	// cursors cannot resurrect them. A fresh upsert clears the tombstone:
	// the change feed's late-hydration policy favors availability.
	tombstones map[string]struct{}

	subMu  sync.Mutex
	subs   map[int]func()
	nextID int
}

// NewTimeline returns an empty store bound to one chat.
func NewTimeline(chatID string) *Timeline {
	return &Timeline{
		chatID:     chatID,
		pos:        make(map[string]int),
		tombstones: make(map[string]struct{}),
		subs:       make(map[int]func()),
	}
}

// ChatID returns the chat this store is bound to.
func (t *Timeline) ChatID() string { return t.chatID }

// Subscribe registers fn to run after every successful mutation. The
// returned func unregisters it. Callbacks run synchronously on the
// mutating goroutine; keep them cheap.
func (t *Timeline) Subscribe(fn func()) func() {
	t.subMu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	t.subMu.Unlock()
	return func() {
		t.subMu.Lock()
		delete(t.subs, id)
		t.subMu.Unlock()
	}
}

func (t *Timeline) notify() {
	t.subMu.Lock()
	fns := make([]func(), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.subMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Upsert merges rec by id: replacing the stored record when the id exists,
// inserting in order otherwise. Malformed records are rejected with a
// ValidationError and leave state untouched. Upserting an id removed
// earlier clears its tombstone.
func (t *Timeline) Upsert(rec models.MessageRecord) error {
	if err := validation.ValidateRecord(rec); err != nil {
		logger.Warn("upsert_rejected", "chat", t.chatID, "id", rec.ID, "error", err)
		return err
	}
	rec = rec.Clone()

	t.mu.Lock()
	delete(t.tombstones, rec.ID)
	if i, ok := t.pos[rec.ID]; ok {
		if t.records[i].CreatedAt == rec.CreatedAt {
			// identity and sort key unchanged: replace in place
			t.records[i] = rec
			t.mu.Unlock()
			t.notify()
			return nil
		}
		t.removeAtLocked(i)
	}
	t.insertLocked(rec)
	t.mu.Unlock()
	t.notify()
	return nil
}

// MergePage applies a fetched history page. Records whose ids were removed
// since the cursor was minted are skipped, so replaying a stale cursor is
// idempotent without resurrecting deletions. It reports how many records
// actually changed the store.
func (t *Timeline) MergePage(recs []models.MessageRecord) int {
	applied := 0
	for _, r := range recs {
		if t.Tombstoned(r.ID) {
			logger.Debug("page_record_tombstoned", "chat", t.chatID, "id", r.ID)
			continue
		}
		if err := t.Upsert(r); err == nil {
			applied++
		}
	}
	return applied
}

// Remove deletes the record with the given id and records a tombstone for
// it. Removing an absent id is a no-op (the tombstone is still recorded,
// covering deletes that raced ahead of hydration).
func (t *Timeline) Remove(id string) bool {
	if id == "" {
		return false
	}
	t.mu.Lock()
	t.tombstones[id] = struct{}{}
	i, ok := t.pos[id]
	if ok {
		t.removeAtLocked(i)
	}
	t.mu.Unlock()
	if ok {
		t.notify()
	}
	return ok
}

// Has reports whether a record with the given id is present.
func (t *Timeline) Has(id string) bool {
	t.mu.RLock()
	_, ok := t.pos[id]
	t.mu.RUnlock()
	return ok
}

// Get returns a copy of the record with the given id.
func (t *Timeline) Get(id string) (models.MessageRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i, ok := t.pos[id]
	if !ok {
		return models.MessageRecord{}, false
	}
	return t.records[i].Clone(), true
}

// GetAll returns the ordered sequence, newest first. The slice and its
// records are copies; mutating them never touches the store.
func (t *Timeline) GetAll() []models.MessageRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.MessageRecord, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, r.Clone())
	}
	return out
}

// Len returns the number of records.
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// Tombstoned reports whether id was explicitly removed and has not
// reappeared since.
func (t *Timeline) Tombstoned(id string) bool {
	t.mu.RLock()
	_, ok := t.tombstones[id]
	t.mu.RUnlock()
	return ok
}

// Clear empties the store (bulk history wipe). Tombstones are dropped too:
// the next page fetch re-establishes truth.
func (t *Timeline) Clear() {
	t.mu.Lock()
	t.records = nil
	t.pos = make(map[string]int)
	t.tombstones = make(map[string]struct{})
	t.mu.Unlock()
	t.notify()
}

// insertLocked places rec at its ordered position and reindexes the tail.
func (t *Timeline) insertLocked(rec models.MessageRecord) {
	i := sort.Search(len(t.records), func(i int) bool {
		return rec.Before(t.records[i])
	})
	t.records = append(t.records, models.MessageRecord{})
	copy(t.records[i+1:], t.records[i:])
	t.records[i] = rec
	for j := i; j < len(t.records); j++ {
		t.pos[t.records[j].ID] = j
	}
}

// removeAtLocked drops the record at index i and reindexes the tail.
func (t *Timeline) removeAtLocked(i int) {
	id := t.records[i].ID
	copy(t.records[i:], t.records[i+1:])
	t.records = t.records[:len(t.records)-1]
	delete(t.pos, id)
	for j := i; j < len(t.records); j++ {
		t.pos[t.records[j].ID] = j
	}
}
