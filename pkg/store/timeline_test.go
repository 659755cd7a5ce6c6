package store

import (
	"errors"
	"testing"

	"chatsync/pkg/models"
	"chatsync/pkg/validation"
)

func rec(id string, ts int64) models.MessageRecord {
	return models.MessageRecord{ID: id, ChatID: "c1", Kind: models.KindText, Content: "msg " + id, CreatedAt: ts}
}

func assertOrder(t *testing.T, tl *Timeline, want []string) {
	t.Helper()
	got := tl.GetAll()
	if len(got) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
}

func TestUpsertKeepsNewestFirstOrder(t *testing.T) {
	tl := NewTimeline("c1")
	for _, r := range []models.MessageRecord{rec("a", 100), rec("c", 300), rec("b", 200)} {
		if err := tl.Upsert(r); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}
	assertOrder(t, tl, []string{"c", "b", "a"})
}

func TestUpsertTieBreaksByID(t *testing.T) {
	tl := NewTimeline("c1")
	tl.Upsert(rec("b", 100))
	tl.Upsert(rec("a", 100))
	tl.Upsert(rec("c", 100))
	assertOrder(t, tl, []string{"a", "b", "c"})
}

func TestUpsertIsIdempotentByID(t *testing.T) {
	tl := NewTimeline("c1")
	tl.Upsert(rec("a", 100))
	updated := rec("a", 100)
	updated.Content = "edited"
	if err := tl.Upsert(updated); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if tl.Len() != 1 {
		t.Fatalf("expected 1 record after re-upsert, got %d", tl.Len())
	}
	got, _ := tl.Get("a")
	if got.Content != "edited" {
		t.Fatalf("expected replaced content, got %q", got.Content)
	}
}

func TestUpsertMovesRecordWhenTimestampChanges(t *testing.T) {
	tl := NewTimeline("c1")
	tl.Upsert(rec("a", 100))
	tl.Upsert(rec("b", 200))
	moved := rec("a", 300)
	tl.Upsert(moved)
	assertOrder(t, tl, []string{"a", "b"})
	if tl.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", tl.Len())
	}
}

func TestUpsertRejectsMalformedRecord(t *testing.T) {
	tl := NewTimeline("c1")
	tl.Upsert(rec("a", 100))

	bad := rec("", 100)
	err := tl.Upsert(bad)
	var verr *validation.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	unknownKind := rec("x", 100)
	unknownKind.Kind = "hologram"
	if err := tl.Upsert(unknownKind); err == nil {
		t.Fatalf("expected rejection for unknown kind")
	}
	// state untouched
	assertOrder(t, tl, []string{"a"})
}

func TestRemoveRecordsTombstone(t *testing.T) {
	tl := NewTimeline("c1")
	tl.Upsert(rec("a", 100))
	if !tl.Remove("a") {
		t.Fatalf("expected removal of present record")
	}
	if tl.Has("a") {
		t.Fatalf("record still present after remove")
	}
	if !tl.Tombstoned("a") {
		t.Fatalf("expected tombstone for removed id")
	}
	// removing an absent id is a no-op but still leaves a tombstone
	if tl.Remove("ghost") {
		t.Fatalf("removing absent id should report false")
	}
	if !tl.Tombstoned("ghost") {
		t.Fatalf("expected tombstone for absent removed id")
	}
}

func TestMergePageSkipsTombstonedIDs(t *testing.T) {
	tl := NewTimeline("c1")
	tl.Upsert(rec("a", 100))
	tl.Remove("a")

	applied := tl.MergePage([]models.MessageRecord{rec("a", 100), rec("b", 200)})
	if applied != 1 {
		t.Fatalf("expected 1 applied record, got %d", applied)
	}
	if tl.Has("a") {
		t.Fatalf("stale page resurrected a removed record")
	}
	if !tl.Has("b") {
		t.Fatalf("expected b to be merged")
	}
}

func TestUpsertClearsTombstone(t *testing.T) {
	tl := NewTimeline("c1")
	tl.Upsert(rec("a", 100))
	tl.Remove("a")
	if err := tl.Upsert(rec("a", 100)); err != nil {
		t.Fatalf("upsert after remove failed: %v", err)
	}
	if tl.Tombstoned("a") {
		t.Fatalf("tombstone should be cleared by a fresh upsert")
	}
	if !tl.Has("a") {
		t.Fatalf("record missing after re-upsert")
	}
}

func TestSubscribeNotifiesOnMutation(t *testing.T) {
	tl := NewTimeline("c1")
	fired := 0
	cancel := tl.Subscribe(func() { fired++ })

	tl.Upsert(rec("a", 100))
	tl.Remove("a")
	if fired != 2 {
		t.Fatalf("expected 2 notifications, got %d", fired)
	}

	// rejected upsert must not notify
	tl.Upsert(models.MessageRecord{ChatID: "c1"})
	if fired != 2 {
		t.Fatalf("rejected upsert notified subscribers")
	}

	cancel()
	tl.Upsert(rec("b", 200))
	if fired != 2 {
		t.Fatalf("unsubscribed callback still fired")
	}
}

func TestGetAllReturnsCopies(t *testing.T) {
	tl := NewTimeline("c1")
	r := rec("a", 100)
	r.Reactions = []models.Reaction{{ID: "r1", Emoji: "+1", ReactorID: "u1"}}
	tl.Upsert(r)

	out := tl.GetAll()
	out[0].Content = "mutated"
	out[0].Reactions[0].Emoji = "-1"

	got, _ := tl.Get("a")
	if got.Content != "msg a" || got.Reactions[0].Emoji != "+1" {
		t.Fatalf("caller mutation leaked into the store: %+v", got)
	}
}

func TestClearEmptiesStoreAndTombstones(t *testing.T) {
	tl := NewTimeline("c1")
	tl.Upsert(rec("a", 100))
	tl.Remove("a")
	tl.Upsert(rec("b", 200))
	tl.Clear()
	if tl.Len() != 0 {
		t.Fatalf("expected empty store after clear, got %d", tl.Len())
	}
	if tl.Tombstoned("a") {
		t.Fatalf("tombstones should be dropped on clear")
	}
}
