package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chatsync/pkg/client"
	"chatsync/pkg/engine"
	"chatsync/pkg/models"
	"chatsync/pkg/realtime"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv := New()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func seedHistory(srv *Server, chatID string, n int) {
	base := time.Now().UnixNano()
	for i := 0; i < n; i++ {
		srv.Seed(models.MessageRecord{
			ID:        fmt.Sprintf("seed-%03d", i),
			ChatID:    chatID,
			SenderID:  "u2",
			Kind:      models.KindText,
			Content:   fmt.Sprintf("history %d", i),
			CreatedAt: base - int64(i)*int64(time.Second),
		})
	}
}

func waitFor(t *testing.T, d time.Duration, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCursorPaginationWalksFullHistory(t *testing.T) {
	srv, ts := newTestServer(t)
	seedHistory(srv, "c1", 60)
	be := client.New(ts.URL, client.WithPageSize(25))

	seen := map[string]bool{}
	cursor := ""
	pages := 0
	for {
		page, err := be.FetchPage(context.Background(), "c1", "u1", cursor)
		if err != nil {
			t.Fatalf("fetch page %d: %v", pages, err)
		}
		pages++
		for _, r := range page.Messages {
			if seen[r.ID] {
				t.Fatalf("duplicate record %s across pages", r.ID)
			}
			seen[r.ID] = true
		}
		if !page.HasMore {
			break
		}
		if page.NextCursor == "" {
			t.Fatalf("has_more without a cursor")
		}
		cursor = page.NextCursor
	}
	if pages != 3 || len(seen) != 60 {
		t.Fatalf("expected 3 pages / 60 records, got %d / %d", pages, len(seen))
	}
}

func TestBadCursorRejected(t *testing.T) {
	_, ts := newTestServer(t)
	be := client.New(ts.URL)
	if _, err := be.FetchPage(context.Background(), "c1", "u1", "%%%not-base64"); err == nil {
		t.Fatalf("expected bad cursor error")
	}
}

func TestMessageLifecycleOverREST(t *testing.T) {
	_, ts := newTestServer(t)
	be := client.New(ts.URL)
	ctx := context.Background()

	rec, err := be.SendMessage(ctx, models.Draft{ChatID: "c1", SenderID: "u1", Kind: models.KindText, Content: "hi"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if rec.ID == "" || rec.CreatedAt == 0 {
		t.Fatalf("server did not issue id/timestamp: %+v", rec)
	}

	edited, err := be.EditMessage(ctx, rec.ID, "hi, edited")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if edited.Content != "hi, edited" || edited.EditedAt == 0 {
		t.Fatalf("edit not applied: %+v", edited)
	}

	withRx, err := be.AddReaction(ctx, rec.ID, "+1", "u2")
	if err != nil {
		t.Fatalf("react: %v", err)
	}
	if len(withRx.Reactions) != 1 {
		t.Fatalf("reaction missing: %+v", withRx)
	}
	noRx, err := be.RemoveReaction(ctx, rec.ID, withRx.Reactions[0].ID)
	if err != nil {
		t.Fatalf("unreact: %v", err)
	}
	if len(noRx.Reactions) != 0 {
		t.Fatalf("reaction not removed: %+v", noRx)
	}

	if err := be.DeleteMessage(ctx, rec.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := be.FetchMessage(ctx, rec.ID); err == nil {
		t.Fatalf("deleted message still fetchable")
	}
}

func TestChangeFeedDeliversSubscribedAckThenEvents(t *testing.T) {
	srv, ts := newTestServer(t)
	feed := realtime.NewWSFeed(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := feed.Dial(ctx, "c1")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	want := models.ChangeEvent{Table: models.TableMessage, Op: models.OpInsert, ChatID: "c1", RecordID: "m1"}
	srv.Publish(want)
	got, err := conn.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if got != want {
		t.Fatalf("event mangled on the wire: %+v", got)
	}
}

func TestChangeFeedIsPerChat(t *testing.T) {
	srv, ts := newTestServer(t)
	feed := realtime.NewWSFeed(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := feed.Dial(ctx, "c1")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	srv.Publish(models.ChangeEvent{Table: models.TableMessage, Op: models.OpInsert, ChatID: "c2", RecordID: "other"})
	srv.Publish(models.ChangeEvent{Table: models.TableMessage, Op: models.OpInsert, ChatID: "c1", RecordID: "mine"})
	got, err := conn.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if got.RecordID != "mine" {
		t.Fatalf("received another chat's event: %+v", got)
	}
}

// Two engines against one backend: a message sent by the first appears in
// the second through the change feed.
func TestEndToEndTwoEnginesConverge(t *testing.T) {
	srv, ts := newTestServer(t)
	seedHistory(srv, "c1", 5)
	feed := realtime.NewWSFeed(ts.URL)

	mk := func(userID string) *engine.Engine {
		be := client.New(ts.URL)
		eng := engine.New(engine.Context{ChatID: "c1", UserID: userID}, be,
			engine.WithFeed(feed.Dial))
		if err := eng.Start(context.Background()); err != nil {
			t.Fatalf("engine %s start: %v", userID, err)
		}
		t.Cleanup(eng.Close)
		return eng
	}
	sender := mk("u1")
	viewer := mk("u2")
	waitFor(t, 5*time.Second, func() bool {
		return viewer.Subscription().Status() == realtime.StatusSubscribed
	}, "viewer subscription")

	confirmed, err := sender.Send(context.Background(), models.Draft{Content: "hello everyone"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool { return viewer.Store().Has(confirmed.ID) }, "event propagation")

	got, _ := viewer.Store().Get(confirmed.ID)
	if got.Content != "hello everyone" {
		t.Fatalf("viewer saw wrong content: %+v", got)
	}
	if viewer.Store().Len() != 6 {
		t.Fatalf("viewer store: expected 6 records, got %d", viewer.Store().Len())
	}

	// deletes converge too
	if err := sender.Delete(context.Background(), confirmed.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool { return !viewer.Store().Has(confirmed.ID) }, "delete propagation")
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t)
	res, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("healthz content type %q", ct)
	}
	var body map[string]string
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("healthz body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected healthz body: %v", body)
	}
}

func TestNotFoundErrorsAreJSONShaped(t *testing.T) {
	_, ts := newTestServer(t)
	res, err := http.Get(ts.URL + "/v1/messages/ghost")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("error content type %q", ct)
	}
	var body map[string]string
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("error body: %v", err)
	}
	if body["error"] == "" {
		t.Fatalf("error message missing: %v", body)
	}
}
