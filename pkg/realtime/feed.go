// Package realtime owns the push channel: a websocket change feed client
// and the subscription lifecycle manager that keeps it alive.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"nhooyr.io/websocket"

	"chatsync/pkg/models"
)

// Envelope is the wire format on the change feed. The backend sends a
// "subscribed" acknowledgement first, then one "change" frame per event.
type Envelope struct {
	Type  string              `json:"type"`
	Event *models.ChangeEvent `json:"event,omitempty"`
}

const (
	FrameSubscribed = "subscribed"
	FrameChange     = "change"
)

// Conn is one live logical subscription.
type Conn interface {
	// Next blocks for the next change event.
	Next(ctx context.Context) (models.ChangeEvent, error)
	// Close tears the subscription down cleanly.
	Close() error
}

// Dialer opens a fresh logical subscription for a chat and does not
// return until the backend has acknowledged it (or ctx expires).
type Dialer func(ctx context.Context, chatID string) (Conn, error)

// WSFeed dials websocket change feeds against a backend base URL.
type WSFeed struct {
	baseURL string
}

// NewWSFeed returns a feed rooted at baseURL (http:// or https://; the
// scheme is rewritten for the websocket dial).
func NewWSFeed(baseURL string) *WSFeed {
	return &WSFeed{baseURL: strings.TrimRight(baseURL, "/")}
}

// Dial opens the feed for chatID and waits for the subscribed ack.
func (f *WSFeed) Dial(ctx context.Context, chatID string) (Conn, error) {
	wsURL := strings.Replace(f.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/v1/chats/" + url.PathEscape(chatID) + "/changes"

	c, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("feed dial: %w", err)
	}

	_, data, err := c.Read(ctx)
	if err != nil {
		_ = c.Close(websocket.StatusNormalClosure, "")
		return nil, fmt.Errorf("feed ack read: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != FrameSubscribed {
		_ = c.Close(websocket.StatusNormalClosure, "")
		return nil, fmt.Errorf("feed ack: expected %q, got %q", FrameSubscribed, env.Type)
	}
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Next(ctx context.Context) (models.ChangeEvent, error) {
	for {
		_, data, err := w.c.Read(ctx)
		if err != nil {
			return models.ChangeEvent{}, err
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// skip malformed frames; the feed carries independent events
			continue
		}
		if env.Type != FrameChange || env.Event == nil {
			continue
		}
		return *env.Event, nil
	}
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "client closed")
}
