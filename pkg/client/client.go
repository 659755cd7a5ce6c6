// Package client talks to the chat backend over HTTP: history pages,
// record hydration by id, and the write endpoints used by optimistic
// mutations. The realtime change feed lives in pkg/realtime.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"chatsync/pkg/httpx"
	"chatsync/pkg/models"
)

// Client is an HTTP implementation of the engine's backend contract.
type Client struct {
	baseURL  string
	apiKey   string
	doer     httpx.Doer
	pageSize int
}

// Option mutates the client during construction.
type Option func(*Client)

// WithDoer overrides the HTTP adapter (default net/http).
func WithDoer(d httpx.Doer) Option {
	return func(c *Client) { c.doer = d }
}

// WithAPIKey sets the bearer token attached to every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithPageSize sets the history page size requested from the backend.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// New returns a client rooted at baseURL (e.g. "http://localhost:8080").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		doer:     httpx.NewNetHTTPDoer(),
		pageSize: 25,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) headers() map[string]string {
	h := map[string]string{"Content-Type": "application/json"}
	if c.apiKey != "" {
		h["Authorization"] = "Bearer " + c.apiKey
	}
	return h
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	res, err := c.doer.Do(ctx, method, c.baseURL+path, c.headers(), body)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if res.Status < 200 || res.Status > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(res.Body, &e)
		if e.Error == "" {
			e.Error = http.StatusText(res.Status)
		}
		return fmt.Errorf("%s %s: status %d: %s", method, path, res.Status, e.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(res.Body, out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}

// FetchPage loads one history window. An empty cursor means the newest
// page; otherwise cursor must be the value returned by the previous call.
func (c *Client) FetchPage(ctx context.Context, chatID, userID, cursor string) (*models.Page, error) {
	q := url.Values{}
	q.Set("user", userID)
	q.Set("limit", strconv.Itoa(c.pageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var page models.Page
	path := "/v1/chats/" + url.PathEscape(chatID) + "/messages?" + q.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// FetchMessage hydrates a full record by id.
func (c *Client) FetchMessage(ctx context.Context, id string) (models.MessageRecord, error) {
	var rec models.MessageRecord
	err := c.do(ctx, http.MethodGet, "/v1/messages/"+url.PathEscape(id), nil, &rec)
	return rec, err
}

// SendMessage writes a draft; the response carries the server-issued id.
func (c *Client) SendMessage(ctx context.Context, draft models.Draft) (models.MessageRecord, error) {
	var rec models.MessageRecord
	b, err := json.Marshal(draft)
	if err != nil {
		return rec, err
	}
	path := "/v1/chats/" + url.PathEscape(draft.ChatID) + "/messages"
	err = c.do(ctx, http.MethodPost, path, b, &rec)
	return rec, err
}

// EditMessage replaces a message's content and returns the refreshed
// record.
func (c *Client) EditMessage(ctx context.Context, id, content string) (models.MessageRecord, error) {
	var rec models.MessageRecord
	b, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return rec, err
	}
	err = c.do(ctx, http.MethodPut, "/v1/messages/"+url.PathEscape(id), b, &rec)
	return rec, err
}

// DeleteMessage retracts a message.
func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/messages/"+url.PathEscape(id), nil, nil)
}

// AddReaction attaches an emoji reaction and returns the refreshed owning
// record.
func (c *Client) AddReaction(ctx context.Context, messageID, emoji, reactorID string) (models.MessageRecord, error) {
	var rec models.MessageRecord
	b, err := json.Marshal(map[string]string{"emoji": emoji, "reactor_id": reactorID})
	if err != nil {
		return rec, err
	}
	err = c.do(ctx, http.MethodPost, "/v1/messages/"+url.PathEscape(messageID)+"/reactions", b, &rec)
	return rec, err
}

// RemoveReaction detaches a reaction by id and returns the refreshed
// owning record.
func (c *Client) RemoveReaction(ctx context.Context, messageID, reactionID string) (models.MessageRecord, error) {
	var rec models.MessageRecord
	path := "/v1/messages/" + url.PathEscape(messageID) + "/reactions/" + url.PathEscape(reactionID)
	err := c.do(ctx, http.MethodDelete, path, nil, &rec)
	return rec, err
}
