package devserver

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"chatsync/pkg/models"
	"chatsync/pkg/utils"
)

// memStore is the in-memory message log behind the reference backend.
// Each chat holds its records newest-first, the same order the client
// timeline keeps.
type memStore struct {
	mu     sync.RWMutex
	byID   map[string]*models.MessageRecord
	byChat map[string][]*models.MessageRecord
}

func newMemStore() *memStore {
	return &memStore{
		byID:   make(map[string]*models.MessageRecord),
		byChat: make(map[string][]*models.MessageRecord),
	}
}

// encodeCursor mints an opaque cursor pointing at the oldest record of a
// served page. The next page starts strictly after it.
func encodeCursor(rec *models.MessageRecord) string {
	raw := fmt.Sprintf("%d|%s", rec.CreatedAt, rec.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (int64, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, "", fmt.Errorf("bad cursor: %w", err)
	}
	i := strings.IndexByte(string(raw), '|')
	if i < 0 {
		return 0, "", fmt.Errorf("bad cursor: missing separator")
	}
	ts, err := strconv.ParseInt(string(raw[:i]), 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("bad cursor: %w", err)
	}
	return ts, string(raw[i+1:]), nil
}

// create inserts a new record built from a draft and returns a copy.
func (s *memStore) create(draft models.Draft) models.MessageRecord {
	rec := models.MessageRecord{
		ID:         utils.GenMessageID(),
		ChatID:     draft.ChatID,
		SenderID:   draft.SenderID,
		Kind:       draft.Kind,
		Content:    draft.Content,
		ReplyToID:  draft.ReplyToID,
		Attachment: draft.Attachment,
		CreatedAt:  time.Now().UnixNano(),
	}
	if rec.Kind == "" {
		rec.Kind = models.KindText
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(&rec)
	return rec.Clone()
}

// put inserts a fully formed record (used by test seeding).
func (s *memStore) put(rec models.MessageRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byID[rec.ID]; ok {
		s.removeLocked(old)
	}
	r := rec.Clone()
	s.insertLocked(&r)
}

func (s *memStore) insertLocked(rec *models.MessageRecord) {
	s.byID[rec.ID] = rec
	chat := s.byChat[rec.ChatID]
	i := sort.Search(len(chat), func(i int) bool { return rec.Before(*chat[i]) })
	chat = append(chat, nil)
	copy(chat[i+1:], chat[i:])
	chat[i] = rec
	s.byChat[rec.ChatID] = chat
}

func (s *memStore) removeLocked(rec *models.MessageRecord) {
	delete(s.byID, rec.ID)
	chat := s.byChat[rec.ChatID]
	for i, r := range chat {
		if r.ID == rec.ID {
			s.byChat[rec.ChatID] = append(chat[:i], chat[i+1:]...)
			return
		}
	}
}

// get returns a copy of the record with the given id.
func (s *memStore) get(id string) (models.MessageRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	if !ok {
		return models.MessageRecord{}, false
	}
	return rec.Clone(), true
}

// edit replaces a message's content in place.
func (s *memStore) edit(id, content string) (models.MessageRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return models.MessageRecord{}, false
	}
	rec.Content = content
	rec.EditedAt = time.Now().UnixNano()
	return rec.Clone(), true
}

// remove deletes a message entirely.
func (s *memStore) remove(id string) (models.MessageRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return models.MessageRecord{}, false
	}
	s.removeLocked(rec)
	return rec.Clone(), true
}

// react appends a reaction to the owning message.
func (s *memStore) react(messageID, emoji, reactorID string) (models.MessageRecord, models.Reaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[messageID]
	if !ok {
		return models.MessageRecord{}, models.Reaction{}, false
	}
	rx := models.Reaction{ID: utils.GenReactionID(), Emoji: emoji, ReactorID: reactorID}
	rec.Reactions = append(rec.Reactions, rx)
	return rec.Clone(), rx, true
}

// unreact removes a reaction by id from the owning message.
func (s *memStore) unreact(messageID, reactionID string) (models.MessageRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[messageID]
	if !ok {
		return models.MessageRecord{}, false
	}
	for i, rx := range rec.Reactions {
		if rx.ID == reactionID {
			rec.Reactions = append(rec.Reactions[:i], rec.Reactions[i+1:]...)
			break
		}
	}
	return rec.Clone(), true
}

// page serves one newest-first history window. An empty cursor starts at
// the newest record; otherwise records strictly older than the cursor
// position are returned.
func (s *memStore) page(chatID, cursor string, limit int) (*models.Page, error) {
	if limit <= 0 {
		limit = 25
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat := s.byChat[chatID]

	start := 0
	if cursor != "" {
		ts, id, err := decodeCursor(cursor)
		if err != nil {
			return nil, err
		}
		// first index strictly after the cursor position
		mark := models.MessageRecord{ID: id, CreatedAt: ts}
		start = sort.Search(len(chat), func(i int) bool { return mark.Before(*chat[i]) })
	}

	end := start + limit
	if end > len(chat) {
		end = len(chat)
	}
	page := &models.Page{HasMore: end < len(chat)}
	for _, rec := range chat[start:end] {
		page.Messages = append(page.Messages, rec.Clone())
	}
	if page.HasMore && len(page.Messages) > 0 {
		page.NextCursor = encodeCursor(chat[end-1])
	}
	return page, nil
}
