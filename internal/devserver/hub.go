package devserver

import (
	"sync"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// hub fans change events out to per-chat subscribers. A slow subscriber
// is dropped rather than allowed to stall the rest; the client recovers
// through its gap-refetch path.
type hub struct {
	mu   sync.Mutex
	next int
	subs map[string]map[int]chan models.ChangeEvent
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[int]chan models.ChangeEvent)}
}

// subscribe registers a listener for chatID and returns its event
// channel plus a cancel func. The channel is closed on cancel.
func (h *hub) subscribe(chatID string) (<-chan models.ChangeEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	ch := make(chan models.ChangeEvent, 64)
	if h.subs[chatID] == nil {
		h.subs[chatID] = make(map[int]chan models.ChangeEvent)
	}
	h.subs[chatID][id] = ch
	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[chatID][id]; ok {
			delete(h.subs[chatID], id)
			close(c)
		}
	}
	return ch, cancel
}

// publish delivers ev to every subscriber of its chat.
func (h *hub) publish(ev models.ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs[ev.ChatID] {
		select {
		case ch <- ev:
		default:
			logger.Warn("devserver_subscriber_dropped", "chat", ev.ChatID, "sub", id)
			delete(h.subs[ev.ChatID], id)
			close(ch)
		}
	}
}
