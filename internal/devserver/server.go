// Package devserver is the in-memory reference backend used by the
// chatsync-backend binary and the integration tests. It implements the
// REST surface pkg/client talks to and the websocket change feed
// pkg/realtime subscribes to.
package devserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"nhooyr.io/websocket"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/realtime"
	"chatsync/pkg/validation"
)

// Server bundles the message log, the change-feed hub and the router.
type Server struct {
	store  *memStore
	hub    *hub
	router *mux.Router
}

// New builds a server with an empty message log.
func New() *Server {
	s := &Server{store: newMemStore(), hub: newHub()}
	r := mux.NewRouter()

	r.HandleFunc("/v1/chats/{chat}/messages", s.handleListMessages).Methods(http.MethodGet)
	r.HandleFunc("/v1/chats/{chat}/messages", s.handleCreateMessage).Methods(http.MethodPost)
	r.HandleFunc("/v1/chats/{chat}/changes", s.handleChanges).Methods(http.MethodGet)
	r.HandleFunc("/v1/messages/{id}", s.handleGetMessage).Methods(http.MethodGet)
	r.HandleFunc("/v1/messages/{id}", s.handleEditMessage).Methods(http.MethodPut)
	r.HandleFunc("/v1/messages/{id}", s.handleDeleteMessage).Methods(http.MethodDelete)
	r.HandleFunc("/v1/messages/{id}/reactions", s.handleAddReaction).Methods(http.MethodPost)
	r.HandleFunc("/v1/messages/{id}/reactions/{reaction}", s.handleRemoveReaction).Methods(http.MethodDelete)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		jsonWrite(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	r.Use(requestLog)
	s.router = r
	return s
}

// Handler returns the HTTP handler (also used by httptest in tests).
func (s *Server) Handler() http.Handler { return s.router }

// Seed inserts a fully formed record without emitting a change event.
// Test fixtures use it to lay down history.
func (s *Server) Seed(rec models.MessageRecord) {
	s.store.put(rec)
}

// Publish pushes a raw change event to feed subscribers. Tests use it to
// inject events the REST surface cannot produce (agent inserts, foreign
// chats, malformed shapes).
func (s *Server) Publish(ev models.ChangeEvent) {
	s.hub.publish(ev)
}

func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("http_request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start).String())
	})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	chatID := mux.Vars(r)["chat"]
	limit := 25
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	page, err := s.store.page(chatID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	jsonWrite(w, http.StatusOK, page)
}

func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	var draft models.Draft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid body")
		return
	}
	draft.ChatID = mux.Vars(r)["chat"]
	if err := validation.ValidateDraft(draft); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec := s.store.create(draft)
	s.hub.publish(models.ChangeEvent{
		Table:    models.TableMessage,
		Op:       models.OpInsert,
		ChatID:   rec.ChatID,
		RecordID: rec.ID,
		AgentID:  rec.AgentID,
	})
	logger.Info("message_created", "chat", rec.ChatID, "id", rec.ID)
	jsonWrite(w, http.StatusCreated, rec)
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.store.get(mux.Vars(r)["id"])
	if !ok {
		jsonError(w, http.StatusNotFound, "message not found")
		return
	}
	jsonWrite(w, http.StatusOK, rec)
}

func (s *Server) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid body")
		return
	}
	rec, ok := s.store.edit(mux.Vars(r)["id"], body.Content)
	if !ok {
		jsonError(w, http.StatusNotFound, "message not found")
		return
	}
	s.hub.publish(models.ChangeEvent{
		Table:    models.TableMessage,
		Op:       models.OpUpdate,
		ChatID:   rec.ChatID,
		RecordID: rec.ID,
	})
	jsonWrite(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.store.remove(mux.Vars(r)["id"])
	if !ok {
		jsonError(w, http.StatusNotFound, "message not found")
		return
	}
	s.hub.publish(models.ChangeEvent{
		Table:    models.TableMessage,
		Op:       models.OpDelete,
		ChatID:   rec.ChatID,
		RecordID: rec.ID,
	})
	logger.Info("message_deleted", "chat", rec.ChatID, "id", rec.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddReaction(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Emoji     string `json:"emoji"`
		ReactorID string `json:"reactor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid body")
		return
	}
	rec, rx, ok := s.store.react(mux.Vars(r)["id"], body.Emoji, body.ReactorID)
	if !ok {
		jsonError(w, http.StatusNotFound, "message not found")
		return
	}
	s.hub.publish(models.ChangeEvent{
		Table:     models.TableReaction,
		Op:        models.OpInsert,
		ChatID:    rec.ChatID,
		RecordID:  rx.ID,
		MessageID: rec.ID,
	})
	jsonWrite(w, http.StatusOK, rec)
}

func (s *Server) handleRemoveReaction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	rec, ok := s.store.unreact(vars["id"], vars["reaction"])
	if !ok {
		jsonError(w, http.StatusNotFound, "message not found")
		return
	}
	s.hub.publish(models.ChangeEvent{
		Table:     models.TableReaction,
		Op:        models.OpDelete,
		ChatID:    rec.ChatID,
		RecordID:  vars["reaction"],
		MessageID: rec.ID,
	})
	jsonWrite(w, http.StatusOK, rec)
}

// handleChanges upgrades to a websocket, acknowledges the subscription
// and then forwards change frames until the client goes away.
func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	chatID := mux.Vars(r)["chat"]
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		logger.Warn("feed_accept_failed", "chat", chatID, "error", err)
		return
	}
	defer c.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	events, cancel := s.hub.subscribe(chatID)
	defer cancel()

	write := func(env realtime.Envelope) error {
		data, err := json.Marshal(env)
		if err != nil {
			return err
		}
		return c.Write(ctx, websocket.MessageText, data)
	}

	if err := write(realtime.Envelope{Type: realtime.FrameSubscribed}); err != nil {
		return
	}
	logger.Info("feed_subscribed", "chat", chatID)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := write(realtime.Envelope{Type: realtime.FrameChange, Event: &ev}); err != nil {
				logger.Debug("feed_write_failed", "chat", chatID, "error", err)
				return
			}
		}
	}
}
