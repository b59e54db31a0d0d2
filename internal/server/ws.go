package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"path"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"fixline/internal/engine"
)

const streamPollInterval = time.Second

// eventHub fans events out to connected websocket clients. A single
// goroutine polls the event log and broadcasts anything new, so every
// client sees the same ordered stream.
type eventHub struct {
	engine     engine.Engine
	mu         sync.Mutex
	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
}

func newEventHub(e engine.Engine) *eventHub {
	return &eventHub{
		engine:     e,
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

func (h *eventHub) run() {
	cursor, err := h.engine.Repo.LatestEventID(context.Background())
	if err != nil {
		log.Printf("event stream: init cursor failed: %v", err)
	}
	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()
		case <-ticker.C:
			cursor = h.broadcastNew(cursor)
		}
	}
}

func (h *eventHub) broadcastNew(cursor int64) int64 {
	h.mu.Lock()
	idle := len(h.clients) == 0
	h.mu.Unlock()
	if idle {
		return cursor
	}
	events, err := h.engine.Repo.EventsAfter(context.Background(), defaultWebhookBatch, cursor, "")
	if err != nil {
		log.Printf("event stream: fetch events failed: %v", err)
		return cursor
	}
	for _, evt := range events {
		data, err := json.Marshal(eventResponse(evt))
		if err != nil {
			cursor = evt.ID
			continue
		}
		h.mu.Lock()
		for conn := range h.clients {
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				conn.Close()
				delete(h.clients, conn)
			}
		}
		h.mu.Unlock()
		cursor = evt.ID
	}
	return cursor
}

func registerEventStream(r chi.Router, basePath string, e engine.Engine) {
	hub := newEventHub(e)
	go hub.run()
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	r.Get(path.Join(basePath, "events/stream"), func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("event stream: upgrade failed: %v", err)
			return
		}
		hub.register <- conn
		go func() {
			defer func() { hub.unregister <- conn }()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	})
}
