// Package events broadcasts save progress of a checklist to websocket
// clients watching it.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

type Type string

const (
	TypeState        Type = "state"
	TypeSectionSaved Type = "section_saved"
	TypeWarning      Type = "warning"
	TypeError        Type = "error"
	TypeFinalized    Type = "finalized"
)

type Event struct {
	Type       Type      `json:"type"`
	PropertyID string    `json:"propertyId"`
	Kind       string    `json:"kind"`
	SectionID  string    `json:"sectionId,omitempty"`
	State      string    `json:"state,omitempty"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Topic is the channel an event is delivered on: one per checklist.
func Topic(propertyID, kind string) string {
	return propertyID + "/" + kind
}

// Publisher accepts events without blocking.
type Publisher interface {
	Publish(e Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(Event) {}

// Hub fans events out to the websocket clients subscribed to their topic.
// Publish never blocks: when the queue is full the event is dropped.
type Hub struct {
	logger    *slog.Logger
	broadcast chan Event

	mu      sync.RWMutex
	clients map[*websocket.Conn]string
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:    logger,
		broadcast: make(chan Event, 100),
		clients:   make(map[*websocket.Conn]string),
	}
}

func (h *Hub) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	select {
	case h.broadcast <- e:
	default:
		h.logger.Warn("event queue full, dropping event", "type", e.Type, "property_id", e.PropertyID)
	}
}

// Run delivers queued events until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case e := <-h.broadcast:
			h.deliver(ctx, e)
		}
	}
}

func (h *Hub) deliver(ctx context.Context, e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("failed to marshal event", "error", err)
		return
	}
	topic := Topic(e.PropertyID, e.Kind)

	h.mu.RLock()
	var targets []*websocket.Conn
	for conn, t := range h.clients {
		if t == topic {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := conn.Write(wctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			h.logger.Debug("failed to send event to client", "error", err)
			h.remove(conn)
		}
	}
}

// ServeTopic upgrades the request and streams the events of topic until
// the client goes away. Messages from the client are ignored.
func (h *Hub) ServeTopic(w http.ResponseWriter, r *http.Request, topic string) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = topic
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("event client connected", "topic", topic, "clients", count)

	ctx := conn.CloseRead(r.Context())
	<-ctx.Done()
	h.remove(conn)
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	count := len(h.clients)
	h.mu.Unlock()
	if ok {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		h.logger.Debug("event client disconnected", "clients", count)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	conns := h.clients
	h.clients = make(map[*websocket.Conn]string)
	h.mu.Unlock()
	for conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
