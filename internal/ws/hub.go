package ws

import (
	"encoding/json"
	"sync"

	"fieldclock/internal/timeclock"
)

// Client represents a single WebSocket connection for one user.
type Client struct {
	UserID string
	Send   chan []byte
	Hub    *Hub
	mu     sync.Mutex
	closed bool
}

func NewClient(userID string, buffer int) *Client {
	return &Client{UserID: userID, Send: make(chan []byte, buffer)}
}

func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.Send)
	c.mu.Unlock()
	if c.Hub != nil {
		c.Hub.unregister(c)
	}
}

// trySend queues data unless the client is closed or its buffer is full.
func (c *Client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// Hub maintains the set of active clients and broadcasts to them.
type Hub struct {
	mu sync.RWMutex
	// userID -> clients (one user can have multiple connections)
	byUser map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{byUser: make(map[string]map[*Client]struct{})}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.Hub = h
	if h.byUser[c.UserID] == nil {
		h.byUser[c.UserID] = make(map[*Client]struct{})
	}
	h.byUser[c.UserID][c] = struct{}{}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m := h.byUser[c.UserID]; m != nil {
		delete(m, c)
		if len(m) == 0 {
			delete(h.byUser, c.UserID)
		}
	}
}

// BroadcastToUser returns how many connections accepted the message.
func (h *Hub) BroadcastToUser(userID string, payload interface{}) int {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0
	}
	h.mu.RLock()
	m := h.byUser[userID]
	clients := make([]*Client, 0, len(m))
	for c := range m {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	n := 0
	for _, c := range clients {
		if c.trySend(data) {
			n++
		}
	}
	return n
}

// OnEvent forwards a transition to the user's open connections.
func (h *Hub) OnEvent(ev timeclock.Event) {
	h.BroadcastToUser(ev.UserID, Message{Type: MessageEvent, Event: &ev})
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, m := range h.byUser {
		n += len(m)
	}
	return n
}
