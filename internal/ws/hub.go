package ws

import (
	"encoding/json"
	"sync"
)

// Client represents a single display connection watching one order.
type Client struct {
	OrderID string
	Send    chan []byte
	hub     *Hub
	mu      sync.Mutex
	closed  bool
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
	if c.hub != nil {
		c.hub.unregister(c)
	}
}

// Hub fans order snapshots out to the displays watching them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	// orderID -> clients (a till and a customer display can watch the same order)
	byOrder map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		byOrder: make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.hub = h
	h.clients[c] = struct{}{}
	if h.byOrder[c.OrderID] == nil {
		h.byOrder[c.OrderID] = make(map[*Client]struct{})
	}
	h.byOrder[c.OrderID][c] = struct{}{}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	if m := h.byOrder[c.OrderID]; m != nil {
		delete(m, c)
		if len(m) == 0 {
			delete(h.byOrder, c.OrderID)
		}
	}
}

// BroadcastOrder pushes a snapshot to every display watching orderID. Slow
// consumers are skipped, the next snapshot supersedes a missed one anyway.
func (h *Hub) BroadcastOrder(orderID string, payload interface{}) {
	data, _ := json.Marshal(payload)
	h.mu.RLock()
	m := h.byOrder[orderID]
	if m == nil {
		h.mu.RUnlock()
		return
	}
	clients := make([]*Client, 0, len(m))
	for c := range m {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		select {
		case c.Send <- data:
		default:
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
