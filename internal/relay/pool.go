// Package relay maintains the process-wide pool of Nostr relay connections
// and hands out session-scoped subscriptions over them.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nbd-wtf/go-nostr"
)

const (
	dialTimeout       = 5 * time.Second
	reconnectAttempts = 3
)

// Pause between redial attempts after a connection drops. Variable so tests
// can shorten it.
var reconnectDelay = 500 * time.Millisecond

// Pool is a lazily-connected set of relays shared across order sessions.
// Construct once at startup and inject; subscriptions are per-session and
// must not leak across sessions.
type Pool struct {
	urls []string

	mu     sync.Mutex
	conns  map[string]*conn
	subs   map[string]*Subscription
	nextID uint64
	closed bool
}

func NewPool(urls []string) *Pool {
	return &Pool{
		urls:  urls,
		conns: make(map[string]*conn),
		subs:  make(map[string]*Subscription),
	}
}

// Subscribe opens a subscription for filter on every reachable relay in the
// pool, dialing unconnected relays first. It fails only when no relay is
// reachable at all.
func (p *Pool) Subscribe(ctx context.Context, filter nostr.Filter) (*Subscription, error) {
	conns := p.connect(ctx)
	if len(conns) == 0 {
		return nil, fmt.Errorf("no relay reachable")
	}

	p.mu.Lock()
	p.nextID++
	sub := &Subscription{
		id:     fmt.Sprintf("sub-%d", p.nextID),
		pool:   p,
		filter: filter,
		Events: make(chan nostr.Event, 16),
		seen:   make(map[string]struct{}),
	}
	p.subs[sub.id] = sub
	p.mu.Unlock()

	req := []interface{}{"REQ", sub.id, filter}
	sent := 0
	for _, c := range conns {
		if err := c.writeJSON(req); err != nil {
			log.Printf("[RELAY] REQ to %s failed: %v", c.url, err)
			continue
		}
		sent++
	}
	if sent == 0 {
		sub.Stop()
		return nil, fmt.Errorf("no relay accepted subscription")
	}
	return sub, nil
}

// OpenSubscriptions reports how many subscriptions are currently active.
func (p *Pool) OpenSubscriptions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Close tears down every connection; used at process shutdown.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	conns := make([]*conn, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.conns = make(map[string]*conn)
	p.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
}

// connect dials any relay not yet connected and returns the live set.
func (p *Pool) connect(ctx context.Context) []*conn {
	p.mu.Lock()
	missing := make([]string, 0, len(p.urls))
	for _, u := range p.urls {
		if _, ok := p.conns[u]; !ok {
			missing = append(missing, u)
		}
	}
	p.mu.Unlock()

	for _, u := range missing {
		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, u, nil)
		cancel()
		if err != nil {
			log.Printf("[RELAY] dial %s: %v", u, err)
			continue
		}
		c := &conn{url: u, ws: ws, pool: p}
		p.mu.Lock()
		p.conns[u] = c
		p.mu.Unlock()
		go c.readLoop()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	live := make([]*conn, 0, len(p.conns))
	for _, c := range p.conns {
		live = append(live, c)
	}
	return live
}

func (p *Pool) dispatch(subID string, evt nostr.Event) {
	p.mu.Lock()
	sub := p.subs[subID]
	p.mu.Unlock()
	if sub != nil {
		sub.deliver(evt)
	}
}

func (p *Pool) dropConn(c *conn) {
	p.mu.Lock()
	if p.conns[c.url] == c {
		delete(p.conns, c.url)
	}
	open := len(p.subs)
	closed := p.closed
	p.mu.Unlock()

	if closed || open == 0 {
		return
	}
	log.Printf("[RELAY] connection to %s lost, reconnecting", c.url)
	go p.reconnect(c.url)
}

// reconnect re-dials a dropped relay and replays open subscriptions on the
// fresh connection. When the relay stays down and no other connection is
// left, open subscriptions are failed so waiters see the outage instead of
// hanging until their own timeout.
func (p *Pool) reconnect(url string) {
	for attempt := 1; attempt <= reconnectAttempts; attempt++ {
		p.mu.Lock()
		if p.closed || p.conns[url] != nil {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		dialCtx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
		cancel()
		if err != nil {
			log.Printf("[RELAY] redial %s (attempt %d): %v", url, attempt, err)
			time.Sleep(reconnectDelay)
			continue
		}

		c := &conn{url: url, ws: ws, pool: p}
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			c.close()
			return
		}
		p.conns[url] = c
		subs := make([]*Subscription, 0, len(p.subs))
		for _, s := range p.subs {
			subs = append(subs, s)
		}
		p.mu.Unlock()
		go c.readLoop()

		for _, s := range subs {
			if err := c.writeJSON([]interface{}{"REQ", s.id, s.filter}); err != nil {
				log.Printf("[RELAY] REQ replay to %s failed: %v", url, err)
			}
		}
		log.Printf("[RELAY] reconnected to %s", url)
		return
	}

	p.mu.Lock()
	lastConn := len(p.conns) == 0 && !p.closed
	subs := make([]*Subscription, 0, len(p.subs))
	for _, s := range p.subs {
		subs = append(subs, s)
	}
	p.mu.Unlock()
	if !lastConn {
		return
	}
	for _, s := range subs {
		s.fail(fmt.Errorf("relay %s unreachable", url))
	}
}

func (p *Pool) dropSub(id string) []*conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subs, id)
	conns := make([]*conn, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	return conns
}

// conn is a single relay connection. Writes are serialized; reads run in one
// goroutine per connection.
type conn struct {
	url  string
	ws   *websocket.Conn
	mu   sync.Mutex
	pool *Pool
}

func (c *conn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *conn) close() {
	c.mu.Lock()
	c.ws.Close()
	c.mu.Unlock()
}

func (c *conn) readLoop() {
	defer func() {
		c.pool.dropConn(c)
		c.close()
	}()
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err != nil || len(arr) < 2 {
			continue
		}
		var label string
		if err := json.Unmarshal(arr[0], &label); err != nil {
			continue
		}
		switch label {
		case "EVENT":
			if len(arr) < 3 {
				continue
			}
			var subID string
			if err := json.Unmarshal(arr[1], &subID); err != nil {
				continue
			}
			var evt nostr.Event
			if err := json.Unmarshal(arr[2], &evt); err != nil {
				continue
			}
			c.pool.dispatch(subID, evt)
		case "NOTICE":
			var notice string
			_ = json.Unmarshal(arr[1], &notice)
			log.Printf("[RELAY] notice from %s: %s", c.url, notice)
		case "EOSE", "OK", "CLOSED":
			// Stored-event boundary and publish/close acks are irrelevant
			// here; receipts are live events only.
		}
	}
}
