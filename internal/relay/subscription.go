package relay

import (
	"sync"

	"github.com/nbd-wtf/go-nostr"
)

// Subscription is a cancellable stream of events matching one filter. Events
// arriving from multiple relays are de-duplicated by event id. Stop is
// idempotent and safe to call concurrently with delivery.
type Subscription struct {
	id     string
	pool   *Pool
	filter nostr.Filter

	Events chan nostr.Event

	mu     sync.Mutex
	seen   map[string]struct{}
	closed bool
	err    error
	once   sync.Once
}

// ID returns the wire subscription id.
func (s *Subscription) ID() string { return s.id }

// Err reports why the subscription ended. It is non-nil only when the pool
// failed the subscription because no relay could serve it anymore; a plain
// Stop leaves it nil.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop sends CLOSE to every relay, removes the subscription from the pool
// and closes the Events channel.
func (s *Subscription) Stop() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		conns := s.pool.dropSub(s.id)
		msg := []interface{}{"CLOSE", s.id}
		for _, c := range conns {
			_ = c.writeJSON(msg)
		}
		close(s.Events)
	})
}

// fail closes the subscription without a CLOSE frame; there is nothing left
// to send it to. Consumers see the closed Events channel and a non-nil Err.
func (s *Subscription) fail(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.err = err
		s.mu.Unlock()

		s.pool.dropSub(s.id)
		close(s.Events)
	})
}

func (s *Subscription) deliver(evt nostr.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, dup := s.seen[evt.ID]; dup {
		return
	}
	s.seen[evt.ID] = struct{}{}
	select {
	case s.Events <- evt:
	default:
		// Slow consumer; drop rather than block the relay read loop.
	}
}
