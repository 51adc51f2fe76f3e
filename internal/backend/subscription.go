package backend

import "sync"

// subscriptionBuffer absorbs short bursts without dropping. When a
// subscriber falls further behind, Publish blocks, applying backpressure to
// the PTY reader instead of reordering or discarding events.
const subscriptionBuffer = 256

// Subscription is one listener on a channel's event feed.
type Subscription struct {
	// C delivers events in publish order. It is never closed; callers
	// select on Done to observe teardown.
	C <-chan Event

	c    chan Event
	done chan struct{}
	hub  *Hub
	once sync.Once
}

// Done is closed when the subscription is released, either by Close or by
// hub shutdown.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.hub != nil {
			s.hub.remove(s)
		}
		close(s.done)
	})
}

// Hub fans events out to any number of subscriptions. Each event source
// publishes from a single goroutine per session, which preserves the
// per-session FIFO guarantee end to end.
type Hub struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a new listener.
func (h *Hub) Subscribe() *Subscription {
	ch := make(chan Event, subscriptionBuffer)
	sub := &Subscription{
		C:    ch,
		c:    ch,
		done: make(chan struct{}),
		hub:  h,
	}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Publish delivers the event to every live subscription.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		select {
		case s.c <- ev:
		case <-s.done:
		}
	}
}

// Close releases every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}
