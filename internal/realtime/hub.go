package realtime

import (
	"context"
	"sync"

	"buildtrack/api/internal/metrics"
)

const subscriberBuffer = 64

// Filter selects changes for a subscriber. Empty fields match everything.
type Filter struct {
	ProjectID string
	CompanyID string
	Tables    []string
}

func (f Filter) match(c Change) bool {
	if f.ProjectID != "" && c.ProjectID != f.ProjectID {
		return false
	}
	if f.CompanyID != "" && c.CompanyID != "" && c.CompanyID != f.CompanyID {
		return false
	}
	if len(f.Tables) == 0 {
		return true
	}
	for _, t := range f.Tables {
		if t == c.Table {
			return true
		}
	}
	return false
}

// Hub broadcasts changes to in-process subscribers. A subscriber that falls
// behind loses events rather than blocking writers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

type Subscription struct {
	hub    *Hub
	filter Filter
	ch     chan Change
	once   sync.Once
}

// C delivers matching changes. It is closed by Close or when the hub shuts down.
func (s *Subscription) C() <-chan Change {
	return s.ch
}

func (s *Subscription) Close() {
	s.hub.remove(s)
}

func (h *Hub) Subscribe(filter Filter) *Subscription {
	sub := &Subscription{hub: h, filter: filter, ch: make(chan Change, subscriberBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		return sub
	}
	h.subs[sub] = struct{}{}
	metrics.RealtimeSubscribers.Inc()
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	metrics.RealtimeSubscribers.Dec()
	sub.once.Do(func() { close(sub.ch) })
}

// Publish delivers to every matching subscriber without blocking.
func (h *Hub) Publish(_ context.Context, change Change) error {
	h.deliver(change)
	metrics.IncrementChangePublished(change.Table, string(change.Type), "hub")
	return nil
}

func (h *Hub) deliver(change Change) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if !sub.filter.match(change) {
			continue
		}
		select {
		case sub.ch <- change:
		default:
			metrics.ChangeEventsDropped.Inc()
		}
	}
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		metrics.RealtimeSubscribers.Dec()
		sub.once.Do(func() { close(sub.ch) })
	}
}
