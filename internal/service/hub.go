package service

import (
	"sync"
	"sync/atomic"

	"github.com/efreitasn/bourse/internal/domain"
)

// Subscription is one live listener on the Hub.
type Subscription struct {
	C         <-chan domain.MarketEvent
	ch        chan domain.MarketEvent
	productID string // empty means every product
	dropped   atomic.Int64
}

// Dropped returns how many events were discarded because the listener
// fell behind.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Hub fans ledger events out to in-process listeners such as websocket
// streams. It implements engine.Publisher and never blocks the publisher.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
}

// NewHub creates a Hub whose listeners buffer up to buffer events.
func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{subs: make(map[*Subscription]struct{}), buffer: buffer}
}

// Subscribe registers a listener. An empty productID receives every event.
func (h *Hub) Subscribe(productID string) *Subscription {
	ch := make(chan domain.MarketEvent, h.buffer)
	sub := &Subscription{C: ch, ch: ch, productID: productID}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes the listener and closes its channel. Calling it twice
// is a no-op.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
}

// Len returns the number of live listeners.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish delivers ev to every interested listener, dropping it for those
// whose buffer is full.
func (h *Hub) Publish(ev domain.MarketEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.productID != "" && sub.productID != ev.Market.ProductID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
		}
	}
}
