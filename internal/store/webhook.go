package store

import (
	"sort"
	"sync"

	"github.com/efreitasn/bourse/internal/domain"
)

// WebhookStore keeps webhook subscriptions in memory. Subscriptions are
// unique per (subscriber_id, event) and indexed by event for fan-out.
type WebhookStore struct {
	mu      sync.RWMutex
	byID    map[string]*domain.Webhook
	byEvent map[string]map[string]*domain.Webhook // event → subscriber_id → webhook
}

// NewWebhookStore creates an empty WebhookStore.
func NewWebhookStore() *WebhookStore {
	return &WebhookStore{
		byID:    make(map[string]*domain.Webhook),
		byEvent: make(map[string]map[string]*domain.Webhook),
	}
}

// Upsert stores w unless the subscriber already listens to w.Event, in
// which case the existing subscription keeps its id and takes the new URL.
// It returns the stored subscription and whether it was created.
func (s *WebhookStore) Upsert(w *domain.Webhook) (*domain.Webhook, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.byEvent[w.Event]
	if subs == nil {
		subs = make(map[string]*domain.Webhook)
		s.byEvent[w.Event] = subs
	}
	if existing, ok := subs[w.SubscriberID]; ok {
		if existing.URL != w.URL {
			existing.URL = w.URL
			existing.UpdatedAt = w.UpdatedAt
		}
		cp := *existing
		return &cp, false
	}

	stored := *w
	subs[w.SubscriberID] = &stored
	s.byID[w.WebhookID] = &stored
	cp := stored
	return &cp, true
}

// Get returns the subscription with the given id or domain.ErrWebhookNotFound.
func (s *WebhookStore) Get(id string) (*domain.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrWebhookNotFound
	}
	cp := *w
	return &cp, nil
}

// ListBySubscriber returns a subscriber's subscriptions sorted by event.
func (s *WebhookStore) ListBySubscriber(subscriberID string) []*domain.Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Webhook, 0)
	for _, w := range s.byID {
		if w.SubscriberID == subscriberID {
			cp := *w
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Event < out[j].Event })
	return out
}

// ListByEvent returns every subscription for event.
func (s *WebhookStore) ListByEvent(event string) []*domain.Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subs := s.byEvent[event]
	out := make([]*domain.Webhook, 0, len(subs))
	for _, w := range subs {
		cp := *w
		out = append(out, &cp)
	}
	return out
}

// Delete removes a subscription from both indexes.
func (s *WebhookStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.byID[id]
	if !ok {
		return domain.ErrWebhookNotFound
	}
	delete(s.byID, id)
	if subs := s.byEvent[w.Event]; subs != nil {
		delete(subs, w.SubscriberID)
		if len(subs) == 0 {
			delete(s.byEvent, w.Event)
		}
	}
	return nil
}
