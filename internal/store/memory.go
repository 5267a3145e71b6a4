package store

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/efreitasn/bourse/internal/domain"
)

// MemoryStore is a thread-safe in-memory Store. A single RWMutex guards
// products and orders together, so every primitive is atomic and every
// read observes fully committed state.
type MemoryStore struct {
	mu          sync.RWMutex
	products    map[string]*domain.Product
	orders      map[string]*domain.Order
	chrono      []*domain.Order            // insertion order
	buyerOrders map[string][]*domain.Order // buyer_id → orders (append-only)
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:    make(map[string]*domain.Product),
		orders:      make(map[string]*domain.Order),
		buyerOrders: make(map[string][]*domain.Order),
	}
}

func (s *MemoryStore) CreateProduct(_ context.Context, p *domain.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[p.ProductID]; exists {
		return domain.ErrProductAlreadyExists
	}
	cp := *p
	s.products[p.ProductID] = &cp
	return nil
}

func (s *MemoryStore) UpdateProduct(_ context.Context, productID string, fn func(p *domain.Product) error) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.products[productID]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	draft := *stored
	if err := fn(&draft); err != nil {
		return nil, err
	}
	// Identity and demand belong to the store and the ledger.
	draft.ProductID = stored.ProductID
	draft.TotalProDemand = stored.TotalProDemand
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	draft.UpdatedAt = time.Now().UTC()
	*stored = draft
	out := draft
	return &out, nil
}

func (s *MemoryStore) GetProduct(_ context.Context, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[productID]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListProducts(_ context.Context) ([]*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.productsLocked(), nil
}

// productsLocked copies every product sorted by id. Caller holds mu.
func (s *MemoryStore) productsLocked() []*domain.Product {
	out := make([]*domain.Product, 0, len(s.products))
	for _, p := range s.products {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

func (s *MemoryStore) InsertOrder(_ context.Context, o *domain.Order) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[o.ProductID]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	if !p.InStock() {
		return nil, domain.ErrOutOfStock
	}
	if o.Quantity <= 0 {
		return nil, &domain.ValidationError{Message: "quantity must be greater than 0"}
	}
	if p.TotalProDemand > math.MaxInt64-o.Quantity {
		return nil, domain.DemandOverflowError(p.ProductID)
	}

	cp := *o
	s.orders[o.OrderID] = &cp
	s.chrono = append(s.chrono, &cp)
	s.buyerOrders[o.BuyerID] = append(s.buyerOrders[o.BuyerID], &cp)

	p.TotalProDemand += o.Quantity
	p.UpdatedAt = o.CreatedAt

	out := *p
	return &out, nil
}

func (s *MemoryStore) TransitionOrder(_ context.Context, t domain.OrderTransition) (*domain.Order, *domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[t.OrderID]
	if !ok {
		return nil, nil, domain.ErrOrderNotFound
	}
	if o.Status != t.From || !t.From.CanTransition(t.To) {
		return nil, nil, domain.ErrInvalidTransition
	}
	p, ok := s.products[o.ProductID]
	if !ok {
		return nil, nil, domain.ErrProductNotFound
	}

	stock := p.StockAvailable + t.StockDelta(o.Quantity)
	if stock < 0 {
		return nil, nil, domain.ErrInsufficientStock
	}
	demand := p.TotalProDemand + t.DemandDelta(o.Quantity)
	if demand < 0 {
		demand = 0
	}

	// All checks passed; apply both sides.
	p.StockAvailable = stock
	p.TotalProDemand = demand
	p.UpdatedAt = t.At

	at := t.At
	o.Status = t.To
	o.ResolvedAt = &at
	o.ResolvedBy = t.ActorID

	oc, pc := *o, *p
	return &oc, &pc, nil
}

func (s *MemoryStore) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) ListOrders(_ context.Context, f OrderFilter) ([]*domain.Order, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.chrono
	if f.BuyerID != "" {
		all = s.buyerOrders[f.BuyerID]
	}

	// Newest first.
	filtered := make([]*domain.Order, 0)
	for i := len(all) - 1; i >= 0; i-- {
		if !f.matches(all[i]) {
			continue
		}
		cp := *all[i]
		filtered = append(filtered, &cp)
	}
	return paginate(filtered, f.Page, f.Limit), len(filtered), nil
}

func (s *MemoryStore) Snapshot(_ context.Context) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{
		Products:      s.productsLocked(),
		PendingDemand: make(map[string]int64),
		TakenAt:       time.Now().UTC(),
	}
	for _, o := range s.chrono {
		snap.Counts.Add(o.Status, 1)
		if o.Status == domain.OrderStatusPending {
			snap.PendingDemand[o.ProductID] += o.Quantity
		}
	}
	return snap, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
