// Package store holds the backing store contract used by the order ledger
// and its in-memory and SQL implementations.
package store

import (
	"context"
	"time"

	"github.com/efreitasn/bourse/internal/domain"
)

// OrderFilter narrows ListOrders. Zero values mean "any". Page is 1-based;
// Limit 0 returns every match.
type OrderFilter struct {
	Status    *domain.OrderStatus
	BuyerID   string
	ProductID string
	Page      int
	Limit     int
}

func (f OrderFilter) matches(o *domain.Order) bool {
	if f.Status != nil && o.Status != *f.Status {
		return false
	}
	if f.BuyerID != "" && o.BuyerID != f.BuyerID {
		return false
	}
	if f.ProductID != "" && o.ProductID != f.ProductID {
		return false
	}
	return true
}

// Snapshot is a consistent view of every product together with the order
// aggregates, all read at the same instant.
type Snapshot struct {
	Products      []*domain.Product
	PendingDemand map[string]int64 // product_id → Σ quantity of pending orders
	Counts        domain.StatusCounts
	TakenAt       time.Time
}

// Store is what the ledger needs from its backing store. InsertOrder and
// TransitionOrder are the only primitives that touch market counters and
// each one commits the order change and the counter change together.
type Store interface {
	CreateProduct(ctx context.Context, p *domain.Product) error
	// UpdateProduct applies fn to the stored product and persists the result
	// if fn returns nil and the product still validates.
	UpdateProduct(ctx context.Context, productID string, fn func(p *domain.Product) error) (*domain.Product, error)
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]*domain.Product, error)

	// InsertOrder stores a pending order and adds its quantity to the
	// product's demand. It fails with domain.ErrOutOfStock when the product
	// has no stock at commit time.
	InsertOrder(ctx context.Context, o *domain.Order) (*domain.Product, error)
	// TransitionOrder moves an order from t.From to t.To and applies the
	// stock and demand deltas. It fails with domain.ErrInvalidTransition if
	// the stored status is not t.From, and with domain.ErrInsufficientStock
	// if a match would drive stock negative.
	TransitionOrder(ctx context.Context, t domain.OrderTransition) (*domain.Order, *domain.Product, error)
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	// ListOrders returns matching orders newest first and the total number
	// of matches before pagination.
	ListOrders(ctx context.Context, f OrderFilter) ([]*domain.Order, int, error)

	Snapshot(ctx context.Context) (*Snapshot, error)
	Close() error
}

// paginate slices an already filtered, newest-first list.
func paginate[T any](items []T, page, limit int) []T {
	if limit <= 0 {
		return items
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * limit
	if start >= len(items) {
		return []T{}
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
