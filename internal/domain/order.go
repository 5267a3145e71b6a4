package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxOrderQuantity is the largest quantity a single order may request.
const MaxOrderQuantity int64 = 1_000_000_000

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusMatched   OrderStatus = "matched"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderStatuses lists every status in display order.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusMatched,
	OrderStatusCancelled,
}

// ParseOrderStatus converts s into an OrderStatus, rejecting anything
// outside the closed set.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	switch OrderStatus(s) {
	case OrderStatusPending, OrderStatusMatched, OrderStatusCancelled:
		return OrderStatus(s), true
	}
	return "", false
}

// IsTerminal reports whether no transition leaves this status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusMatched || s == OrderStatusCancelled
}

// CanTransition reports whether s → to is a legal ledger transition.
// Only pending orders move, and only to a terminal status.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	return s == OrderStatusPending && to.IsTerminal()
}

// Order is a buyer's purchase request against a product's dynamic price.
type Order struct {
	OrderID    string
	ProductID  string
	BuyerID    string
	Quantity   int64
	UnitPrice  decimal.Decimal // dynamic price at submission
	Status     OrderStatus
	CreatedAt  time.Time
	ResolvedAt *time.Time // nil while pending
	ResolvedBy string     // operator or buyer that closed the order
}

// TotalAmount returns quantity × unit price.
func (o *Order) TotalAmount() decimal.Decimal {
	return o.UnitPrice.Mul(decimal.NewFromInt(o.Quantity))
}

// OrderTransition describes one status change together with the counter
// adjustments the store must apply in the same atomic unit.
type OrderTransition struct {
	OrderID string
	From    OrderStatus
	To      OrderStatus
	ActorID string
	At      time.Time
}

// DemandDelta returns the change to the product's pending demand.
// Leaving pending always releases the order's quantity.
func (t OrderTransition) DemandDelta(quantity int64) int64 {
	if t.From == OrderStatusPending && t.To.IsTerminal() {
		return -quantity
	}
	return 0
}

// StockDelta returns the change to the product's available stock.
// Only a match consumes stock.
func (t OrderTransition) StockDelta(quantity int64) int64 {
	if t.To == OrderStatusMatched {
		return -quantity
	}
	return 0
}
