package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatusCounts tallies orders per status.
type StatusCounts struct {
	Pending   int64
	Matched   int64
	Cancelled int64
	Total     int64
}

// Add records n orders in status s.
func (c *StatusCounts) Add(s OrderStatus, n int64) {
	switch s {
	case OrderStatusPending:
		c.Pending += n
	case OrderStatusMatched:
		c.Matched += n
	case OrderStatusCancelled:
		c.Cancelled += n
	default:
		return
	}
	c.Total += n
}

// DemandEntry is one row of the top-demand ranking.
type DemandEntry struct {
	ProductID   string
	ProductName string
	TotalDemand int64
}

// VariationEntry is one row of the top-variation ranking. The sign of
// VariationPercent is preserved.
type VariationEntry struct {
	ProductID        string
	ProductName      string
	VariationPercent decimal.Decimal
}

// BourseStats is a read-only summary of the ledger and the markets.
type BourseStats struct {
	Counts       StatusCounts
	TopDemand    []DemandEntry
	TopVariation []VariationEntry
	ComputedAt   time.Time
}

// MarketEvent is published after every committed ledger mutation.
type MarketEvent struct {
	Type   string // market.updated, order.placed, order.matched, order.cancelled
	Market MarketState
	Order  *Order
	At     time.Time
}

// Event types carried by MarketEvent.
const (
	EventMarketUpdated  = "market.updated"
	EventOrderPlaced    = "order.placed"
	EventOrderMatched   = "order.matched"
	EventOrderCancelled = "order.cancelled"
)
