package pricing

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/bourse/internal/domain"
)

// MaxDemandFactor bounds how far demand can move the price from base.
const MaxDemandFactor = 0.30

// PriceDecimals is the precision of a quoted dynamic price.
const PriceDecimals = domain.PriceDecimals

var hundred = decimal.NewFromInt(100)

// Engine computes dynamic prices. It holds no market state and is safe for
// concurrent use.
type Engine struct {
	strategy  Strategy
	tolerance decimal.Decimal
}

// NewEngine creates an Engine. tolerance is the largest absolute difference
// between a buyer's observed price and the live price that still counts as
// current.
func NewEngine(strategy Strategy, tolerance decimal.Decimal) *Engine {
	return &Engine{strategy: strategy, tolerance: tolerance.Abs()}
}

// Strategy returns the configured strategy.
func (e *Engine) Strategy() Strategy {
	return e.strategy
}

// Quote prices a product snapshot. The product's base price must be > 0.
func (e *Engine) Quote(p domain.Product) domain.MarketState {
	minPrice := p.MinPrice()
	maxPrice := p.MaxPrice()

	var price decimal.Decimal
	if p.StockAvailable <= 0 {
		// Out of stock is as hot as a product gets.
		price = maxPrice
	} else {
		factor := e.DemandFactor(p.TotalProDemand, p.StockAvailable)
		price = p.BasePrice.Mul(decimal.NewFromFloat(1 + factor)).Round(PriceDecimals)
	}

	if price.LessThan(minPrice) {
		price = minPrice
	}
	if price.GreaterThan(maxPrice) {
		price = maxPrice
	}

	return domain.MarketState{
		Product:          p,
		MinPrice:         minPrice,
		MaxPrice:         maxPrice,
		DynamicPrice:     price,
		VariationPercent: Variation(p.BasePrice, price),
	}
}

// DemandFactor returns the clamped factor for the given demand and stock.
// Stock below one counts as one so the ratio cannot diverge.
func (e *Engine) DemandFactor(demand, stock int64) float64 {
	if stock < 1 {
		stock = 1
	}
	pressure := float64(demand) / float64(stock)
	f := e.strategy.DemandFactor(pressure)
	if math.IsNaN(f) {
		return 0
	}
	return math.Max(-MaxDemandFactor, math.Min(MaxDemandFactor, f))
}

// WithinTolerance reports whether an observed price still matches the
// current one.
func (e *Engine) WithinTolerance(observed, current decimal.Decimal) bool {
	return observed.Sub(current).Abs().LessThanOrEqual(e.tolerance)
}

// Variation returns (price − base) / base × 100.
func Variation(base, price decimal.Decimal) decimal.Decimal {
	if base.IsZero() {
		return decimal.Zero
	}
	return price.Sub(base).Div(base).Mul(hundred)
}
