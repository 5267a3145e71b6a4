package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// PriceDecimals is the precision of every quoted price. Base prices may
// not be finer than this.
const PriceDecimals = 2

var (
	minPriceRatio = decimal.RequireFromString("0.7")
	maxPriceRatio = decimal.RequireFromString("1.3")
)

// Product is the persisted market row of one tradable product. Price and
// demand fields are only changed by the order ledger; BasePrice and
// StockAvailable may also change through onboarding events.
type Product struct {
	ProductID      string
	Name           string
	BasePrice      decimal.Decimal
	StockAvailable int64
	TotalProDemand int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewProduct builds a product with zero demand, enforcing the onboarding
// invariants. It returns a *ConfigError for an empty id, a base price that
// is not a positive amount in whole cents, or negative stock.
func NewProduct(id, name string, basePrice decimal.Decimal, stock int64) (*Product, error) {
	p := &Product{
		ProductID:      id,
		Name:           name,
		BasePrice:      basePrice,
		StockAvailable: stock,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	return p, nil
}

// Validate checks the non-negative invariants of a product row.
func (p *Product) Validate() error {
	if p.ProductID == "" {
		return &ConfigError{Field: "product_id", Err: errors.New("must not be empty")}
	}
	if !p.BasePrice.IsPositive() {
		return &ConfigError{Field: "base_price", Err: errors.New("must be greater than 0")}
	}
	if !p.BasePrice.Equal(p.BasePrice.Round(PriceDecimals)) {
		return &ConfigError{Field: "base_price", Err: errors.New("must have at most 2 decimal places")}
	}
	if p.StockAvailable < 0 {
		return &ConfigError{Field: "stock_available", Err: errors.New("must be >= 0")}
	}
	if p.TotalProDemand < 0 {
		return &ConfigError{Field: "total_pro_demand", Err: errors.New("must be >= 0")}
	}
	return nil
}

// MinPrice is the lower price bound, 70% of the base price.
func (p *Product) MinPrice() decimal.Decimal {
	return p.BasePrice.Mul(minPriceRatio)
}

// MaxPrice is the upper price bound, 130% of the base price.
func (p *Product) MaxPrice() decimal.Decimal {
	return p.BasePrice.Mul(maxPriceRatio)
}

// InStock reports whether at least one unit is available.
func (p *Product) InStock() bool {
	return p.StockAvailable > 0
}

// MarketState is a priced view of a product. It is always derived from a
// committed Product snapshot and never stored.
type MarketState struct {
	Product
	MinPrice         decimal.Decimal
	MaxPrice         decimal.Decimal
	DynamicPrice     decimal.Decimal
	VariationPercent decimal.Decimal
}
