package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"github.com/efreitasn/bourse/internal/domain"
)

func genStrategy() *rapid.Generator[Strategy] {
	return rapid.Custom(func(t *rapid.T) Strategy {
		scale := rapid.Float64Range(0, 3).Draw(t, "scale")
		if rapid.Bool().Draw(t, "log") {
			return Logarithmic{Scale: scale}
		}
		return Linear{Scale: scale}
	})
}

func genProduct() *rapid.Generator[domain.Product] {
	return rapid.Custom(func(t *rapid.T) domain.Product {
		cents := rapid.Int64Range(1, 10_000_000).Draw(t, "baseCents")
		return domain.Product{
			ProductID:      "p",
			BasePrice:      decimal.New(cents, -2),
			StockAvailable: rapid.Int64Range(0, 1_000_000).Draw(t, "stock"),
			TotalProDemand: rapid.Int64Range(0, 10_000_000).Draw(t, "demand"),
		}
	})
}

// Dynamic price always lies within [0.7 × base, 1.3 × base].
func TestProperty_PriceWithinBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		e := NewEngine(genStrategy().Draw(t, "strategy"), decimal.Zero)
		p := genProduct().Draw(t, "product")

		ms := e.Quote(p)

		if !ms.MinPrice.Equal(p.BasePrice.Mul(decimal.RequireFromString("0.7"))) {
			t.Fatalf("MinPrice %s != 0.7 × %s", ms.MinPrice, p.BasePrice)
		}
		if !ms.MaxPrice.Equal(p.BasePrice.Mul(decimal.RequireFromString("1.3"))) {
			t.Fatalf("MaxPrice %s != 1.3 × %s", ms.MaxPrice, p.BasePrice)
		}
		if ms.DynamicPrice.LessThan(ms.MinPrice) || ms.DynamicPrice.GreaterThan(ms.MaxPrice) {
			t.Fatalf("DynamicPrice %s outside [%s, %s]", ms.DynamicPrice, ms.MinPrice, ms.MaxPrice)
		}
		if ms.VariationPercent.Abs().GreaterThan(decimal.NewFromInt(30)) {
			t.Fatalf("VariationPercent %s beyond ±30", ms.VariationPercent)
		}
	})
}

// More demand against the same stock never lowers the price.
func TestProperty_PriceMonotoneInDemand(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		e := NewEngine(genStrategy().Draw(t, "strategy"), decimal.Zero)
		p := genProduct().Draw(t, "product")
		extra := rapid.Int64Range(0, 1_000_000).Draw(t, "extra")

		more := p
		more.TotalProDemand += extra

		lo, hi := e.Quote(p).DynamicPrice, e.Quote(more).DynamicPrice
		if hi.LessThan(lo) {
			t.Fatalf("price fell from %s to %s when demand rose by %d", lo, hi, extra)
		}
	})
}
