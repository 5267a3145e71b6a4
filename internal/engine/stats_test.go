package engine

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/bourse/internal/domain"
)

func TestAggregator_ScenarioE_Counts(t *testing.T) {
	l, st, _ := newTestLedger(t)
	seedProduct(t, st, "p1", "10", 1000)
	ctx := context.Background()

	var orders []*domain.Order
	for i := 0; i < 6; i++ {
		orders = append(orders, placeAtMarket(t, l, "p1", "buyer", 1))
	}
	for _, o := range orders[:2] {
		if _, _, err := l.SetOrderStatus(ctx, o.OrderID, domain.OrderStatusMatched, "op"); err != nil {
			t.Fatal(err)
		}
	}
	if _, _, err := l.SetOrderStatus(ctx, orders[2].OrderID, domain.OrderStatusCancelled, "op"); err != nil {
		t.Fatal(err)
	}

	stats, err := NewAggregator(st, newTestPricing(), nil, discardLogger(), testRetry).Compute(ctx)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	want := domain.StatusCounts{Pending: 3, Matched: 2, Cancelled: 1, Total: 6}
	if stats.Counts != want {
		t.Errorf("Counts = %+v, want %+v", stats.Counts, want)
	}
}

func TestAggregator_Rankings(t *testing.T) {
	l, st, _ := newTestLedger(t)
	seedProduct(t, st, "a", "10", 100)
	seedProduct(t, st, "b", "10", 100)
	seedProduct(t, st, "c", "10", 100)
	seedProduct(t, st, "d", "10", 0) // out of stock: +30%
	seedProduct(t, st, "e", "10", 100)

	placeAtMarket(t, l, "b", "x", 50) // +10%
	placeAtMarket(t, l, "c", "x", 50) // +10%, ties b
	placeAtMarket(t, l, "a", "x", 10) // +2%

	stats, err := NewAggregator(st, newTestPricing(), nil, discardLogger(), testRetry).Compute(context.Background())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	wantDemand := []string{"b", "c", "a"}
	if len(stats.TopDemand) != TopN {
		t.Fatalf("TopDemand = %+v", stats.TopDemand)
	}
	for i, id := range wantDemand {
		if stats.TopDemand[i].ProductID != id {
			t.Errorf("TopDemand[%d] = %s, want %s", i, stats.TopDemand[i].ProductID, id)
		}
	}
	if stats.TopDemand[0].TotalDemand != 50 || stats.TopDemand[0].ProductName != "Product b" {
		t.Errorf("TopDemand[0] = %+v", stats.TopDemand[0])
	}

	wantVariation := []string{"d", "b", "c"}
	for i, id := range wantVariation {
		if stats.TopVariation[i].ProductID != id {
			t.Errorf("TopVariation[%d] = %s, want %s", i, stats.TopVariation[i].ProductID, id)
		}
	}
	if !stats.TopVariation[0].VariationPercent.Equal(decimal.NewFromInt(30)) {
		t.Errorf("TopVariation[0] = %s, want 30", stats.TopVariation[0].VariationPercent)
	}
}

func TestVariationLess_SignPreservedMagnitudeRanked(t *testing.T) {
	neg := domain.VariationEntry{ProductID: "z", VariationPercent: decimal.NewFromInt(-25)}
	pos := domain.VariationEntry{ProductID: "a", VariationPercent: decimal.NewFromInt(10)}
	if !variationLess(neg, pos) {
		t.Error("-25% should rank ahead of +10%")
	}
	tieA := domain.VariationEntry{ProductID: "a", VariationPercent: decimal.NewFromInt(-5)}
	tieB := domain.VariationEntry{ProductID: "b", VariationPercent: decimal.NewFromInt(5)}
	if !variationLess(tieA, tieB) || variationLess(tieB, tieA) {
		t.Error("equal magnitude should tie-break by product_id")
	}
}

func TestAggregator_FewerProductsThanTopN(t *testing.T) {
	_, st, _ := newTestLedger(t)
	seedProduct(t, st, "only", "5", 1)

	stats, err := NewAggregator(st, newTestPricing(), nil, discardLogger(), testRetry).Compute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(stats.TopDemand) != 1 || len(stats.TopVariation) != 1 {
		t.Errorf("rankings = %+v / %+v", stats.TopDemand, stats.TopVariation)
	}
	if stats.Counts.Total != 0 {
		t.Errorf("Total = %d, want 0", stats.Counts.Total)
	}
}
