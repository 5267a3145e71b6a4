package engine

import (
	"context"
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"github.com/efreitasn/bourse/internal/domain"
	"github.com/efreitasn/bourse/internal/store"
)

// After any sequence of placements, matches and cancellations, each
// product's demand counter equals the quantity held by its pending orders,
// stock never goes negative and the quoted price stays inside its bounds.
func TestProperty_DemandEqualsPendingQuantity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		l, st, _ := newTestLedger(t)
		ctx := context.Background()
		products := []string{"p1", "p2", "p3"}
		for _, id := range products {
			seedProduct(t, st, id, "10", rapid.Int64Range(0, 60).Draw(t, "stock-"+id))
		}

		var placed []*domain.Order
		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			switch op := rapid.IntRange(0, 2).Draw(t, fmt.Sprintf("op-%d", i)); {
			case op == 0 || len(placed) == 0:
				id := rapid.SampledFrom(products).Draw(t, fmt.Sprintf("product-%d", i))
				qty := rapid.Int64Range(1, 30).Draw(t, fmt.Sprintf("qty-%d", i))
				ms, err := l.GetMarketState(ctx, id)
				if err != nil {
					t.Fatalf("GetMarketState: %v", err)
				}
				o, _, err := l.PlaceOrder(ctx, PlaceOrderRequest{ProductID: id, BuyerID: "b", Quantity: qty, ObservedPrice: ms.DynamicPrice})
				if err == nil {
					placed = append(placed, o)
				}
			default:
				o := rapid.SampledFrom(placed).Draw(t, fmt.Sprintf("order-%d", i))
				status := domain.OrderStatusCancelled
				if op == 1 {
					status = domain.OrderStatusMatched
				}
				l.SetOrderStatus(ctx, o.OrderID, status, "op")
			}
		}

		pending := map[string]int64{}
		orders, _, err := l.ListOrders(ctx, store.OrderFilter{})
		if err != nil {
			t.Fatalf("ListOrders: %v", err)
		}
		for _, o := range orders {
			if o.Status == domain.OrderStatusPending {
				pending[o.ProductID] += o.Quantity
			}
		}

		states, err := l.ListMarketStates(ctx)
		if err != nil {
			t.Fatalf("ListMarketStates: %v", err)
		}
		for _, ms := range states {
			if ms.TotalProDemand != pending[ms.ProductID] {
				t.Fatalf("%s: TotalProDemand = %d, pending sum = %d", ms.ProductID, ms.TotalProDemand, pending[ms.ProductID])
			}
			if ms.StockAvailable < 0 {
				t.Fatalf("%s: negative stock %d", ms.ProductID, ms.StockAvailable)
			}
			if ms.DynamicPrice.LessThan(ms.MinPrice) || ms.DynamicPrice.GreaterThan(ms.MaxPrice) {
				t.Fatalf("%s: price %s outside [%s, %s]", ms.ProductID, ms.DynamicPrice, ms.MinPrice, ms.MaxPrice)
			}
		}
	})
}
