package service

import (
	"context"
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/bourse/internal/domain"
	"github.com/efreitasn/bourse/internal/engine"
	"github.com/efreitasn/bourse/internal/store"
)

var actorIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// PlaceOrderRequest represents the input for order placement.
type PlaceOrderRequest struct {
	ProductID     string
	BuyerID       string
	Quantity      int64
	ObservedPrice *decimal.Decimal // required
}

// ListOrdersRequest represents the filters and pagination of an order listing.
type ListOrdersRequest struct {
	Status    string
	BuyerID   string
	ProductID string
	Page      int
	Limit     int
}

// OrderService handles order placement, status changes and listing.
type OrderService struct {
	ledger *engine.Ledger
}

// NewOrderService creates a new OrderService.
func NewOrderService(ledger *engine.Ledger) *OrderService {
	return &OrderService{ledger: ledger}
}

// PlaceOrder validates the request and places a pending order at the
// price the buyer observed.
func (s *OrderService) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*domain.Order, *domain.MarketState, error) {
	if !productIDRegex.MatchString(req.ProductID) {
		return nil, nil, &domain.ValidationError{Message: "product_id must match ^[a-zA-Z0-9_-]{1,64}$"}
	}
	if !actorIDRegex.MatchString(req.BuyerID) {
		return nil, nil, &domain.ValidationError{Message: "buyer_id must match ^[a-zA-Z0-9_-]{1,64}$"}
	}
	if req.Quantity <= 0 {
		return nil, nil, &domain.ValidationError{Message: "quantity must be a positive integer"}
	}
	if req.Quantity > domain.MaxOrderQuantity {
		return nil, nil, &domain.ValidationError{Message: fmt.Sprintf("quantity must be at most %d", domain.MaxOrderQuantity)}
	}
	if req.ObservedPrice == nil {
		return nil, nil, &domain.ValidationError{Message: "observed_price is required"}
	}
	if !req.ObservedPrice.IsPositive() {
		return nil, nil, &domain.ValidationError{Message: "observed_price must be greater than 0"}
	}

	return s.ledger.PlaceOrder(ctx, engine.PlaceOrderRequest{
		ProductID:     req.ProductID,
		BuyerID:       req.BuyerID,
		Quantity:      req.Quantity,
		ObservedPrice: *req.ObservedPrice,
	})
}

// SetOrderStatus applies an operator's status change.
func (s *OrderService) SetOrderStatus(ctx context.Context, orderID, status, actorID string) (*domain.Order, *domain.MarketState, error) {
	to, ok := domain.ParseOrderStatus(status)
	if !ok {
		return nil, nil, &domain.ValidationError{
			Message: fmt.Sprintf("Unknown status: '%s'. Must be one of: matched, cancelled", status),
		}
	}
	if !actorIDRegex.MatchString(actorID) {
		return nil, nil, &domain.ValidationError{Message: "actor_id must match ^[a-zA-Z0-9_-]{1,64}$"}
	}
	return s.ledger.SetOrderStatus(ctx, orderID, to, actorID)
}

// CancelOrder cancels the buyer's own pending order.
func (s *OrderService) CancelOrder(ctx context.Context, orderID, buyerID string) (*domain.Order, *domain.MarketState, error) {
	if !actorIDRegex.MatchString(buyerID) {
		return nil, nil, &domain.ValidationError{Message: "buyer_id must match ^[a-zA-Z0-9_-]{1,64}$"}
	}
	return s.ledger.CancelOrder(ctx, orderID, buyerID)
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.ledger.GetOrder(ctx, orderID)
}

// ListOrders returns a page of orders, newest first, and the total number
// of matches.
func (s *OrderService) ListOrders(ctx context.Context, req ListOrdersRequest) ([]*domain.Order, int, error) {
	f := store.OrderFilter{
		BuyerID:   req.BuyerID,
		ProductID: req.ProductID,
		Page:      req.Page,
		Limit:     req.Limit,
	}
	if req.Status != "" {
		st, ok := domain.ParseOrderStatus(req.Status)
		if !ok {
			return nil, 0, &domain.ValidationError{
				Message: fmt.Sprintf("Invalid status filter: '%s'. Must be one of: pending, matched, cancelled", req.Status),
			}
		}
		f.Status = &st
	}
	if req.Page < 1 {
		return nil, 0, &domain.ValidationError{Message: "page must be >= 1"}
	}
	if req.Limit < 1 || req.Limit > 100 {
		return nil, 0, &domain.ValidationError{Message: "limit must be between 1 and 100"}
	}
	return s.ledger.ListOrders(ctx, f)
}
