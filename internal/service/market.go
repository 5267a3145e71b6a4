package service

import (
	"context"
	"regexp"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/bourse/internal/domain"
	"github.com/efreitasn/bourse/internal/engine"
)

var productIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// CreateProductRequest represents the input for product onboarding.
type CreateProductRequest struct {
	ProductID      string
	Name           string
	BasePrice      decimal.Decimal
	StockAvailable int64
}

// MarketService handles product onboarding and market reads.
type MarketService struct {
	ledger *engine.Ledger
}

// NewMarketService creates a new MarketService.
func NewMarketService(ledger *engine.Ledger) *MarketService {
	return &MarketService{ledger: ledger}
}

// CreateProduct validates and onboards a product with zero demand.
func (s *MarketService) CreateProduct(ctx context.Context, req CreateProductRequest) (*domain.MarketState, error) {
	if !productIDRegex.MatchString(req.ProductID) {
		return nil, &domain.ValidationError{Message: "product_id must match ^[a-zA-Z0-9_-]{1,64}$"}
	}
	if len(req.Name) > 255 {
		return nil, &domain.ValidationError{Message: "name must be at most 255 characters"}
	}
	p, err := domain.NewProduct(req.ProductID, req.Name, req.BasePrice, req.StockAvailable)
	if err != nil {
		return nil, err
	}
	return s.ledger.CreateProduct(ctx, p)
}

// Reprice sets a new base price. The price bounds move with it.
func (s *MarketService) Reprice(ctx context.Context, productID string, basePrice decimal.Decimal) (*domain.MarketState, error) {
	return s.ledger.UpdateProduct(ctx, productID, func(p *domain.Product) error {
		p.BasePrice = basePrice
		return nil
	})
}

// Restock adds quantity units to the available stock.
func (s *MarketService) Restock(ctx context.Context, productID string, quantity int64) (*domain.MarketState, error) {
	if quantity <= 0 {
		return nil, &domain.ValidationError{Message: "quantity must be a positive integer"}
	}
	return s.ledger.UpdateProduct(ctx, productID, func(p *domain.Product) error {
		p.StockAvailable += quantity
		return nil
	})
}

func (s *MarketService) GetMarketState(ctx context.Context, productID string) (*domain.MarketState, error) {
	return s.ledger.GetMarketState(ctx, productID)
}

func (s *MarketService) ListMarketStates(ctx context.Context) ([]domain.MarketState, error) {
	return s.ledger.ListMarketStates(ctx)
}
