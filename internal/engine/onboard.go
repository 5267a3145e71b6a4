package engine

import (
	"context"

	"github.com/efreitasn/bourse/internal/domain"
)

// CreateProduct stores a new product and announces its market.
func (l *Ledger) CreateProduct(ctx context.Context, p *domain.Product) (*domain.MarketState, error) {
	mu := l.locks.GetOrCreate(p.ProductID)
	mu.Lock()
	_, err := withRetry(ctx, l.retry, l.logger, l.metrics, "create_product", func() (struct{}, error) {
		return struct{}{}, l.store.CreateProduct(ctx, p)
	})
	mu.Unlock()
	if err != nil {
		return nil, err
	}

	l.logger.Info("product onboarded",
		"product_id", p.ProductID,
		"base_price", p.BasePrice.String(),
		"stock_available", p.StockAvailable,
	)
	ms := l.PublishMarket(p)
	return &ms, nil
}

// UpdateProduct applies an onboarding change (new base price, restock) to a
// product under its lock. The demand counter is never touched here.
func (l *Ledger) UpdateProduct(ctx context.Context, productID string, fn func(p *domain.Product) error) (*domain.MarketState, error) {
	mu := l.locks.GetOrCreate(productID)
	mu.Lock()
	p, err := withRetry(ctx, l.retry, l.logger, l.metrics, "update_product", func() (*domain.Product, error) {
		return l.store.UpdateProduct(ctx, productID, fn)
	})
	mu.Unlock()
	if err != nil {
		return nil, err
	}

	l.logger.Info("product updated",
		"product_id", p.ProductID,
		"base_price", p.BasePrice.String(),
		"stock_available", p.StockAvailable,
	)
	ms := l.PublishMarket(p)
	return &ms, nil
}
