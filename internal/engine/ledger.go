// Package engine holds the order ledger and the read-side computations built
// on top of it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/bourse/internal/domain"
	"github.com/efreitasn/bourse/internal/metrics"
	"github.com/efreitasn/bourse/internal/pricing"
	"github.com/efreitasn/bourse/internal/store"
)

// Publisher receives an event after every committed ledger mutation.
// Publish is called outside the product lock and must not block.
type Publisher interface {
	Publish(ev domain.MarketEvent)
}

// Publishers fans one event out to several publishers in order.
type Publishers []Publisher

func (ps Publishers) Publish(ev domain.MarketEvent) {
	for _, p := range ps {
		if p != nil {
			p.Publish(ev)
		}
	}
}

// PlaceOrderRequest holds the buyer-supplied fields of a new order.
// ObservedPrice is the dynamic price the buyer was shown.
type PlaceOrderRequest struct {
	ProductID     string
	BuyerID       string
	Quantity      int64
	ObservedPrice decimal.Decimal
}

// Ledger owns every order status change and is the only writer of the
// demand and stock counters.
type Ledger struct {
	store     store.Store
	pricing   *pricing.Engine
	locks     *LockManager
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	retry     RetryPolicy
	now       func() time.Time
}

// NewLedger creates a Ledger. publisher and m may be nil.
func NewLedger(
	st store.Store,
	pe *pricing.Engine,
	publisher Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
	retry RetryPolicy,
) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:     st,
		pricing:   pe,
		locks:     NewLockManager(),
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		retry:     retry,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Locks exposes the per-product lock table. Onboarding writes that change
// a product row take the same lock as the ledger.
func (l *Ledger) Locks() *LockManager {
	return l.locks
}

// Pricing returns the engine used to quote markets.
func (l *Ledger) Pricing() *pricing.Engine {
	return l.pricing
}

// PlaceOrder validates a buyer's order against the live market and stores
// it as pending, raising the product's demand by the order quantity.
func (l *Ledger) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*domain.Order, *domain.MarketState, error) {
	if req.Quantity <= 0 {
		return nil, nil, l.reject("place", req.ProductID, &domain.ValidationError{Message: "quantity must be greater than 0"})
	}
	if req.Quantity > domain.MaxOrderQuantity {
		return nil, nil, l.reject("place", req.ProductID, &domain.ValidationError{
			Message: fmt.Sprintf("quantity must be at most %d", domain.MaxOrderQuantity),
		})
	}

	mu := l.locks.GetOrCreate(req.ProductID)
	mu.Lock()

	p, err := withRetry(ctx, l.retry, l.logger, l.metrics, "get_product", func() (*domain.Product, error) {
		return l.store.GetProduct(ctx, req.ProductID)
	})
	if err != nil {
		mu.Unlock()
		return nil, nil, l.reject("place", req.ProductID, err)
	}
	if !p.InStock() {
		mu.Unlock()
		return nil, nil, l.reject("place", req.ProductID, domain.ErrOutOfStock)
	}

	quote := l.pricing.Quote(*p)
	if !l.pricing.WithinTolerance(req.ObservedPrice, quote.DynamicPrice) {
		mu.Unlock()
		return nil, nil, l.reject("place", req.ProductID, fmt.Errorf("%w: observed %s, current %s",
			domain.ErrPriceStale, req.ObservedPrice.StringFixed(pricing.PriceDecimals), quote.DynamicPrice.StringFixed(pricing.PriceDecimals)))
	}

	order := &domain.Order{
		OrderID:   uuid.New().String(),
		ProductID: req.ProductID,
		BuyerID:   req.BuyerID,
		Quantity:  req.Quantity,
		UnitPrice: quote.DynamicPrice,
		Status:    domain.OrderStatusPending,
		CreatedAt: l.now(),
	}
	updated, err := withRetry(ctx, l.retry, l.logger, l.metrics, "insert_order", func() (*domain.Product, error) {
		return l.store.InsertOrder(ctx, order)
	})
	mu.Unlock()
	if err != nil {
		return nil, nil, l.reject("place", req.ProductID, err)
	}

	ms := l.pricing.Quote(*updated)
	l.metrics.OrderPlaced()
	l.logger.Info("order placed",
		"order_id", order.OrderID,
		"product_id", order.ProductID,
		"buyer_id", order.BuyerID,
		"quantity", order.Quantity,
		"unit_price", order.UnitPrice.String(),
		"total_pro_demand", updated.TotalProDemand,
	)
	l.publish(domain.EventOrderPlaced, ms, order)
	return order, &ms, nil
}

// SetOrderStatus moves a pending order to matched or cancelled on behalf of
// actorID. Matching consumes stock; both release the order's demand.
func (l *Ledger) SetOrderStatus(ctx context.Context, orderID string, to domain.OrderStatus, actorID string) (*domain.Order, *domain.MarketState, error) {
	return l.transition(ctx, orderID, to, actorID, nil)
}

// CancelOrder cancels a pending order on behalf of the buyer who placed it.
func (l *Ledger) CancelOrder(ctx context.Context, orderID, buyerID string) (*domain.Order, *domain.MarketState, error) {
	return l.transition(ctx, orderID, domain.OrderStatusCancelled, buyerID, func(o *domain.Order) error {
		if o.BuyerID != buyerID {
			return domain.ErrNotOrderOwner
		}
		return nil
	})
}

func (l *Ledger) transition(
	ctx context.Context,
	orderID string,
	to domain.OrderStatus,
	actorID string,
	authorize func(o *domain.Order) error,
) (*domain.Order, *domain.MarketState, error) {
	if !to.IsTerminal() {
		return nil, nil, l.reject("transition", "", fmt.Errorf("%w: cannot move an order to %q", domain.ErrInvalidTransition, to))
	}

	// The product id is needed to pick the lock; the status is re-read under it.
	o, err := l.getOrder(ctx, orderID)
	if err != nil {
		return nil, nil, l.reject("transition", "", err)
	}
	if authorize != nil {
		if err := authorize(o); err != nil {
			return nil, nil, l.reject("transition", o.ProductID, err)
		}
	}

	mu := l.locks.GetOrCreate(o.ProductID)
	mu.Lock()

	current, err := l.getOrder(ctx, orderID)
	if err != nil {
		mu.Unlock()
		return nil, nil, l.reject("transition", o.ProductID, err)
	}
	if !current.Status.CanTransition(to) {
		mu.Unlock()
		return nil, nil, l.reject("transition", o.ProductID, fmt.Errorf("%w: order is %s", domain.ErrInvalidTransition, current.Status))
	}

	t := domain.OrderTransition{
		OrderID: orderID,
		From:    current.Status,
		To:      to,
		ActorID: actorID,
		At:      l.now(),
	}
	type result struct {
		order   *domain.Order
		product *domain.Product
	}
	res, err := withRetry(ctx, l.retry, l.logger, l.metrics, "transition_order", func() (result, error) {
		order, product, err := l.store.TransitionOrder(ctx, t)
		return result{order, product}, err
	})
	mu.Unlock()
	if err != nil {
		return nil, nil, l.reject("transition", o.ProductID, err)
	}

	ms := l.pricing.Quote(*res.product)
	l.metrics.OrderTransitioned(string(to))
	l.logger.Info("order status changed",
		"order_id", orderID,
		"product_id", res.order.ProductID,
		"from", t.From,
		"to", t.To,
		"actor_id", actorID,
		"stock_available", res.product.StockAvailable,
		"total_pro_demand", res.product.TotalProDemand,
	)
	ev := domain.EventOrderCancelled
	if to == domain.OrderStatusMatched {
		ev = domain.EventOrderMatched
	}
	l.publish(ev, ms, res.order)
	return res.order, &ms, nil
}

// GetMarketState returns the priced view of one product.
func (l *Ledger) GetMarketState(ctx context.Context, productID string) (*domain.MarketState, error) {
	p, err := withRetry(ctx, l.retry, l.logger, l.metrics, "get_product", func() (*domain.Product, error) {
		return l.store.GetProduct(ctx, productID)
	})
	if err != nil {
		return nil, err
	}
	ms := l.pricing.Quote(*p)
	return &ms, nil
}

// ListMarketStates returns every product priced, ordered by product_id.
func (l *Ledger) ListMarketStates(ctx context.Context) ([]domain.MarketState, error) {
	products, err := withRetry(ctx, l.retry, l.logger, l.metrics, "list_products", func() ([]*domain.Product, error) {
		return l.store.ListProducts(ctx)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.MarketState, len(products))
	for i, p := range products {
		out[i] = l.pricing.Quote(*p)
	}
	return out, nil
}

// GetOrder returns a committed order.
func (l *Ledger) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return l.getOrder(ctx, orderID)
}

// ListOrders returns matching orders newest first and the total count.
func (l *Ledger) ListOrders(ctx context.Context, f store.OrderFilter) ([]*domain.Order, int, error) {
	type page struct {
		orders []*domain.Order
		total  int
	}
	res, err := withRetry(ctx, l.retry, l.logger, l.metrics, "list_orders", func() (page, error) {
		orders, total, err := l.store.ListOrders(ctx, f)
		return page{orders, total}, err
	})
	if err != nil {
		return nil, 0, err
	}
	return res.orders, res.total, nil
}

// PublishMarket announces a market change that did not come from an order,
// such as a restock or a new base price.
func (l *Ledger) PublishMarket(p *domain.Product) domain.MarketState {
	ms := l.pricing.Quote(*p)
	l.publish(domain.EventMarketUpdated, ms, nil)
	return ms
}

func (l *Ledger) getOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return withRetry(ctx, l.retry, l.logger, l.metrics, "get_order", func() (*domain.Order, error) {
		return l.store.GetOrder(ctx, orderID)
	})
}

func (l *Ledger) publish(eventType string, ms domain.MarketState, o *domain.Order) {
	if l.publisher == nil {
		return
	}
	l.publisher.Publish(domain.MarketEvent{
		Type:   eventType,
		Market: ms,
		Order:  o,
		At:     l.now(),
	})
}

// reject records a failed ledger operation and returns err unchanged.
func (l *Ledger) reject(op, productID string, err error) error {
	reason := rejectionReason(err)
	l.metrics.Rejected(reason)
	level := slog.LevelDebug
	if reason == "unavailable" || reason == "internal" {
		level = slog.LevelError
	}
	l.logger.Log(context.Background(), level, "ledger operation rejected",
		"op", op,
		"product_id", productID,
		"reason", reason,
		"error", err,
	)
	return err
}

var rejectionReasons = []error{
	domain.ErrUnavailable,
	domain.ErrProductNotFound,
	domain.ErrOrderNotFound,
	domain.ErrOutOfStock,
	domain.ErrPriceStale,
	domain.ErrInvalidTransition,
	domain.ErrInsufficientStock,
	domain.ErrNotOrderOwner,
}

func rejectionReason(err error) string {
	for _, r := range rejectionReasons {
		if errors.Is(err, r) {
			return r.Error()
		}
	}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return "validation_error"
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return "internal"
}
