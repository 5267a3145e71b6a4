package service

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/efreitasn/bourse/internal/domain"
	"github.com/efreitasn/bourse/internal/pricing"
	"github.com/efreitasn/bourse/internal/store"
)

// Event types a subscriber may register for.
var validWebhookEvents = map[string]bool{
	domain.EventMarketUpdated:  true,
	domain.EventOrderMatched:   true,
	domain.EventOrderCancelled: true,
}

// Delivery scopes of a subscription.
const (
	ScopeAllMarkets = "all_markets"
	ScopeOwnOrders  = "own_orders"
)

// DeliveryScope reports which ledger events reach a subscription to event.
// market.updated follows every market; order events only reach the buyer
// that placed the order.
func DeliveryScope(event string) string {
	if event == domain.EventMarketUpdated {
		return ScopeAllMarkets
	}
	return ScopeOwnOrders
}

// UpsertWebhookRequest represents the input for webhook registration.
type UpsertWebhookRequest struct {
	SubscriberID string
	URL          string
	Events       []string
}

// WebhookService handles webhook subscriptions and delivers ledger events
// to them. It implements engine.Publisher.
type WebhookService struct {
	store  *store.WebhookStore
	client *http.Client
	logger *slog.Logger
}

// NewWebhookService creates a new WebhookService.
func NewWebhookService(webhookStore *store.WebhookStore, webhookTimeout time.Duration, logger *slog.Logger) *WebhookService {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookService{
		store: webhookStore,
		client: &http.Client{
			Timeout: webhookTimeout,
		},
		logger: logger,
	}
}

// Upsert validates the request and creates or updates one subscription per
// event. It reports whether any subscription was created.
func (s *WebhookService) Upsert(req UpsertWebhookRequest) ([]*domain.Webhook, bool, error) {
	if !actorIDRegex.MatchString(req.SubscriberID) {
		return nil, false, &domain.ValidationError{Message: "subscriber_id must match ^[a-zA-Z0-9_-]{1,64}$"}
	}
	if req.URL == "" {
		return nil, false, &domain.ValidationError{Message: "url is required"}
	}
	if len(req.URL) > 2048 {
		return nil, false, &domain.ValidationError{Message: "url must be at most 2048 characters"}
	}
	parsed, err := url.ParseRequestURI(req.URL)
	if err != nil || !parsed.IsAbs() {
		return nil, false, &domain.ValidationError{Message: "url must be a valid absolute URL"}
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return nil, false, &domain.ValidationError{Message: "url must use http or https scheme"}
	}
	if len(req.Events) == 0 {
		return nil, false, &domain.ValidationError{Message: "events must be a non-empty array"}
	}

	seen := make(map[string]bool, len(req.Events))
	events := make([]string, 0, len(req.Events))
	for _, event := range req.Events {
		if !validWebhookEvents[event] {
			return nil, false, &domain.ValidationError{
				Message: "Unknown event type: " + event + ". Must be one of: market.updated, order.matched, order.cancelled",
			}
		}
		if !seen[event] {
			seen[event] = true
			events = append(events, event)
		}
	}

	now := time.Now().UTC().Truncate(time.Second)
	anyCreated := false
	webhooks := make([]*domain.Webhook, 0, len(events))
	for _, event := range events {
		stored, created := s.store.Upsert(&domain.Webhook{
			WebhookID:    uuid.New().String(),
			SubscriberID: req.SubscriberID,
			Event:        event,
			URL:          req.URL,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		anyCreated = anyCreated || created
		webhooks = append(webhooks, stored)
	}
	return webhooks, anyCreated, nil
}

// List returns every subscription of a subscriber.
func (s *WebhookService) List(subscriberID string) ([]*domain.Webhook, error) {
	if !actorIDRegex.MatchString(subscriberID) {
		return nil, &domain.ValidationError{Message: "subscriber_id must match ^[a-zA-Z0-9_-]{1,64}$"}
	}
	return s.store.ListBySubscriber(subscriberID), nil
}

// Delete removes a subscription by id.
func (s *WebhookService) Delete(webhookID string) error {
	return s.store.Delete(webhookID)
}

type webhookPayload struct {
	Event     string         `json:"event"`
	Timestamp string         `json:"timestamp"`
	Data      webhookPayData `json:"data"`
}

type webhookPayData struct {
	Market marketPayload `json:"market"`
	Order  *orderPayload `json:"order,omitempty"`
}

type marketPayload struct {
	ProductID        string `json:"product_id"`
	ProductName      string `json:"product_name"`
	BasePrice        string `json:"base_price"`
	DynamicPrice     string `json:"dynamic_price"`
	MinPrice         string `json:"min_price"`
	MaxPrice         string `json:"max_price"`
	VariationPercent string `json:"variation_percent"`
	StockAvailable   int64  `json:"stock_available"`
	TotalProDemand   int64  `json:"total_pro_demand"`
}

type orderPayload struct {
	OrderID   string `json:"order_id"`
	BuyerID   string `json:"buyer_id"`
	Quantity  int64  `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Status    string `json:"status"`
}

func newMarketPayload(ms domain.MarketState) marketPayload {
	return marketPayload{
		ProductID:        ms.ProductID,
		ProductName:      ms.Name,
		BasePrice:        ms.BasePrice.StringFixed(pricing.PriceDecimals),
		DynamicPrice:     ms.DynamicPrice.StringFixed(pricing.PriceDecimals),
		MinPrice:         ms.MinPrice.StringFixed(pricing.PriceDecimals),
		MaxPrice:         ms.MaxPrice.StringFixed(pricing.PriceDecimals),
		VariationPercent: ms.VariationPercent.StringFixed(pricing.PriceDecimals),
		StockAvailable:   ms.StockAvailable,
		TotalProDemand:   ms.TotalProDemand,
	}
}

func newWebhookPayload(event string, ev domain.MarketEvent) webhookPayload {
	p := webhookPayload{
		Event:     event,
		Timestamp: ev.At.UTC().Truncate(time.Second).Format(time.RFC3339),
		Data:      webhookPayData{Market: newMarketPayload(ev.Market)},
	}
	if ev.Order != nil {
		p.Data.Order = &orderPayload{
			OrderID:   ev.Order.OrderID,
			BuyerID:   ev.Order.BuyerID,
			Quantity:  ev.Order.Quantity,
			UnitPrice: ev.Order.UnitPrice.StringFixed(pricing.PriceDecimals),
			Status:    string(ev.Order.Status),
		}
	}
	return p
}

// Publish dispatches an event. Every event re-prices a market, so
// market.updated subscribers hear about all of them. Order events go only
// to the buyer that placed the order. Fire-and-forget.
func (s *WebhookService) Publish(ev domain.MarketEvent) {
	for _, wh := range s.store.ListByEvent(domain.EventMarketUpdated) {
		go s.deliver(wh, domain.EventMarketUpdated, newWebhookPayload(domain.EventMarketUpdated, ev))
	}

	if ev.Order == nil || !validWebhookEvents[ev.Type] || DeliveryScope(ev.Type) != ScopeOwnOrders {
		return
	}
	for _, wh := range s.store.ListByEvent(ev.Type) {
		if wh.SubscriberID != ev.Order.BuyerID {
			continue
		}
		go s.deliver(wh, ev.Type, newWebhookPayload(ev.Type, ev))
	}
}

// deliver sends the payload via HTTP POST. Failures are logged and dropped.
func (s *WebhookService) deliver(wh *domain.Webhook, eventType string, payload webhookPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		return
	}

	deliveryID := uuid.New().String()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-Id", deliveryID)
	req.Header.Set("X-Webhook-Id", wh.WebhookID)
	req.Header.Set("X-Event-Type", eventType)

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("webhook delivery failed",
			"webhook_id", wh.WebhookID,
			"delivery_id", deliveryID,
			"event", eventType,
			"error", redactURL(err.Error(), wh.URL),
		)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		s.logger.Warn("webhook delivery rejected",
			"webhook_id", wh.WebhookID,
			"delivery_id", deliveryID,
			"event", eventType,
			"status", resp.StatusCode,
		)
	}
}

// redactURL strips the subscriber URL, which may carry a token, from a
// transport error.
func redactURL(msg, rawURL string) string {
	return strings.ReplaceAll(msg, rawURL, "<webhook-url>")
}
