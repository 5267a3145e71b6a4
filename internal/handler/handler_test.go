package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/bourse/internal/engine"
	"github.com/efreitasn/bourse/internal/metrics"
	"github.com/efreitasn/bourse/internal/pricing"
	"github.com/efreitasn/bourse/internal/service"
	"github.com/efreitasn/bourse/internal/store"
)

// testEnv bundles all dependencies for handler integration tests.
type testEnv struct {
	router http.Handler
	hub    *service.Hub
}

func newTestEnv() *testEnv {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemoryStore()
	pe := pricing.NewEngine(pricing.Linear{Scale: 0.2}, decimal.RequireFromString("0.01"))
	m := metrics.New()
	hub := service.NewHub(16)
	webhookSvc := service.NewWebhookService(store.NewWebhookStore(), 5*time.Second, logger)
	retry := engine.RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond}
	ledger := engine.NewLedger(st, pe, engine.Publishers{hub, webhookSvc}, m, logger, retry)

	router := NewRouter(Services{
		Markets:  service.NewMarketService(ledger),
		Orders:   service.NewOrderService(ledger),
		Stats:    service.NewStatsService(engine.NewAggregator(st, pe, m, logger, retry)),
		Webhooks: webhookSvc,
		Hub:      hub,
		Metrics:  m.Handler(),
	}, logger)
	return &testEnv{router: router, hub: hub}
}

// doJSON sends a JSON request and returns the recorder.
func (env *testEnv) doJSON(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	return rr
}

// decodeJSON decodes the response body into v.
func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, rr.Body.String())
	}
}

func expectError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected %d, got %d: %s", status, rr.Code, rr.Body.String())
	}
	var resp errorResponse
	decodeJSON(t, rr, &resp)
	if resp.Error != code {
		t.Errorf("error = %q, want %q", resp.Error, code)
	}
}

func (env *testEnv) createProduct(t *testing.T, id string, base string, stock int64) {
	t.Helper()
	rr := env.doJSON(t, "POST", "/products", map[string]any{
		"product_id":      id,
		"name":            "Product " + id,
		"base_price":      base,
		"stock_available": stock,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create product %s: expected 201, got %d: %s", id, rr.Code, rr.Body.String())
	}
}

func (env *testEnv) placeOrder(t *testing.T, productID, buyerID, observed string, qty int64) map[string]any {
	t.Helper()
	rr := env.doJSON(t, "POST", "/orders", map[string]any{
		"product_id":     productID,
		"buyer_id":       buyerID,
		"quantity":       qty,
		"observed_price": observed,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("place order: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	decodeJSON(t, rr, &resp)
	return resp
}

func orderID(resp map[string]any) string {
	return resp["order"].(map[string]any)["order_id"].(string)
}

// --- Healthz / metrics ---

func TestHealthz(t *testing.T) {
	env := newTestEnv()
	rr := env.doJSON(t, "GET", "/healthz", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("X-Request-Id") == "" {
		t.Error("expected X-Request-Id header")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv()
	env.createProduct(t, "p1", "10", 100)
	env.placeOrder(t, "p1", "buyer-1", "10.00", 1)

	rr := env.doJSON(t, "GET", "/metrics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "bourse_orders_placed_total 1") {
		t.Errorf("metrics missing placed counter")
	}
}

// --- Products and markets ---

func TestProduct_CreateAndGetMarket(t *testing.T) {
	env := newTestEnv()
	env.createProduct(t, "p1", "10", 100)

	rr := env.doJSON(t, "GET", "/markets/p1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var m map[string]any
	decodeJSON(t, rr, &m)
	want := map[string]any{
		"product_id":        "p1",
		"base_price":        "10.00",
		"dynamic_price":     "10.00",
		"min_price":         "7.00",
		"max_price":         "13.00",
		"variation_percent": "0.00",
		"stock_available":   float64(100),
		"total_pro_demand":  float64(0),
	}
	for k, v := range want {
		if m[k] != v {
			t.Errorf("%s = %v, want %v", k, m[k], v)
		}
	}
}

func TestProduct_CreateErrors(t *testing.T) {
	env := newTestEnv()
	env.createProduct(t, "p1", "10", 1)

	rr := env.doJSON(t, "POST", "/products", map[string]any{"product_id": "p1", "base_price": "10"})
	expectError(t, rr, http.StatusConflict, "product_already_exists")

	rr = env.doJSON(t, "POST", "/products", map[string]any{"product_id": "p2", "base_price": "0"})
	expectError(t, rr, http.StatusUnprocessableEntity, "configuration_error")

	rr = env.doJSON(t, "POST", "/products", map[string]any{"product_id": "p3"})
	expectError(t, rr, http.StatusBadRequest, "validation_error")

	rr = env.doJSON(t, "GET", "/markets/unknown", nil)
	expectError(t, rr, http.StatusNotFound, "product_not_found")
}

func TestProduct_RepriceAndRestock(t *testing.T) {
	env := newTestEnv()
	env.createProduct(t, "p1", "10", 0)

	rr := env.doJSON(t, "POST", "/products/p1/restock", map[string]any{"quantity": 20})
	if rr.Code != http.StatusOK {
		t.Fatalf("restock: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = env.doJSON(t, "PUT", "/products/p1/base-price", map[string]any{"base_price": 20})
	if rr.Code != http.StatusOK {
		t.Fatalf("reprice: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var m map[string]any
	decodeJSON(t, rr, &m)
	if m["stock_available"] != float64(20) || m["max_price"] != "26.00" {
		t.Errorf("market = %v", m)
	}
}

func TestMarkets_List(t *testing.T) {
	env := newTestEnv()
	env.createProduct(t, "b", "10", 1)
	env.createProduct(t, "a", "10", 1)

	rr := env.doJSON(t, "GET", "/markets", nil)
	var resp struct {
		Markets []map[string]any `json:"markets"`
	}
	decodeJSON(t, rr, &resp)
	if len(resp.Markets) != 2 || resp.Markets[0]["product_id"] != "a" {
		t.Errorf("markets = %v", resp.Markets)
	}
}

// --- Orders ---

func TestOrder_PlaceMatchFlow(t *testing.T) {
	env := newTestEnv()
	env.createProduct(t, "p1", "10", 100)

	resp := env.placeOrder(t, "p1", "buyer-1", "10.00", 50)
	order := resp["order"].(map[string]any)
	market := resp["market"].(map[string]any)
	if order["status"] != "pending" || order["unit_price"] != "10.00" || order["total_amount"] != "500.00" {
		t.Errorf("order = %v", order)
	}
	if order["resolved_at"] != nil {
		t.Errorf("resolved_at = %v, want null", order["resolved_at"])
	}
	if market["dynamic_price"] != "11.00" || market["total_pro_demand"] != float64(50) {
		t.Errorf("market = %v", market)
	}

	id := orderID(resp)
	rr := env.doJSON(t, "POST", "/orders/"+id+"/status", map[string]any{"status": "matched", "actor_id": "ops"})
	if rr.Code != http.StatusOK {
		t.Fatalf("match: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var matched map[string]any
	decodeJSON(t, rr, &matched)
	if matched["market"].(map[string]any)["stock_available"] != float64(50) {
		t.Errorf("market after match = %v", matched["market"])
	}
	if matched["order"].(map[string]any)["resolved_by"] != "ops" {
		t.Errorf("order after match = %v", matched["order"])
	}

	rr = env.doJSON(t, "POST", "/orders/"+id+"/status", map[string]any{"status": "matched", "actor_id": "ops"})
	expectError(t, rr, http.StatusConflict, "invalid_transition")

	rr = env.doJSON(t, "GET", "/orders/"+id, nil)
	var got map[string]any
	decodeJSON(t, rr, &got)
	if got["status"] != "matched" {
		t.Errorf("status = %v", got["status"])
	}
}

func TestOrder_PlaceErrors(t *testing.T) {
	env := newTestEnv()
	env.createProduct(t, "p1", "10", 100)
	env.createProduct(t, "empty", "10", 0)

	rr := env.doJSON(t, "POST", "/orders", map[string]any{"product_id": "p1", "buyer_id": "b", "quantity": 1, "observed_price": "9.00"})
	expectError(t, rr, http.StatusConflict, "price_stale")

	rr = env.doJSON(t, "POST", "/orders", map[string]any{"product_id": "empty", "buyer_id": "b", "quantity": 1, "observed_price": "13.00"})
	expectError(t, rr, http.StatusConflict, "out_of_stock")

	rr = env.doJSON(t, "POST", "/orders", map[string]any{"product_id": "nope", "buyer_id": "b", "quantity": 1, "observed_price": "10"})
	expectError(t, rr, http.StatusNotFound, "product_not_found")

	rr = env.doJSON(t, "POST", "/orders", map[string]any{"product_id": "p1", "buyer_id": "b", "quantity": 0, "observed_price": "10"})
	expectError(t, rr, http.StatusBadRequest, "validation_error")
}

func TestOrder_InsufficientStock(t *testing.T) {
	env := newTestEnv()
	env.createProduct(t, "p1", "10", 20)
	first := env.placeOrder(t, "p1", "b1", "10.00", 20)
	second := env.placeOrder(t, "p1", "b2", "12.00", 5) // 20/20 × 0.2 = +20%

	rr := env.doJSON(t, "POST", "/orders/"+orderID(first)+"/status", map[string]any{"status": "matched", "actor_id": "ops"})
	if rr.Code != http.StatusOK {
		t.Fatalf("match first: %d %s", rr.Code, rr.Body.String())
	}
	rr = env.doJSON(t, "POST", "/orders/"+orderID(second)+"/status", map[string]any{"status": "matched", "actor_id": "ops"})
	expectError(t, rr, http.StatusConflict, "insufficient_stock")
}

func TestOrder_BuyerCancel(t *testing.T) {
	env := newTestEnv()
	env.createProduct(t, "p1", "10", 100)
	id := orderID(env.placeOrder(t, "p1", "buyer-1", "10.00", 5))

	rr := env.doJSON(t, "DELETE", "/orders/"+id, nil)
	expectError(t, rr, http.StatusBadRequest, "validation_error")

	rr = env.doJSON(t, "DELETE", "/orders/"+id, nil, "X-Buyer-ID", "buyer-2")
	expectError(t, rr, http.StatusForbidden, "not_order_owner")

	rr = env.doJSON(t, "DELETE", "/orders/"+id, nil, "X-Buyer-ID", "buyer-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	decodeJSON(t, rr, &resp)
	if resp["market"].(map[string]any)["total_pro_demand"] != float64(0) {
		t.Errorf("market = %v", resp["market"])
	}

	rr = env.doJSON(t, "DELETE", "/orders/missing", nil, "X-Buyer-ID", "buyer-1")
	expectError(t, rr, http.StatusNotFound, "order_not_found")
}

func TestOrder_List(t *testing.T) {
	env := newTestEnv()
	env.createProduct(t, "p1", "10", 1_000_000)
	for i := 0; i < 3; i++ {
		env.placeOrder(t, "p1", "buyer-1", "10.00", 1)
	}

	rr := env.doJSON(t, "GET", "/orders?buyer_id=buyer-1&status=pending&page=1&limit=2", nil)
	var resp struct {
		Orders []map[string]any `json:"orders"`
		Total  int              `json:"total"`
		Page   int              `json:"page"`
		Limit  int              `json:"limit"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Total != 3 || len(resp.Orders) != 2 || resp.Page != 1 || resp.Limit != 2 {
		t.Errorf("resp = %+v", resp)
	}

	rr = env.doJSON(t, "GET", "/orders?limit=abc", nil)
	expectError(t, rr, http.StatusBadRequest, "validation_error")
	rr = env.doJSON(t, "GET", "/orders?status=filled", nil)
	expectError(t, rr, http.StatusBadRequest, "validation_error")
}

// --- Stats ---

func TestStats(t *testing.T) {
	env := newTestEnv()
	env.createProduct(t, "p1", "10", 100)
	env.createProduct(t, "p2", "10", 0)
	env.placeOrder(t, "p1", "b", "10.00", 10)

	rr := env.doJSON(t, "GET", "/stats", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp struct {
		Orders       map[string]int64 `json:"orders"`
		TopDemand    []map[string]any `json:"top_demand"`
		TopVariation []map[string]any `json:"top_variation"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Orders["pending"] != 1 || resp.Orders["total"] != 1 {
		t.Errorf("orders = %v", resp.Orders)
	}
	if resp.TopDemand[0]["product_id"] != "p1" {
		t.Errorf("top_demand = %v", resp.TopDemand)
	}
	if resp.TopVariation[0]["product_id"] != "p2" || resp.TopVariation[0]["variation_percent"] != "30.00" {
		t.Errorf("top_variation = %v", resp.TopVariation)
	}
}

// --- Webhooks ---

func TestWebhook_UpsertListDelete(t *testing.T) {
	env := newTestEnv()
	body := map[string]any{"subscriber_id": "buyer-1", "url": "https://example.com/h", "events": []string{"order.matched"}}

	rr := env.doJSON(t, "POST", "/webhooks", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = env.doJSON(t, "POST", "/webhooks", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("repeat: expected 200, got %d", rr.Code)
	}
	var resp subscriptionResponse
	decodeJSON(t, rr, &resp)
	if resp.SubscriberID != "buyer-1" || len(resp.Events) != 1 {
		t.Fatalf("subscription = %+v", resp)
	}
	id := resp.Events[0].WebhookID

	rr = env.doJSON(t, "GET", "/webhooks", nil)
	expectError(t, rr, http.StatusBadRequest, "validation_error")

	rr = env.doJSON(t, "GET", "/webhooks?subscriber_id=buyer-1", nil)
	resp = subscriptionResponse{}
	decodeJSON(t, rr, &resp)
	if len(resp.Events) != 1 || resp.Events[0].WebhookID != id {
		t.Errorf("events = %+v", resp.Events)
	}

	rr = env.doJSON(t, "DELETE", "/webhooks/"+id, nil)
	if rr.Code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", rr.Code)
	}
	rr = env.doJSON(t, "DELETE", "/webhooks/"+id, nil)
	expectError(t, rr, http.StatusNotFound, "webhook_not_found")

	rr = env.doJSON(t, "GET", "/webhooks?subscriber_id=buyer-1", nil)
	resp = subscriptionResponse{}
	decodeJSON(t, rr, &resp)
	if resp.SubscriberID != "buyer-1" || len(resp.Events) != 0 {
		t.Errorf("after delete = %+v", resp)
	}
}

func TestWebhook_SubscriptionScopes(t *testing.T) {
	env := newTestEnv()
	body := map[string]any{
		"subscriber_id": "buyer-1",
		"url":           "https://example.com/h",
		"events":        []string{"market.updated", "order.matched", "order.cancelled", "order.matched"},
	}

	rr := env.doJSON(t, "POST", "/webhooks", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp subscriptionResponse
	decodeJSON(t, rr, &resp)

	want := map[string]string{
		"market.updated":  "all_markets",
		"order.matched":   "own_orders",
		"order.cancelled": "own_orders",
	}
	if len(resp.Events) != len(want) {
		t.Fatalf("events = %+v, want one per distinct event", resp.Events)
	}
	for _, ev := range resp.Events {
		if ev.Scope != want[ev.Event] {
			t.Errorf("%s scope = %q, want %q", ev.Event, ev.Scope, want[ev.Event])
		}
		if ev.URL != "https://example.com/h" || ev.WebhookID == "" {
			t.Errorf("event subscription = %+v", ev)
		}
	}

	body["events"] = []string{"order.placed"}
	rr = env.doJSON(t, "POST", "/webhooks", body)
	expectError(t, rr, http.StatusBadRequest, "validation_error")
}

// --- Content type ---

func TestContentType_Required(t *testing.T) {
	env := newTestEnv()
	req := httptest.NewRequest("POST", "/orders", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	expectError(t, rr, http.StatusBadRequest, "invalid_request")
}

// --- Stream ---

func TestStream_ReceivesMarketEvents(t *testing.T) {
	env := newTestEnv()
	server := httptest.NewServer(env.router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/markets/stream?product_id=p1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Wait for the subscription to be registered before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	env.createProduct(t, "p2", "10", 1)
	env.createProduct(t, "p1", "10", 100)
	env.placeOrder(t, "p1", "buyer-1", "10.00", 50)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first, second streamMessage
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first: %v", err)
	}
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read second: %v", err)
	}
	if first.Event != "market.updated" || first.Market.ProductID != "p1" {
		t.Errorf("first = %+v", first)
	}
	if second.Event != "order.placed" || second.Order == nil || second.Market.DynamicPrice != "11.00" {
		t.Errorf("second = %+v", second)
	}
}
