package handler

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/efreitasn/bourse/internal/service"
)

// Services bundles what the router serves.
type Services struct {
	Markets  *service.MarketService
	Orders   *service.OrderService
	Stats    *service.StatsService
	Webhooks *service.WebhookService
	Hub      *service.Hub
	Metrics  http.Handler // optional
}

// NewRouter creates a chi router with all routes registered, request logging,
// and Content-Type validation middleware.
func NewRouter(svcs Services, logger *slog.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(requestLogging(logger))
	r.Use(contentTypeJSON)

	marketH := NewMarketHandler(svcs.Markets)
	orderH := NewOrderHandler(svcs.Orders)
	statsH := NewStatsHandler(svcs.Stats)
	webhookH := NewWebhookHandler(svcs.Webhooks)
	streamH := NewStreamHandler(svcs.Hub, logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if svcs.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", svcs.Metrics)
	}

	// Onboarding.
	r.Post("/products", marketH.CreateProduct)
	r.Put("/products/{product_id}/base-price", marketH.Reprice)
	r.Post("/products/{product_id}/restock", marketH.Restock)

	// Markets. The stream route is registered before the id route.
	r.Get("/markets", marketH.List)
	r.Get("/markets/stream", streamH.Stream)
	r.Get("/markets/{product_id}", marketH.Get)

	// Orders.
	r.Post("/orders", orderH.PlaceOrder)
	r.Get("/orders", orderH.ListOrders)
	r.Get("/orders/{order_id}", orderH.GetOrder)
	r.Post("/orders/{order_id}/status", orderH.SetStatus)
	r.Delete("/orders/{order_id}", orderH.CancelOrder)

	r.Get("/stats", statsH.Get)

	r.Post("/webhooks", webhookH.Upsert)
	r.Get("/webhooks", webhookH.List)
	r.Delete("/webhooks/{webhook_id}", webhookH.Delete)

	return r
}

// requestLogging logs each request's method, path, status code and
// duration, tagging it with a request id that is echoed back in
// X-Request-Id.
func requestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := r.Header.Get("X-Request-Id")
			if reqID == "" {
				reqID = uuid.New().String()
			}
			w.Header().Set("X-Request-Id", reqID)

			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)

			level := slog.LevelInfo
			if ww.status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "request",
				slog.String("request_id", reqID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack lets the websocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	w.wroteHeader = true
	return h.Hijack()
}

// contentTypeJSON rejects POST, PUT and PATCH requests whose Content-Type
// is not application/json before the handler runs.
func contentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct == "" || !strings.HasPrefix(ct, "application/json") {
				WriteError(w, http.StatusBadRequest, "invalid_request",
					"Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
