package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/bourse/internal/domain"
	"github.com/efreitasn/bourse/internal/service"
)

// buyerHeader identifies the buyer on buyer-initiated requests.
const buyerHeader = "X-Buyer-ID"

// OrderHandler handles HTTP requests for order endpoints.
type OrderHandler struct {
	orderSvc *service.OrderService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orderSvc *service.OrderService) *OrderHandler {
	return &OrderHandler{orderSvc: orderSvc}
}

// placeOrderRequest is the JSON request body for POST /orders.
type placeOrderRequest struct {
	ProductID     string           `json:"product_id"`
	BuyerID       string           `json:"buyer_id"`
	Quantity      int64            `json:"quantity"`
	ObservedPrice *decimal.Decimal `json:"observed_price"`
}

// setStatusRequest is the JSON request body for POST /orders/{order_id}/status.
type setStatusRequest struct {
	Status  string `json:"status"`
	ActorID string `json:"actor_id"`
}

// orderResponse always carries every field; resolved_* are null while pending.
type orderResponse struct {
	OrderID     string  `json:"order_id"`
	ProductID   string  `json:"product_id"`
	BuyerID     string  `json:"buyer_id"`
	Quantity    int64   `json:"quantity"`
	UnitPrice   string  `json:"unit_price"`
	TotalAmount string  `json:"total_amount"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"created_at"`
	ResolvedAt  *string `json:"resolved_at"`
	ResolvedBy  *string `json:"resolved_by"`
}

// orderWithMarketResponse is returned by every mutating order endpoint so
// the caller can reconcile its view with the committed market.
type orderWithMarketResponse struct {
	Order  orderResponse  `json:"order"`
	Market marketResponse `json:"market"`
}

type orderListResponse struct {
	Orders []orderResponse `json:"orders"`
	Page   int             `json:"page"`
	Limit  int             `json:"limit"`
	Total  int             `json:"total"`
}

func buildOrderResponse(o *domain.Order) orderResponse {
	resp := orderResponse{
		OrderID:     o.OrderID,
		ProductID:   o.ProductID,
		BuyerID:     o.BuyerID,
		Quantity:    o.Quantity,
		UnitPrice:   money(o.UnitPrice),
		TotalAmount: money(o.TotalAmount()),
		Status:      string(o.Status),
		CreatedAt:   o.CreatedAt.UTC().Format(timeLayout),
	}
	if o.ResolvedAt != nil {
		s := o.ResolvedAt.UTC().Format(timeLayout)
		resp.ResolvedAt = &s
		by := o.ResolvedBy
		resp.ResolvedBy = &by
	}
	return resp
}

// PlaceOrder handles POST /orders.
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	order, ms, err := h.orderSvc.PlaceOrder(r.Context(), service.PlaceOrderRequest{
		ProductID:     req.ProductID,
		BuyerID:       req.BuyerID,
		Quantity:      req.Quantity,
		ObservedPrice: req.ObservedPrice,
	})
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, orderWithMarketResponse{
		Order:  buildOrderResponse(order),
		Market: buildMarketResponse(ms),
	})
}

// GetOrder handles GET /orders/{order_id}.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderSvc.GetOrder(r.Context(), chi.URLParam(r, "order_id"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}

// SetStatus handles POST /orders/{order_id}/status.
func (h *OrderHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req setStatusRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	order, ms, err := h.orderSvc.SetOrderStatus(r.Context(), chi.URLParam(r, "order_id"), req.Status, req.ActorID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, orderWithMarketResponse{
		Order:  buildOrderResponse(order),
		Market: buildMarketResponse(ms),
	})
}

// CancelOrder handles DELETE /orders/{order_id}. The buyer is taken from
// the X-Buyer-ID header.
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	buyerID := r.Header.Get(buyerHeader)
	if buyerID == "" {
		WriteError(w, http.StatusBadRequest, "validation_error", buyerHeader+" header is required")
		return
	}

	order, ms, err := h.orderSvc.CancelOrder(r.Context(), chi.URLParam(r, "order_id"), buyerID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, orderWithMarketResponse{
		Order:  buildOrderResponse(order),
		Market: buildMarketResponse(ms),
	})
}

// ListOrders handles GET /orders.
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page := 1
	if v := q.Get("page"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "page must be an integer")
			return
		}
		page = p
	}
	limit := 20
	if v := q.Get("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "limit must be an integer")
			return
		}
		limit = l
	}

	orders, total, err := h.orderSvc.ListOrders(r.Context(), service.ListOrdersRequest{
		Status:    q.Get("status"),
		BuyerID:   q.Get("buyer_id"),
		ProductID: q.Get("product_id"),
		Page:      page,
		Limit:     limit,
	})
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	resp := orderListResponse{
		Orders: make([]orderResponse, len(orders)),
		Page:   page,
		Limit:  limit,
		Total:  total,
	}
	for i, o := range orders {
		resp.Orders[i] = buildOrderResponse(o)
	}
	WriteJSON(w, http.StatusOK, resp)
}
