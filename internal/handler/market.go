package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/bourse/internal/domain"
	"github.com/efreitasn/bourse/internal/pricing"
	"github.com/efreitasn/bourse/internal/service"
)

// MarketHandler handles HTTP requests for product and market endpoints.
type MarketHandler struct {
	marketSvc *service.MarketService
}

// NewMarketHandler creates a new MarketHandler.
func NewMarketHandler(marketSvc *service.MarketService) *MarketHandler {
	return &MarketHandler{marketSvc: marketSvc}
}

// createProductRequest is the JSON request body for POST /products.
type createProductRequest struct {
	ProductID      string           `json:"product_id"`
	Name           string           `json:"name"`
	BasePrice      *decimal.Decimal `json:"base_price"`
	StockAvailable int64            `json:"stock_available"`
}

type repriceRequest struct {
	BasePrice *decimal.Decimal `json:"base_price"`
}

type restockRequest struct {
	Quantity int64 `json:"quantity"`
}

// marketResponse is a priced market. Money is rendered with two decimals.
type marketResponse struct {
	ProductID        string `json:"product_id"`
	ProductName      string `json:"product_name"`
	BasePrice        string `json:"base_price"`
	DynamicPrice     string `json:"dynamic_price"`
	MinPrice         string `json:"min_price"`
	MaxPrice         string `json:"max_price"`
	VariationPercent string `json:"variation_percent"`
	StockAvailable   int64  `json:"stock_available"`
	TotalProDemand   int64  `json:"total_pro_demand"`
	UpdatedAt        string `json:"updated_at"`
}

type marketListResponse struct {
	Markets []marketResponse `json:"markets"`
}

func money(d decimal.Decimal) string {
	return d.StringFixed(pricing.PriceDecimals)
}

func buildMarketResponse(ms *domain.MarketState) marketResponse {
	return marketResponse{
		ProductID:        ms.ProductID,
		ProductName:      ms.Name,
		BasePrice:        money(ms.BasePrice),
		DynamicPrice:     money(ms.DynamicPrice),
		MinPrice:         money(ms.MinPrice),
		MaxPrice:         money(ms.MaxPrice),
		VariationPercent: money(ms.VariationPercent),
		StockAvailable:   ms.StockAvailable,
		TotalProDemand:   ms.TotalProDemand,
		UpdatedAt:        ms.UpdatedAt.UTC().Format(timeLayout),
	}
}

// CreateProduct handles POST /products.
func (h *MarketHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.BasePrice == nil {
		WriteError(w, http.StatusBadRequest, "validation_error", "base_price is required")
		return
	}

	ms, err := h.marketSvc.CreateProduct(r.Context(), service.CreateProductRequest{
		ProductID:      req.ProductID,
		Name:           req.Name,
		BasePrice:      *req.BasePrice,
		StockAvailable: req.StockAvailable,
	})
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, buildMarketResponse(ms))
}

// Reprice handles PUT /products/{product_id}/base-price.
func (h *MarketHandler) Reprice(w http.ResponseWriter, r *http.Request) {
	var req repriceRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.BasePrice == nil {
		WriteError(w, http.StatusBadRequest, "validation_error", "base_price is required")
		return
	}

	ms, err := h.marketSvc.Reprice(r.Context(), chi.URLParam(r, "product_id"), *req.BasePrice)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildMarketResponse(ms))
}

// Restock handles POST /products/{product_id}/restock.
func (h *MarketHandler) Restock(w http.ResponseWriter, r *http.Request) {
	var req restockRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	ms, err := h.marketSvc.Restock(r.Context(), chi.URLParam(r, "product_id"), req.Quantity)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildMarketResponse(ms))
}

// List handles GET /markets.
func (h *MarketHandler) List(w http.ResponseWriter, r *http.Request) {
	states, err := h.marketSvc.ListMarketStates(r.Context())
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	resp := marketListResponse{Markets: make([]marketResponse, len(states))}
	for i := range states {
		resp.Markets[i] = buildMarketResponse(&states[i])
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Get handles GET /markets/{product_id}.
func (h *MarketHandler) Get(w http.ResponseWriter, r *http.Request) {
	ms, err := h.marketSvc.GetMarketState(r.Context(), chi.URLParam(r, "product_id"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildMarketResponse(ms))
}
