package handler

import (
	"net/http"

	"github.com/efreitasn/bourse/internal/service"
)

// StatsHandler handles GET /stats.
type StatsHandler struct {
	statsSvc *service.StatsService
}

func NewStatsHandler(statsSvc *service.StatsService) *StatsHandler {
	return &StatsHandler{statsSvc: statsSvc}
}

type statusCountsResponse struct {
	Pending   int64 `json:"pending"`
	Matched   int64 `json:"matched"`
	Cancelled int64 `json:"cancelled"`
	Total     int64 `json:"total"`
}

type demandEntryResponse struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	TotalDemand int64  `json:"total_demand"`
}

type variationEntryResponse struct {
	ProductID        string `json:"product_id"`
	ProductName      string `json:"product_name"`
	VariationPercent string `json:"variation_percent"`
}

type statsResponse struct {
	Orders       statusCountsResponse     `json:"orders"`
	TopDemand    []demandEntryResponse    `json:"top_demand"`
	TopVariation []variationEntryResponse `json:"top_variation"`
	ComputedAt   string                   `json:"computed_at"`
}

// Get handles GET /stats.
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	stats, err := h.statsSvc.GetStats(r.Context())
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	resp := statsResponse{
		Orders: statusCountsResponse{
			Pending:   stats.Counts.Pending,
			Matched:   stats.Counts.Matched,
			Cancelled: stats.Counts.Cancelled,
			Total:     stats.Counts.Total,
		},
		TopDemand:    make([]demandEntryResponse, len(stats.TopDemand)),
		TopVariation: make([]variationEntryResponse, len(stats.TopVariation)),
		ComputedAt:   stats.ComputedAt.UTC().Format(timeLayout),
	}
	for i, d := range stats.TopDemand {
		resp.TopDemand[i] = demandEntryResponse{
			ProductID:   d.ProductID,
			ProductName: d.ProductName,
			TotalDemand: d.TotalDemand,
		}
	}
	for i, v := range stats.TopVariation {
		resp.TopVariation[i] = variationEntryResponse{
			ProductID:        v.ProductID,
			ProductName:      v.ProductName,
			VariationPercent: money(v.VariationPercent),
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}
