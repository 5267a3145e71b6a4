package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/efreitasn/bourse/internal/domain"
	"github.com/efreitasn/bourse/internal/metrics"
	"github.com/efreitasn/bourse/internal/store"
)

// Drift is a product whose demand counter disagrees with the sum of its
// pending orders.
type Drift struct {
	ProductID     string
	Counter       int64
	PendingDemand int64
}

// Auditor periodically checks that every product's TotalProDemand equals
// the quantity held by its pending orders. It reports drift and never
// corrects it.
type Auditor struct {
	interval time.Duration
	store    store.Store
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewAuditor creates an Auditor that runs every interval.
func NewAuditor(interval time.Duration, st store.Store, m *metrics.Metrics, logger *slog.Logger) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{interval: interval, store: st, metrics: m, logger: logger}
}

// Run audits on every tick until ctx is cancelled. A non-positive interval
// disables the loop.
func (a *Auditor) Run(ctx context.Context) error {
	if a.interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := a.Check(ctx); err != nil && ctx.Err() == nil {
				a.logger.Error("demand audit failed", "error", err)
			}
		}
	}
}

// Check audits one snapshot and returns the drifting products ordered by
// product_id.
func (a *Auditor) Check(ctx context.Context) ([]Drift, error) {
	snap, err := a.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	drifts := findDrift(snap.Products, snap.PendingDemand)
	for _, d := range drifts {
		a.logger.Warn("demand counter drift",
			"product_id", d.ProductID,
			"total_pro_demand", d.Counter,
			"pending_demand", d.PendingDemand,
		)
	}
	a.metrics.SetDemandDrift(len(drifts))
	return drifts, nil
}

// findDrift expects products sorted by product_id.
func findDrift(products []*domain.Product, pending map[string]int64) []Drift {
	var out []Drift
	for _, p := range products {
		if want := pending[p.ProductID]; p.TotalProDemand != want {
			out = append(out, Drift{
				ProductID:     p.ProductID,
				Counter:       p.TotalProDemand,
				PendingDemand: want,
			})
		}
	}
	return out
}
