package engine

import (
	"context"
	"log/slog"

	"github.com/google/btree"

	"github.com/efreitasn/bourse/internal/domain"
	"github.com/efreitasn/bourse/internal/metrics"
	"github.com/efreitasn/bourse/internal/pricing"
	"github.com/efreitasn/bourse/internal/store"
)

// TopN is the length of each stats ranking.
const TopN = 3

// demandLess orders by demand descending, then product_id ascending, so
// Ascend visits the most demanded product first.
func demandLess(a, b domain.DemandEntry) bool {
	if a.TotalDemand != b.TotalDemand {
		return a.TotalDemand > b.TotalDemand
	}
	return a.ProductID < b.ProductID
}

// variationLess orders by |variation| descending, then product_id ascending.
func variationLess(a, b domain.VariationEntry) bool {
	if c := a.VariationPercent.Abs().Cmp(b.VariationPercent.Abs()); c != 0 {
		return c > 0
	}
	return a.ProductID < b.ProductID
}

// Aggregator derives BourseStats from a store snapshot. It keeps no state
// between calls.
type Aggregator struct {
	store   store.Store
	pricing *pricing.Engine
	metrics *metrics.Metrics
	logger  *slog.Logger
	retry   RetryPolicy
}

// NewAggregator creates an Aggregator.
func NewAggregator(st store.Store, pe *pricing.Engine, m *metrics.Metrics, logger *slog.Logger, retry RetryPolicy) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{store: st, pricing: pe, metrics: m, logger: logger, retry: retry}
}

// Compute returns order counts per status and the top demand and variation
// rankings. Every figure comes from the same snapshot.
func (a *Aggregator) Compute(ctx context.Context) (*domain.BourseStats, error) {
	snap, err := withRetry(ctx, a.retry, a.logger, a.metrics, "snapshot", func() (*store.Snapshot, error) {
		return a.store.Snapshot(ctx)
	})
	if err != nil {
		return nil, err
	}

	const degree = 8
	demand := btree.NewG[domain.DemandEntry](degree, demandLess)
	variation := btree.NewG[domain.VariationEntry](degree, variationLess)
	for _, p := range snap.Products {
		demand.ReplaceOrInsert(domain.DemandEntry{
			ProductID:   p.ProductID,
			ProductName: p.Name,
			TotalDemand: p.TotalProDemand,
		})
		ms := a.pricing.Quote(*p)
		variation.ReplaceOrInsert(domain.VariationEntry{
			ProductID:        p.ProductID,
			ProductName:      p.Name,
			VariationPercent: ms.VariationPercent,
		})
	}

	return &domain.BourseStats{
		Counts:       snap.Counts,
		TopDemand:    firstN(demand, TopN),
		TopVariation: firstN(variation, TopN),
		ComputedAt:   snap.TakenAt,
	}, nil
}

func firstN[T any](tree *btree.BTreeG[T], n int) []T {
	out := make([]T, 0, n)
	tree.Ascend(func(item T) bool {
		out = append(out, item)
		return len(out) < n
	})
	return out
}
