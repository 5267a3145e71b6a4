package service

import (
	"context"

	"github.com/efreitasn/bourse/internal/domain"
	"github.com/efreitasn/bourse/internal/engine"
)

// StatsService serves the bourse summary.
type StatsService struct {
	aggregator *engine.Aggregator
}

func NewStatsService(aggregator *engine.Aggregator) *StatsService {
	return &StatsService{aggregator: aggregator}
}

// GetStats recomputes the summary from the current ledger.
func (s *StatsService) GetStats(ctx context.Context) (*domain.BourseStats, error) {
	return s.aggregator.Compute(ctx)
}
