// Package pricing turns a product's stock and demand into a live price.
package pricing

import (
	"fmt"
	"math"
)

// Strategy maps demand pressure (pending demand over available stock) to a
// raw demand factor. Implementations must be monotone non-decreasing in
// pressure; the engine clamps the result to ±MaxDemandFactor.
type Strategy interface {
	Name() string
	DemandFactor(pressure float64) float64
}

// Strategy names accepted by NewStrategy.
const (
	StrategyLinear      = "linear"
	StrategyLogarithmic = "logarithmic"
)

// Linear grows the price proportionally to pressure.
type Linear struct {
	Scale float64
}

func (l Linear) Name() string { return StrategyLinear }

func (l Linear) DemandFactor(pressure float64) float64 {
	return pressure * l.Scale
}

// Logarithmic grows quickly at low pressure and flattens out, so a single
// large order moves the price less than under Linear.
type Logarithmic struct {
	Scale float64
}

func (l Logarithmic) Name() string { return StrategyLogarithmic }

func (l Logarithmic) DemandFactor(pressure float64) float64 {
	if pressure <= 0 {
		return 0
	}
	return l.Scale * math.Log1p(pressure)
}

// NewStrategy returns the named strategy with the given scale.
func NewStrategy(name string, scale float64) (Strategy, error) {
	if scale < 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return nil, fmt.Errorf("pricing scale must be a finite value >= 0, got %v", scale)
	}
	switch name {
	case StrategyLinear:
		return Linear{Scale: scale}, nil
	case StrategyLogarithmic:
		return Logarithmic{Scale: scale}, nil
	}
	return nil, fmt.Errorf("unknown pricing strategy %q, must be one of: linear, logarithmic", name)
}
