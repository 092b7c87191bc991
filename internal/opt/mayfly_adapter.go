package opt

import (
	"fmt"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// MayflyAdapter runs the Mayfly swarm algorithm over the unit box and maps each coordinate onto
// its own [lower, upper] range, since the library only supports scalar bounds.
type MayflyAdapter struct {
	maxIters int
	popSize  int
	seed     int64
}

// NewMayfly creates a seeded Mayfly optimizer. popSize must be at least 20.
func NewMayfly(maxIters, popSize int, seed int64) Optimizer {
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  popSize,
		seed:     seed,
	}
}

// Minimize implements Optimizer.
func (m *MayflyAdapter) Minimize(f func([]float64) float64, lower, upper []float64) ([]float64, float64, error) {
	if len(lower) == 0 || len(lower) != len(upper) {
		return nil, 0, fmt.Errorf("invalid bounds: %d lower, %d upper", len(lower), len(upper))
	}
	for i := range lower {
		if !(upper[i] > lower[i]) {
			return nil, 0, fmt.Errorf("empty bound range in dimension %d: [%g, %g]", i, lower[i], upper[i])
		}
	}

	dim := len(lower)
	scale := func(u []float64) []float64 {
		x := make([]float64, dim)
		for i := range x {
			ui := min(max(u[i], 0), 1)
			x[i] = lower[i] + ui*(upper[i]-lower[i])
		}
		return x
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = func(u []float64) float64 { return f(scale(u)) }
	config.ProblemSize = dim
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.LowerBound = 0
	config.UpperBound = 1
	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		return nil, 0, fmt.Errorf("mayfly optimization failed: %w", err)
	}

	return scale(result.GlobalBest.Position), result.GlobalBest.Cost, nil
}
