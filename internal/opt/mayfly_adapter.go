package opt

import (
	"log/slog"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// MayflyAdapter wraps the external Mayfly library to conform to our Optimizer interface
type MayflyAdapter struct {
	maxIters int
	popSize  int
	seed     int64
}

// NewMayfly creates a new Mayfly optimizer adapter
func NewMayfly(maxIters, popSize int, seed int64) Optimizer {
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  popSize,
		seed:     seed,
	}
}

// Run executes the Mayfly optimization and clamps the best position into
// [lower, upper] per dimension.
func (m *MayflyAdapter) Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64) {
	if dim == 0 {
		return nil, eval(nil)
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = eval
	config.ProblemSize = dim
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize

	// The library takes scalar bounds; use the widest box and clamp after.
	lo, hi := lower[0], upper[0]
	for i := 1; i < dim; i++ {
		lo = min(lo, lower[i])
		hi = max(hi, upper[i])
	}
	config.LowerBound = lo
	config.UpperBound = hi

	// Set random seed for reproducibility
	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		slog.Warn("Mayfly optimization failed, using zero vector", "error", err)
		zero := make([]float64, dim)
		return zero, eval(zero)
	}

	best := make([]float64, dim)
	clamped := false
	for i, v := range result.GlobalBest.Position[:dim] {
		c := min(max(v, lower[i]), upper[i])
		clamped = clamped || c != v
		best[i] = c
	}
	if clamped {
		return best, eval(best)
	}
	return best, result.GlobalBest.Cost
}
