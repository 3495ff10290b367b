package opt

// Optimizer defines an optimization algorithm interface
type Optimizer interface {
	// Run executes the optimization
	// eval: objective function to minimize
	// lower, upper: parameter bounds
	// dim: dimensionality of parameter space
	// Returns: best parameters and best cost
	Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64)
}

// LeastSquares returns the mean squared prediction error of a linear model
// expressed through its normal equations: (xᵀ·AᵀA·x − 2·xᵀ·Aᵀb + bᵀb) / n.
// ata is dim×dim row-major, atb has dim entries, bb is bᵀb and n the number
// of rows in A. A non-positive n gives an objective that is always zero.
func LeastSquares(ata, atb []float64, bb float64, n int) func([]float64) float64 {
	dim := len(atb)
	return func(x []float64) float64 {
		if n <= 0 {
			return 0
		}
		var quad, lin float64
		for i := 0; i < dim; i++ {
			row := ata[i*dim : i*dim+dim]
			var s float64
			for j, v := range row {
				s += v * x[j]
			}
			quad += x[i] * s
			lin += x[i] * atb[i]
		}
		return (quad - 2*lin + bb) / float64(n)
	}
}
