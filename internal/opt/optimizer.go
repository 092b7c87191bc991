// Package opt wraps derivative-free global optimizers used for hyperparameter search.
package opt

// Optimizer minimizes a black-box function over a box.
type Optimizer interface {
	// Minimize searches [lower, upper] (one bound pair per dimension) for the minimizer of f.
	// Returns the best point found and its value.
	Minimize(f func([]float64) float64, lower, upper []float64) ([]float64, float64, error)
}
