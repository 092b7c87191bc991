package gp

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Hyperparameters are the constrained values of a fitted surrogate.
type Hyperparameters struct {
	Mean         float64   `json:"mean"`
	OutputScale  float64   `json:"outputScale"`
	LengthScales []float64 `json:"lengthScales"`
	Noise        float64   `json:"noise"`
}

// Raw parameter layout: [mean, outputscale, lengthscale_1..lengthscale_d, noise].
// Everything except the mean lives in softplus space.
func decode(theta []float64, dim int, noiseFloor float64) Hyperparameters {
	hp := Hyperparameters{
		Mean:         theta[0],
		OutputScale:  softplus(theta[1]),
		LengthScales: make([]float64, dim),
		Noise:        noiseFloor + softplus(theta[2+dim]),
	}
	for d := 0; d < dim; d++ {
		hp.LengthScales[d] = softplus(theta[2+d])
	}
	return hp
}

func softplus(x float64) float64 {
	if x > 30 {
		return x
	}
	return math.Log1p(math.Exp(x))
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// correlation is the unscaled RBF term exp(-0.5 * sum_d ((a_d-b_d)/l_d)^2).
func correlation(a, b, lengthScales []float64) float64 {
	var r2 float64
	for d, l := range lengthScales {
		diff := (a[d] - b[d]) / l
		r2 += diff * diff
	}
	return math.Exp(-0.5 * r2)
}

var jitterLevels = []float64{0, 1e-8, 1e-6, 1e-4}

// factorize computes the Cholesky factor of k, adding diagonal jitter relative to the mean
// diagonal when plain factorization fails.
func factorize(k *mat.SymDense) (*mat.Cholesky, error) {
	n := k.SymmetricDim()
	var diag float64
	for i := 0; i < n; i++ {
		diag += k.At(i, i)
	}
	diag /= float64(n)

	for _, level := range jitterLevels {
		a := k
		if level > 0 {
			a = mat.NewSymDense(n, nil)
			a.CopySym(k)
			for i := 0; i < n; i++ {
				a.SetSym(i, i, a.At(i, i)+level*diag)
			}
		}
		var chol mat.Cholesky
		if chol.Factorize(a) {
			return &chol, nil
		}
	}
	return nil, fmt.Errorf("covariance matrix is not positive definite")
}

// tolerable drops gonum's ill-conditioning warnings; the solution is still computed.
func tolerable(err error) error {
	var cond mat.Condition
	if errors.As(err, &cond) {
		return nil
	}
	return err
}

func finite(xs ...float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
