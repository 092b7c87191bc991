package gp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// negLogLikelihood returns the exact negative marginal log likelihood divided by n and,
// when grad is non-nil, fills it with the gradient with respect to the raw parameters.
func negLogLikelihood(x [][]float64, y, theta []float64, noiseFloor float64, grad []float64) (float64, error) {
	n := len(y)
	dim := len(x[0])
	hp := decode(theta, dim, noiseFloor)
	if !finite(hp.OutputScale, hp.Noise) || !finite(hp.LengthScales...) {
		return 0, fmt.Errorf("non-finite hyperparameters %+v", hp)
	}

	corr := mat.NewSymDense(n, nil)
	k := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			r := correlation(x[i], x[j], hp.LengthScales)
			corr.SetSym(i, j, r)
			v := hp.OutputScale * r
			if i == j {
				v += hp.Noise
			}
			k.SetSym(i, j, v)
		}
	}

	chol, err := factorize(k)
	if err != nil {
		return 0, err
	}

	resid := mat.NewVecDense(n, nil)
	for i := range y {
		resid.SetVec(i, y[i]-hp.Mean)
	}
	var alpha mat.VecDense
	if err := tolerable(chol.SolveVecTo(&alpha, resid)); err != nil {
		return 0, fmt.Errorf("failed to solve for weights: %w", err)
	}

	nf := float64(n)
	loss := (0.5*mat.Dot(resid, &alpha) + 0.5*chol.LogDet() + 0.5*nf*math.Log(2*math.Pi)) / nf
	if !finite(loss) {
		return loss, fmt.Errorf("non-finite loss %v", loss)
	}
	if grad == nil {
		return loss, nil
	}

	var kinv mat.SymDense
	if err := tolerable(chol.InverseTo(&kinv)); err != nil {
		return 0, fmt.Errorf("failed to invert covariance: %w", err)
	}

	for i := range grad {
		grad[i] = 0
	}

	// d(nll)/dK = 0.5 * (K^-1 - alpha alpha^T)
	for i := 0; i < n; i++ {
		ai := alpha.AtVec(i)
		grad[0] -= ai
		for j := 0; j < n; j++ {
			w := kinv.At(i, j) - ai*alpha.AtVec(j)
			r := corr.At(i, j)
			grad[1] += 0.5 * w * r
			for d, l := range hp.LengthScales {
				diff := x[i][d] - x[j][d]
				grad[2+d] += 0.5 * w * hp.OutputScale * r * diff * diff / (l * l * l)
			}
			if i == j {
				grad[2+dim] += 0.5 * w
			}
		}
	}

	// Chain rule through softplus
	grad[1] *= sigmoid(theta[1])
	for d := 0; d < dim; d++ {
		grad[2+d] *= sigmoid(theta[2+d])
	}
	grad[2+dim] *= sigmoid(theta[2+dim])
	for i := range grad {
		grad[i] /= nf
	}

	if !finite(grad...) {
		return loss, fmt.Errorf("non-finite gradient %v", grad)
	}
	return loss, nil
}
