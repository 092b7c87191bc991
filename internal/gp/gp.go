// Package gp implements the Gaussian-process surrogate: constant mean, scaled RBF kernel with one
// length scale per input dimension, and Gaussian observation noise with a hard lower bound.
//
// Observations are standardized to zero mean and unit variance before fitting, so every
// hyperparameter, including the noise floor, is expressed in standardized units. Posterior
// predictions are returned in the original units.
package gp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"

	"github.com/sourcegraph/conc/pool"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/cwbudde/latentbo/internal/opt"
)

// Options control a surrogate fit.
type Options struct {
	NoiseFloor   float64
	LearningRate float64
	Epochs       int
	// Workers bounds posterior parallelism; <= 0 means GOMAXPROCS.
	Workers int

	// Restart search over raw kernel parameters
	RestartSeed       int64
	RestartPopulation int
	RestartIterations int
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		NoiseFloor:        0.1,
		LearningRate:      0.05,
		Epochs:            150,
		RestartSeed:       1,
		RestartPopulation: 20,
		RestartIterations: 30,
	}
}

// Model is a fitted surrogate. It is immutable and safe for concurrent Posterior calls.
type Model struct {
	x       [][]float64
	hp      Hyperparameters
	yMean   float64
	yStd    float64
	lower   mat.TriDense
	alpha   *mat.VecDense
	loss    float64
	workers int
}

// Hyperparameters returns the fitted hyperparameters.
func (m *Model) Hyperparameters() Hyperparameters {
	hp := m.hp
	hp.LengthScales = append([]float64(nil), m.hp.LengthScales...)
	return hp
}

// OutcomeScale returns the mean and standard deviation used to standardize the observations.
func (m *Model) OutcomeScale() (mean, std float64) {
	return m.yMean, m.yStd
}

// Loss returns the final negative marginal log likelihood per observation.
func (m *Model) Loss() float64 {
	return m.loss
}

// N returns the number of training points.
func (m *Model) N() int {
	return len(m.x)
}

// Fit trains a fresh surrogate on (x, y) with Adam for a fixed number of epochs.
// Hyperparameters start from the same defaults on every call; no state carries over from
// earlier fits.
func Fit(x [][]float64, y []float64, opts Options) (*Model, error) {
	if err := checkData(x, y); err != nil {
		return nil, &FitError{Err: err}
	}
	ys, mean, std := standardize(y)
	return train(x, ys, initialTheta(ys, len(x[0])), mean, std, opts, false)
}

// FitWithRestart calls Fit and, on a FitError, retries once from hyperparameters proposed by a
// seeded global search over the likelihood.
func FitWithRestart(x [][]float64, y []float64, opts Options) (*Model, error) {
	m, err := Fit(x, y, opts)
	if err == nil {
		return m, nil
	}
	var ferr *FitError
	if !errors.As(err, &ferr) || checkData(x, y) != nil {
		return nil, err
	}

	slog.Warn("GP fit failed, restarting with re-initialized hyperparameters",
		"epoch", ferr.Epoch,
		"error", ferr.Err,
	)

	ys, mean, std := standardize(y)
	theta, err := restartTheta(x, ys, opts)
	if err != nil {
		return nil, &FitError{Restarted: true, Err: err}
	}
	return train(x, ys, theta, mean, std, opts, true)
}

func checkData(x [][]float64, y []float64) error {
	if len(x) == 0 {
		return fmt.Errorf("no training data")
	}
	if len(x) != len(y) {
		return fmt.Errorf("%d inputs but %d observations", len(x), len(y))
	}
	dim := len(x[0])
	if dim == 0 {
		return fmt.Errorf("zero-dimensional inputs")
	}
	for i := range x {
		if len(x[i]) != dim {
			return fmt.Errorf("input %d has dimension %d, expected %d", i, len(x[i]), dim)
		}
		if !finite(x[i]...) || !finite(y[i]) {
			return fmt.Errorf("non-finite training point at index %d", i)
		}
	}
	return nil
}

// standardize returns (y-mean)/std. A constant series keeps std = 1.
func standardize(y []float64) (ys []float64, mean, std float64) {
	mean = stat.Mean(y, nil)
	std = 1
	if len(y) > 1 {
		if sd := stat.StdDev(y, nil); sd > 1e-12 {
			std = sd
		}
	}
	ys = make([]float64, len(y))
	for i, v := range y {
		ys[i] = (v - mean) / std
	}
	return ys, mean, std
}

func initialTheta(y []float64, dim int) []float64 {
	theta := make([]float64, dim+3)
	theta[0] = stat.Mean(y, nil)
	return theta
}

func restartTheta(x [][]float64, y []float64, opts Options) ([]float64, error) {
	dim := len(x[0])
	base := initialTheta(y, dim)

	// Search the softplus-raw kernel parameters; the mean stays at mean(y)
	k := dim + 2
	lower := make([]float64, k)
	upper := make([]float64, k)
	for i := range lower {
		lower[i], upper[i] = -4, 4
	}

	eval := func(p []float64) float64 {
		theta := append([]float64{base[0]}, p...)
		loss, err := negLogLikelihood(x, y, theta, opts.NoiseFloor, nil)
		if err != nil {
			return math.MaxFloat64
		}
		return loss
	}

	best, cost, err := opt.NewMayfly(opts.RestartIterations, opts.RestartPopulation, opts.RestartSeed).
		Minimize(eval, lower, upper)
	if err != nil {
		return nil, err
	}
	if cost == math.MaxFloat64 {
		return nil, fmt.Errorf("restart search found no factorizable hyperparameters")
	}
	return append([]float64{base[0]}, best...), nil
}

// train runs Adam on standardized observations y; mean and std undo the standardization.
func train(x [][]float64, y []float64, theta []float64, mean, std float64, opts Options, restarted bool) (*Model, error) {
	grad := make([]float64, len(theta))
	optimizer := newAdam(opts.LearningRate, len(theta))

	for epoch := 0; epoch < opts.Epochs; epoch++ {
		if _, err := negLogLikelihood(x, y, theta, opts.NoiseFloor, grad); err != nil {
			return nil, &FitError{Epoch: epoch, Restarted: restarted, Err: err}
		}
		optimizer.step(theta, grad)
	}

	if !finite(theta...) {
		return nil, &FitError{Epoch: opts.Epochs, Restarted: restarted, Err: fmt.Errorf("non-finite parameters %v", theta)}
	}
	m, err := build(x, y, theta, opts)
	if err != nil {
		return nil, &FitError{Epoch: opts.Epochs, Restarted: restarted, Err: err}
	}
	m.yMean, m.yStd = mean, std

	slog.Debug("GP fit complete",
		"n", len(y),
		"loss", m.loss,
		"mean", m.hp.Mean,
		"outputscale", m.hp.OutputScale,
		"lengthscales", m.hp.LengthScales,
		"noise", m.hp.Noise,
	)
	return m, nil
}

// build factorizes the final covariance and caches the weights used for prediction.
func build(x [][]float64, y, theta []float64, opts Options) (*Model, error) {
	loss, err := negLogLikelihood(x, y, theta, opts.NoiseFloor, nil)
	if err != nil {
		return nil, err
	}

	n := len(y)
	hp := decode(theta, len(x[0]), opts.NoiseFloor)
	k := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := hp.OutputScale * correlation(x[i], x[j], hp.LengthScales)
			if i == j {
				v += hp.Noise
			}
			k.SetSym(i, j, v)
		}
	}
	chol, err := factorize(k)
	if err != nil {
		return nil, err
	}

	resid := mat.NewVecDense(n, nil)
	for i := range y {
		resid.SetVec(i, y[i]-hp.Mean)
	}
	alpha := mat.NewVecDense(n, nil)
	if err := tolerable(chol.SolveVecTo(alpha, resid)); err != nil {
		return nil, err
	}

	m := &Model{
		x:       x,
		hp:      hp,
		alpha:   alpha,
		loss:    loss,
		workers: opts.Workers,
	}
	chol.LTo(&m.lower)
	return m, nil
}

// Posterior returns the latent posterior mean and variance at each query point, in input order.
// Each point is predicted independently so memory stays linear in the training size per point.
// The variance is not clamped; callers decide how to treat non-positive values.
func (m *Model) Posterior(ctx context.Context, xq [][]float64) (means, variances []float64, err error) {
	means = make([]float64, len(xq))
	variances = make([]float64, len(xq))
	if len(xq) == 0 {
		return means, variances, nil
	}

	workers := m.workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	chunk := (len(xq) + workers - 1) / workers

	p := pool.New().WithMaxGoroutines(workers).WithContext(ctx)
	for start := 0; start < len(xq); start += chunk {
		end := min(start+chunk, len(xq))
		p.Go(func(ctx context.Context) error {
			n := len(m.x)
			k := mat.NewVecDense(n, nil)
			var v mat.VecDense
			for i := start; i < end; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				for j := 0; j < n; j++ {
					k.SetVec(j, m.hp.OutputScale*correlation(m.x[j], xq[i], m.hp.LengthScales))
				}
				mu := m.hp.Mean + mat.Dot(k, m.alpha)
				if err := tolerable(v.SolveVec(&m.lower, k)); err != nil {
					return fmt.Errorf("failed to solve posterior at point %d: %w", i, err)
				}
				means[i] = m.yMean + m.yStd*mu
				variances[i] = m.yStd * m.yStd * (m.hp.OutputScale - mat.Dot(&v, &v))
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, nil, err
	}
	return means, variances, nil
}
