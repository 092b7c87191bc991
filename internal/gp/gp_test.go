package gp

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gridData(res int, f func(a, b float64) float64) ([][]float64, []float64) {
	var x [][]float64
	var y []float64
	for i := 0; i < res; i++ {
		for j := 0; j < res; j++ {
			a := float64(i) / float64(res-1)
			b := float64(j) / float64(res-1)
			x = append(x, []float64{a, b})
			y = append(y, f(a, b))
		}
	}
	return x, y
}

func smooth(a, b float64) float64 {
	return math.Sin(3*a) + b*b
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.NoiseFloor = 1e-4
	opts.Epochs = 300
	opts.Workers = 3
	return opts
}

func TestGradientMatchesFiniteDifferences(t *testing.T) {
	x, y := gridData(4, smooth)
	theta := []float64{0.3, 0.2, -0.4, 0.1, -1.0}
	grad := make([]float64, len(theta))

	_, err := negLogLikelihood(x, y, theta, 1e-3, grad)
	require.NoError(t, err)

	const h = 1e-6
	for i := range theta {
		plus := append([]float64(nil), theta...)
		minus := append([]float64(nil), theta...)
		plus[i] += h
		minus[i] -= h
		lp, err := negLogLikelihood(x, y, plus, 1e-3, nil)
		require.NoError(t, err)
		lm, err := negLogLikelihood(x, y, minus, 1e-3, nil)
		require.NoError(t, err)

		numeric := (lp - lm) / (2 * h)
		assert.InDelta(t, numeric, grad[i], 1e-4*math.Max(1, math.Abs(numeric)), "parameter %d", i)
	}
}

func TestFitImprovesLikelihoodAndPredictions(t *testing.T) {
	x, y := gridData(5, smooth)
	opts := testOptions()

	ys, _, _ := standardize(y)
	initial, err := negLogLikelihood(x, ys, initialTheta(ys, 2), opts.NoiseFloor, nil)
	require.NoError(t, err)

	m, err := Fit(x, y, opts)
	require.NoError(t, err)
	assert.Less(t, m.Loss(), initial)
	assert.Equal(t, len(y), m.N())

	means, variances, err := m.Posterior(context.Background(), x)
	require.NoError(t, err)
	require.Len(t, means, len(x))
	require.Len(t, variances, len(x))

	hp := m.Hyperparameters()
	mu, sd := m.OutcomeScale()
	var modelErr, baseErr float64
	for i := range y {
		modelErr += math.Abs(means[i] - y[i])
		baseErr += math.Abs(mu - y[i])
		assert.LessOrEqual(t, variances[i], sd*sd*hp.OutputScale+1e-12)
	}
	assert.Less(t, modelErr, 0.5*baseErr)
}

func TestFitRespectsNoiseFloor(t *testing.T) {
	x, y := gridData(4, smooth)
	opts := testOptions()
	opts.NoiseFloor = 0.1

	m, err := Fit(x, y, opts)
	require.NoError(t, err)

	hp := m.Hyperparameters()
	assert.GreaterOrEqual(t, hp.Noise, 0.1)
	for _, l := range hp.LengthScales {
		assert.Greater(t, l, 0.0)
	}
	assert.Greater(t, hp.OutputScale, 0.0)
}

func TestFitIsFreshEveryCall(t *testing.T) {
	x, y := gridData(3, smooth)
	opts := testOptions()

	a, err := Fit(x, y, opts)
	require.NoError(t, err)
	b, err := Fit(x, y, opts)
	require.NoError(t, err)

	assert.Equal(t, a.Hyperparameters(), b.Hyperparameters())
}

func TestPosteriorFarFromDataRevertsToPrior(t *testing.T) {
	x, y := gridData(3, smooth)
	m, err := Fit(x, y, testOptions())
	require.NoError(t, err)

	means, variances, err := m.Posterior(context.Background(), [][]float64{{1000, 1000}})
	require.NoError(t, err)

	hp := m.Hyperparameters()
	mu, sd := m.OutcomeScale()
	assert.InDelta(t, mu+sd*hp.Mean, means[0], 1e-9)
	assert.InDelta(t, sd*sd*hp.OutputScale, variances[0], 1e-9)
}

func TestStandardize(t *testing.T) {
	ys, mean, std := standardize([]float64{1, 2, 3, 4})
	assert.InDelta(t, 2.5, mean, 1e-12)
	assert.InDelta(t, math.Sqrt(5.0/3.0), std, 1e-12)
	var sum float64
	for _, v := range ys {
		sum += v
	}
	assert.InDelta(t, 0, sum, 1e-12)

	ys, mean, std = standardize([]float64{7, 7, 7})
	assert.Equal(t, 7.0, mean)
	assert.Equal(t, 1.0, std)
	assert.Equal(t, []float64{0, 0, 0}, ys)
}

func TestPosteriorIsInvariantToOutcomeShiftAndScale(t *testing.T) {
	x, y := gridData(3, smooth)
	shifted := make([]float64, len(y))
	for i, v := range y {
		shifted[i] = 100 + 10*v
	}
	opts := testOptions()

	a, err := Fit(x, y, opts)
	require.NoError(t, err)
	b, err := Fit(x, shifted, opts)
	require.NoError(t, err)

	query := [][]float64{{0.25, 0.75}, {0.6, 0.1}}
	ma, va, err := a.Posterior(context.Background(), query)
	require.NoError(t, err)
	mb, vb, err := b.Posterior(context.Background(), query)
	require.NoError(t, err)
	for i := range query {
		assert.InDelta(t, 100+10*ma[i], mb[i], 1e-6)
		assert.InDelta(t, 100*va[i], vb[i], 1e-6)
	}
}

func TestPosteriorOrderIndependentOfWorkers(t *testing.T) {
	x, y := gridData(4, smooth)
	m, err := Fit(x, y, testOptions())
	require.NoError(t, err)

	query, _ := gridData(9, smooth)
	m.workers = 1
	m1, v1, err := m.Posterior(context.Background(), query)
	require.NoError(t, err)
	m.workers = 7
	m7, v7, err := m.Posterior(context.Background(), query)
	require.NoError(t, err)

	assert.Equal(t, m1, m7)
	assert.Equal(t, v1, v7)
}

func TestFitErrors(t *testing.T) {
	opts := testOptions()

	tests := []struct {
		name string
		x    [][]float64
		y    []float64
	}{
		{name: "empty", x: nil, y: nil},
		{name: "length mismatch", x: [][]float64{{0, 0}}, y: []float64{1, 2}},
		{name: "non-finite observation", x: [][]float64{{0, 0}, {1, 1}}, y: []float64{1, math.Inf(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FitWithRestart(tt.x, tt.y, opts)
			var ferr *FitError
			require.ErrorAs(t, err, &ferr)
			assert.False(t, ferr.Restarted)
		})
	}
}

func TestTrainRejectsNonFiniteStart(t *testing.T) {
	x, y := gridData(3, smooth)
	theta := []float64{math.NaN(), 0, 0, 0, 0}

	_, err := train(x, y, theta, 0, 1, testOptions(), false)
	var ferr *FitError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, 0, ferr.Epoch)
}

func TestRestartProposesTrainableHyperparameters(t *testing.T) {
	x, y := gridData(4, smooth)
	opts := testOptions()

	theta, err := restartTheta(x, y, opts)
	require.NoError(t, err)
	require.Len(t, theta, 5)
	assert.True(t, finite(theta...))

	m, err := train(x, y, theta, 0, 1, opts, true)
	require.NoError(t, err)
	assert.Equal(t, 16, m.N())
}
