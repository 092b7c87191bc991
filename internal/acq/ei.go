// Package acq scores candidates with Expected Improvement and breaks ties at random.
package acq

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultEta is the exploration margin subtracted from the improvement.
const DefaultEta = 1e-3

// Denominator selects how the improvement is standardized.
type Denominator string

const (
	// VarianceDenominator divides by the posterior variance.
	VarianceDenominator Denominator = "variance"
	// StdDevDenominator divides by the posterior standard deviation (textbook EI).
	StdDevDenominator Denominator = "stddev"
)

// Result holds the scores for one acquisition round.
type Result struct {
	Scores []float64
	// Argmax lists every index attaining Best, in ascending order.
	Argmax []int
	Best   float64
	// Degenerate counts points with non-positive variance whose score was forced to 0.
	Degenerate int
}

// ExpectedImprovement scores every candidate against the incumbent best observation.
// Points with a non-positive (or NaN) variance score exactly 0.
func ExpectedImprovement(means, variances []float64, best, eta float64, denom Denominator) (Result, error) {
	if len(means) != len(variances) {
		return Result{}, fmt.Errorf("%d means but %d variances", len(means), len(variances))
	}
	if len(means) == 0 {
		return Result{}, fmt.Errorf("no candidates to score")
	}

	res := Result{
		Scores: make([]float64, len(means)),
		Best:   math.Inf(-1),
	}
	for i, m := range means {
		if v := variances[i]; v > 0 {
			if s := score(m, v, best, eta, denom); !math.IsNaN(s) {
				res.Scores[i] = s
			}
		} else {
			res.Degenerate++
		}

		switch s := res.Scores[i]; {
		case s > res.Best:
			res.Best = s
			res.Argmax = append(res.Argmax[:0], i)
		case s == res.Best:
			res.Argmax = append(res.Argmax, i)
		}
	}

	if res.Degenerate > 0 {
		slog.Debug("Degenerate posterior variance", "points", res.Degenerate)
	}
	return res, nil
}

func score(mean, variance, best, eta float64, denom Denominator) float64 {
	improvement := mean - best - eta

	scale := variance
	if denom == StdDevDenominator {
		scale = math.Sqrt(variance)
	}
	z := improvement / scale
	return improvement*distuv.UnitNormal.CDF(z) + scale*distuv.UnitNormal.Prob(z)
}

// SelectTie picks one of the tied indices uniformly at random.
func SelectTie(rng *rand.Rand, argmax []int) int {
	if len(argmax) == 1 {
		return argmax[0]
	}
	return argmax[rng.Intn(len(argmax))]
}
