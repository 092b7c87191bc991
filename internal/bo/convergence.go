package bo

import (
	"log/slog"
	"math"
)

// Convergence applies the acquisition stopping rule: the run has converged once the best
// acquisition score stays below Threshold for Patience consecutive rounds.
type Convergence struct {
	threshold  float64
	patience   int
	history    []float64
	belowCount int
}

// NewConvergence creates a tracker. Patience below 1 is treated as 1.
func NewConvergence(threshold float64, patience int) *Convergence {
	return &Convergence{
		threshold: threshold,
		patience:  max(patience, 1),
	}
}

// Update records the best score of one acquisition round and reports whether to stop.
func (c *Convergence) Update(bestScore float64) bool {
	c.history = append(c.history, bestScore)

	if !(bestScore < c.threshold) {
		c.belowCount = 0
		return false
	}

	c.belowCount++
	slog.Debug("Acquisition below threshold",
		"best_score", bestScore,
		"threshold", c.threshold,
		"below_count", c.belowCount,
		"patience", c.patience,
	)
	return c.belowCount >= c.patience
}

// History returns every recorded best score.
func (c *Convergence) History() []float64 {
	return append([]float64{}, c.history...)
}

// Last returns the most recent best score, or NaN before the first round.
func (c *Convergence) Last() float64 {
	if len(c.history) == 0 {
		return math.NaN()
	}
	return c.history[len(c.history)-1]
}
