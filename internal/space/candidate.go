package space

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Candidate is a point in the 2-D latent space.
type Candidate [2]float64

// Axis is a closed interval sampled along one latent dimension.
type Axis struct {
	Min float64 `mapstructure:"min" yaml:"min" json:"min"`
	Max float64 `mapstructure:"max" yaml:"max" json:"max" validate:"gtfield=Min"`
}

// Grid is the rectangular discretization of the latent space scanned by the filter.
type Grid struct {
	X []float64
	Y []float64
}

// NewGrid samples resolution evenly spaced points along each axis, endpoints included.
func NewGrid(x, y Axis, resolution int) (Grid, error) {
	if resolution < 2 {
		return Grid{}, fmt.Errorf("grid resolution must be at least 2, got %d", resolution)
	}
	if !(x.Max > x.Min) || !(y.Max > y.Min) {
		return Grid{}, fmt.Errorf("empty axis range: x=[%g,%g] y=[%g,%g]", x.Min, x.Max, y.Min, y.Max)
	}

	g := Grid{
		X: make([]float64, resolution),
		Y: make([]float64, resolution),
	}
	floats.Span(g.X, x.Min, x.Max)
	floats.Span(g.Y, y.Min, y.Max)
	return g, nil
}

// Len returns the number of grid points.
func (g Grid) Len() int {
	return len(g.X) * len(g.Y)
}

// At returns the i-th grid point in row-major order: the x sample varies slowest.
func (g Grid) At(i int) Candidate {
	return Candidate{g.X[i/len(g.Y)], g.Y[i%len(g.Y)]}
}
