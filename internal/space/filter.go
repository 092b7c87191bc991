package space

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Decoder maps a latent candidate to its schedule array.
type Decoder interface {
	Decode(ctx context.Context, c Candidate) ([]float64, error)
}

// BatchDecoder is implemented by decoders that can decode several candidates in one call.
// The returned schedules must be index aligned with the input.
type BatchDecoder interface {
	Decoder
	DecodeBatch(ctx context.Context, cs []Candidate) ([][]float64, error)
}

// FeasibilityError reports a grid point whose decoding failed or produced a non-finite value.
type FeasibilityError struct {
	Index     int
	Candidate Candidate
	Err       error
}

func (e *FeasibilityError) Error() string {
	return fmt.Sprintf("feasibility check failed at grid index %d (z=%v): %v", e.Index, e.Candidate, e.Err)
}

func (e *FeasibilityError) Unwrap() error {
	return e.Err
}

// AdmissibleSet is the ordered set of grid points whose decoded schedule is strictly positive.
// Raw and Normalized are index aligned and immutable once built.
type AdmissibleSet struct {
	Raw        []Candidate
	Normalized []Candidate
	Lower      Candidate
	Upper      Candidate
}

// Len returns the number of admissible candidates.
func (a *AdmissibleSet) Len() int {
	return len(a.Raw)
}

// Filter scans the grid in row-major order and keeps every point whose decoded schedule has a
// strictly positive minimum. Scan order is preserved in the result.
func Filter(ctx context.Context, grid Grid, dec Decoder) (*AdmissibleSet, error) {
	set := &AdmissibleSet{
		Raw: make([]Candidate, 0, grid.Len()),
	}

	if bd, ok := dec.(BatchDecoder); ok {
		// One grid row per batch
		row := len(grid.Y)
		for start := 0; start < grid.Len(); start += row {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			batch := make([]Candidate, row)
			for j := range batch {
				batch[j] = grid.At(start + j)
			}
			schedules, err := bd.DecodeBatch(ctx, batch)
			if err != nil {
				return nil, &FeasibilityError{Index: start, Candidate: batch[0], Err: err}
			}
			if len(schedules) != len(batch) {
				return nil, &FeasibilityError{
					Index:     start,
					Candidate: batch[0],
					Err:       fmt.Errorf("batch decode returned %d schedules for %d candidates", len(schedules), len(batch)),
				}
			}
			for j, s := range schedules {
				ok, err := admissible(s)
				if err != nil {
					return nil, &FeasibilityError{Index: start + j, Candidate: batch[j], Err: err}
				}
				if ok {
					set.Raw = append(set.Raw, batch[j])
				}
			}
		}
	} else {
		for i := 0; i < grid.Len(); i++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			c := grid.At(i)
			s, err := dec.Decode(ctx, c)
			if err != nil {
				return nil, &FeasibilityError{Index: i, Candidate: c, Err: err}
			}
			ok, err := admissible(s)
			if err != nil {
				return nil, &FeasibilityError{Index: i, Candidate: c, Err: err}
			}
			if ok {
				set.Raw = append(set.Raw, c)
			}
		}
	}

	set.Normalized, set.Lower, set.Upper = Normalize(set.Raw)

	slog.Info("Feasibility scan complete",
		"grid_points", grid.Len(),
		"admissible", set.Len(),
	)
	return set, nil
}

// admissible reports whether every element of the schedule is strictly positive.
func admissible(schedule []float64) (bool, error) {
	if len(schedule) == 0 {
		return false, fmt.Errorf("decoder returned an empty schedule")
	}
	for _, v := range schedule {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false, fmt.Errorf("decoded schedule contains non-finite value %v", v)
		}
	}
	return floats.Min(schedule) > 0, nil
}
