// Package synthetic provides closed-form decoders and objectives used for demos and tests in
// place of a trained model and its training runs.
package synthetic

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/cwbudde/latentbo/internal/space"
)

// LinearRamp decodes z into a schedule ramping linearly from z[0] to z[0]+z[1] over Length steps.
// A candidate is admissible iff z[0] > 0 and z[0]+z[1] > 0.
type LinearRamp struct {
	Length int
}

func (r LinearRamp) Decode(_ context.Context, z space.Candidate) ([]float64, error) {
	if r.Length < 2 {
		return nil, fmt.Errorf("ramp length must be at least 2, got %d", r.Length)
	}
	out := make([]float64, r.Length)
	for t := range out {
		out[t] = z[0] + z[1]*float64(t)/float64(r.Length-1)
	}
	return out, nil
}

func (r LinearRamp) DecodeBatch(ctx context.Context, zs []space.Candidate) ([][]float64, error) {
	out := make([][]float64, len(zs))
	for i, z := range zs {
		s, err := r.Decode(ctx, z)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// Shifted decodes z into the two-element schedule z+Shift, so the latent point can be
// recovered from the schedule.
type Shifted struct {
	Shift float64
}

func (s Shifted) Decode(_ context.Context, z space.Candidate) ([]float64, error) {
	return []float64{z[0] + s.Shift, z[1] + s.Shift}, nil
}

// Band decodes z into [z0+Shift, z1+Shift, Width-|z0-z1|]. Only candidates within Width of the
// diagonal keep a positive last element, so the admissible set is a band around z0 == z1.
type Band struct {
	Shift float64
	Width float64
}

func (b Band) Decode(_ context.Context, z space.Candidate) ([]float64, error) {
	return []float64{z[0] + b.Shift, z[1] + b.Shift, b.Width - math.Abs(z[0]-z[1])}, nil
}

// NegDistance scores a Shifted or Band schedule by the negative Euclidean distance of the
// underlying latent point to Target. Elements past the first two are ignored.
type NegDistance struct {
	Target space.Candidate
	Shift  float64
}

func (n NegDistance) Evaluate(_ context.Context, schedule []float64, _ int) (float64, error) {
	if len(schedule) < 2 {
		return 0, fmt.Errorf("expected at least 2 schedule elements, got %d", len(schedule))
	}
	dx := schedule[0] - n.Shift - n.Target[0]
	dy := schedule[1] - n.Shift - n.Target[1]
	return -math.Hypot(dx, dy), nil
}

// RampScore rewards schedules whose mean and final value approach the targets, mimicking a
// similarity score in [0, 1]. With Noise > 0 a seeded Gaussian perturbation is added.
type RampScore struct {
	TargetMean  float64
	TargetFinal float64
	Noise       float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRampScore creates a RampScore with its own seeded noise source.
func NewRampScore(targetMean, targetFinal, noise float64, seed int64) *RampScore {
	return &RampScore{
		TargetMean:  targetMean,
		TargetFinal: targetFinal,
		Noise:       noise,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

func (r *RampScore) Evaluate(_ context.Context, schedule []float64, _ int) (float64, error) {
	if len(schedule) == 0 {
		return 0, fmt.Errorf("empty schedule")
	}
	var sum float64
	for _, v := range schedule {
		sum += v
	}
	mean := sum / float64(len(schedule))
	final := schedule[len(schedule)-1]

	d := (mean-r.TargetMean)*(mean-r.TargetMean) + (final-r.TargetFinal)*(final-r.TargetFinal)
	score := math.Exp(-d)

	if r.Noise > 0 && r.rng != nil {
		r.mu.Lock()
		score += r.Noise * r.rng.NormFloat64()
		r.mu.Unlock()
	}
	return score, nil
}
