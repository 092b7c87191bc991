package store

import (
	"fmt"
	"math"
	"time"

	"github.com/cwbudde/latentbo/internal/config"
	"github.com/cwbudde/latentbo/internal/space"
)

// CheckpointVersion is the record format written by this package.
const CheckpointVersion = 1

// Checkpoint is the single persisted record of an experiment. The candidate slices and the
// observations are index aligned, and Evaluations always equals len(Observations), so the four
// artifacts are saved and restored together or not at all.
type Checkpoint struct {
	Version int    `json:"version"`
	RunID   string `json:"runId"`

	// State is the controller state when the checkpoint was written
	State string `json:"state"`

	Raw          []space.Candidate `json:"raw"`
	Normalized   []space.Candidate `json:"normalized"`
	Observations []float64         `json:"observations"`

	// Evaluations counts objective calls
	Evaluations int `json:"evaluations"`

	// Iteration counts completed acquisition iterations
	Iteration int `json:"iteration"`

	Timestamp time.Time     `json:"timestamp"`
	Config    config.Config `json:"config"`
}

// CheckpointInfo is the listing view of a checkpoint.
type CheckpointInfo struct {
	RunID           string          `json:"runId"`
	State           string          `json:"state"`
	Evaluations     int             `json:"evaluations"`
	Iteration       int             `json:"iteration"`
	Budget          int             `json:"budget"`
	BestObservation float64         `json:"bestObservation"`
	BestCandidate   space.Candidate `json:"bestCandidate"`
	Timestamp       time.Time       `json:"timestamp"`
}

// ToInfo converts a full Checkpoint to its listing view.
func (c *Checkpoint) ToInfo() CheckpointInfo {
	info := CheckpointInfo{
		RunID:       c.RunID,
		State:       c.State,
		Evaluations: c.Evaluations,
		Iteration:   c.Iteration,
		Budget:      c.Config.Iterations,
		Timestamp:   c.Timestamp,
	}
	if i := c.BestIndex(); i >= 0 {
		info.BestObservation = c.Observations[i]
		info.BestCandidate = c.Raw[i]
	}
	return info
}

// BestIndex returns the index of the largest observation, or -1 when there is none.
// Ties resolve to the first occurrence.
func (c *Checkpoint) BestIndex() int {
	best := -1
	for i, y := range c.Observations {
		if best < 0 || y > c.Observations[best] {
			best = i
		}
	}
	return best
}

// Validate checks the internal consistency of the record.
func (c *Checkpoint) Validate() error {
	if c.Version != CheckpointVersion {
		return &ValidationError{Field: "Version", Reason: fmt.Sprintf("unsupported version %d", c.Version)}
	}
	if c.RunID == "" {
		return &ValidationError{Field: "RunID", Reason: "cannot be empty"}
	}
	if len(c.Raw) != len(c.Observations) || len(c.Normalized) != len(c.Observations) {
		return &ValidationError{
			Field:  "Observations",
			Reason: fmt.Sprintf("length mismatch: %d raw, %d normalized, %d observations", len(c.Raw), len(c.Normalized), len(c.Observations)),
		}
	}
	if c.Evaluations != len(c.Observations) {
		return &ValidationError{
			Field:  "Evaluations",
			Reason: fmt.Sprintf("counter %d does not match %d observations", c.Evaluations, len(c.Observations)),
		}
	}
	for i, y := range c.Observations {
		if math.IsNaN(y) || math.IsInf(y, 0) {
			return &ValidationError{Field: "Observations", Reason: fmt.Sprintf("non-finite value at index %d", i)}
		}
	}
	if c.Iteration < 0 {
		return &ValidationError{Field: "Iteration", Reason: "cannot be negative"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	return nil
}

// ValidationError represents an inconsistent checkpoint.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks whether a run can be resumed under cfg. Settings that shape the
// admissible set or the initial design must match; the iteration budget and the surrogate
// settings may change between sessions.
func (c *Checkpoint) IsCompatible(cfg config.Config) error {
	checks := []struct {
		field    string
		expected any
		actual   any
	}{
		{"GridResolution", c.Config.GridResolution, cfg.GridResolution},
		{"XAxis", c.Config.XAxis, cfg.XAxis},
		{"YAxis", c.Config.YAxis, cfg.YAxis},
		{"NumStart", c.Config.NumStart, cfg.NumStart},
		{"Seed", c.Config.Seed, cfg.Seed},
	}
	for _, ch := range checks {
		if ch.expected != ch.actual {
			return &CompatibilityError{
				Field:    ch.field,
				Expected: fmt.Sprintf("%v", ch.expected),
				Actual:   fmt.Sprintf("%v", ch.actual),
			}
		}
	}
	return nil
}

// CompatibilityError represents a checkpoint that cannot be resumed with a configuration.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
