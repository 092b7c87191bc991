package bo

import (
	"fmt"
	"time"

	"github.com/cwbudde/latentbo/internal/config"
	"github.com/cwbudde/latentbo/internal/space"
	"github.com/cwbudde/latentbo/internal/store"
)

// TrainingSet is a copy of the index-aligned evaluation history.
type TrainingSet struct {
	Raw          []space.Candidate `json:"raw"`
	Normalized   []space.Candidate `json:"normalized"`
	Observations []float64         `json:"observations"`
}

// Experiment is the append-only state of a run: evaluated candidates in raw and normalized
// form, their observations, and the evaluation counter. It is owned by a single controller.
type Experiment struct {
	runID       string
	raw         []space.Candidate
	norm        []space.Candidate
	obs         []float64
	evaluations int
	iteration   int
}

// NewExperiment creates an empty experiment.
func NewExperiment(runID string) *Experiment {
	return &Experiment{runID: runID}
}

// RunID returns the run identifier.
func (e *Experiment) RunID() string {
	return e.runID
}

// Augment appends one evaluated candidate and counts the evaluation.
func (e *Experiment) Augment(raw, norm space.Candidate, y float64) {
	e.raw = append(e.raw, raw)
	e.norm = append(e.norm, norm)
	e.obs = append(e.obs, y)
	e.evaluations++
}

// Len returns the number of observations.
func (e *Experiment) Len() int {
	return len(e.obs)
}

// Evaluations returns the evaluation counter.
func (e *Experiment) Evaluations() int {
	return e.evaluations
}

// Iteration returns the number of completed acquisition iterations.
func (e *Experiment) Iteration() int {
	return e.iteration
}

// Best returns the candidate with the largest observation. Ties resolve to the earliest.
func (e *Experiment) Best() (space.Candidate, float64, bool) {
	if len(e.obs) == 0 {
		return space.Candidate{}, 0, false
	}
	best := 0
	for i, y := range e.obs {
		if y > e.obs[best] {
			best = i
		}
	}
	return e.raw[best], e.obs[best], true
}

// TrainingSet returns a copy of the history.
func (e *Experiment) TrainingSet() TrainingSet {
	return TrainingSet{
		Raw:          append([]space.Candidate(nil), e.raw...),
		Normalized:   append([]space.Candidate(nil), e.norm...),
		Observations: append([]float64(nil), e.obs...),
	}
}

func (e *Experiment) inputs() [][]float64 {
	return space.Slices(e.norm)
}

func (e *Experiment) observations() []float64 {
	return e.obs
}

// Snapshot builds the persisted record of the current state.
func (e *Experiment) Snapshot(state State, cfg config.Config) *store.Checkpoint {
	ts := e.TrainingSet()
	return &store.Checkpoint{
		Version:      store.CheckpointVersion,
		RunID:        e.runID,
		State:        string(state),
		Raw:          ts.Raw,
		Normalized:   ts.Normalized,
		Observations: ts.Observations,
		Evaluations:  e.evaluations,
		Iteration:    e.iteration,
		Timestamp:    time.Now().UTC(),
		Config:       cfg,
	}
}

// Checkpoint persists the experiment through st. A nil store disables persistence.
func (e *Experiment) Checkpoint(st store.Store, state State, cfg config.Config) error {
	if st == nil {
		return nil
	}
	return st.SaveCheckpoint(e.runID, e.Snapshot(state, cfg))
}

// ResumeExperiment restores an experiment from its latest checkpoint after checking that cfg
// is compatible with the configuration the run was started with.
func ResumeExperiment(st store.Store, runID string, cfg config.Config) (*Experiment, *store.Checkpoint, error) {
	cp, err := st.LoadCheckpoint(runID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if err := cp.IsCompatible(cfg); err != nil {
		return nil, nil, err
	}

	return &Experiment{
		runID:       cp.RunID,
		raw:         cp.Raw,
		norm:        cp.Normalized,
		obs:         cp.Observations,
		evaluations: cp.Evaluations,
		iteration:   cp.Iteration,
	}, cp, nil
}
