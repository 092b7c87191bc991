// Package bo runs constrained Bayesian optimization over an admissible set of 2-D latent
// candidates: Latin hypercube initialization, then fit, predict, acquire, evaluate and
// augment until the acquisition rule or the iteration budget stops the run.
package bo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/cwbudde/latentbo/internal/acq"
	"github.com/cwbudde/latentbo/internal/config"
	"github.com/cwbudde/latentbo/internal/gp"
	"github.com/cwbudde/latentbo/internal/metrics"
	"github.com/cwbudde/latentbo/internal/space"
	"github.com/cwbudde/latentbo/internal/store"
)

// Objective runs one expensive evaluation of a decoded schedule. index is the 1-based
// evaluation number; retries of the same evaluation reuse it.
type Objective interface {
	Evaluate(ctx context.Context, schedule []float64, index int) (float64, error)
}

// ObjectiveFunc adapts a function to Objective.
type ObjectiveFunc func(ctx context.Context, schedule []float64, index int) (float64, error)

func (f ObjectiveFunc) Evaluate(ctx context.Context, schedule []float64, index int) (float64, error) {
	return f(ctx, schedule, index)
}

// State is the controller state.
type State string

const (
	StateInitializing    State = "initializing"
	StateFitting         State = "fitting"
	StatePredicting      State = "predicting"
	StateAcquiring       State = "acquiring"
	StateEvaluating      State = "evaluating"
	StateAugmenting      State = "augmenting"
	StateConverged       State = "converged"
	StateBudgetExhausted State = "budget_exhausted"
	// StateNoAdmissible ends a run whose feasibility scan kept no candidate.
	StateNoAdmissible    State = "no_admissible"
)

// Terminal reports whether the state ends a run.
func (s State) Terminal() bool {
	return s == StateConverged || s == StateBudgetExhausted || s == StateNoAdmissible
}

// Progress is sent after every accepted evaluation and on termination.
type Progress struct {
	RunID           string          `json:"runId"`
	State           State           `json:"state"`
	Phase           string          `json:"phase"`
	Evaluation      int             `json:"evaluation"`
	Iteration       int             `json:"iteration"`
	Candidate       space.Candidate `json:"candidate"`
	Observation     float64         `json:"observation"`
	BestObservation float64         `json:"bestObservation"`
	BestScore       *float64        `json:"bestScore,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

// Options wire the collaborators of a controller. All fields are optional.
type Options struct {
	// RunID names the run; a UUID is generated when empty and no Experiment is given
	RunID string

	// Experiment resumes a previous run instead of starting fresh
	Experiment *Experiment

	// Store receives a checkpoint after every accepted evaluation
	Store store.Store

	// Trace receives one entry per accepted evaluation
	Trace *store.TraceWriter

	// Rand drives tie-breaking; seeded from the configuration when nil
	Rand *rand.Rand

	// NewBackOff builds the retry schedule for failed evaluations
	NewBackOff func() backoff.BackOff

	// Progress receives non-blocking updates
	Progress chan<- Progress
}

// Result is the outcome of a finished run.
type Result struct {
	RunID string `json:"runId"`
	State State  `json:"state"`

	// Best observed evaluation
	BestEvaluated         space.Candidate `json:"bestEvaluated"`
	BestEvaluatedSchedule []float64       `json:"bestEvaluatedSchedule,omitempty"`
	BestObservation       float64         `json:"bestObservation"`

	// Admissible candidate with the largest posterior mean under the final surrogate
	BestEstimated         space.Candidate `json:"bestEstimated"`
	BestEstimatedSchedule []float64       `json:"bestEstimatedSchedule,omitempty"`
	BestEstimatedMean     float64         `json:"bestEstimatedMean"`

	Model       *gp.Model   `json:"-"`
	TrainingSet TrainingSet `json:"trainingSet"`

	Evaluations  int           `json:"evaluations"`
	Iterations   int           `json:"iterations"`
	Admissible   int           `json:"admissible"`
	ScoreHistory []float64     `json:"scoreHistory"`
	Duration     time.Duration `json:"duration"`
}

// Controller drives one optimization run. Run must be called at most once.
type Controller struct {
	cfg       config.Config
	decoder   space.Decoder
	objective Objective
	opts      Options

	exp         *Experiment
	rng         *rand.Rand
	convergence *Convergence
	admissible  *space.AdmissibleSet
	queries     [][]float64

	mu    sync.RWMutex
	state State
}

// NewController validates the configuration and prepares a run.
func NewController(cfg config.Config, decoder space.Decoder, objective Objective, opts Options) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if decoder == nil || objective == nil {
		return nil, fmt.Errorf("decoder and objective are required")
	}

	exp := opts.Experiment
	if exp == nil {
		runID := opts.RunID
		if runID == "" {
			runID = uuid.New().String()
		}
		exp = NewExperiment(runID)
	}

	rng := opts.Rand
	if rng == nil {
		// Offset by the evaluation count so a resumed run does not replay earlier draws
		rng = rand.New(rand.NewSource(cfg.Seed + 1 + int64(exp.Evaluations())))
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	}

	return &Controller{
		cfg:         cfg,
		decoder:     decoder,
		objective:   objective,
		opts:        opts,
		exp:         exp,
		rng:         rng,
		convergence: NewConvergence(cfg.ConvergenceThreshold, cfg.ConvergencePatience),
		state:       StateInitializing,
	}, nil
}

// RunID returns the run identifier.
func (c *Controller) RunID() string {
	return c.exp.RunID()
}

// State returns the current state. Safe to call while Run is executing.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run executes the optimization until it converges, exhausts its budget, or fails.
// Cancelling ctx stops the run between steps; the last checkpoint remains resumable.
func (c *Controller) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	runID := c.RunID()
	defer metrics.ForgetRun(runID)

	c.setState(StateInitializing)
	slog.Info("Starting optimization run",
		"run_id", runID,
		"num_start", c.cfg.NumStart,
		"iterations", c.cfg.Iterations,
		"resumed_evaluations", c.exp.Evaluations(),
	)

	grid, err := space.NewGrid(c.cfg.XAxis, c.cfg.YAxis, c.cfg.GridResolution)
	if err != nil {
		return nil, err
	}
	c.admissible, err = space.Filter(ctx, grid, c.decoder)
	if err != nil {
		return nil, fmt.Errorf("feasibility scan failed: %w", err)
	}
	c.queries = space.Slices(c.admissible.Normalized)
	metrics.AdmissibleCandidates.WithLabelValues(runID).Set(float64(c.admissible.Len()))

	if c.admissible.Len() == 0 {
		slog.Warn("No admissible candidates, nothing to optimize", "run_id", runID)
		return c.finish(ctx, start, nil)
	}

	if err := c.initialDesign(ctx); err != nil {
		return nil, err
	}

	model, err := c.fit()
	if err != nil {
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c.exp.Iteration() >= c.cfg.Iterations {
			c.setState(StateBudgetExhausted)
			break
		}

		c.setState(StatePredicting)
		means, variances, err := model.Posterior(ctx, c.queries)
		if err != nil {
			return nil, fmt.Errorf("posterior prediction failed: %w", err)
		}

		c.setState(StateAcquiring)
		_, best, _ := c.exp.Best()
		best = standardize(model, means, variances, best)
		scores, err := acq.ExpectedImprovement(means, variances, best, c.cfg.ExplorationMargin, acq.Denominator(c.cfg.EIDenominator))
		if err != nil {
			return nil, err
		}
		metrics.AcquisitionBest.WithLabelValues(runID).Set(scores.Best)
		if scores.Degenerate > 0 {
			metrics.DegeneratePosteriorTotal.Add(float64(scores.Degenerate))
		}

		if c.convergence.Update(scores.Best) {
			c.setState(StateConverged)
			break
		}

		idx := acq.SelectTie(c.rng, scores.Argmax)
		slog.Debug("Candidate selected",
			"run_id", runID,
			"iteration", c.exp.Iteration()+1,
			"index", idx,
			"candidate", c.admissible.Raw[idx],
			"score", scores.Best,
			"ties", len(scores.Argmax),
		)

		score := scores.Best
		if err := c.evaluateAndAugment(ctx, idx, store.PhaseBO, &score); err != nil {
			return nil, err
		}

		model, err = c.fit()
		if err != nil {
			return nil, err
		}
	}

	return c.finish(ctx, start, model)
}

// standardize rescales the posterior in place to the units the surrogate was trained in, so the
// exploration margin and the convergence threshold do not depend on the objective's scale. It
// returns best in the same units.
func standardize(model *gp.Model, means, variances []float64, best float64) float64 {
	mu, sd := model.OutcomeScale()
	for i := range means {
		means[i] = (means[i] - mu) / sd
		variances[i] /= sd * sd
	}
	return (best - mu) / sd
}

// initialDesign evaluates the Latin hypercube design. The design depends only on the seed and
// the admissible set, so a run interrupted mid-design continues with the remaining points.
func (c *Controller) initialDesign(ctx context.Context) error {
	if c.exp.Len() >= c.cfg.NumStart {
		return nil
	}

	plan := latinHypercube(c.cfg.NumStart, c.admissible.Len(), c.cfg.Seed)
	slog.Info("Evaluating initial design",
		"run_id", c.RunID(),
		"points", len(plan),
		"remaining", len(plan)-c.exp.Len(),
	)

	for i := c.exp.Len(); i < len(plan); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.evaluateAndAugment(ctx, plan[i], store.PhaseInitial, nil); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) fit() (*gp.Model, error) {
	c.setState(StateFitting)

	opts := gp.Options{
		NoiseFloor:        c.cfg.NoiseFloor,
		LearningRate:      c.cfg.LearningRate,
		Epochs:            c.cfg.Epochs,
		Workers:           c.cfg.Workers,
		RestartSeed:       c.cfg.Seed,
		RestartPopulation: c.cfg.RestartSearch.Population,
		RestartIterations: c.cfg.RestartSearch.Iterations,
	}

	start := time.Now()
	model, err := gp.FitWithRestart(c.exp.inputs(), c.exp.observations(), opts)
	metrics.FitDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FitFailuresTotal.Inc()
		return nil, fmt.Errorf("surrogate fit failed: %w", err)
	}
	return model, nil
}

// evaluateAndAugment decodes and evaluates admissible candidate idx, appends the observation
// and checkpoints.
func (c *Controller) evaluateAndAugment(ctx context.Context, idx int, phase string, score *float64) error {
	c.setState(StateEvaluating)

	raw := c.admissible.Raw[idx]
	norm := c.admissible.Normalized[idx]
	evaluation := c.exp.Evaluations() + 1

	y, err := c.evaluate(ctx, raw, evaluation)
	if err != nil {
		return err
	}

	c.setState(StateAugmenting)
	if phase == store.PhaseBO {
		c.exp.iteration++
	}
	c.exp.Augment(raw, norm, y)
	metrics.EvaluationsTotal.WithLabelValues(phase).Inc()

	_, best, _ := c.exp.Best()
	metrics.BestObservation.WithLabelValues(c.RunID()).Set(best)
	slog.Info("Evaluation complete",
		"run_id", c.RunID(),
		"phase", phase,
		"evaluation", evaluation,
		"iteration", c.exp.Iteration(),
		"candidate", raw,
		"observation", y,
		"best_observation", best,
	)

	if err := c.exp.Checkpoint(c.opts.Store, StateAugmenting, c.cfg); err != nil {
		return err
	}

	now := time.Now()
	if c.opts.Trace != nil {
		entry := store.TraceEntry{
			Evaluation:  evaluation,
			Iteration:   c.exp.Iteration(),
			Phase:       phase,
			Raw:         raw,
			Normalized:  norm,
			Observation: y,
			Score:       score,
			Timestamp:   now,
		}
		if err := c.opts.Trace.Write(entry); err != nil {
			slog.Warn("Failed to write trace entry", "run_id", c.RunID(), "error", err)
		} else if err := c.opts.Trace.Flush(); err != nil {
			slog.Warn("Failed to flush trace", "run_id", c.RunID(), "error", err)
		}
	}

	c.sendProgress(Progress{
		RunID:           c.RunID(),
		State:           StateAugmenting,
		Phase:           phase,
		Evaluation:      evaluation,
		Iteration:       c.exp.Iteration(),
		Candidate:       raw,
		Observation:     y,
		BestObservation: best,
		BestScore:       score,
		Timestamp:       now,
	})
	return nil
}

// evaluate decodes the candidate and calls the objective, retrying failures and non-finite
// values up to EvalRetries times.
func (c *Controller) evaluate(ctx context.Context, z space.Candidate, evaluation int) (float64, error) {
	attempts := 0
	op := func() (float64, error) {
		attempts++
		schedule, err := c.decoder.Decode(ctx, z)
		if err != nil {
			metrics.EvaluationFailuresTotal.Inc()
			return 0, fmt.Errorf("failed to decode candidate: %w", err)
		}
		y, err := c.objective.Evaluate(ctx, schedule, evaluation)
		if err != nil {
			metrics.EvaluationFailuresTotal.Inc()
			return 0, err
		}
		if math.IsNaN(y) || math.IsInf(y, 0) {
			metrics.EvaluationFailuresTotal.Inc()
			return 0, fmt.Errorf("objective returned non-finite value %v", y)
		}
		return y, nil
	}

	y, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(c.opts.NewBackOff()),
		backoff.WithMaxTries(uint(c.cfg.EvalRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("Objective evaluation failed, retrying",
				"run_id", c.RunID(),
				"evaluation", evaluation,
				"attempt", attempts,
				"retry_in", next,
				"error", err,
			)
		}),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return 0, err
		}
		return 0, &ObjectiveError{Evaluation: evaluation, Candidate: z, Attempts: attempts, Err: err}
	}
	return y, nil
}

// finish computes the best-estimated candidate, decodes both best candidates, writes the
// terminal checkpoint and builds the result. model is nil only when the admissible set is empty.
func (c *Controller) finish(ctx context.Context, start time.Time, model *gp.Model) (*Result, error) {
	if model == nil {
		c.setState(StateNoAdmissible)
	}
	state := c.State()

	res := &Result{
		RunID:        c.RunID(),
		State:        state,
		Model:        model,
		TrainingSet:  c.exp.TrainingSet(),
		Evaluations:  c.exp.Evaluations(),
		Iterations:   c.exp.Iteration(),
		Admissible:   c.admissible.Len(),
		ScoreHistory: c.convergence.History(),
	}
	// A cancelled run context must not prevent the final prediction or decoding
	ctx = context.WithoutCancel(ctx)

	if z, y, ok := c.exp.Best(); ok {
		res.BestEvaluated, res.BestObservation = z, y
		res.BestEvaluatedSchedule = c.decodeBest(ctx, z)
	}

	if model != nil {
		means, _, err := model.Posterior(ctx, c.queries)
		if err != nil {
			return nil, fmt.Errorf("final posterior prediction failed: %w", err)
		}
		best := 0
		for i, m := range means {
			if m > means[best] {
				best = i
			}
		}
		res.BestEstimated = c.admissible.Raw[best]
		res.BestEstimatedMean = means[best]
		res.BestEstimatedSchedule = c.decodeBest(ctx, res.BestEstimated)
	}

	if err := c.exp.Checkpoint(c.opts.Store, state, c.cfg); err != nil {
		return nil, err
	}
	res.Duration = time.Since(start)

	slog.Info("Optimization run finished",
		"run_id", res.RunID,
		"state", res.State,
		"evaluations", res.Evaluations,
		"iterations", res.Iterations,
		"best_evaluated", res.BestEvaluated,
		"best_observation", res.BestObservation,
		"best_estimated", res.BestEstimated,
		"duration", res.Duration,
	)

	var bestScore *float64
	if last := c.convergence.Last(); !math.IsNaN(last) {
		bestScore = &last
	}
	c.sendProgress(Progress{
		RunID:           res.RunID,
		State:           state,
		Evaluation:      res.Evaluations,
		Iteration:       res.Iterations,
		Candidate:       res.BestEvaluated,
		Observation:     res.BestObservation,
		BestObservation: res.BestObservation,
		BestScore:       bestScore,
		Timestamp:       time.Now(),
	})
	return res, nil
}

// decodeBest decodes a result candidate. A failure is logged and leaves the schedule empty so a
// finished run keeps its result.
func (c *Controller) decodeBest(ctx context.Context, z space.Candidate) []float64 {
	schedule, err := c.decoder.Decode(ctx, z)
	if err != nil {
		slog.Warn("Failed to decode best candidate", "run_id", c.RunID(), "candidate", z, "error", err)
		return nil
	}
	return schedule
}

func (c *Controller) sendProgress(p Progress) {
	if c.opts.Progress == nil {
		return
	}
	select {
	case c.opts.Progress <- p:
	default:
	}
}
