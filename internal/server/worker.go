package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/latentbo/internal/backend"
	"github.com/cwbudde/latentbo/internal/bo"
	"github.com/cwbudde/latentbo/internal/store"
)

// executeRun runs the optimization loop of a registered run in the background.
// Progress from the controller is mirrored into the run record and broadcast to stream clients.
func executeRun(ctx context.Context, rm *RunManager, st *store.FSStore, runID string, exp *bo.Experiment) error {
	run, exists := rm.GetRun(runID)
	if !exists {
		return fmt.Errorf("run not found: %s", runID)
	}

	err := rm.UpdateRun(runID, func(r *Run) {
		r.Status = StatusRunning
	})
	if err != nil {
		return err
	}

	slog.Info("Starting run", "run_id", runID, "backend", run.Request.Backend, "resumed", exp != nil)

	decoder, objective, err := backend.New(run.Request.BackendSpec(), run.Config.Seed)
	if err != nil {
		markRunFailed(rm, runID, err)
		return err
	}

	opts := bo.Options{RunID: runID, Experiment: exp}
	if st != nil {
		opts.Store = st
		trace, err := st.TraceWriter(runID, exp != nil)
		if err != nil {
			markRunFailed(rm, runID, err)
			return err
		}
		defer trace.Close()
		opts.Trace = trace
	}

	progress := make(chan bo.Progress, 64)
	opts.Progress = progress
	progressDone := make(chan struct{})
	go forwardProgress(rm, progress, progressDone)

	ctrl, err := bo.NewController(run.Config, decoder, objective, opts)
	if err != nil {
		close(progress)
		<-progressDone
		markRunFailed(rm, runID, err)
		return err
	}

	res, err := ctrl.Run(ctx)
	close(progress)
	<-progressDone

	if err != nil {
		if errors.Is(err, context.Canceled) {
			markRunCancelled(rm, runID)
			return err
		}
		markRunFailed(rm, runID, err)
		return err
	}

	endTime := time.Now()
	err = rm.UpdateRun(runID, func(r *Run) {
		r.Status = StatusCompleted
		r.State = res.State
		r.Evaluations = res.Evaluations
		r.Iteration = res.Iterations
		r.Result = res
		if res.Evaluations > 0 {
			y, z := res.BestObservation, res.BestEvaluated
			r.BestObservation, r.BestCandidate = &y, &z
		}
		r.EndTime = &endTime
	})
	if err != nil {
		return err
	}

	slog.Info("Run completed",
		"run_id", runID,
		"state", res.State,
		"evaluations", res.Evaluations,
		"duration", res.Duration,
	)
	return nil
}

// forwardProgress applies controller updates to the run and broadcasts them
func forwardProgress(rm *RunManager, progress <-chan bo.Progress, done chan<- struct{}) {
	defer close(done)
	for p := range progress {
		rm.UpdateRun(p.RunID, func(r *Run) {
			r.State = p.State
			r.Evaluations = p.Evaluation
			r.Iteration = p.Iteration
			if p.Evaluation > 0 {
				y, z := p.BestObservation, p.Candidate
				r.BestObservation = &y
				if p.Observation == p.BestObservation {
					r.BestCandidate = &z
				}
			}
			if p.BestScore != nil {
				s := *p.BestScore
				r.BestScore = &s
			}
		})
		rm.broadcaster.Broadcast(p)
	}
}

// markRunFailed marks a run as failed with an error message
func markRunFailed(rm *RunManager, runID string, err error) {
	endTime := time.Now()
	rm.UpdateRun(runID, func(r *Run) {
		r.Status = StatusFailed
		r.Error = err.Error()
		r.EndTime = &endTime
	})
	rm.broadcaster.Broadcast(bo.Progress{RunID: runID, Timestamp: endTime})
	slog.Error("Run failed", "run_id", runID, "error", err)
}

// markRunCancelled marks a run as cancelled; its last checkpoint stays resumable
func markRunCancelled(rm *RunManager, runID string) {
	endTime := time.Now()
	rm.UpdateRun(runID, func(r *Run) {
		r.Status = StatusCancelled
		r.EndTime = &endTime
	})
	rm.broadcaster.Broadcast(bo.Progress{RunID: runID, Timestamp: endTime})
	slog.Info("Run cancelled", "run_id", runID)
}
