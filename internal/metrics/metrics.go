// Package metrics exposes Prometheus collectors for optimization runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "latentbo_evaluations_total",
			Help: "Objective evaluations by phase (initial, bo).",
		},
		[]string{"phase"},
	)

	EvaluationFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "latentbo_evaluation_failures_total",
		Help: "Objective calls that failed, including attempts that were retried.",
	})

	BestObservation = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "latentbo_best_observation",
			Help: "Best objective value observed so far per run.",
		},
		[]string{"run_id"},
	)

	AcquisitionBest = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "latentbo_acquisition_best",
			Help: "Best expected improvement of the latest acquisition round per run.",
		},
		[]string{"run_id"},
	)

	AdmissibleCandidates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "latentbo_admissible_candidates",
			Help: "Size of the admissible set per run.",
		},
		[]string{"run_id"},
	)

	FitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "latentbo_gp_fit_duration_seconds",
		Help:    "Wall time of surrogate fits.",
		Buckets: prometheus.DefBuckets,
	})

	FitFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "latentbo_gp_fit_failures_total",
		Help: "Surrogate fits that failed even after a restart.",
	})

	DegeneratePosteriorTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "latentbo_degenerate_posterior_total",
		Help: "Candidates whose posterior variance was non-positive and scored zero.",
	})
)

func init() {
	prometheus.MustRegister(
		EvaluationsTotal,
		EvaluationFailuresTotal,
		BestObservation,
		AcquisitionBest,
		AdmissibleCandidates,
		FitDuration,
		FitFailuresTotal,
		DegeneratePosteriorTotal,
	)
}

// ForgetRun removes the per-run series of a finished run so a long-lived process does not keep
// one series per run forever.
func ForgetRun(runID string) {
	BestObservation.DeleteLabelValues(runID)
	AcquisitionBest.DeleteLabelValues(runID)
	AdmissibleCandidates.DeleteLabelValues(runID)
}
