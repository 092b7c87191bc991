package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cwbudde/latentbo/internal/bo"
	"github.com/cwbudde/latentbo/internal/store"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Resume an interrupted run from its checkpoint",
	Long: `Restores the evaluations of a run from its checkpoint and continues the optimization.
The configuration defaults to the one the run was started with. Grid, axes, initial design
size and seed must not change; the iteration budget and surrogate settings may.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	addBackendFlags(resumeCmd.Flags())
	addConfigFlags(resumeCmd.Flags())
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	id := args[0]

	st, err := openStore()
	if err != nil {
		return err
	}
	cp, err := st.LoadCheckpoint(id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no checkpoint for run %s in %s", id, st.BaseDir())
	} else if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd.Flags(), cp.Config)
	if err != nil {
		return err
	}

	exp, _, err := bo.ResumeExperiment(st, id, cfg)
	if err != nil {
		return err
	}

	slog.Info("Resuming run",
		"run_id", id,
		"state", cp.State,
		"evaluations", exp.Evaluations(),
		"iteration", exp.Iteration(),
		"iterations", cfg.Iterations,
	)
	return optimize(cfg, bo.Options{Experiment: exp})
}
