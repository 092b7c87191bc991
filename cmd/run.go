package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cwbudde/latentbo/internal/backend"
	"github.com/cwbudde/latentbo/internal/bo"
	"github.com/cwbudde/latentbo/internal/config"
)

var (
	backendName  string
	problemName  string
	modelURL     string
	dataset      string
	runID        string
	outPath      string
	noCheckpoint bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a new optimization run",
	Long: `Scans the latent grid for admissible candidates, evaluates a Latin hypercube initial design
and then runs Bayesian optimization until convergence or the iteration budget is spent.
A checkpoint is written after every evaluation so an interrupted run can be resumed.`,
	RunE: runOptimization,
}

func init() {
	addBackendFlags(runCmd.Flags())
	runCmd.Flags().StringVar(&runID, "run-id", "", "Run identifier (default: random UUID)")
	addConfigFlags(runCmd.Flags())
	rootCmd.AddCommand(runCmd)
}

func addBackendFlags(fs *pflag.FlagSet) {
	fs.StringVar(&backendName, "backend", backend.Synthetic, "Model backend: synthetic or remote")
	fs.StringVar(&problemName, "problem", "diagonal", "Synthetic problem (diagonal, distance, ramp)")
	fs.StringVar(&modelURL, "model-url", "", "Model service URL for the remote backend")
	fs.StringVar(&dataset, "dataset", "", "Dataset name forwarded to the remote objective")
	fs.StringVar(&outPath, "out", "", "Write the final result as JSON to this path")
	fs.BoolVar(&noCheckpoint, "no-checkpoint", false, "Disable checkpoints and the evaluation trace")
}

func runOptimization(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags(), config.Default())
	if err != nil {
		return err
	}
	return optimize(cfg, bo.Options{RunID: runID})
}

// optimize runs the controller until it stops or the process is interrupted
func optimize(cfg config.Config, opts bo.Options) error {
	spec := backend.Spec{
		Kind:     backendName,
		Problem:  problemName,
		ModelURL: modelURL,
		Dataset:  dataset,
	}
	decoder, objective, err := backend.New(spec, cfg.Seed)
	if err != nil {
		return err
	}

	resumed := opts.Experiment != nil
	if !resumed && opts.RunID == "" {
		// The trace is keyed by run ID, so pick it before the controller does
		opts.RunID = uuid.New().String()
	}

	if !noCheckpoint {
		st, err := openStore()
		if err != nil {
			return err
		}
		opts.Store = st

		id := opts.RunID
		if resumed {
			id = opts.Experiment.RunID()
		}
		trace, err := st.TraceWriter(id, resumed)
		if err != nil {
			return err
		}
		defer trace.Close()
		opts.Trace = trace
	}

	ctrl, err := bo.NewController(cfg, decoder, objective, opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := ctrl.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			slog.Warn("Run interrupted", "run_id", ctrl.RunID())
			fmt.Printf("Interrupted. Resume with: latentbo resume %s\n", ctrl.RunID())
		}
		return err
	}

	fmt.Printf("Run %s finished: %s after %d evaluations (%d iterations)\n",
		res.RunID, res.State, res.Evaluations, res.Iterations)
	if res.Evaluations > 0 {
		fmt.Printf("  Best evaluated: z=(%.4f, %.4f) y=%.6g\n", res.BestEvaluated[0], res.BestEvaluated[1], res.BestObservation)
		fmt.Printf("  Best estimated: z=(%.4f, %.4f) mean=%.6g\n", res.BestEstimated[0], res.BestEstimated[1], res.BestEstimatedMean)
		fmt.Printf("  Evaluated schedule: %s\n", formatSchedule(res.BestEvaluatedSchedule))
		fmt.Printf("  Estimated schedule: %s\n", formatSchedule(res.BestEstimatedSchedule))
	}

	if outPath != "" {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		if err := os.WriteFile(outPath, data, 0644); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
		fmt.Printf("Wrote %s\n", outPath)
	}
	return nil
}

// formatSchedule prints a schedule compactly, eliding the middle of long ones.
func formatSchedule(schedule []float64) string {
	if len(schedule) == 0 {
		return "-"
	}
	parts := make([]string, 0, 7)
	for i, v := range schedule {
		if len(schedule) > 6 && i == 3 {
			parts = append(parts, "...")
		}
		if len(schedule) > 6 && i >= 3 && i < len(schedule)-3 {
			continue
		}
		parts = append(parts, strconv.FormatFloat(v, 'g', 4, 64))
	}
	return "[" + strings.Join(parts, " ") + "]"
}
