package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cwbudde/latentbo/internal/config"
	"github.com/cwbudde/latentbo/internal/store"
)

var (
	logLevel   string
	configPath string
	dataDir    string
	logger     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "latentbo",
	Short: "Constrained Bayesian optimization over a 2-D latent space",
	Long: `latentbo searches a frozen 2-D latent space for the candidate whose decoded schedule
scores best under an expensive objective. Candidates whose decoded schedule is not strictly
positive are excluded up front; the rest are explored with a Gaussian-process surrogate and
expected improvement.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var level slog.Level
		switch logLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		opts := &slog.HandlerOptions{Level: level}
		handler := slog.NewJSONHandler(os.Stderr, opts)
		logger = slog.New(handler)
		slog.SetDefault(logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./data", "Base directory for checkpoints and traces")
}

// configFlags maps command-line flags to configuration keys
var configFlags = map[string]string{
	"num-start":             "num_start",
	"iterations":            "iterations",
	"grid-resolution":       "grid_resolution",
	"x-min":                 "x_axis.min",
	"x-max":                 "x_axis.max",
	"y-min":                 "y_axis.min",
	"y-max":                 "y_axis.max",
	"noise-floor":           "noise_floor",
	"learning-rate":         "learning_rate",
	"epochs":                "epochs",
	"exploration-margin":    "exploration_margin",
	"ei-denominator":        "ei_denominator",
	"convergence-threshold": "convergence_threshold",
	"convergence-patience":  "convergence_patience",
	"seed":                  "seed",
	"eval-retries":          "eval_retries",
	"workers":               "workers",
}

// addConfigFlags registers one flag per configuration key. Defaults shown in help are the
// built-in ones; unset flags never override the config file, env or a resumed run.
func addConfigFlags(fs *pflag.FlagSet) {
	d := config.Default()
	fs.Int("num-start", d.NumStart, "Initial Latin hypercube design size")
	fs.Int("iterations", d.Iterations, "Maximum acquisition iterations after the initial design")
	fs.Int("grid-resolution", d.GridResolution, "Grid points per latent axis")
	fs.Float64("x-min", d.XAxis.Min, "Lower bound of the first latent axis")
	fs.Float64("x-max", d.XAxis.Max, "Upper bound of the first latent axis")
	fs.Float64("y-min", d.YAxis.Min, "Lower bound of the second latent axis")
	fs.Float64("y-max", d.YAxis.Max, "Upper bound of the second latent axis")
	fs.Float64("noise-floor", d.NoiseFloor, "Lower bound of the surrogate noise variance (standardized units)")
	fs.Float64("learning-rate", d.LearningRate, "Adam learning rate for surrogate fits")
	fs.Int("epochs", d.Epochs, "Adam epochs per surrogate fit")
	fs.Float64("exploration-margin", d.ExplorationMargin, "Expected improvement margin")
	fs.String("ei-denominator", d.EIDenominator, "Expected improvement scaling: variance or stddev")
	fs.Float64("convergence-threshold", d.ConvergenceThreshold, "Stop when the best acquisition score falls below this")
	fs.Int("convergence-patience", d.ConvergencePatience, "Consecutive rounds below the threshold required to stop")
	fs.Int64("seed", d.Seed, "Random seed")
	fs.Int("eval-retries", d.EvalRetries, "Retries per failed objective evaluation")
	fs.Int("workers", d.Workers, "Posterior prediction workers (0 = GOMAXPROCS)")
}

// loadConfig resolves the run configuration from base, the config file, LATENTBO_* env vars
// and explicitly set flags, in increasing precedence.
func loadConfig(fs *pflag.FlagSet, base config.Config) (config.Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LATENTBO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return config.Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	for flag, key := range configFlags {
		f := fs.Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return config.Config{}, fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}

	return config.LoadWithBase(v, base)
}

func openStore() (*store.FSStore, error) {
	st, err := store.NewFSStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkpoint store: %w", err)
	}
	return st, nil
}
