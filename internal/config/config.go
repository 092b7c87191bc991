// Package config holds the run configuration shared by the CLI, the controller and the
// checkpoint store.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/cwbudde/latentbo/internal/space"
)

// Config describes one optimization run.
type Config struct {
	// Initial Latin hypercube design size
	NumStart   int `mapstructure:"num_start" yaml:"num_start" json:"numStart" validate:"gte=1"`
	// Maximum number of acquisition iterations after the initial design
	Iterations int `mapstructure:"iterations" yaml:"iterations" json:"iterations" validate:"gte=0"`

	GridResolution int        `mapstructure:"grid_resolution" yaml:"grid_resolution" json:"gridResolution" validate:"gte=2,lte=2000"`
	XAxis          space.Axis `mapstructure:"x_axis" yaml:"x_axis" json:"xAxis"`
	YAxis          space.Axis `mapstructure:"y_axis" yaml:"y_axis" json:"yAxis"`

	NoiseFloor   float64 `mapstructure:"noise_floor" yaml:"noise_floor" json:"noiseFloor" validate:"gt=0"`
	LearningRate float64 `mapstructure:"learning_rate" yaml:"learning_rate" json:"learningRate" validate:"gt=0"`
	Epochs       int     `mapstructure:"epochs" yaml:"epochs" json:"epochs" validate:"gte=1"`

	ExplorationMargin    float64 `mapstructure:"exploration_margin" yaml:"exploration_margin" json:"explorationMargin" validate:"gte=0"`
	EIDenominator        string  `mapstructure:"ei_denominator" yaml:"ei_denominator" json:"eiDenominator" validate:"oneof=variance stddev"`
	// Stop once the best expected improvement, in standardized outcome units, falls below this.
	// Expected improvement is never negative, so the threshold must be positive to ever fire.
	ConvergenceThreshold float64 `mapstructure:"convergence_threshold" yaml:"convergence_threshold" json:"convergenceThreshold"`

	// Consecutive acquisition rounds below the threshold required to stop
	ConvergencePatience int `mapstructure:"convergence_patience" yaml:"convergence_patience" json:"convergencePatience" validate:"gte=1"`

	Seed        int64 `mapstructure:"seed" yaml:"seed" json:"seed"`
	EvalRetries int   `mapstructure:"eval_retries" yaml:"eval_retries" json:"evalRetries" validate:"gte=0,lte=20"`
	Workers     int   `mapstructure:"workers" yaml:"workers" json:"workers" validate:"gte=0"`

	RestartSearch RestartSearch `mapstructure:"restart_search" yaml:"restart_search" json:"restartSearch"`
}

// RestartSearch sizes the global search used to re-initialize a failed surrogate fit.
type RestartSearch struct {
	Population int `mapstructure:"population" yaml:"population" json:"population" validate:"gte=20"`
	Iterations int `mapstructure:"iterations" yaml:"iterations" json:"iterations" validate:"gte=1"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		NumStart:             10,
		Iterations:           50,
		GridResolution:       100,
		XAxis:                space.Axis{Min: -3, Max: 3},
		YAxis:                space.Axis{Min: -3, Max: 3},
		NoiseFloor:           0.1,
		LearningRate:         0.05,
		Epochs:               150,
		ExplorationMargin:    1e-3,
		ConvergenceThreshold: 1e-3,
		ConvergencePatience:  1,
		EIDenominator:        "variance",
		Seed:                 0,
		EvalRetries:          2,
		Workers:              0,
		RestartSearch: RestartSearch{
			Population: 20,
			Iterations: 30,
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// SetDefaults registers every field of d as a default with v so that env vars, config files
// and flags can override individual keys.
func SetDefaults(v *viper.Viper, d Config) {
	v.SetDefault("num_start", d.NumStart)
	v.SetDefault("iterations", d.Iterations)
	v.SetDefault("grid_resolution", d.GridResolution)
	v.SetDefault("x_axis.min", d.XAxis.Min)
	v.SetDefault("x_axis.max", d.XAxis.Max)
	v.SetDefault("y_axis.min", d.YAxis.Min)
	v.SetDefault("y_axis.max", d.YAxis.Max)
	v.SetDefault("noise_floor", d.NoiseFloor)
	v.SetDefault("learning_rate", d.LearningRate)
	v.SetDefault("epochs", d.Epochs)
	v.SetDefault("exploration_margin", d.ExplorationMargin)
	v.SetDefault("convergence_threshold", d.ConvergenceThreshold)
	v.SetDefault("convergence_patience", d.ConvergencePatience)
	v.SetDefault("ei_denominator", d.EIDenominator)
	v.SetDefault("seed", d.Seed)
	v.SetDefault("eval_retries", d.EvalRetries)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("restart_search.population", d.RestartSearch.Population)
	v.SetDefault("restart_search.iterations", d.RestartSearch.Iterations)
}

// Load unmarshals and validates the configuration held by v on top of Default.
func Load(v *viper.Viper) (Config, error) {
	return LoadWithBase(v, Default())
}

// LoadWithBase is Load with base in place of Default, e.g. the configuration of a run being
// resumed.
func LoadWithBase(v *viper.Viper, base Config) (Config, error) {
	SetDefaults(v, base)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
