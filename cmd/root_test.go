package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/cwbudde/latentbo/internal/bo"
	"github.com/cwbudde/latentbo/internal/config"
	"github.com/cwbudde/latentbo/internal/server"
)

func newConfigFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	addConfigFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Failed to parse flags: %v", err)
	}
	return fs
}

func TestLoadConfig_UnsetFlagsKeepBase(t *testing.T) {
	base := config.Default()
	base.GridResolution = 21
	base.Seed = 9

	cfg, err := loadConfig(newConfigFlags(t), base)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.GridResolution != 21 || cfg.Seed != 9 {
		t.Errorf("Expected base values to survive, got resolution %d seed %d", cfg.GridResolution, cfg.Seed)
	}
}

func TestLoadConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	content := "iterations: 12\nseed: 3\nx_axis:\n  min: -1\n  max: 1\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	original := configPath
	configPath = path
	t.Cleanup(func() { configPath = original })

	t.Setenv("LATENTBO_SEED", "42")

	cfg, err := loadConfig(newConfigFlags(t, "--iterations", "7"), config.Default())
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Iterations != 7 {
		t.Errorf("Flag should beat config file: iterations = %d", cfg.Iterations)
	}
	if cfg.Seed != 42 {
		t.Errorf("Env should beat config file: seed = %d", cfg.Seed)
	}
	if cfg.XAxis.Min != -1 || cfg.XAxis.Max != 1 {
		t.Errorf("Expected x axis from config file, got %+v", cfg.XAxis)
	}
	if cfg.NumStart != config.Default().NumStart {
		t.Errorf("Expected default num_start, got %d", cfg.NumStart)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	if _, err := loadConfig(newConfigFlags(t, "--ei-denominator", "cube"), config.Default()); err == nil {
		t.Error("Expected validation error for unknown ei denominator")
	}
}

func TestStatusCommand(t *testing.T) {
	best := -0.02
	runs := []server.Run{{
		ID:              "run-1",
		Status:          server.StatusCompleted,
		Evaluations:     5,
		BestObservation: &best,
		StartTime:       time.Now(),
	}}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/runs", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(runs)
	})
	mux.HandleFunc("GET /api/v1/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "run-1" {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(server.ResponseError{Message: "run not found"})
			return
		}
		json.NewEncoder(w).Encode(runs[0])
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	original := serverURL
	serverURL = ts.URL
	t.Cleanup(func() { serverURL = original })

	if err := runStatus(nil, nil); err != nil {
		t.Errorf("Listing runs failed: %v", err)
	}
	if err := runStatus(nil, []string{"run-1"}); err != nil {
		t.Errorf("Showing run failed: %v", err)
	}
	if err := runStatus(nil, []string{"missing"}); err == nil {
		t.Error("Expected error for unknown run")
	}
}

func TestRunAndResumeCommands(t *testing.T) {
	useDataDir(t)
	backendName, problemName = "synthetic", "diagonal"

	fs := newConfigFlags(t,
		"--num-start", "3",
		"--iterations", "1",
		"--grid-resolution", "11",
		"--x-min", "0", "--x-max", "1",
		"--y-min", "0", "--y-max", "1",
		"--epochs", "30",
		"--convergence-threshold", "-1",
	)
	cfg, err := loadConfig(fs, config.Default())
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if err := optimize(cfg, bo.Options{RunID: "cli-run"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	st, err := openStore()
	if err != nil {
		t.Fatal(err)
	}
	cp, err := st.LoadCheckpoint("cli-run")
	if err != nil {
		t.Fatalf("Expected checkpoint: %v", err)
	}
	if cp.Evaluations != 4 {
		t.Fatalf("Expected 4 evaluations, got %d", cp.Evaluations)
	}

	// Raise the budget on resume; everything else comes from the checkpoint
	resumeFlags := newConfigFlags(t, "--iterations", "2")
	resumed, err := loadConfig(resumeFlags, cp.Config)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if resumed.GridResolution != 11 {
		t.Fatalf("Expected grid resolution from checkpoint, got %d", resumed.GridResolution)
	}

	resumeCmd.Flags().Set("iterations", "2")
	t.Cleanup(func() { resumeCmd.Flags().Set("iterations", "50") })
	if err := runResume(resumeCmd, []string{"cli-run"}); err != nil {
		t.Fatalf("resume failed: %v", err)
	}

	cp, err = st.LoadCheckpoint("cli-run")
	if err != nil {
		t.Fatal(err)
	}
	if cp.Evaluations != 5 {
		t.Errorf("Expected 5 evaluations after resume, got %d", cp.Evaluations)
	}
	entries, err := st.ReadTrace("cli-run")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 5 {
		t.Errorf("Expected trace to keep all 5 entries, got %d", len(entries))
	}
}

func TestResumeCommand_NotFound(t *testing.T) {
	useDataDir(t)
	if err := runResume(resumeCmd, []string{"nope"}); err == nil {
		t.Error("Expected error for missing checkpoint")
	}
}

func TestFormatSchedule(t *testing.T) {
	tests := []struct {
		schedule []float64
		want     string
	}{
		{nil, "-"},
		{[]float64{0.5, 1.25}, "[0.5 1.25]"},
		{[]float64{1, 2, 3, 4, 5, 6, 7, 8}, "[1 2 3 ... 6 7 8]"},
	}
	for _, tt := range tests {
		if got := formatSchedule(tt.schedule); got != tt.want {
			t.Errorf("formatSchedule(%v) = %q, want %q", tt.schedule, got, tt.want)
		}
	}
}
