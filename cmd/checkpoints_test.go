package main

import (
	"testing"
	"time"

	"github.com/cwbudde/latentbo/internal/config"
	"github.com/cwbudde/latentbo/internal/space"
	"github.com/cwbudde/latentbo/internal/store"
)

func useDataDir(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	original := dataDir
	dataDir = tmpDir
	t.Cleanup(func() { dataDir = original })
	return tmpDir
}

func saveTestCheckpoint(t *testing.T, st *store.FSStore, runID string, ts time.Time) {
	t.Helper()
	cp := &store.Checkpoint{
		Version:      store.CheckpointVersion,
		RunID:        runID,
		State:        "budget_exhausted",
		Raw:          []space.Candidate{{0.1, 0.2}, {0.5, 0.5}},
		Normalized:   []space.Candidate{{0.1, 0.2}, {0.5, 0.5}},
		Observations: []float64{-0.3, -0.01},
		Evaluations:  2,
		Iteration:    1,
		Timestamp:    ts,
		Config:       config.Default(),
	}
	if err := st.SaveCheckpoint(runID, cp); err != nil {
		t.Fatalf("Failed to save checkpoint: %v", err)
	}
}

func TestSelectCheckpointsForDeletion_ByAge(t *testing.T) {
	now := time.Now()
	infos := []store.CheckpointInfo{
		{RunID: "run1", Timestamp: now.AddDate(0, 0, -10)},
		{RunID: "run2", Timestamp: now.AddDate(0, 0, -5)},
		{RunID: "run3", Timestamp: now.AddDate(0, 0, -1)},
		{RunID: "run4", Timestamp: now.AddDate(0, 0, -30)},
	}

	toDelete := selectCheckpointsForDeletion(infos, 0, 7)

	if len(toDelete) != 2 {
		t.Fatalf("Expected 2 checkpoints to delete, got %d", len(toDelete))
	}
	ids := map[string]bool{}
	for _, info := range toDelete {
		ids[info.RunID] = true
	}
	if !ids["run1"] || !ids["run4"] {
		t.Errorf("Expected run1 and run4 to be selected for deletion, got %v", ids)
	}
}

func TestSelectCheckpointsForDeletion_ByCount(t *testing.T) {
	now := time.Now()
	infos := []store.CheckpointInfo{
		{RunID: "run1", Timestamp: now.AddDate(0, 0, -10)},
		{RunID: "run2", Timestamp: now.AddDate(0, 0, -5)},
		{RunID: "run3", Timestamp: now.AddDate(0, 0, -1)},
		{RunID: "run4", Timestamp: now.AddDate(0, 0, -30)},
	}

	toDelete := selectCheckpointsForDeletion(infos, 2, 0)

	if len(toDelete) != 2 {
		t.Fatalf("Expected 2 checkpoints to delete, got %d", len(toDelete))
	}
	if toDelete[0].RunID != "run4" || toDelete[1].RunID != "run1" {
		t.Errorf("Expected the oldest runs run4, run1; got %s, %s", toDelete[0].RunID, toDelete[1].RunID)
	}
	// The input order is left alone
	if infos[0].RunID != "run1" {
		t.Error("selectCheckpointsForDeletion reordered its input")
	}
}

func TestSelectCheckpointsForDeletion_Combined(t *testing.T) {
	now := time.Now()
	infos := []store.CheckpointInfo{
		{RunID: "run1", Timestamp: now.AddDate(0, 0, -10)},
		{RunID: "run2", Timestamp: now.AddDate(0, 0, -5)},
		{RunID: "run3", Timestamp: now.AddDate(0, 0, -1)},
		{RunID: "run4", Timestamp: now.AddDate(0, 0, -30)},
		{RunID: "run5", Timestamp: now.AddDate(0, 0, -2)},
	}

	// Both rules select run4 and run1; neither may appear twice
	toDelete := selectCheckpointsForDeletion(infos, 3, 7)

	if len(toDelete) != 2 {
		t.Errorf("Expected 2 checkpoints to delete, got %d", len(toDelete))
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
	}

	for _, tt := range tests {
		result := formatBytes(tt.bytes)
		if result != tt.expected {
			t.Errorf("formatBytes(%d) = %s, expected %s", tt.bytes, result, tt.expected)
		}
	}
}

func TestCheckpointsListCommand_NoCheckpoints(t *testing.T) {
	useDataDir(t)

	if err := runListCheckpoints(nil, nil); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

func TestCheckpointsListCommand_WithCheckpoints(t *testing.T) {
	dir := useDataDir(t)

	st, err := store.NewFSStore(dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	saveTestCheckpoint(t, st, "test-run-id", time.Now())

	if err := runListCheckpoints(nil, nil); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

func TestCheckpointsCleanCommand_NoFlags(t *testing.T) {
	useDataDir(t)
	keepLast = 0
	olderThanDays = 0

	if err := runCleanCheckpoints(nil, nil); err == nil {
		t.Error("Expected error when no flags specified")
	}
}

func TestCheckpointsCleanCommand_WithForce(t *testing.T) {
	dir := useDataDir(t)

	st, err := store.NewFSStore(dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	saveTestCheckpoint(t, st, "old-run", time.Now().AddDate(0, 0, -30))
	saveTestCheckpoint(t, st, "new-run", time.Now())

	keepLast = 0
	olderThanDays = 7
	forceClean = true
	t.Cleanup(func() {
		olderThanDays = 0
		forceClean = false
	})

	if err := runCleanCheckpoints(nil, nil); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if _, err := st.LoadCheckpoint("old-run"); err == nil {
		t.Error("Expected old-run to be deleted")
	}
	if _, err := st.LoadCheckpoint("new-run"); err != nil {
		t.Errorf("Expected new-run to be kept, got %v", err)
	}
}
