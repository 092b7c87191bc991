package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// FSStore implements Store on an afero filesystem.
// Layout: <baseDir>/runs/<runID>/{checkpoint.json,trace.jsonl}
//
// Saves go through a temp file that is synced and renamed over checkpoint.json, so a reader
// only ever sees a complete record. Distinct runs never share files; callers serialize saves
// of the same run.
type FSStore struct {
	fs      afero.Fs
	baseDir string
}

// NewFSStore creates a store rooted at baseDir on the OS filesystem.
func NewFSStore(baseDir string) (*FSStore, error) {
	return NewFSStoreWithFs(afero.NewOsFs(), baseDir)
}

// NewFSStoreWithFs creates a store on an arbitrary afero filesystem.
func NewFSStoreWithFs(afs afero.Fs, baseDir string) (*FSStore, error) {
	if err := afs.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FSStore{
		fs:      afs,
		baseDir: baseDir,
	}, nil
}

// BaseDir returns the store root.
func (s *FSStore) BaseDir() string {
	return s.baseDir
}

func (s *FSStore) runDir(runID string) string {
	return filepath.Join(s.baseDir, "runs", runID)
}

func (s *FSStore) checkpointPath(runID string) string {
	return filepath.Join(s.runDir(runID), "checkpoint.json")
}

// SaveCheckpoint atomically writes the checkpoint of a run.
func (s *FSStore) SaveCheckpoint(runID string, checkpoint *Checkpoint) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}
	if checkpoint == nil {
		return fmt.Errorf("checkpoint cannot be nil")
	}

	ioErr := func(err error) error {
		return &CheckpointIOError{Op: "save", RunID: runID, Err: err}
	}

	if err := s.fs.MkdirAll(s.runDir(runID), 0755); err != nil {
		return ioErr(fmt.Errorf("failed to create run directory: %w", err))
	}

	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return ioErr(fmt.Errorf("failed to serialize checkpoint: %w", err))
	}

	finalPath := s.checkpointPath(runID)
	tempPath := finalPath + ".tmp"
	if err := s.writeSynced(tempPath, data); err != nil {
		s.fs.Remove(tempPath)
		return ioErr(err)
	}

	if err := s.fs.Rename(tempPath, finalPath); err != nil {
		s.fs.Remove(tempPath)
		return ioErr(fmt.Errorf("failed to rename checkpoint file: %w", err))
	}

	slog.Debug("Checkpoint saved",
		"run_id", runID,
		"evaluations", checkpoint.Evaluations,
		"path", finalPath,
	)
	return nil
}

func (s *FSStore) writeSynced(path string, data []byte) error {
	f, err := s.fs.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write temp checkpoint file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync temp checkpoint file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temp checkpoint file: %w", err)
	}
	return nil
}

// LoadCheckpoint reads and validates the checkpoint of a run.
func (s *FSStore) LoadCheckpoint(runID string) (*Checkpoint, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}

	path := s.checkpointPath(runID)
	data, err := afero.ReadFile(s.fs, path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &NotFoundError{RunID: runID}
	} else if err != nil {
		return nil, &CheckpointIOError{Op: "load", RunID: runID, Err: err}
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, &CheckpointIOError{Op: "load", RunID: runID, Err: fmt.Errorf("failed to deserialize checkpoint: %w", err)}
	}
	if err := checkpoint.Validate(); err != nil {
		return nil, &CheckpointIOError{Op: "load", RunID: runID, Err: err}
	}

	slog.Debug("Checkpoint loaded", "run_id", runID, "path", path)
	return &checkpoint, nil
}

// ListCheckpoints returns metadata for all readable checkpoints. Unreadable ones are skipped.
func (s *FSStore) ListCheckpoints() ([]CheckpointInfo, error) {
	runsDir := filepath.Join(s.baseDir, "runs")

	entries, err := afero.ReadDir(s.fs, runsDir)
	if errors.Is(err, fs.ErrNotExist) {
		return []CheckpointInfo{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read runs directory: %w", err)
	}

	infos := []CheckpointInfo{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		checkpoint, err := s.LoadCheckpoint(entry.Name())
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			slog.Warn("Failed to load checkpoint for listing", "run_id", entry.Name(), "error", err)
			continue
		}
		infos = append(infos, checkpoint.ToInfo())
	}

	slog.Debug("Listed checkpoints", "count", len(infos))
	return infos, nil
}

// DeleteCheckpoint removes a run directory and everything in it.
func (s *FSStore) DeleteCheckpoint(runID string) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}

	dir := s.runDir(runID)
	if exists, err := afero.DirExists(s.fs, dir); err != nil {
		return fmt.Errorf("failed to stat run directory: %w", err)
	} else if !exists {
		return &NotFoundError{RunID: runID}
	}

	if err := s.fs.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove run directory: %w", err)
	}

	slog.Debug("Checkpoint deleted", "run_id", runID, "path", dir)
	return nil
}

// Size returns the total size in bytes of a run directory.
func (s *FSStore) Size(runID string) (int64, error) {
	var size int64
	err := afero.Walk(s.fs, s.runDir(runID), func(_ string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
