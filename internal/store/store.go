// Package store persists experiment checkpoints and evaluation traces.
package store

import "fmt"

// Store defines checkpoint persistence for optimization runs.
// Implementations must be safe for concurrent use by different runs.
//
// Error conventions:
//   - ErrNotFound (matched with errors.Is) when no checkpoint exists for a run
//   - *CheckpointIOError for any read, write or decode failure
type Store interface {
	// SaveCheckpoint atomically replaces the checkpoint of the given run. After a failed save
	// the previous checkpoint, if any, is still loadable.
	SaveCheckpoint(runID string, checkpoint *Checkpoint) error

	// LoadCheckpoint returns the latest complete checkpoint of the run.
	LoadCheckpoint(runID string) (*Checkpoint, error)

	// ListCheckpoints returns metadata for every run with a readable checkpoint.
	ListCheckpoints() ([]CheckpointInfo, error)

	// DeleteCheckpoint removes the run directory including its trace.
	DeleteCheckpoint(runID string) error
}

// ErrNotFound is returned when a requested checkpoint does not exist.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing checkpoint.
type NotFoundError struct {
	RunID string
}

func (e *NotFoundError) Error() string {
	if e.RunID != "" {
		return "checkpoint not found: " + e.RunID
	}
	return "checkpoint not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}

// CheckpointIOError reports a failed checkpoint read or write. It is fatal for a run.
type CheckpointIOError struct {
	Op    string
	RunID string
	Err   error
}

func (e *CheckpointIOError) Error() string {
	return fmt.Sprintf("checkpoint %s failed for run %s: %v", e.Op, e.RunID, e.Err)
}

func (e *CheckpointIOError) Unwrap() error {
	return e.Err
}
