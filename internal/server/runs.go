package server

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cwbudde/latentbo/internal/backend"
	"github.com/cwbudde/latentbo/internal/bo"
	"github.com/cwbudde/latentbo/internal/config"
	"github.com/cwbudde/latentbo/internal/space"
)

// RunStatus is the lifecycle of a run as seen by the API
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// RunRequest starts a run. Config replaces the server defaults when set.
type RunRequest struct {
	Backend  string         `json:"backend" validate:"required,oneof=synthetic remote"`
	Problem  string         `json:"problem" validate:"required_if=Backend synthetic"`
	ModelURL string         `json:"modelUrl" validate:"required_if=Backend remote,omitempty,url"`
	Dataset  string         `json:"dataset"`
	Params   map[string]any `json:"params,omitempty"`
	Config   *config.Config `json:"config,omitempty"`
	// Resume continues the checkpointed run with this ID instead of starting a new one
	Resume string `json:"resume,omitempty"`
}

// BackendSpec returns the backend selection of the request.
func (r RunRequest) BackendSpec() backend.Spec {
	return backend.Spec{
		Kind:     r.Backend,
		Problem:  r.Problem,
		ModelURL: r.ModelURL,
		Dataset:  r.Dataset,
		Params:   r.Params,
	}
}

// Run is an optimization run managed by the server
type Run struct {
	ID      string        `json:"id"`
	Status  RunStatus     `json:"status"`
	State   bo.State      `json:"state"`
	Request RunRequest    `json:"request"`
	Config  config.Config `json:"config"`

	Evaluations     int              `json:"evaluations"`
	Iteration       int              `json:"iteration"`
	BestObservation *float64         `json:"bestObservation,omitempty"`
	BestCandidate   *space.Candidate `json:"bestCandidate,omitempty"`
	BestScore       *float64         `json:"bestScore,omitempty"`
	Result          *bo.Result       `json:"result,omitempty"`

	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// RunManager tracks runs and their cancellation functions
type RunManager struct {
	mu          sync.RWMutex
	runs        map[string]*Run
	cancels     map[string]context.CancelFunc
	broadcaster *EventBroadcaster
}

// NewRunManager creates an empty RunManager
func NewRunManager() *RunManager {
	return &RunManager{
		runs:        make(map[string]*Run),
		cancels:     make(map[string]context.CancelFunc),
		broadcaster: NewEventBroadcaster(),
	}
}

// CreateRun registers a pending run
func (rm *RunManager) CreateRun(id string, req RunRequest, cfg config.Config) (*Run, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if existing, ok := rm.runs[id]; ok && !existing.finished() {
		return nil, fmt.Errorf("run %s is already active", id)
	}

	run := &Run{
		ID:        id,
		Status:    StatusPending,
		State:     bo.StateInitializing,
		Request:   req,
		Config:    cfg,
		StartTime: time.Now(),
	}
	rm.runs[id] = run
	return run.snapshot(), nil
}

// GetRun returns a copy of the run
func (rm *RunManager) GetRun(id string) (*Run, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	run, exists := rm.runs[id]
	if !exists {
		return nil, false
	}
	return run.snapshot(), true
}

// ListRuns returns copies of all runs, oldest first
func (rm *RunManager) ListRuns() []*Run {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	runs := make([]*Run, 0, len(rm.runs))
	for _, run := range rm.runs {
		runs = append(runs, run.snapshot())
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartTime.Before(runs[j].StartTime)
	})
	return runs
}

// UpdateRun atomically updates a run using the provided function
func (rm *RunManager) UpdateRun(id string, updateFn func(*Run)) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	run, exists := rm.runs[id]
	if !exists {
		return fmt.Errorf("run not found: %s", id)
	}

	updateFn(run)
	return nil
}

// GetActiveRuns returns all runs that have not finished
func (rm *RunManager) GetActiveRuns() []*Run {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	active := make([]*Run, 0)
	for _, run := range rm.runs {
		if !run.finished() {
			active = append(active, run.snapshot())
		}
	}
	return active
}

func (rm *RunManager) setCancel(id string, cancel context.CancelFunc) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.cancels[id] = cancel
}

func (rm *RunManager) clearCancel(id string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	delete(rm.cancels, id)
}

// Cancel stops an active run between steps. It reports whether the run was active.
func (rm *RunManager) Cancel(id string) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	cancel, ok := rm.cancels[id]
	if !ok {
		return false
	}
	cancel()
	return true
}

// CancelAll stops every active run
func (rm *RunManager) CancelAll() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	for _, cancel := range rm.cancels {
		cancel()
	}
}

func (r *Run) finished() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed || r.Status == StatusCancelled
}

func (r *Run) snapshot() *Run {
	c := *r
	return &c
}
