package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/cwbudde/latentbo/internal/space"
)

// Trace phases
const (
	PhaseInitial = "initial"
	PhaseBO      = "bo"
)

// TraceEntry records one objective evaluation. Each entry is a JSON line in trace.jsonl.
type TraceEntry struct {
	// Evaluation is the counter value after this evaluation (1-based)
	Evaluation int `json:"evaluation"`

	// Iteration is the acquisition iteration, 0 during the initial design
	Iteration int `json:"iteration"`

	Phase       string          `json:"phase"`
	Raw         space.Candidate `json:"raw"`
	Normalized  space.Candidate `json:"normalized"`
	Observation float64         `json:"observation"`

	// Score is the acquisition value that selected the candidate; absent for the initial design
	Score *float64 `json:"score,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// TraceWriter appends trace entries to a run's JSONL file. Safe for concurrent use.
type TraceWriter struct {
	mu     sync.Mutex
	file   afero.File
	writer *bufio.Writer
	path   string
}

func (s *FSStore) tracePath(runID string) string {
	return filepath.Join(s.runDir(runID), "trace.jsonl")
}

// TraceWriter opens the trace of a run. With appendMode the existing entries are kept.
func (s *FSStore) TraceWriter(runID string, appendMode bool) (*TraceWriter, error) {
	if err := s.fs.MkdirAll(s.runDir(runID), 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	path := s.tracePath(runID)
	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := s.fs.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	return &TraceWriter{
		file:   file,
		writer: bufio.NewWriterSize(file, 64*1024),
		path:   path,
	}, nil
}

// Write buffers one entry; it reaches the file on Flush or Close.
func (tw *TraceWriter) Write(entry TraceEntry) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal trace entry: %w", err)
	}
	if _, err := tw.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write trace entry: %w", err)
	}
	if err := tw.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	return nil
}

// Flush writes buffered entries and syncs the file.
func (tw *TraceWriter) Flush() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush trace writer: %w", err)
	}
	if err := tw.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync trace file: %w", err)
	}
	return nil
}

// Close flushes buffered entries and closes the file.
func (tw *TraceWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		tw.file.Close()
		return fmt.Errorf("failed to flush on close: %w", err)
	}
	if err := tw.file.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	return nil
}

// Path returns the trace file path.
func (tw *TraceWriter) Path() string {
	return tw.path
}

// TraceReader reads trace entries sequentially.
type TraceReader struct {
	file    afero.File
	scanner *bufio.Scanner
}

// TraceReader opens the trace of a run for reading.
func (s *FSStore) TraceReader(runID string) (*TraceReader, error) {
	file, err := s.fs.Open(s.tracePath(runID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &NotFoundError{RunID: runID}
	} else if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	return &TraceReader{
		file:    file,
		scanner: scanner,
	}, nil
}

// Read returns the next entry, or io.EOF when the trace is exhausted.
func (tr *TraceReader) Read() (*TraceEntry, error) {
	if !tr.scanner.Scan() {
		if err := tr.scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to scan trace line: %w", err)
		}
		return nil, io.EOF
	}

	var entry TraceEntry
	if err := json.Unmarshal(tr.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trace entry: %w", err)
	}
	return &entry, nil
}

// ReadAll reads every remaining entry.
func (tr *TraceReader) ReadAll() ([]TraceEntry, error) {
	entries := []TraceEntry{}
	for {
		entry, err := tr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

// Close closes the underlying file.
func (tr *TraceReader) Close() error {
	if err := tr.file.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	return nil
}

// ReadTrace loads the whole trace of a run.
func (s *FSStore) ReadTrace(runID string) ([]TraceEntry, error) {
	tr, err := s.TraceReader(runID)
	if err != nil {
		return nil, err
	}
	defer tr.Close()
	return tr.ReadAll()
}
