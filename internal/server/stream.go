package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cwbudde/latentbo/internal/bo"
)

// EventBroadcaster fans controller progress out to SSE clients of each run
type EventBroadcaster struct {
	mu        sync.RWMutex
	clients   map[string]map[chan bo.Progress]bool // runID -> set of client channels
	lastEvent map[string]bo.Progress               // runID -> last event for new clients
}

// NewEventBroadcaster creates a new event broadcaster
func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{
		clients:   make(map[string]map[chan bo.Progress]bool),
		lastEvent: make(map[string]bo.Progress),
	}
}

// Subscribe adds a client to receive events for a run
func (eb *EventBroadcaster) Subscribe(runID string) chan bo.Progress {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan bo.Progress, 16)

	if eb.clients[runID] == nil {
		eb.clients[runID] = make(map[chan bo.Progress]bool)
	}
	eb.clients[runID][ch] = true

	// Replay the last event for reconnecting clients
	if lastEvent, ok := eb.lastEvent[runID]; ok {
		select {
		case ch <- lastEvent:
		default:
		}
	}

	slog.Debug("SSE client subscribed", "run_id", runID, "total_clients", len(eb.clients[runID]))
	return ch
}

// Unsubscribe removes a client from receiving events
func (eb *EventBroadcaster) Unsubscribe(runID string, ch chan bo.Progress) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if clients, ok := eb.clients[runID]; ok {
		if clients[ch] {
			delete(clients, ch)
			close(ch)
		}
		if len(clients) == 0 {
			delete(eb.clients, runID)
		}
	}

	slog.Debug("SSE client unsubscribed", "run_id", runID)
}

// Broadcast sends an event to all subscribed clients of its run
func (eb *EventBroadcaster) Broadcast(event bo.Progress) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.lastEvent[event.RunID] = event

	clients, ok := eb.clients[event.RunID]
	if !ok || len(clients) == 0 {
		return
	}

	for ch := range clients {
		select {
		case ch <- event:
		default:
			// Slow client; drop rather than block the run
			slog.Warn("SSE channel full, skipping event", "run_id", event.RunID)
		}
	}
}

// handleRunStream handles GET /api/v1/runs/:id/stream
func (s *Server) handleRunStream(c echo.Context) error {
	runID := c.Param("id")
	run, exists := s.runs.GetRun(runID)
	if !exists {
		return c.JSON(http.StatusNotFound, ResponseError{Message: "run not found"})
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)

	eventChan := s.runs.broadcaster.Subscribe(runID)
	defer s.runs.broadcaster.Unsubscribe(runID, eventChan)

	initial := bo.Progress{
		RunID:      run.ID,
		State:      run.State,
		Evaluation: run.Evaluations,
		Iteration:  run.Iteration,
		BestScore:  run.BestScore,
		Timestamp:  time.Now(),
	}
	if run.BestObservation != nil {
		initial.BestObservation = *run.BestObservation
	}
	if err := writeSSEEvent(w, initial); err != nil {
		return err
	}
	w.Flush()
	if run.finished() {
		return nil
	}

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("SSE client disconnected", "run_id", runID)
			return nil

		case event, ok := <-eventChan:
			if !ok {
				return nil
			}
			if err := writeSSEEvent(w, event); err != nil {
				slog.Error("Failed to write SSE event", "error", err)
				return nil
			}
			w.Flush()
			if current, ok := s.runs.GetRun(runID); !ok || current.finished() || event.State.Terminal() {
				return nil
			}

		case <-pingTicker.C:
			fmt.Fprintf(w, ": ping\n\n")
			w.Flush()
		}
	}
}

// writeSSEEvent writes an event in SSE format
func writeSSEEvent(w io.Writer, event bo.Progress) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
