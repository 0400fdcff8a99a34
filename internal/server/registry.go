package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// RunState tracks a single asynchronous batch.
type RunState struct {
	RunID       string
	Images      int
	Broadcaster *Broadcaster
	Cancel      context.CancelCauseFunc
	StartedAt   time.Time

	mu     sync.Mutex
	result *ProcessResponse
	err    error
	done   bool
}

// SetResult records the terminal outcome of the run.
func (rs *RunState) SetResult(res *ProcessResponse, err error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.result = res
	rs.err = err
	rs.done = true
}

// Status returns the current run status for the HTTP API.
func (rs *RunState) Status() RunStatus {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	status := RunStatus{
		RunID:  rs.RunID,
		State:  StateRunning,
		Images: rs.Images,
	}
	if rs.done {
		switch {
		case errors.Is(rs.err, context.Canceled):
			status.State = StateCanceled
			status.FailureReason = rs.err.Error()
		case rs.err != nil:
			status.State = StateFail
			status.FailureReason = rs.err.Error()
		default:
			status.State = StateSuccess
			status.Result = rs.result
		}
	}

	if rs.Broadcaster != nil {
		history := rs.Broadcaster.History()
		for i := len(history) - 1; i >= 0 && !rs.done; i-- {
			if history[i].Image >= 0 {
				idx := history[i].Image
				status.CurrentImage = &idx
				break
			}
		}
		if len(history) > 0 {
			last := history[len(history)-1]
			status.LastPhase = last.Phase
			ts := last.Time
			status.LastEventAt = &ts
		}
	}
	return status
}

// RunRegistry tracks all runs submitted to this server instance.
type RunRegistry struct {
	mu   sync.RWMutex
	runs map[string]*RunState
}

// NewRunRegistry creates a new empty registry.
func NewRunRegistry() *RunRegistry {
	return &RunRegistry{
		runs: make(map[string]*RunState),
	}
}

// Register adds a run to the registry. Returns error if ID already exists.
func (r *RunRegistry) Register(runID string, rs *RunState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runs[runID]; exists {
		return fmt.Errorf("run %s already exists", runID)
	}
	r.runs[runID] = rs
	return nil
}

// Get returns a run by ID.
func (r *RunRegistry) Get(runID string) (*RunState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rs, ok := r.runs[runID]
	return rs, ok
}

// List returns all run IDs.
func (r *RunRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.runs))
	for id := range r.runs {
		ids = append(ids, id)
	}
	return ids
}

// CancelAll cancels every run with the given reason.
func (r *RunRegistry) CancelAll(reason string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rs := range r.runs {
		if rs.Cancel != nil {
			rs.Cancel(fmt.Errorf("%s", reason))
		}
	}
}
