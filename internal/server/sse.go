package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/danshapiro/topazbridge/internal/enhancer/engine"
)

// Broadcaster is the append-only event log of one run. It is an
// engine.Observer; readers poll it by position, so a slow reader never
// holds up the batch.
type Broadcaster struct {
	mu      sync.Mutex
	events  []engine.Event
	changed chan struct{} // closed and replaced on every append and on Close
	closed  bool
}

// NewBroadcaster creates an empty, open log.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{changed: make(chan struct{})}
}

// Observe appends ev and wakes every waiting reader. Events after Close are
// dropped.
func (b *Broadcaster) Observe(ev engine.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.events = append(b.events, ev)
	b.wakeLocked()
}

// Close marks the run finished.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.wakeLocked()
}

func (b *Broadcaster) wakeLocked() {
	close(b.changed)
	b.changed = make(chan struct{})
}

// Since returns the events from position n on, a channel that is closed when
// the log next changes, and whether the log is finished. When closed is true
// the returned events are the last ones.
func (b *Broadcaster) Since(n int) (events []engine.Event, wait <-chan struct{}, closed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n < 0 {
		n = 0
	}
	if n < len(b.events) {
		events = append(events, b.events[n:]...)
	}
	return events, b.changed, b.closed
}

// History returns a copy of all events received so far.
func (b *Broadcaster) History() []engine.Event {
	events, _, _ := b.Since(0)
	return events
}

// resultEvent is the payload of the final "result" SSE event.
type resultEvent struct {
	State             string   `json:"state"`
	FailureReason     string   `json:"failure_reason,omitempty"`
	UserSettings      []string `json:"user_settings,omitempty"`
	AutopilotSettings []string `json:"autopilot_settings,omitempty"`
	Warnings          []string `json:"warnings,omitempty"`
}

// WriteSSE streams a run's events as Server-Sent Events. Each event carries
// its log position as id, so a client reconnecting with Last-Event-ID
// resumes after it. When the run finishes a "result" event with the
// settings reports is sent, followed by "done".
func WriteSSE(w http.ResponseWriter, r *http.Request, rs *RunState) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	next := resumePosition(r)
	for {
		events, wait, closed := rs.Broadcaster.Since(next)
		for _, ev := range events {
			if data, err := json.Marshal(ev); err == nil {
				fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", next, ev.Phase, data)
			}
			next++
		}
		if closed {
			data, _ := json.Marshal(finalResult(rs.Status()))
			fmt.Fprintf(w, "event: result\ndata: %s\n\n", data)
			fmt.Fprintf(w, "event: done\ndata: {}\n\n")
			flusher.Flush()
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-wait:
		}
	}
}

// resumePosition is one past the Last-Event-ID the client saw, or 0.
func resumePosition(r *http.Request) int {
	id, err := strconv.Atoi(strings.TrimSpace(r.Header.Get("Last-Event-ID")))
	if err != nil || id < 0 {
		return 0
	}
	return id + 1
}

func finalResult(st RunStatus) resultEvent {
	out := resultEvent{State: st.State, FailureReason: st.FailureReason}
	if st.Result != nil {
		out.UserSettings = st.Result.UserSettings
		out.AutopilotSettings = st.Result.AutopilotSettings
		out.Warnings = st.Result.Warnings
	}
	return out
}
