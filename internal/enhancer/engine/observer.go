package engine

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Event is one structured progress record. Image is -1 for batch-level
// events.
type Event struct {
	Time    time.Time      `json:"ts"`
	RunID   string         `json:"run_id"`
	Level   string         `json:"level"`
	Image   int            `json:"image"`
	Phase   string         `json:"phase"`
	Message string         `json:"message,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Phases reported to observers.
const (
	PhasePreflight = "preflight"
	PhasePrepare   = "prepare"
	PhaseRun       = "run"
	PhaseRetry     = "retry"
	PhaseResolve   = "resolve"
	PhaseReport    = "report"
	PhaseLoad      = "load"
	PhaseCleanup   = "cleanup"
	PhaseDone      = "done"
	PhaseProbe     = "probe"
	PhaseCache     = "cache"
)

const (
	LevelInfo = "info"
	LevelWarn = "warn"
)

// Observer receives progress events. Implementations must be safe for use
// from one goroutine at a time; NDJSONObserver is safe for concurrent use.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(ev Event) { f(ev) }

// Discard drops every event.
var Discard Observer = ObserverFunc(func(Event) {})

// NDJSONObserver writes one JSON object per line.
type NDJSONObserver struct {
	mu sync.Mutex
	w  io.Writer
}

func NewNDJSONObserver(w io.Writer) *NDJSONObserver {
	return &NDJSONObserver{w: w}
}

func (o *NDJSONObserver) Observe(ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	_, _ = o.w.Write(append(b, '\n'))
}

// Tee fans events out to every non-nil observer.
func Tee(obs ...Observer) Observer {
	return ObserverFunc(func(ev Event) {
		for _, o := range obs {
			if o != nil {
				o.Observe(ev)
			}
		}
	})
}
