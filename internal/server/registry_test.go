package server

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/danshapiro/topazbridge/internal/enhancer/engine"
)

func TestRunRegistry_RegisterGetList(t *testing.T) {
	r := NewRunRegistry()
	if err := r.Register("run-1", &RunState{RunID: "run-1"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register("run-1", &RunState{RunID: "run-1"}); err == nil {
		t.Fatal("expected error on duplicate register")
	}
	_ = r.Register("run-2", &RunState{RunID: "run-2"})

	got, ok := r.Get("run-1")
	if !ok || got.RunID != "run-1" {
		t.Fatalf("get: %v %v", got, ok)
	}
	if _, ok := r.Get("nonexistent"); ok {
		t.Fatal("expected not found")
	}
	if ids := r.List(); len(ids) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(ids))
	}
}

func TestRunRegistry_CancelAll(t *testing.T) {
	r := NewRunRegistry()
	var mu sync.Mutex
	var canceled []string
	for _, id := range []string{"a", "b", "c"} {
		_, cancel := context.WithCancelCause(context.Background())
		localID := id
		_ = r.Register(id, &RunState{
			RunID: id,
			Cancel: func(err error) {
				mu.Lock()
				canceled = append(canceled, localID)
				mu.Unlock()
				cancel(err)
			},
		})
	}

	r.CancelAll("test shutdown")

	mu.Lock()
	defer mu.Unlock()
	if len(canceled) != 3 {
		t.Fatalf("expected 3 cancellations, got %d", len(canceled))
	}
}

func TestRunState_Status(t *testing.T) {
	b := NewBroadcaster()
	rs := &RunState{RunID: "test-run", Images: 2, Broadcaster: b}
	b.Observe(ev(engine.PhaseRun, 1))
	b.Observe(ev(engine.PhaseRetry, -1))

	status := rs.Status()
	if status.State != StateRunning || status.CurrentImage == nil || *status.CurrentImage != 1 || status.LastPhase != engine.PhaseRetry {
		t.Fatalf("running status: %+v", status)
	}

	rs.SetResult(nil, fmt.Errorf("image 1: something failed"))
	status = rs.Status()
	if status.State != StateFail || status.FailureReason != "image 1: something failed" || status.CurrentImage != nil {
		t.Fatalf("failed status: %+v", status)
	}

	rs.SetResult(nil, fmt.Errorf("wrapped: %w", context.Canceled))
	if status = rs.Status(); status.State != StateCanceled {
		t.Fatalf("canceled status: %+v", status)
	}

	rs.SetResult(&ProcessResponse{RunID: "test-run"}, nil)
	if status = rs.Status(); status.State != StateSuccess || status.Result == nil {
		t.Fatalf("success status: %+v", status)
	}
}
