package procrun

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/danshapiro/topazbridge/internal/procutil"
	"github.com/danshapiro/topazbridge/internal/tpai"
)

func writeShim(t *testing.T, dir, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell shims require a POSIX shell")
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("#!/usr/bin/env bash\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return p
}

func fastPolicy(retries int) RetryPolicy {
	return RetryPolicy{MaxRetries: retries, Backoff: BackoffConfig{InitialDelayMS: 10, BackoffFactor: 1, MaxDelayMS: 10}}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return strings.Fields(string(b))
}

func TestRun_MissingExecutableFailsBeforeSpawn(t *testing.T) {
	r := &Runner{}
	for _, p := range []string{"", filepath.Join(t.TempDir(), "nope"), t.TempDir()} {
		_, err := r.Run(context.Background(), p, nil, time.Second)
		var nf *tpai.ExecutableNotFoundError
		if !errors.As(err, &nf) {
			t.Fatalf("%q: expected ExecutableNotFoundError, got %v", p, err)
		}
	}
}

func TestRun_ArgvWithoutShell(t *testing.T) {
	dir := t.TempDir()
	exe := writeShim(t, dir, "tpai", `printf '%s\n' "$@"
echo "to stderr" >&2
`)
	res, err := (&Runner{}).Run(context.Background(), exe, []string{"model=Standard v2", "/tmp/my file.png", "$HOME"}, 5*time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := "model=Standard v2\n/tmp/my file.png\n$HOME\n"
	if res.Stdout != want {
		t.Fatalf("stdout=%q want %q", res.Stdout, want)
	}
	if strings.TrimSpace(res.Stderr) != "to stderr" {
		t.Fatalf("stderr=%q", res.Stderr)
	}
	if res.ReturnCode != 0 || res.TimedOut {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRun_PartialSuccessIsSuccess(t *testing.T) {
	exe := writeShim(t, t.TempDir(), "tpai", "echo partial\nexit 1\n")
	res, err := (&Runner{}).Run(context.Background(), exe, nil, 5*time.Second)
	if err != nil {
		t.Fatalf("exit 1 should be success: %v", err)
	}
	if res.ReturnCode != 1 {
		t.Fatalf("return code=%d want 1", res.ReturnCode)
	}
}

func TestRun_PermissiveDecoding(t *testing.T) {
	exe := writeShim(t, t.TempDir(), "tpai", `printf '\xff\xfeok'`+"\n")
	res, err := (&Runner{}).Run(context.Background(), exe, nil, 5*time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(res.Stdout, "�") || !strings.HasSuffix(res.Stdout, "ok") {
		t.Fatalf("stdout=%q", res.Stdout)
	}
}

func TestRun_ModelLoadFailureOnZeroExit(t *testing.T) {
	exe := writeShim(t, t.TempDir(), "tpai", `echo "Error | AI Engine Load Exception: Could not load model Foo" >&2`+"\n")
	_, err := (&Runner{}).Run(context.Background(), exe, nil, 5*time.Second)
	var pe *tpai.ProcessExecutionError
	if !errors.As(err, &pe) || pe.Retryable() {
		t.Fatalf("expected deterministic ProcessExecutionError, got %v", err)
	}
}

func TestRunWithRetry_DeterministicExitNotRetried(t *testing.T) {
	dir := t.TempDir()
	count := filepath.Join(dir, "count")
	exe := writeShim(t, dir, "tpai", "echo x >> "+strconv.Quote(count)+"\nexit 253\n")
	_, attempts, err := (&Runner{}).RunWithRetry(context.Background(), fastPolicy(2), exe, nil, 5*time.Second, nil)
	var pe *tpai.ProcessExecutionError
	if !errors.As(err, &pe) || pe.ExitCode != tpai.ExitInvalidArgument {
		t.Fatalf("expected exit 253 ProcessExecutionError, got %v", err)
	}
	if attempts != 1 || len(readLines(t, count)) != 1 {
		t.Fatalf("attempts=%d runs=%d want 1", attempts, len(readLines(t, count)))
	}
}

func TestRunWithRetry_UnknownExitRetriedThenSurfaced(t *testing.T) {
	dir := t.TempDir()
	count := filepath.Join(dir, "count")
	exe := writeShim(t, dir, "tpai", "echo x >> "+strconv.Quote(count)+"\nexit 7\n")
	var notified []int
	_, attempts, err := (&Runner{}).RunWithRetry(context.Background(), fastPolicy(2), exe, nil, 5*time.Second,
		func(attempt int, err error, wait time.Duration) { notified = append(notified, attempt) })
	var pe *tpai.ProcessExecutionError
	if !errors.As(err, &pe) || pe.ExitCode != 7 {
		t.Fatalf("expected exit 7 ProcessExecutionError, got %v", err)
	}
	if attempts != 3 || len(readLines(t, count)) != 3 {
		t.Fatalf("attempts=%d runs=%d want 3", attempts, len(readLines(t, count)))
	}
	if len(notified) != 2 || notified[0] != 1 || notified[1] != 2 {
		t.Fatalf("notified=%v want [1 2]", notified)
	}
}

func TestRunWithRetry_SucceedsAfterTransientFailure(t *testing.T) {
	dir := t.TempDir()
	count := filepath.Join(dir, "count")
	exe := writeShim(t, dir, "tpai", `echo x >> `+strconv.Quote(count)+`
n=$(wc -l < `+strconv.Quote(count)+`)
if [ "$n" -lt 2 ]; then exit 9; fi
echo done
`)
	res, attempts, err := (&Runner{}).RunWithRetry(context.Background(), fastPolicy(2), exe, nil, 5*time.Second, nil)
	if err != nil {
		t.Fatalf("RunWithRetry: %v", err)
	}
	if attempts != 2 || strings.TrimSpace(res.Stdout) != "done" {
		t.Fatalf("attempts=%d stdout=%q", attempts, res.Stdout)
	}
}

func TestRunWithRetry_TimeoutRetriedExactlyMaxRetriesAndKillsTree(t *testing.T) {
	dir := t.TempDir()
	pids := filepath.Join(dir, "pids")
	children := filepath.Join(dir, "children")
	exe := writeShim(t, dir, "tpai", `echo $$ >> `+strconv.Quote(pids)+`
sleep 30 &
echo $! >> `+strconv.Quote(children)+`
wait
`)
	start := time.Now()
	res, attempts, err := (&Runner{}).RunWithRetry(context.Background(), fastPolicy(2), exe, nil, 300*time.Millisecond, nil)
	var te *tpai.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if !res.TimedOut {
		t.Fatalf("result should be marked timed out: %+v", res)
	}
	if attempts != 3 {
		t.Fatalf("attempts=%d want 3", attempts)
	}
	if elapsed := time.Since(start); elapsed > 20*time.Second {
		t.Fatalf("took too long: %v", elapsed)
	}
	all := append(readLines(t, pids), readLines(t, children)...)
	if len(all) != 6 {
		t.Fatalf("expected 3 tool pids and 3 child pids, got %v", all)
	}
	for _, s := range all {
		pid, _ := strconv.Atoi(s)
		deadline := time.Now().Add(2 * time.Second)
		for procutil.PIDAlive(pid) {
			if time.Now().After(deadline) {
				t.Fatalf("pid %d still running after timeout", pid)
			}
			time.Sleep(20 * time.Millisecond)
		}
	}
}

func TestRun_ParentCancellationIsNotATimeout(t *testing.T) {
	exe := writeShim(t, t.TempDir(), "tpai", "sleep 30\n")
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	_, err := (&Runner{}).Run(ctx, exe, nil, 10*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if tpai.IsRetryable(err) {
		t.Fatalf("cancellation must not be retryable")
	}
}

func TestRetry_OutputNotFoundRetriedOnce(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(5), "seed", func(int) error {
		calls++
		return &tpai.OutputNotFoundError{OutputDir: "/x"}
	}, nil)
	var nf *tpai.OutputNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected OutputNotFoundError, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls=%d want 2", calls)
	}
}

func TestRetry_ZeroRetriesRunsOnce(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(0), "seed", func(int) error {
		calls++
		return &tpai.TimeoutError{}
	}, nil)
	if err == nil || calls != 1 {
		t.Fatalf("calls=%d err=%v", calls, err)
	}
}
