// Package procrun executes the tpai binary: one attempt at a time under a
// wall-clock limit, with the whole process tree killed on timeout.
package procrun

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/danshapiro/topazbridge/internal/tpai"
)

const (
	DefaultTimeout      = 300 * time.Second
	DefaultProbeTimeout = 30 * time.Second

	waitDelay = 3 * time.Second
	reapWait  = 2 * time.Second
)

// Result is the outcome of one attempt.
type Result struct {
	ReturnCode int
	Stdout     string
	Stderr     string
	TimedOut   bool
	Duration   time.Duration
	PID        int
}

// Runner spawns the executable directly with an argv vector; no shell is
// involved so arguments with spaces stay single tokens.
type Runner struct {
	// Dir is the working directory of the child, empty for the current one.
	Dir string
	// Env replaces the child's environment when non-nil.
	Env []string
}

// CheckExecutable fails with ExecutableNotFoundError unless path names an
// existing regular file.
func CheckExecutable(path string) error {
	if strings.TrimSpace(path) == "" {
		return &tpai.ExecutableNotFoundError{}
	}
	info, err := os.Stat(path)
	if err != nil {
		return &tpai.ExecutableNotFoundError{Path: path, Err: err}
	}
	if !info.Mode().IsRegular() {
		return &tpai.ExecutableNotFoundError{Path: path, Err: errors.New("not a regular file")}
	}
	return nil
}

// Run executes one attempt. Exit codes 0 and 1 return a nil error; other
// outcomes return a typed error from package tpai alongside whatever output
// was captured.
func (r *Runner) Run(ctx context.Context, executable string, args []string, timeout time.Duration) (Result, error) {
	if err := CheckExecutable(executable); err != nil {
		return Result{ReturnCode: -1}, err
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, executable, args...)
	cmd.Dir = r.Dir
	if r.Env != nil {
		cmd.Env = r.Env
	}
	setProcessGroup(cmd)
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Start()
	if runErr == nil {
		runErr = cmd.Wait()
	}
	res := Result{
		ReturnCode: -1,
		Stdout:     decodeOutput(stdout.Bytes()),
		Stderr:     decodeOutput(stderr.Bytes()),
		Duration:   time.Since(start),
	}
	if cmd.Process != nil {
		res.PID = cmd.Process.Pid
	}
	if cmd.ProcessState != nil {
		res.ReturnCode = tpai.NormalizeExitCode(cmd.ProcessState.ExitCode())
	}

	if runErr != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		res.TimedOut = true
		if res.PID > 0 {
			reapGroup(res.PID, reapWait)
		}
		return res, &tpai.TimeoutError{Timeout: timeout, Stdout: res.Stdout, Stderr: res.Stderr}
	}
	if runErr != nil && ctx.Err() != nil {
		if res.PID > 0 {
			reapGroup(res.PID, reapWait)
		}
		return res, ctx.Err()
	}
	if runErr != nil && cmd.ProcessState == nil {
		if errors.Is(runErr, fs.ErrNotExist) || errors.Is(runErr, exec.ErrNotFound) {
			return res, &tpai.ExecutableNotFoundError{Path: executable, Err: runErr}
		}
		return res, &tpai.ProcessExecutionError{
			ExitCode: -1,
			Cause:    "spawn failed",
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
			Class:    tpai.FailureClassTransientInfra,
			Err:      runErr,
		}
	}
	// A grandchild holding the pipes open past WaitDelay does not change the
	// exit status of the tool itself.
	if !tpai.ExitSucceeded(res.ReturnCode) || tpai.ModelLoadFailed(res.Stderr) {
		return res, tpai.ClassifyExit(res.ReturnCode, res.Stdout, res.Stderr)
	}
	return res, nil
}

// decodeOutput never fails; invalid UTF-8 becomes U+FFFD.
func decodeOutput(b []byte) string {
	return strings.ToValidUTF8(string(b), "\uFFFD")
}
