package tpai

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Failure classes recorded on invocation records and used by the retry policy.
const (
	FailureClassDeterministic  = "deterministic"
	FailureClassTransientInfra = "transient_infra"
)

// ConfigurationError reports invalid settings or global options. Never retried.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if strings.TrimSpace(e.Field) == "" {
		return "configuration error: " + strings.TrimSpace(e.Message)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, strings.TrimSpace(e.Message))
}
func (e *ConfigurationError) Retryable() bool { return false }

// Configf builds a ConfigurationError for field.
func Configf(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ExecutableNotFoundError is returned before any spawn when the tool path is
// empty or does not name an existing file.
type ExecutableNotFoundError struct {
	Path string
	Err  error
}

func (e *ExecutableNotFoundError) Error() string {
	if strings.TrimSpace(e.Path) == "" {
		return "tpai executable not configured"
	}
	if e.Err != nil {
		return fmt.Sprintf("tpai executable not found at %q: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("tpai executable not found at %q", e.Path)
}
func (e *ExecutableNotFoundError) Unwrap() error   { return e.Err }
func (e *ExecutableNotFoundError) Retryable() bool { return false }

// ProcessExecutionError covers spawn failures and unsuccessful exit codes.
type ProcessExecutionError struct {
	ExitCode int
	// Cause is the known meaning of ExitCode, or a stderr-derived diagnosis.
	Cause  string
	Hint   string
	Stdout string
	Stderr string
	Class  string
	Err    error
}

func (e *ProcessExecutionError) Error() string {
	var b strings.Builder
	if e.Err != nil && e.ExitCode < 0 {
		fmt.Fprintf(&b, "tpai failed to start: %v", e.Err)
	} else {
		fmt.Fprintf(&b, "tpai exited with code %d", e.ExitCode)
	}
	if c := strings.TrimSpace(e.Cause); c != "" {
		b.WriteString(": " + c)
	}
	if h := strings.TrimSpace(e.Hint); h != "" {
		b.WriteString(" (" + h + ")")
	}
	if s := tail(e.Stderr, 512); s != "" {
		b.WriteString("; stderr: " + s)
	}
	return b.String()
}
func (e *ProcessExecutionError) Unwrap() error   { return e.Err }
func (e *ProcessExecutionError) Retryable() bool { return e.Class != FailureClassDeterministic }

// TimeoutError reports an attempt that exceeded its wall-clock limit. The
// process tree has been killed and reaped by the time this is returned.
type TimeoutError struct {
	Timeout time.Duration
	Stdout  string
	Stderr  string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("tpai timed out after %s", e.Timeout)
}
func (e *TimeoutError) Retryable() bool { return true }

// OutputNotFoundError means no candidate output file could be located.
type OutputNotFoundError struct {
	InputPath string
	OutputDir string
	Format    string
}

func (e *OutputNotFoundError) Error() string {
	return fmt.Sprintf("no output found in %s for %s (format %s)", e.OutputDir, e.InputPath, e.Format)
}
func (e *OutputNotFoundError) Retryable() bool { return true }

// ReportParseWarning is non-fatal: the settings report could not be recovered.
type ReportParseWarning struct {
	Reason string
	Err    error
}

func (w *ReportParseWarning) Error() string {
	if w.Err != nil {
		return fmt.Sprintf("settings report: %s: %v", w.Reason, w.Err)
	}
	return "settings report: " + w.Reason
}
func (w *ReportParseWarning) Unwrap() error { return w.Err }

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
