package tpai

import (
	"fmt"
	"strings"
)

// Documented tpai return values. Windows reports the last three as -1..-3.
const (
	ExitSuccess         = 0
	ExitPartialSuccess  = 1
	ExitInvalidArgument = 253
	ExitInvalidLogToken = 254
	ExitNoValidFiles    = 255
)

var knownExitCodes = map[int]string{
	ExitInvalidArgument: "an invalid argument was found",
	ExitInvalidLogToken: "invalid log token, open the app to log in",
	ExitNoValidFiles:    "no valid files passed",
}

// NormalizeExitCode folds 32-bit Windows return values into 0..255.
func NormalizeExitCode(code int) int {
	if code > 255 {
		return code & 0xff
	}
	return code
}

// ExitSucceeded reports whether code counts as success. Partial success is
// treated as success for a single-file invocation.
func ExitSucceeded(code int) bool {
	code = NormalizeExitCode(code)
	return code == ExitSuccess || code == ExitPartialSuccess
}

// ClassifyExit maps an unsuccessful exit into a ProcessExecutionError.
// Documented codes are deterministic; anything else may be transient.
func ClassifyExit(code int, stdout, stderr string) *ProcessExecutionError {
	code = NormalizeExitCode(code)
	e := &ProcessExecutionError{
		ExitCode: code,
		Stdout:   stdout,
		Stderr:   stderr,
		Class:    FailureClassTransientInfra,
	}
	if cause, ok := knownExitCodes[code]; ok {
		e.Cause = cause
		e.Class = FailureClassDeterministic
	} else {
		e.Cause = fmt.Sprintf("unrecognized exit code %d", code)
	}
	if ModelLoadFailed(stderr) {
		e.Cause = "AI engine could not load the requested model"
		e.Class = FailureClassDeterministic
	}
	return e
}

// ModelLoadFailed detects the engine's model load exception in stderr. The
// tool reports it even when the exit code is zero.
func ModelLoadFailed(stderr string) bool {
	return strings.Contains(stderr, ModelLoadExceptionMarker)
}
