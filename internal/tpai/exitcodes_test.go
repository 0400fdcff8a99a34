package tpai

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestClassifyExit_KnownCodesAreDeterministic(t *testing.T) {
	for _, code := range []int{ExitInvalidArgument, ExitInvalidLogToken, ExitNoValidFiles} {
		e := ClassifyExit(code, "", "boom")
		if e.Class != FailureClassDeterministic {
			t.Fatalf("code %d: class=%q want %q", code, e.Class, FailureClassDeterministic)
		}
		if e.Retryable() {
			t.Fatalf("code %d: expected non-retryable", code)
		}
		if e.Cause == "" {
			t.Fatalf("code %d: expected a cause", code)
		}
	}
}

func TestClassifyExit_UnknownCodeIsRetryable(t *testing.T) {
	e := ClassifyExit(42, "out", "err")
	if !e.Retryable() {
		t.Fatalf("expected retryable for unknown code")
	}
	if e.ExitCode != 42 || e.Stdout != "out" || e.Stderr != "err" {
		t.Fatalf("unexpected fields: %+v", e)
	}
}

func TestClassifyExit_ModelLoadExceptionIsDeterministic(t *testing.T) {
	e := ClassifyExit(3, "", "Error | "+ModelLoadExceptionMarker+" Foo")
	if e.Retryable() {
		t.Fatalf("model load failure must not be retried")
	}
}

func TestNormalizeExitCode_WindowsNegativeCodes(t *testing.T) {
	cases := map[int]int{
		0:          0,
		1:          1,
		4294967295: ExitNoValidFiles,
		4294967294: ExitInvalidLogToken,
		4294967293: ExitInvalidArgument,
	}
	for in, want := range cases {
		if got := NormalizeExitCode(in); got != want {
			t.Fatalf("NormalizeExitCode(%d)=%d want %d", in, got, want)
		}
	}
}

func TestExitSucceeded(t *testing.T) {
	if !ExitSucceeded(0) || !ExitSucceeded(1) {
		t.Fatalf("0 and 1 must count as success")
	}
	if ExitSucceeded(2) || ExitSucceeded(255) {
		t.Fatalf("2 and 255 must not count as success")
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("plain"), false},
		{&ConfigurationError{Message: "x"}, false},
		{&ExecutableNotFoundError{Path: "/nope"}, false},
		{&TimeoutError{Timeout: time.Second}, true},
		{&OutputNotFoundError{}, true},
		{fmt.Errorf("wrapped: %w", &TimeoutError{}), true},
	}
	for i, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Fatalf("case %d (%v): got %v want %v", i, tc.err, got, tc.want)
		}
	}
}
