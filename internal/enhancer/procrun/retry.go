package procrun

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/danshapiro/topazbridge/internal/tpai"
)

// DefaultMaxRetries is the number of retries after the first attempt.
const DefaultMaxRetries = 2

// maxOutputRetries caps retries caused by a missing output file.
const maxOutputRetries = 1

// RetryPolicy bounds retries of transient failures.
type RetryPolicy struct {
	MaxRetries int
	Backoff    BackoffConfig
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: DefaultMaxRetries, Backoff: DefaultBackoffConfig()}
}

// RetryNotify is called before each retry with the attempt that just failed.
type RetryNotify func(attempt int, err error, wait time.Duration)

// Retry calls op until it succeeds, returns a non-retryable error, or
// MaxRetries retries have been spent. Configuration and missing-executable
// errors are returned immediately; a missing output is retried at most once.
func Retry(ctx context.Context, p RetryPolicy, seed string, op func(attempt int) error, notify RetryNotify) error {
	attempt := 0
	outputMisses := 0
	operation := func() error {
		attempt++
		err := op(attempt)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !tpai.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		var nf *tpai.OutputNotFoundError
		if errors.As(err, &nf) {
			outputMisses++
			if outputMisses > maxOutputRetries {
				return backoff.Permanent(err)
			}
		}
		return err
	}

	var b backoff.BackOff = &backoff.StopBackOff{}
	if p.MaxRetries > 0 {
		b = backoff.WithMaxRetries(&schedule{cfg: p.Backoff, seed: seed}, uint64(p.MaxRetries))
	}
	return backoff.RetryNotify(operation, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		if notify != nil {
			notify(attempt, err, wait)
		}
	})
}

// RunWithRetry runs executable under p, returning the last attempt's result.
func (r *Runner) RunWithRetry(ctx context.Context, p RetryPolicy, executable string, args []string, timeout time.Duration, notify RetryNotify) (Result, int, error) {
	var last Result
	attempts := 0
	err := Retry(ctx, p, executable, func(attempt int) error {
		attempts = attempt
		res, err := r.Run(ctx, executable, args, timeout)
		last = res
		return err
	}, notify)
	return last, attempts, err
}
