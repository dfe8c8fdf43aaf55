// Package retry provides the shared retry policy for calls against the
// order-data API. Transient failures are retried with exponential backoff and
// jitter; terminal failures surface immediately.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Classifier reports whether an error is transient and worth retrying.
type Classifier func(error) bool

// Policy describes bounded retries with exponential backoff.
// The zero value is not usable; construct via struct literal with
// MaxAttempts >= 1.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Classify distinguishes transient from terminal errors. A nil
	// classifier treats every error as transient.
	Classify Classifier
}

// Do runs op until it succeeds, a terminal error occurs, attempts are
// exhausted, or ctx is done. The returned error is the last error from op
// (or the context error if ctx expired between attempts).
func (p Policy) Do(ctx context.Context, op func(context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	wrapped := func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if p.Classify != nil && !p.Classify(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(wrapped, p.backOff(ctx, maxAttempts)) //nolint:wrapcheck
}

func (p Policy) backOff(ctx context.Context, maxAttempts int) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if p.BaseDelay > 0 {
		exp.InitialInterval = p.BaseDelay
	}
	if p.MaxDelay > 0 {
		exp.MaxInterval = p.MaxDelay
	}
	// attempt budget is the only stop condition, not elapsed time
	exp.MaxElapsedTime = 0
	var b backoff.BackOff = backoff.WithMaxRetries(exp, uint64(maxAttempts-1))
	return backoff.WithContext(b, ctx)
}
