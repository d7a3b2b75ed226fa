// Package retry holds the fixed-interval retry loops used for broker and
// storage (re)connection and for publish attempts.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Notify is called after each failed attempt with the error and the delay
// before the next one.
type Notify func(err error, next time.Duration)

// Permanent marks err so that no further attempts are made.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Forever calls op every interval until it succeeds, returns a Permanent
// error, or ctx is done. The returned error is nil, the permanent error's
// cause, or ctx.Err().
func Forever(ctx context.Context, interval time.Duration, notify Notify, op func() error) error {
	b := backoff.WithContext(backoff.NewConstantBackOff(interval), ctx)
	return backoff.RetryNotify(op, b, backoff.Notify(notify))
}

// Times calls op at most attempts times, interval apart. It returns the last
// error when every attempt failed.
func Times(ctx context.Context, attempts int, interval time.Duration, notify Notify, op func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(attempts-1)),
		ctx,
	)
	return backoff.RetryNotify(op, b, backoff.Notify(notify))
}
