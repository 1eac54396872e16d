// Package retryopen wraps github.com/avast/retry-go to give Open a
// bounded backoff when a file's advisory lock is momentarily held by
// another process, per SPEC_FULL.md §4.12.
package retryopen

import (
	"time"

	"github.com/avast/retry-go"
)

// Policy configures the backoff. The zero value is not useful; use
// DefaultPolicy.
type Policy struct {
	Attempts uint
	Delay    time.Duration
	MaxDelay time.Duration
}

// DefaultPolicy retries for roughly a second total, enough to ride out a
// concurrent recovery1 pass or a checkpoint's final rename.
func DefaultPolicy() Policy {
	return Policy{Attempts: 6, Delay: 20 * time.Millisecond, MaxDelay: 400 * time.Millisecond}
}

// Do runs fn, retrying with exponential backoff under p if fn returns a
// non-nil error, and returns the last error if every attempt fails.
func Do(p Policy, fn func() error) error {
	return retry.Do(
		fn,
		retry.Attempts(p.Attempts),
		retry.Delay(p.Delay),
		retry.MaxDelay(p.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}
