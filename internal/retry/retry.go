package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

const (
	// DefaultMaxAttempts is the default number of attempts before giving up.
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is the initial backoff delay.
	DefaultBaseDelay = 1 * time.Second

	// DefaultMaxDelay caps the backoff delay.
	DefaultMaxDelay = 10 * time.Second

	// jitterFraction is the maximum fraction of the delay added as jitter.
	jitterFraction = 0.25
)

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so that Do returns it immediately instead of retrying.
// Do unwraps it before returning. Permanent(nil) is nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Policy controls the number of attempts and the backoff progression.
// Zero fields take the package defaults.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Do retries fn up to maxAttempts times with exponential backoff and jitter.
// It respects context cancellation and returns the last error if all attempts fail.
// The backoff progression is: 1s, 2s, 4s (with up to 25% jitter).
func Do(ctx context.Context, maxAttempts int, fn func() error) error {
	return Policy{MaxAttempts: maxAttempts}.Do(ctx, fn)
}

// Do runs fn under the policy. An error wrapped with Permanent stops the
// loop and is returned unwrapped.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	p = p.withDefaults()

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}

		// Don't sleep after the last attempt.
		if attempt < p.MaxAttempts-1 {
			delay := p.backoff(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return lastErr
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	return p
}

// backoff calculates the delay for the given attempt (0-indexed) with jitter.
// Progression: base, 2*base, 4*base, ... capped at MaxDelay.
func (p Policy) backoff(attempt int) time.Duration {
	delay := time.Duration(math.Pow(2, float64(attempt))) * p.BaseDelay
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	// Add jitter: up to jitterFraction of the delay.
	jitter := time.Duration(float64(delay) * jitterFraction * rand.Float64())
	return delay + jitter
}
