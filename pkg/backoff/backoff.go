package backoff

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Policy describes an exponential backoff schedule. Attempt 0 runs
// immediately; attempt n sleeps min(InitialDelay*Multiplier^(n-1), MaxDelay)
// before running.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultPolicy matches the listing-job retry numbers: three attempts total,
// one second base, doubling, capped at five minutes.
var DefaultPolicy = Policy{
	MaxRetries:   2,
	InitialDelay: time.Second,
	MaxDelay:     5 * time.Minute,
	Multiplier:   2,
}

// DelayFor returns the sleep before the given retry attempt (1-based).
func (p Policy) DelayFor(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if max := float64(p.MaxDelay); p.MaxDelay > 0 && d > max {
		d = max
	}
	return time.Duration(d)
}

// OnRetry is invoked before each backoff sleep with the attempt number that
// just failed and the error it produced.
type OnRetry func(attempt int, delay time.Duration, err error)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps an error so Retry stops immediately instead of backing off.
// Used for authentication and validation failures where retrying cannot help.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Retry runs fn up to MaxRetries+1 times, sleeping per the policy between
// failures. The context is checked before every sleep so cancellation does
// not wait out the schedule. The last error is returned once attempts are
// exhausted.
func Retry(ctx context.Context, p Policy, fn func(ctx context.Context) error, onRetry OnRetry) error {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		var pe *permanentError
		if errors.As(lastErr, &pe) {
			return pe.err
		}

		if attempt == p.MaxRetries {
			break
		}

		delay := p.DelayFor(attempt + 1)
		if onRetry != nil {
			onRetry(attempt+1, delay, lastErr)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", p.MaxRetries+1, lastErr)
}
