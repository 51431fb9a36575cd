// Package retry provides the retry and failover combinators used around
// network and chain calls.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrEndpointsExhausted is returned by Failover when every slot failed.
var ErrEndpointsExhausted = errors.New("all endpoints exhausted")

// Policy describes how many times an operation runs and how long to wait
// between runs.
type Policy struct {
	// Attempts is the total number of runs, including the first.
	Attempts int
	// Delay is the wait before the second run.
	Delay time.Duration
	// Multiplier > 1 grows the delay exponentially up to MaxDelay.
	Multiplier float64
	MaxDelay   time.Duration
	// ShouldRetry, when set, decides whether a failure is worth another run.
	ShouldRetry func(error) bool
	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Fixed returns a policy with a constant delay.
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{Attempts: attempts, Delay: delay}
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff
	if p.Multiplier > 1 {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = p.Delay
		eb.Multiplier = p.Multiplier
		eb.RandomizationFactor = 0
		eb.MaxElapsedTime = 0
		if p.MaxDelay > 0 {
			eb.MaxInterval = p.MaxDelay
		}
		eb.Reset()
		b = eb
	} else {
		b = backoff.NewConstantBackOff(p.Delay)
	}

	retries := p.Attempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Do runs op until it succeeds, fails permanently or the attempt budget is
// spent. The last error is returned.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	attempt := 0
	stopped := false

	err := backoff.RetryNotify(func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if IsPermanent(err) || ctx.Err() != nil || (p.ShouldRetry != nil && !p.ShouldRetry(err)) {
			stopped = true
			return backoff.Permanent(err)
		}
		return err
	}, p.backOff(ctx), func(err error, wait time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
	})
	if err == nil || stopped {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return err
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempt, err)
}

// Failover runs op once per slot (typically one per RPC endpoint), moving to
// the next slot on failure. It stops early on success, on a permanent error
// or when ctx is done. After n failures it returns ErrEndpointsExhausted
// wrapping the last error.
func Failover(ctx context.Context, n int, op func(ctx context.Context, slot int) error) error {
	if n <= 0 {
		return fmt.Errorf("%w: no endpoints configured", ErrEndpointsExhausted)
	}

	var lastErr error
	for slot := 0; slot < n; slot++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := op(ctx, slot)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrEndpointsExhausted, n, lastErr)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so that Do and Failover stop immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	if IsPermanent(err) {
		return err
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or anything it wraps) was marked Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
