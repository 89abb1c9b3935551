// Package retry runs an operation a bounded number of times, sleeping
// according to a back-off policy between retryable failures.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type Class int

const (
	Retryable Class = iota
	Fatal
)

// Classifier decides whether a failed attempt may be retried.
type Classifier func(err error) Class

type Policy struct {
	// MaxAttempts counts the first try. Values below 1 mean a single attempt.
	MaxAttempts int
	// BackOff supplies the delay before each retry. Nil means no delay.
	BackOff backoff.BackOff
	// OnRetry is called after a retryable failure that will be retried.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Progressive is the delay schedule used for discovery: 1s doubling up
// to 32s, without jitter and without an elapsed-time limit.
func Progressive() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.MaxInterval = 32 * time.Second
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// ExhaustedError reports that every allowed attempt failed with a
// retryable error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempt(s): %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Do calls op until it succeeds, fails fatally, or MaxAttempts is
// reached. A fatal error is returned unchanged. Exhaustion returns an
// *ExhaustedError. No delay follows the final attempt.
func Do(ctx context.Context, p Policy, op func(ctx context.Context, attempt int) error, classify Classifier) error {
	max := p.MaxAttempts
	if max < 1 {
		max = 1
	}
	if p.BackOff != nil {
		p.BackOff.Reset()
	}

	var last error
	for attempt := 1; attempt <= max; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = op(ctx, attempt)
		if last == nil {
			return nil
		}
		if classify != nil && classify(last) == Fatal {
			return last
		}
		if attempt == max {
			break
		}

		var delay time.Duration
		if p.BackOff != nil {
			delay = p.BackOff.NextBackOff()
			if delay == backoff.Stop {
				return &ExhaustedError{Attempts: attempt, Last: last}
			}
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, last, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
	return &ExhaustedError{Attempts: max, Last: last}
}

func sleep(ctx context.Context, d time.Duration) error {
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
