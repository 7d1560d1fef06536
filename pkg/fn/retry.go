package fn

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryOpts configures retry behavior.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Jitter      bool
	// Retryable decides whether an error is worth another attempt.
	// nil retries everything except context cancellation.
	Retryable func(error) bool
	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, err error)
}

// DefaultRetry is three attempts with exponential backoff from one second.
var DefaultRetry = RetryOpts{
	MaxAttempts: 3,
	InitialWait: time.Second,
	MaxWait:     30 * time.Second,
	Jitter:      true,
}

// NoRetry runs the function once.
var NoRetry = RetryOpts{MaxAttempts: 1}

func (o RetryOpts) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if o.Retryable == nil {
		return true
	}
	return o.Retryable(err)
}

// Retry retries f up to MaxAttempts times with exponential backoff.
// The returned int is the number of attempts made.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) (Result[T], int) {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	var result Result[T]
	wait := opts.InitialWait

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Err[T](err), attempt - 1
		}
		result = f(ctx)
		if result.IsOk() {
			return result, attempt
		}
		if attempt == opts.MaxAttempts || !opts.retryable(result.err) {
			return result, attempt
		}
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, result.err)
		}

		sleepDur := wait
		if opts.Jitter {
			sleepDur = time.Duration(float64(wait) * (0.5 + rand.Float64()))
		}
		if opts.MaxWait > 0 && sleepDur > opts.MaxWait {
			sleepDur = opts.MaxWait
		}

		if sleepDur > 0 {
			timer := time.NewTimer(sleepDur)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Err[T](ctx.Err()), attempt
			case <-timer.C:
			}
		}

		wait *= 2
		if opts.MaxWait > 0 && wait > opts.MaxWait {
			wait = opts.MaxWait
		}
	}
	return result, opts.MaxAttempts
}
